package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"coinledger/internal/economy/models"
	id "coinledger/pkg/domain"
	dErrors "coinledger/pkg/domain-errors"
	audit "coinledger/pkg/platform/audit"
	"coinledger/pkg/platform/sentinel"
	"coinledger/pkg/requestcontext"
)

const descEscrow = "Escrow for chat with listener"

// StartSession attaches the responder to a new active session. For a paid
// session the cost is debited from the initiator into a pending escrow entry
// in the same unit of work that marks the responder busy.
func (s *Service) StartSession(ctx context.Context, initiator, responder id.PrincipalID, isPaid bool) (session *models.Session, err error) {
	ctx, finish := s.begin(ctx, "start_session",
		attribute.String("initiator_id", initiator.String()),
		attribute.String("responder_id", responder.String()),
		attribute.Bool("is_paid", isPaid),
	)
	defer finish(&err)

	if initiator == responder {
		return nil, dErrors.New(dErrors.CodeInvalidAmount, "cannot start a session with yourself")
	}
	if initiator.IsTreasury() || responder.IsTreasury() {
		return nil, dErrors.New(dErrors.CodeBadRequest, "treasury cannot take part in sessions")
	}

	now := requestcontext.Now(ctx)
	var (
		posted []*models.LedgerEntry
		open   int
	)
	err = s.runInTx(ctx, "start session", func(ctx context.Context, stores Stores) error {
		posted = posted[:0]
		profile, err := stores.Listeners.FindByID(ctx, responder)
		if err != nil {
			return storeErr(err, "listener not found", "failed to load listener")
		}
		if err := profile.CanAccept(); err != nil {
			return err
		}

		sessionID := id.NewSessionID()
		var (
			cost   int64
			escrow *id.EntryID
		)
		if isPaid {
			cost = profile.SessionCost(s.cfg.DefaultSessionCost)
			if _, err := adjust(ctx, stores, initiator, -cost, 0, now); err != nil {
				return err
			}
			entry, err := post(ctx, stores, models.EntrySpec{
				Account:        initiator,
				Amount:         -cost,
				Kind:           models.EntryKindSessionPayment,
				Counterparty:   principalPtr(responder),
				RelatedSession: sessionPtr(sessionID),
				Status:         models.EntryStatusPending,
				Description:    descEscrow,
			}, now, &posted)
			if err != nil {
				return err
			}
			escrow = &entry.ID
		} else if _, err := stores.Accounts.FindByID(ctx, initiator); err != nil {
			return storeErr(err, "account not found", "failed to load account")
		}

		if err := stores.Listeners.TryLock(ctx, responder, now); err != nil {
			switch {
			case errors.Is(err, sentinel.ErrUnavailable):
				return dErrors.New(dErrors.CodeResponderUnavailable, "listener is busy")
			default:
				return storeErr(err, "listener not found", "failed to lock listener")
			}
		}

		created, err := models.NewActiveSession(sessionID, initiator, responder, isPaid, cost, escrow, now)
		if err != nil {
			return err
		}
		if err := stores.Sessions.Create(ctx, created); err != nil {
			if errors.Is(err, sentinel.ErrConflict) {
				return dErrors.New(dErrors.CodeResponderUnavailable, "listener is busy")
			}
			return storeErr(err, "session not found", "failed to create session")
		}
		if open, err = stores.Sessions.CountOpen(ctx); err != nil {
			return storeErr(err, "session not found", "failed to count sessions")
		}

		session = created
		if !isPaid {
			return nil
		}
		return recordOutbox(ctx, stores, audit.Event{
			Action:       string(audit.EventSessionStarted),
			PrincipalID:  initiator,
			Counterparty: responder.String(),
			SessionID:    sessionID.String(),
			Amount:       cost,
		}, now)
	})
	if err != nil {
		return nil, err
	}

	s.observeEntries(posted)
	s.setOpenSessions(open)
	s.logAudit(ctx, audit.EventSessionStarted,
		"principal_id", initiator.String(),
		"counterparty", responder.String(),
		"session_id", session.ID.String(),
		"is_paid", isPaid,
		"amount", session.Cost,
	)
	return session, nil
}

// EndSession resolves an open session: refund the escrow, pay it out with
// commission, or just close an unpaid session. The responder is released in
// every case.
func (s *Service) EndSession(ctx context.Context, sessionID id.SessionID, reason models.DisconnectReason) (*models.EndSessionResult, error) {
	return s.endSession(ctx, nil, sessionID, reason)
}

// EndSessionAs is EndSession on behalf of a participant.
func (s *Service) EndSessionAs(ctx context.Context, actor id.PrincipalID, sessionID id.SessionID, reason models.DisconnectReason) (*models.EndSessionResult, error) {
	return s.endSession(ctx, &actor, sessionID, reason)
}

// TimeoutSession is the watchdog path: the session went silent.
func (s *Service) TimeoutSession(ctx context.Context, sessionID id.SessionID) (*models.EndSessionResult, error) {
	result, err := s.endSession(ctx, nil, sessionID, models.DisconnectTimeoutSilence)
	if err != nil {
		return nil, err
	}
	s.logAudit(ctx, audit.EventSessionTimedOut,
		"session_id", sessionID.String(),
		"reason", string(models.DisconnectTimeoutSilence),
		"refunded", result.Refunded,
	)
	return result, nil
}

func (s *Service) endSession(ctx context.Context, actor *id.PrincipalID, sessionID id.SessionID, reason models.DisconnectReason) (result *models.EndSessionResult, err error) {
	ctx, finish := s.begin(ctx, "end_session",
		attribute.String("session_id", sessionID.String()),
		attribute.String("reason", string(reason)),
	)
	defer finish(&err)

	reason, err = models.ParseDisconnectReason(string(reason))
	if err != nil {
		return nil, err
	}

	now := requestcontext.Now(ctx)
	var (
		posted []*models.LedgerEntry
		open   int
	)
	err = s.runInTx(ctx, "end session", func(ctx context.Context, stores Stores) error {
		posted = posted[:0]
		sess, err := stores.Sessions.FindForUpdate(ctx, sessionID)
		if err != nil {
			return storeErr(err, "session not found", "failed to load session")
		}
		if actor != nil && !sess.IsParticipant(*actor) {
			return dErrors.New(dErrors.CodeForbidden, "not a participant in this session")
		}
		if err := sess.CanEnd(); err != nil {
			return err
		}

		duration := sess.Duration(now)
		refund := sess.ShouldRefund(reason, duration, s.cfg.RefundThreshold)

		var event audit.AuditEvent
		switch {
		case sess.IsPaid && refund:
			if err := s.refundEscrow(ctx, stores, sess, reason, now, &posted); err != nil {
				return err
			}
			event = audit.EventSessionRefunded
		case sess.IsPaid:
			if err := s.payoutEscrow(ctx, stores, sess, now, &posted); err != nil {
				return err
			}
			event = audit.EventSessionPaidOut
		}

		sess.ApplyEnd(reason, refund, now)
		if err := stores.Sessions.Update(ctx, sess); err != nil {
			return storeErr(err, "session not found", "failed to update session")
		}
		if err := stores.Listeners.Release(ctx, sess.Responder, models.ListenMinutes(duration), !refund, now); err != nil {
			return storeErr(err, "listener not found", "failed to release listener")
		}
		if open, err = stores.Sessions.CountOpen(ctx); err != nil {
			return storeErr(err, "session not found", "failed to count sessions")
		}

		result = &models.EndSessionResult{FinalStatus: sess.Status, Refunded: refund, Session: sess}
		if event == "" {
			return nil
		}
		return recordOutbox(ctx, stores, audit.Event{
			Action:       string(event),
			PrincipalID:  sess.Initiator,
			Counterparty: sess.Responder.String(),
			SessionID:    sess.ID.String(),
			Amount:       sess.Cost,
			Reason:       string(reason),
		}, now)
	})
	if err != nil {
		return nil, err
	}

	s.observeEntries(posted)
	s.setOpenSessions(open)
	event := audit.EventSessionCompleted
	switch result.Session.Resolution {
	case models.ResolutionRefund:
		event = audit.EventSessionRefunded
	case models.ResolutionPayout:
		event = audit.EventSessionPaidOut
	}
	s.logAudit(ctx, event,
		"session_id", sessionID.String(),
		"reason", string(reason),
		"status", string(result.FinalStatus),
		"amount", result.Session.Cost,
	)
	return result, nil
}

// refundEscrow returns the full cost to the initiator and fails the escrow.
func (s *Service) refundEscrow(ctx context.Context, stores Stores, sess *models.Session, reason models.DisconnectReason, now time.Time, posted *[]*models.LedgerEntry) error {
	if _, err := adjust(ctx, stores, sess.Initiator, sess.Cost, 0, now); err != nil {
		return err
	}
	if _, err := post(ctx, stores, models.EntrySpec{
		Account:        sess.Initiator,
		Amount:         sess.Cost,
		Kind:           models.EntryKindRefund,
		Counterparty:   principalPtr(sess.Responder),
		RelatedSession: sessionPtr(sess.ID),
		Description:    fmt.Sprintf("Refund for voided chat (Reason: %s)", reason),
	}, now, posted); err != nil {
		return err
	}
	return resolveEscrow(ctx, stores, sess, models.EntryStatusFailed)
}

// payoutEscrow splits the cost between responder and treasury and completes
// the escrow.
func (s *Service) payoutEscrow(ctx context.Context, stores Stores, sess *models.Session, now time.Time, posted *[]*models.LedgerEntry) error {
	split := s.commission.Split(sess.Cost)
	accts, err := lockAccounts(ctx, stores, sess.Responder, id.TreasuryID)
	if err != nil {
		return err
	}
	responder, treasury := accts[sess.Responder], accts[id.TreasuryID]
	if err := responder.Adjust(split.Net, split.Net, now); err != nil {
		return err
	}
	if err := treasury.Adjust(split.Fee, 0, now); err != nil {
		return err
	}
	if err := save(ctx, stores, responder, treasury); err != nil {
		return err
	}

	var specs []models.EntrySpec
	if split.Net > 0 {
		specs = append(specs, models.EntrySpec{
			Account:        sess.Responder,
			Amount:         split.Net,
			Kind:           models.EntryKindSessionPayment,
			Counterparty:   principalPtr(sess.Initiator),
			RelatedSession: sessionPtr(sess.ID),
			Description:    "Payment for completed chat",
		})
	}
	if split.Fee > 0 {
		specs = append(specs, models.EntrySpec{
			Account:        id.TreasuryID,
			Amount:         split.Fee,
			Kind:           models.EntryKindSessionPayment,
			Counterparty:   principalPtr(sess.Initiator),
			RelatedSession: sessionPtr(sess.ID),
			Description:    fmt.Sprintf("Platform fee (%s) for chat %s", s.commission.Percent(), sess.ID),
		})
	}
	for _, spec := range specs {
		if _, err := post(ctx, stores, spec, now, posted); err != nil {
			return err
		}
	}
	return resolveEscrow(ctx, stores, sess, models.EntryStatusCompleted)
}

func resolveEscrow(ctx context.Context, stores Stores, sess *models.Session, to models.EntryStatus) error {
	if sess.EscrowEntry == nil {
		return dErrors.New(dErrors.CodeInvariantViolation, "paid session has no escrow entry")
	}
	if err := stores.Ledger.UpdateStatus(ctx, *sess.EscrowEntry, to); err != nil {
		if errors.Is(err, sentinel.ErrInvalidState) {
			return dErrors.Wrap(err, dErrors.CodeInvariantViolation, "escrow entry already resolved")
		}
		return storeErr(err, "escrow entry not found", "failed to resolve escrow")
	}
	return nil
}

// GetSession returns a session to one of its participants.
func (s *Service) GetSession(ctx context.Context, actor id.PrincipalID, sessionID id.SessionID) (session *models.Session, err error) {
	ctx, finish := s.begin(ctx, "get_session", attribute.String("session_id", sessionID.String()))
	defer finish(&err)

	err = s.runInTx(ctx, "get session", func(ctx context.Context, stores Stores) error {
		sess, err := stores.Sessions.FindByID(ctx, sessionID)
		if err != nil {
			return storeErr(err, "session not found", "failed to load session")
		}
		if !sess.IsParticipant(actor) {
			return dErrors.New(dErrors.CodeForbidden, "not a participant in this session")
		}
		session = sess
		return nil
	})
	if err != nil {
		return nil, err
	}
	return session, nil
}

func (s *Service) setOpenSessions(n int) {
	if s.metrics != nil {
		s.metrics.SetOpenSessions(n)
	}
}
