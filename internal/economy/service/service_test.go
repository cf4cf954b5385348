package service_test

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"

	"coinledger/internal/economy/idempotency"
	"coinledger/internal/economy/metrics"
	"coinledger/internal/economy/models"
	"coinledger/internal/economy/service"
	"coinledger/internal/economy/store/memory"
	id "coinledger/pkg/domain"
	dErrors "coinledger/pkg/domain-errors"
	audit "coinledger/pkg/platform/audit"
	"coinledger/pkg/platform/audit/publisher"
	auditmemory "coinledger/pkg/platform/audit/store/memory"
	"coinledger/pkg/requestcontext"
)

var paymentSecret = []byte("gateway-test-secret")

type ServiceSuite struct {
	suite.Suite
	store  *memory.Store
	outbox *auditmemory.InMemoryStore
	ops    *auditmemory.InMemoryStore
	svc    *service.Service
	m      *metrics.Metrics
	now    time.Time
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.outbox = auditmemory.NewInMemoryStore()
	s.ops = auditmemory.NewInMemoryStore()
	s.store = memory.New(memory.WithOutbox(s.outbox))

	cfg := service.DefaultConfig()
	cfg.TreasuryFloat = 0
	cfg.PaymentSecret = paymentSecret

	s.m = metrics.NewWithRegistry(prometheus.NewRegistry())
	svc, err := service.New(s.store,
		service.WithConfig(cfg),
		service.WithMetrics(s.m),
		service.WithReplayCache(idempotency.NewMemoryCache()),
		service.WithAuditPublisher(publisher.NewPublisher(s.ops)),
	)
	s.Require().NoError(err)
	s.svc = svc

	_, created, err := s.svc.BootstrapTreasury(s.ctx())
	s.Require().NoError(err)
	s.Require().True(created)
}

func (s *ServiceSuite) ctx() context.Context {
	return requestcontext.WithTime(context.Background(), s.now)
}

func (s *ServiceSuite) at(d time.Duration) context.Context {
	return requestcontext.WithTime(context.Background(), s.now.Add(d))
}

func (s *ServiceSuite) account(balance int64) id.PrincipalID {
	principal := id.PrincipalID(uuid.New())
	_, err := s.svc.CreateAccount(s.ctx(), principal, balance)
	s.Require().NoError(err)
	return principal
}

func (s *ServiceSuite) listener(cost int64) id.PrincipalID {
	principal := s.account(0)
	online := true
	_, err := s.svc.UpsertListener(s.ctx(), principal, models.ListenerUpdate{IsOnline: &online, CostPerSession: &cost})
	s.Require().NoError(err)
	return principal
}

func (s *ServiceSuite) balance(principal id.PrincipalID) int64 {
	w, err := s.svc.GetWallet(s.ctx(), principal)
	s.Require().NoError(err)
	return w.Balance
}

func (s *ServiceSuite) profile(principal id.PrincipalID) *models.ListenerProfile {
	p, err := s.svc.GetListener(s.ctx(), principal)
	s.Require().NoError(err)
	return p
}

// requireConserved checks that coins in accounts plus coins held in open
// escrow equal coins created by top-ups and welcome bonuses.
func (s *ServiceSuite) requireConserved() {
	var created, escrowed int64
	for _, e := range s.store.Entries() {
		if e.Kind.CreatesValue() {
			created += e.Amount
		}
		if e.Kind == models.EntryKindSessionPayment && e.Status == models.EntryStatusPending {
			escrowed -= e.Amount
			s.Require().NotNil(e.RelatedSession)
			sess, err := s.svc.GetSession(s.ctx(), e.Account, *e.RelatedSession)
			s.Require().NoError(err)
			s.Require().Truef(sess.Status.IsOpen(), "escrow %s is pending on ended session %s", e.ID, sess.ID)
		}
	}
	s.Require().Equal(created, s.store.TotalBalance()+escrowed)
}

func (s *ServiceSuite) requireCode(err error, code dErrors.Code) {
	s.Require().Error(err)
	s.Require().Truef(dErrors.HasCode(err, code), "expected %s, got %v", code, err)
}

// =============================================================================
// Accounts
// =============================================================================

func (s *ServiceSuite) TestCreateAccount() {
	s.Run("credits welcome bonus with one entry", func() {
		principal := s.account(100)
		w, err := s.svc.GetWallet(s.ctx(), principal)
		s.Require().NoError(err)
		s.Equal(int64(100), w.Balance)
		s.Equal(int64(0), w.LifetimeEarned)
		s.Require().Len(w.History, 1)
		s.Equal(models.EntryKindWelcomeBonus, w.History[0].Kind)
		s.Equal(models.DirectionCredit, w.History[0].Direction)
	})

	s.Run("duplicate account conflicts", func() {
		principal := s.account(0)
		_, err := s.svc.CreateAccount(s.ctx(), principal, 100)
		s.requireCode(err, dErrors.CodeConflict)
		s.Equal(int64(0), s.balance(principal))
	})

	s.Run("treasury cannot be created directly", func() {
		_, err := s.svc.CreateAccount(s.ctx(), id.TreasuryID, 100)
		s.requireCode(err, dErrors.CodeBadRequest)
	})

	s.Run("negative bonus rejected", func() {
		_, err := s.svc.CreateAccount(s.ctx(), id.PrincipalID(uuid.New()), -1)
		s.requireCode(err, dErrors.CodeInvalidAmount)
	})

	s.Run("missing account is not found", func() {
		_, err := s.svc.GetWallet(s.ctx(), id.PrincipalID(uuid.New()))
		s.requireCode(err, dErrors.CodeNotFound)
	})
}

func (s *ServiceSuite) TestBootstrapTreasuryIsIdempotent() {
	acct, created, err := s.svc.BootstrapTreasury(s.ctx())
	s.Require().NoError(err)
	s.False(created)
	s.Equal(id.TreasuryID, acct.ID)
}

// =============================================================================
// Tips
// =============================================================================

func (s *ServiceSuite) TestTip() {
	s.Run("moves net to recipient and fee to treasury", func() {
		treasuryBefore := s.balance(id.TreasuryID)
		sender, recipient := s.account(200), s.account(50)

		result, err := s.svc.Tip(s.ctx(), sender, recipient, 100)
		s.Require().NoError(err)
		s.Equal(int64(100), result.NewSenderBalance)
		s.Equal(int64(30), result.Fee)
		s.Equal(int64(70), result.Net)

		s.Equal(int64(100), s.balance(sender))
		s.Equal(int64(120), s.balance(recipient))
		s.Equal(treasuryBefore+30, s.balance(id.TreasuryID))

		w, _ := s.svc.GetWallet(s.ctx(), recipient)
		s.Equal(int64(70), w.LifetimeEarned)
		s.requireConserved()
	})

	s.Run("writes one entry per affected account", func() {
		sender, recipient := s.account(100), s.account(0)
		_, err := s.svc.Tip(s.at(time.Second), sender, recipient, 100)
		s.Require().NoError(err)

		sent, _ := s.svc.GetWallet(s.ctx(), sender)
		s.Equal(models.EntryKindTipSent, sent.History[0].Kind)
		s.Equal(int64(-100), sent.History[0].Amount)
		s.Equal(recipient, *sent.History[0].Counterparty)

		received, _ := s.svc.GetWallet(s.ctx(), recipient)
		s.Require().Len(received.History, 1)
		s.Equal(models.EntryKindTipReceived, received.History[0].Kind)
		s.Equal(int64(70), received.History[0].Amount)
	})

	s.Run("rejects invalid amounts and self tips", func() {
		sender, recipient := s.account(100), s.account(0)
		_, err := s.svc.Tip(s.ctx(), sender, recipient, 0)
		s.requireCode(err, dErrors.CodeInvalidAmount)
		_, err = s.svc.Tip(s.ctx(), sender, recipient, -5)
		s.requireCode(err, dErrors.CodeInvalidAmount)
		_, err = s.svc.Tip(s.ctx(), sender, sender, 10)
		s.requireCode(err, dErrors.CodeInvalidAmount)
	})

	s.Run("insufficient funds leaves every balance unchanged", func() {
		treasuryBefore := s.balance(id.TreasuryID)
		sender, recipient := s.account(40), s.account(5)
		_, err := s.svc.Tip(s.ctx(), sender, recipient, 50)
		s.requireCode(err, dErrors.CodeInsufficientFunds)
		s.Equal(int64(40), s.balance(sender))
		s.Equal(int64(5), s.balance(recipient))
		s.Equal(treasuryBefore, s.balance(id.TreasuryID))
	})

	s.Run("unknown recipient is not found", func() {
		sender := s.account(100)
		_, err := s.svc.Tip(s.ctx(), sender, id.PrincipalID(uuid.New()), 10)
		s.requireCode(err, dErrors.CodeNotFound)
		s.Equal(int64(100), s.balance(sender))
	})
}

// =============================================================================
// Purchases
// =============================================================================

func (s *ServiceSuite) TestPurchase() {
	s.Run("full price goes to treasury", func() {
		treasuryBefore := s.balance(id.TreasuryID)
		buyer := s.account(500)

		result, err := s.svc.Purchase(s.ctx(), buyer, "sticker-cats", 200, models.CategoryStickerPack)
		s.Require().NoError(err)
		s.Equal(int64(300), result.NewBalance)
		s.Equal([]id.ProductID{"sticker-cats"}, result.Owned)
		s.Equal(treasuryBefore+200, s.balance(id.TreasuryID))
		s.requireConserved()
	})

	s.Run("double purchase is rejected without a second charge", func() {
		buyer := s.account(500)
		_, err := s.svc.Purchase(s.ctx(), buyer, "frame-gold", 100, models.CategoryProfileFrame)
		s.Require().NoError(err)

		_, err = s.svc.Purchase(s.ctx(), buyer, "frame-gold", 100, models.CategoryProfileFrame)
		s.requireCode(err, dErrors.CodeAlreadyOwned)
		s.Equal(int64(400), s.balance(buyer))
	})

	s.Run("same product in another category is separate", func() {
		buyer := s.account(500)
		_, err := s.svc.Purchase(s.ctx(), buyer, "aurora", 100, models.CategoryTheme)
		s.Require().NoError(err)
		_, err = s.svc.Purchase(s.ctx(), buyer, "aurora", 100, models.CategoryChatBubble)
		s.NoError(err)
	})

	s.Run("validation", func() {
		buyer := s.account(50)
		_, err := s.svc.Purchase(s.ctx(), buyer, "x", 0, models.CategoryTheme)
		s.requireCode(err, dErrors.CodeInvalidAmount)
		_, err = s.svc.Purchase(s.ctx(), buyer, "x", 10, models.Category("wallpaper"))
		s.requireCode(err, dErrors.CodeValidation)
		_, err = s.svc.Purchase(s.ctx(), buyer, "x", 100, models.CategoryTheme)
		s.requireCode(err, dErrors.CodeInsufficientFunds)
		s.Equal(int64(50), s.balance(buyer))
	})
}

// =============================================================================
// Top-ups
// =============================================================================

func (s *ServiceSuite) TestVerifyAndTopUp() {
	s.Run("valid signature credits once", func() {
		principal := s.account(0)
		ref := service.PaymentRef("order_1", "pay_1")
		sig := service.PaymentSignature(paymentSecret, ref)

		result, err := s.svc.VerifyAndTopUp(s.ctx(), ref, sig, principal, 550)
		s.Require().NoError(err)
		s.Equal(int64(550), result.NewBalance)
		s.False(result.Replayed)

		replay, err := s.svc.VerifyAndTopUp(s.ctx(), ref, sig, principal, 550)
		s.Require().NoError(err)
		s.True(replay.Replayed)
		s.Equal(int64(550), replay.NewBalance)
		s.Equal(int64(550), s.balance(principal))
		s.requireConserved()
	})

	s.Run("bad signature credits nothing", func() {
		principal := s.account(0)
		ref := service.PaymentRef("order_2", "pay_2")

		_, err := s.svc.VerifyAndTopUp(s.ctx(), ref, "deadbeef", principal, 100)
		s.requireCode(err, dErrors.CodeInvalidSignature)
		_, err = s.svc.VerifyAndTopUp(s.ctx(), ref, "not-hex", principal, 100)
		s.requireCode(err, dErrors.CodeInvalidSignature)
		s.Equal(int64(0), s.balance(principal))

		events, err := s.ops.ListAll(context.Background())
		s.Require().NoError(err)
		var rejected int
		for _, e := range events {
			if e.Action == string(audit.EventSignatureRejected) && e.ExternalRef == ref {
				rejected++
			}
		}
		s.Equal(2, rejected, "rejections reach the audit publisher")
		s.Equal(2.0, testutil.ToFloat64(s.m.Operations.WithLabelValues("verify_top_up", string(dErrors.CodeInvalidSignature))))
		s.Equal(2.0, testutil.ToFloat64(s.m.SignatureRejected))
	})

	s.Run("reference reused by another account conflicts", func() {
		first, second := s.account(0), s.account(0)
		ref := service.PaymentRef("order_3", "pay_3")
		sig := service.PaymentSignature(paymentSecret, ref)

		_, err := s.svc.VerifyAndTopUp(s.ctx(), ref, sig, first, 100)
		s.Require().NoError(err)
		_, err = s.svc.VerifyAndTopUp(s.ctx(), ref, sig, second, 100)
		s.requireCode(err, dErrors.CodeConflict)
		s.Equal(int64(0), s.balance(second))
	})

	s.Run("credit past the balance limit is an invalid amount", func() {
		principal := s.account(100)

		_, err := s.svc.TopUp(s.ctx(), principal, math.MaxInt64, "ref-overflow")
		s.requireCode(err, dErrors.CodeInvalidAmount)
		s.Equal(int64(100), s.balance(principal))

		retry, err := s.svc.TopUp(s.ctx(), principal, 50, "ref-overflow")
		s.Require().NoError(err)
		s.False(retry.Replayed, "a rejected credit leaves the reference unused")
		s.requireConserved()
	})

	s.Run("receipt deduplicates without a replay cache", func() {
		cfg := service.DefaultConfig()
		cfg.PaymentSecret = paymentSecret
		svc, err := service.New(s.store, service.WithConfig(cfg))
		s.Require().NoError(err)

		principal := s.account(0)
		ref := service.PaymentRef("order_4", "pay_4")
		sig := service.PaymentSignature(paymentSecret, ref)
		_, err = svc.VerifyAndTopUp(s.ctx(), ref, sig, principal, 100)
		s.Require().NoError(err)
		result, err := svc.VerifyAndTopUp(s.ctx(), ref, sig, principal, 100)
		s.Require().NoError(err)
		s.True(result.Replayed)
		s.Equal(int64(100), s.balance(principal))
	})
}

// =============================================================================
// Sessions
// =============================================================================

func (s *ServiceSuite) TestPaidSessionTimeoutRefund() {
	initiator := s.account(1000)
	responder := s.listener(500)

	session, err := s.svc.StartSession(s.ctx(), initiator, responder, true)
	s.Require().NoError(err)
	s.Equal(models.SessionStatusActive, session.Status)
	s.Equal(int64(500), s.balance(initiator))
	s.True(s.profile(responder).IsBusy)

	result, err := s.svc.TimeoutSession(s.at(2*time.Minute), session.ID)
	s.Require().NoError(err)
	s.True(result.Refunded)
	s.Equal(models.SessionStatusVoided, result.FinalStatus)
	s.Equal(models.ResolutionRefund, result.Session.Resolution)
	s.True(result.Session.FeedbackPending)

	s.Equal(int64(1000), s.balance(initiator))
	s.Equal(int64(0), s.balance(responder))
	p := s.profile(responder)
	s.False(p.IsBusy)
	s.Equal(int64(0), p.ChatsCompleted)

	s.requireEscrowStatus(*session.EscrowEntry, models.EntryStatusFailed)
	s.requireConserved()
}

func (s *ServiceSuite) TestPaidSessionCompletion() {
	treasuryBefore := s.balance(id.TreasuryID)
	initiator := s.account(1000)
	responder := s.listener(500)

	session, err := s.svc.StartSession(s.ctx(), initiator, responder, true)
	s.Require().NoError(err)

	result, err := s.svc.EndSessionAs(s.at(10*time.Minute), initiator, session.ID, models.DisconnectVoluntary)
	s.Require().NoError(err)
	s.False(result.Refunded)
	s.Equal(models.SessionStatusCompleted, result.FinalStatus)
	s.Equal(models.ResolutionPayout, result.Session.Resolution)

	s.Equal(int64(500), s.balance(initiator))
	s.Equal(int64(350), s.balance(responder))
	s.Equal(treasuryBefore+150, s.balance(id.TreasuryID))

	w, _ := s.svc.GetWallet(s.ctx(), responder)
	s.Equal(int64(350), w.LifetimeEarned)

	p := s.profile(responder)
	s.False(p.IsBusy)
	s.Equal(int64(10), p.TotalListenMinutes)
	s.Equal(int64(1), p.ChatsCompleted)

	s.requireEscrowStatus(*session.EscrowEntry, models.EntryStatusCompleted)
	s.requireConserved()
}

func (s *ServiceSuite) TestRefundPolicy() {
	cases := []struct {
		name     string
		reason   models.DisconnectReason
		after    time.Duration
		refunded bool
	}{
		{"network error before threshold", models.DisconnectNetworkError, 4 * time.Minute, true},
		{"network error after threshold", models.DisconnectNetworkError, 6 * time.Minute, false},
		{"network error at threshold", models.DisconnectNetworkError, 5 * time.Minute, false},
		{"voluntary early", models.DisconnectVoluntary, time.Minute, false},
		{"silence late", models.DisconnectTimeoutSilence, time.Hour, true},
		{"empty reason is voluntary", "", time.Minute, false},
	}
	for _, tc := range cases {
		s.Run(tc.name, func() {
			initiator := s.account(500)
			responder := s.listener(0)

			session, err := s.svc.StartSession(s.ctx(), initiator, responder, true)
			s.Require().NoError(err)
			s.Equal(int64(500), session.Cost, "zero profile cost falls back to the default")

			result, err := s.svc.EndSession(s.at(tc.after), session.ID, tc.reason)
			s.Require().NoError(err)
			s.Equal(tc.refunded, result.Refunded)
			if tc.reason == "" {
				s.Equal(models.DisconnectVoluntary, result.Session.DisconnectReason)
			}
			s.False(s.profile(responder).IsBusy)
		})
	}
}

func (s *ServiceSuite) TestUnpaidSession() {
	initiator := s.account(0)
	responder := s.listener(500)

	session, err := s.svc.StartSession(s.ctx(), initiator, responder, false)
	s.Require().NoError(err)
	s.False(session.IsPaid)
	s.Nil(session.EscrowEntry)

	result, err := s.svc.EndSession(s.at(3*time.Minute), session.ID, models.DisconnectTimeoutSilence)
	s.Require().NoError(err)
	s.False(result.Refunded)
	s.Equal(models.SessionStatusCompleted, result.FinalStatus)
	s.Equal(models.ResolutionNone, result.Session.Resolution)
	s.Equal(int64(0), s.balance(responder))
	s.Equal(int64(1), s.profile(responder).ChatsCompleted)
}

func (s *ServiceSuite) TestStartSessionRejections() {
	s.Run("busy responder", func() {
		responder := s.listener(100)
		_, err := s.svc.StartSession(s.ctx(), s.account(500), responder, true)
		s.Require().NoError(err)

		other := s.account(500)
		_, err = s.svc.StartSession(s.ctx(), other, responder, true)
		s.requireCode(err, dErrors.CodeResponderUnavailable)
		s.Equal(int64(500), s.balance(other))
	})

	s.Run("offline responder", func() {
		responder := s.listener(100)
		offline := false
		_, err := s.svc.UpsertListener(s.ctx(), responder, models.ListenerUpdate{IsOnline: &offline})
		s.Require().NoError(err)
		_, err = s.svc.StartSession(s.ctx(), s.account(500), responder, false)
		s.requireCode(err, dErrors.CodeResponderUnavailable)
	})

	s.Run("unknown responder", func() {
		_, err := s.svc.StartSession(s.ctx(), s.account(500), id.PrincipalID(uuid.New()), true)
		s.requireCode(err, dErrors.CodeNotFound)
	})

	s.Run("self session", func() {
		responder := s.listener(100)
		_, err := s.svc.StartSession(s.ctx(), responder, responder, false)
		s.requireCode(err, dErrors.CodeInvalidAmount)
	})

	s.Run("insufficient funds leaves responder free", func() {
		responder := s.listener(800)
		initiator := s.account(100)
		_, err := s.svc.StartSession(s.ctx(), initiator, responder, true)
		s.requireCode(err, dErrors.CodeInsufficientFunds)
		s.Equal(int64(100), s.balance(initiator))
		s.False(s.profile(responder).IsBusy)
	})
}

func (s *ServiceSuite) TestEndSessionRejections() {
	initiator := s.account(1000)
	responder := s.listener(500)
	session, err := s.svc.StartSession(s.ctx(), initiator, responder, true)
	s.Require().NoError(err)

	s.Run("outsider cannot end or view", func() {
		outsider := s.account(0)
		_, err := s.svc.EndSessionAs(s.ctx(), outsider, session.ID, models.DisconnectVoluntary)
		s.requireCode(err, dErrors.CodeForbidden)
		_, err = s.svc.GetSession(s.ctx(), outsider, session.ID)
		s.requireCode(err, dErrors.CodeForbidden)
	})

	s.Run("unknown reason", func() {
		_, err := s.svc.EndSession(s.ctx(), session.ID, models.DisconnectNone)
		s.requireCode(err, dErrors.CodeValidation)
	})

	s.Run("second end is already ended and moves no money", func() {
		_, err := s.svc.EndSession(s.at(10*time.Minute), session.ID, models.DisconnectVoluntary)
		s.Require().NoError(err)
		responderBalance := s.balance(responder)

		_, err = s.svc.EndSession(s.at(11*time.Minute), session.ID, models.DisconnectTimeoutSilence)
		s.requireCode(err, dErrors.CodeAlreadyEnded)
		s.Equal(responderBalance, s.balance(responder))
		s.Equal(int64(500), s.balance(initiator))
	})

	s.Run("unknown session", func() {
		_, err := s.svc.EndSession(s.ctx(), id.NewSessionID(), models.DisconnectVoluntary)
		s.requireCode(err, dErrors.CodeNotFound)
	})

	s.Run("participants can view", func() {
		got, err := s.svc.GetSession(s.ctx(), responder, session.ID)
		s.Require().NoError(err)
		s.Equal(session.ID, got.ID)
	})
}

// Justification: the availability compare-and-set is the only thing that
// keeps two initiators from both paying for the same responder.
func (s *ServiceSuite) TestConcurrentStartsOneWinner() {
	responder := s.listener(500)
	initiators := make([]id.PrincipalID, 10)
	for i := range initiators {
		initiators[i] = s.account(500)
	}

	var wg sync.WaitGroup
	var wins, unavailable atomic.Int32
	for _, initiator := range initiators {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.svc.StartSession(s.ctx(), initiator, responder, true)
			switch {
			case err == nil:
				wins.Add(1)
			case dErrors.HasCode(err, dErrors.CodeResponderUnavailable):
				unavailable.Add(1)
			}
		}()
	}
	wg.Wait()

	s.Equal(int32(1), wins.Load())
	s.Equal(int32(len(initiators)-1), unavailable.Load())

	var debited int
	for _, initiator := range initiators {
		if s.balance(initiator) == 0 {
			debited++
		}
	}
	s.Equal(1, debited)
	s.requireConserved()
}

// Justification: conservation has to hold across every mix of operations,
// including rejected ones.
func (s *ServiceSuite) TestConservationAcrossMixedOperations() {
	alice, bob := s.account(1000), s.account(300)
	carol := s.listener(400)

	_, _ = s.svc.Tip(s.ctx(), alice, bob, 333)
	_, _ = s.svc.Tip(s.ctx(), bob, alice, 10_000)
	_, _ = s.svc.Purchase(s.ctx(), bob, "bubble-neon", 120, models.CategoryChatBubble)
	_, _ = s.svc.Purchase(s.ctx(), bob, "bubble-neon", 120, models.CategoryChatBubble)

	first, err := s.svc.StartSession(s.ctx(), alice, carol, true)
	s.Require().NoError(err)
	_, err = s.svc.EndSession(s.at(time.Minute), first.ID, models.DisconnectNetworkError)
	s.Require().NoError(err)

	second, err := s.svc.StartSession(s.ctx(), bob, carol, true)
	s.Require().NoError(err)
	_, err = s.svc.EndSession(s.at(20*time.Minute), second.ID, models.DisconnectVoluntary)
	s.Require().NoError(err)

	ref := service.PaymentRef("order_9", "pay_9")
	_, err = s.svc.VerifyAndTopUp(s.ctx(), ref, service.PaymentSignature(paymentSecret, ref), alice, 1200)
	s.Require().NoError(err)

	s.requireConserved()
	for _, e := range s.store.Entries() {
		if e.Kind == models.EntryKindSessionPayment && e.Status == models.EntryStatusPending {
			s.Failf("escrow left pending", "entry %s", e.ID)
		}
	}
}

// =============================================================================
// History & outbox
// =============================================================================

func (s *ServiceSuite) TestHistoryPaging() {
	sender, recipient := s.account(1000), s.account(0)
	for i := range 5 {
		_, err := s.svc.Tip(s.at(time.Duration(i+1)*time.Second), sender, recipient, 10)
		s.Require().NoError(err)
	}

	page, err := s.svc.History(s.ctx(), models.HistoryQuery{Account: sender, Limit: 4})
	s.Require().NoError(err)
	s.Len(page.Entries, 4)
	s.NotEmpty(page.NextCursor)

	cursor, err := models.ParseHistoryCursor(page.NextCursor)
	s.Require().NoError(err)
	rest, err := s.svc.History(s.ctx(), models.HistoryQuery{Account: sender, Before: cursor, Limit: 4})
	s.Require().NoError(err)
	s.Len(rest.Entries, 2, "one tip plus the welcome bonus")
	s.Empty(rest.NextCursor)
	s.Equal(models.EntryKindWelcomeBonus, rest.Entries[1].Kind)

	capped, err := s.svc.History(s.ctx(), models.HistoryQuery{Account: sender, Limit: 10_000})
	s.Require().NoError(err)
	s.Len(capped.Entries, 6)

	_, err = s.svc.History(s.ctx(), models.HistoryQuery{Account: sender, Limit: -1})
	s.requireCode(err, dErrors.CodeValidation)
}

func (s *ServiceSuite) TestFinancialEventsGoThroughOutbox() {
	sender, recipient := s.account(100), s.account(0)
	_, err := s.svc.Tip(s.ctx(), sender, recipient, 50)
	s.Require().NoError(err)

	_, err = s.svc.Tip(s.ctx(), sender, recipient, 500)
	s.Require().Error(err)

	events, err := s.outbox.ListByPrincipal(context.Background(), sender)
	s.Require().NoError(err)
	var tips int
	for _, e := range events {
		if e.Action == string(audit.EventTipSent) {
			tips++
			s.Equal(int64(50), e.Amount)
			s.Equal(int64(15), e.Fee)
		}
	}
	s.Equal(1, tips, "rolled-back tip leaves no outbox row")
}

func (s *ServiceSuite) requireEscrowStatus(entryID id.EntryID, want models.EntryStatus) {
	for _, e := range s.store.Entries() {
		if e.ID == entryID {
			s.Equal(want, e.Status)
			return
		}
	}
	s.Failf("escrow entry missing", "entry %s", entryID)
}

func TestNewRequiresStoreTx(t *testing.T) {
	_, err := service.New(nil)
	if err == nil {
		t.Fatal("expected error for nil store tx")
	}
}
