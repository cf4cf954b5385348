package models

import (
	"math"
	"time"

	id "coinledger/pkg/domain"
	dErrors "coinledger/pkg/domain-errors"
)

type SessionStatus string

const (
	SessionStatusRequested SessionStatus = "requested"
	SessionStatusActive    SessionStatus = "active"
	SessionStatusCompleted SessionStatus = "completed"
	SessionStatusVoided    SessionStatus = "voided"
)

func (s SessionStatus) IsValid() bool {
	switch s {
	case SessionStatusRequested, SessionStatusActive, SessionStatusCompleted, SessionStatusVoided:
		return true
	}
	return false
}

func (s SessionStatus) IsOpen() bool {
	return s == SessionStatusRequested || s == SessionStatusActive
}

type DisconnectReason string

const (
	DisconnectNone           DisconnectReason = "none"
	DisconnectVoluntary      DisconnectReason = "voluntary"
	DisconnectNetworkError   DisconnectReason = "network_error"
	DisconnectTimeoutSilence DisconnectReason = "timeout_silence"
)

// ParseDisconnectReason accepts the closed set; empty means voluntary.
func ParseDisconnectReason(s string) (DisconnectReason, error) {
	switch DisconnectReason(s) {
	case "":
		return DisconnectVoluntary, nil
	case DisconnectVoluntary, DisconnectNetworkError, DisconnectTimeoutSilence:
		return DisconnectReason(s), nil
	}
	return "", dErrors.New(dErrors.CodeValidation, "reason must be one of voluntary, network_error, timeout_silence")
}

type Resolution string

const (
	ResolutionNone   Resolution = "none"
	ResolutionPayout Resolution = "payout"
	ResolutionRefund Resolution = "refund"
)

// Session is a chat between an initiator and a responder. A paid session
// holds the initiator's coins in a pending escrow entry until it ends.
//
// Invariants:
//   - EscrowEntry is set iff IsPaid
//   - once ended, Status is completed or voided and never changes again
//   - Resolution is refund iff Status is voided
type Session struct {
	ID               id.SessionID     `json:"id"`
	Initiator        id.PrincipalID   `json:"initiator_id"`
	Responder        id.PrincipalID   `json:"responder_id"`
	Status           SessionStatus    `json:"status"`
	IsPaid           bool             `json:"is_paid"`
	Cost             int64            `json:"cost"`
	EscrowEntry      *id.EntryID      `json:"escrow_entry_id,omitempty"`
	StartedAt        time.Time        `json:"started_at"`
	EndedAt          *time.Time       `json:"ended_at,omitempty"`
	DisconnectReason DisconnectReason `json:"disconnect_reason"`
	Resolution       Resolution       `json:"resolution"`
	FeedbackPending  bool             `json:"feedback_pending"`
}

// NewActiveSession builds a session that has already moved through requested.
func NewActiveSession(sessionID id.SessionID, initiator, responder id.PrincipalID, isPaid bool, cost int64, escrow *id.EntryID, now time.Time) (*Session, error) {
	if initiator == responder {
		return nil, dErrors.New(dErrors.CodeInvalidAmount, "cannot start a session with yourself")
	}
	if isPaid && (cost <= 0 || escrow == nil) {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "paid session requires positive cost and escrow")
	}
	if !isPaid {
		cost = 0
		escrow = nil
	}
	return &Session{
		ID:               sessionID,
		Initiator:        initiator,
		Responder:        responder,
		Status:           SessionStatusActive,
		IsPaid:           isPaid,
		Cost:             cost,
		EscrowEntry:      escrow,
		StartedAt:        now,
		DisconnectReason: DisconnectNone,
		Resolution:       ResolutionNone,
	}, nil
}

func (s *Session) IsParticipant(principal id.PrincipalID) bool {
	return s.Initiator == principal || s.Responder == principal
}

// CanEnd checks that the session has not been resolved yet.
func (s *Session) CanEnd() error {
	if !s.Status.IsOpen() {
		return dErrors.New(dErrors.CodeAlreadyEnded, "session already ended")
	}
	return nil
}

// Duration is the elapsed time from start to now, never negative.
func (s *Session) Duration(now time.Time) time.Duration {
	d := now.Sub(s.StartedAt)
	if d < 0 {
		return 0
	}
	return d
}

// ShouldRefund applies the refund policy: paid sessions are refunded on a
// silence timeout, or on a network error before threshold has elapsed.
func (s *Session) ShouldRefund(reason DisconnectReason, duration, threshold time.Duration) bool {
	if !s.IsPaid {
		return false
	}
	switch reason {
	case DisconnectTimeoutSilence:
		return true
	case DisconnectNetworkError:
		return duration < threshold
	case DisconnectVoluntary, DisconnectNone:
		return false
	}
	return false
}

// ApplyEnd records the terminal state. Call CanEnd first.
func (s *Session) ApplyEnd(reason DisconnectReason, refunded bool, now time.Time) {
	s.EndedAt = &now
	s.DisconnectReason = reason
	s.FeedbackPending = true
	switch {
	case refunded:
		s.Status = SessionStatusVoided
		s.Resolution = ResolutionRefund
	case s.IsPaid:
		s.Status = SessionStatusCompleted
		s.Resolution = ResolutionPayout
	default:
		s.Status = SessionStatusCompleted
		s.Resolution = ResolutionNone
	}
}

// ListenMinutes rounds a duration to whole minutes, half away from zero.
func ListenMinutes(d time.Duration) int64 {
	return int64(math.Round(d.Minutes()))
}
