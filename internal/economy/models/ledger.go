package models

import (
	"time"

	id "coinledger/pkg/domain"
	dErrors "coinledger/pkg/domain-errors"
)

// EntryKind classifies why coins moved. The set is closed.
type EntryKind string

const (
	EntryKindWelcomeBonus   EntryKind = "welcome_bonus"
	EntryKindSessionPayment EntryKind = "session_payment"
	EntryKindTipSent        EntryKind = "tip_sent"
	EntryKindTipReceived    EntryKind = "tip_received"
	EntryKindStorePurchase  EntryKind = "store_purchase"
	EntryKindRefund         EntryKind = "refund"
	EntryKindTopUp          EntryKind = "top_up"
)

func (k EntryKind) IsValid() bool {
	switch k {
	case EntryKindWelcomeBonus, EntryKindSessionPayment, EntryKindTipSent, EntryKindTipReceived,
		EntryKindStorePurchase, EntryKindRefund, EntryKindTopUp:
		return true
	}
	return false
}

// CreatesValue reports whether entries of this kind may be unbalanced,
// i.e. coins enter the system from outside.
func (k EntryKind) CreatesValue() bool {
	return k == EntryKindTopUp || k == EntryKindWelcomeBonus
}

type EntryStatus string

const (
	EntryStatusPending   EntryStatus = "pending"
	EntryStatusCompleted EntryStatus = "completed"
	EntryStatusFailed    EntryStatus = "failed"
)

func (s EntryStatus) IsValid() bool {
	switch s {
	case EntryStatusPending, EntryStatusCompleted, EntryStatusFailed:
		return true
	}
	return false
}

func (s EntryStatus) IsTerminal() bool {
	return s == EntryStatusCompleted || s == EntryStatusFailed
}

type Direction string

const (
	DirectionCredit Direction = "credit"
	DirectionDebit  Direction = "debit"
)

// DirectionOf derives the direction from the sign of amount.
func DirectionOf(amount int64) Direction {
	if amount < 0 {
		return DirectionDebit
	}
	return DirectionCredit
}

// LedgerEntry is one immutable line in an account's history. Only Status may
// change, and only once, from pending to a terminal state.
type LedgerEntry struct {
	ID             id.EntryID      `json:"id"`
	Account        id.PrincipalID  `json:"account_id"`
	Amount         int64           `json:"amount"`
	Kind           EntryKind       `json:"kind"`
	Direction      Direction       `json:"direction"`
	Counterparty   *id.PrincipalID `json:"counterparty,omitempty"`
	RelatedSession *id.SessionID   `json:"related_session,omitempty"`
	Status         EntryStatus     `json:"status"`
	Description    string          `json:"description"`
	ExternalRef    string          `json:"external_ref,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// EntrySpec describes an entry to be appended.
type EntrySpec struct {
	Account        id.PrincipalID
	Amount         int64
	Kind           EntryKind
	Counterparty   *id.PrincipalID
	RelatedSession *id.SessionID
	Status         EntryStatus
	Description    string
	ExternalRef    string
}

func NewLedgerEntry(entryID id.EntryID, spec EntrySpec, now time.Time) (*LedgerEntry, error) {
	if spec.Account.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "ledger entry account cannot be nil")
	}
	if spec.Amount == 0 {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "ledger entry amount cannot be zero")
	}
	if !spec.Kind.IsValid() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "unknown ledger entry kind")
	}
	status := spec.Status
	if status == "" {
		status = EntryStatusCompleted
	}
	if !status.IsValid() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "unknown ledger entry status")
	}
	return &LedgerEntry{
		ID:             entryID,
		Account:        spec.Account,
		Amount:         spec.Amount,
		Kind:           spec.Kind,
		Direction:      DirectionOf(spec.Amount),
		Counterparty:   spec.Counterparty,
		RelatedSession: spec.RelatedSession,
		Status:         status,
		Description:    spec.Description,
		ExternalRef:    spec.ExternalRef,
		CreatedAt:      now,
	}, nil
}

// CanResolve checks the single pending -> terminal transition.
func (e *LedgerEntry) CanResolve(to EntryStatus) error {
	if e.Status != EntryStatusPending {
		return dErrors.New(dErrors.CodeInvariantViolation, "ledger entry is not pending")
	}
	if !to.IsTerminal() {
		return dErrors.New(dErrors.CodeInvariantViolation, "ledger entry can only resolve to completed or failed")
	}
	return nil
}

// ApplyResolution sets the terminal status. Call CanResolve first.
func (e *LedgerEntry) ApplyResolution(to EntryStatus) {
	e.Status = to
}
