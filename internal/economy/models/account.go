package models

import (
	"math"
	"time"

	id "coinledger/pkg/domain"
	dErrors "coinledger/pkg/domain-errors"
)

// Account holds a principal's spendable coin balance.
//
// Invariants:
//   - Balance >= 0 after every committed change
//   - LifetimeEarned never decreases
//   - every balance change is paired with exactly one LedgerEntry
type Account struct {
	ID             id.PrincipalID `json:"id"`
	Balance        int64          `json:"balance"`
	LifetimeEarned int64          `json:"lifetime_earned"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

func NewAccount(principal id.PrincipalID, now time.Time) (*Account, error) {
	if principal.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "account principal cannot be nil")
	}
	return &Account{
		ID:        principal,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// CanAdjust checks that applying delta keeps the balance non-negative and
// representable.
func (a *Account) CanAdjust(delta int64) error {
	if delta > 0 && a.Balance > math.MaxInt64-delta {
		return dErrors.New(dErrors.CodeInvalidAmount, "credit would overflow the balance")
	}
	if a.Balance+delta < 0 {
		return dErrors.New(dErrors.CodeInsufficientFunds, "insufficient coins")
	}
	return nil
}

// ApplyAdjust moves the balance by delta and lifetime earnings by earned.
// Call CanAdjust first.
func (a *Account) ApplyAdjust(delta, earned int64, now time.Time) {
	a.Balance += delta
	if earned > 0 {
		if a.LifetimeEarned > math.MaxInt64-earned {
			a.LifetimeEarned = math.MaxInt64
		} else {
			a.LifetimeEarned += earned
		}
	}
	a.UpdatedAt = now
}

// Adjust validates and applies in one call.
func (a *Account) Adjust(delta, earned int64, now time.Time) error {
	if err := a.CanAdjust(delta); err != nil {
		return err
	}
	a.ApplyAdjust(delta, earned, now)
	return nil
}
