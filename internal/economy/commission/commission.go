// Package commission computes the platform's cut of tips and paid sessions.
package commission

import (
	"github.com/shopspring/decimal"

	dErrors "coinledger/pkg/domain-errors"
)

// DefaultRate is the platform commission applied when none is configured.
var DefaultRate = decimal.RequireFromString("0.30")

// Split is the division of a gross amount between platform and recipient.
// Fee + Net always equals the gross.
type Split struct {
	Fee int64 `json:"fee"`
	Net int64 `json:"net"`
}

// Policy applies a fixed rate with floor rounding in the recipient's favour.
type Policy struct {
	rate decimal.Decimal
}

// New builds a policy. The rate must lie in [0, 1].
func New(rate decimal.Decimal) (*Policy, error) {
	if rate.IsNegative() || rate.GreaterThan(decimal.NewFromInt(1)) {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "commission rate must be between 0 and 1")
	}
	return &Policy{rate: rate}, nil
}

// Parse builds a policy from its decimal string form, e.g. "0.30".
func Parse(rate string) (*Policy, error) {
	d, err := decimal.NewFromString(rate)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInvalidInput, "invalid commission rate")
	}
	return New(d)
}

// Default returns the 30% policy.
func Default() *Policy {
	return &Policy{rate: DefaultRate}
}

func (p *Policy) Rate() decimal.Decimal {
	return p.rate
}

// Percent renders the rate for ledger descriptions, e.g. "30%".
func (p *Policy) Percent() string {
	return p.rate.Shift(2).String() + "%"
}

// Split computes Fee = floor(gross * rate) and Net = gross - Fee.
func (p *Policy) Split(gross int64) Split {
	if gross <= 0 {
		return Split{}
	}
	fee := decimal.NewFromInt(gross).Mul(p.rate).Floor().IntPart()
	return Split{Fee: fee, Net: gross - fee}
}
