package models

import (
	"time"

	id "coinledger/pkg/domain"
)

// PaymentReceipt records a verified gateway payment. ExternalRef is unique, so
// a replayed callback finds the receipt instead of crediting twice.
type PaymentReceipt struct {
	ExternalRef string         `json:"external_ref"`
	Account     id.PrincipalID `json:"account_id"`
	Amount      int64          `json:"amount"`
	EntryID     id.EntryID     `json:"entry_id"`
	NewBalance  int64          `json:"new_balance"`
	CreatedAt   time.Time      `json:"created_at"`
}

// CoinPackage is a purchasable bundle offered by the payment gateway.
type CoinPackage struct {
	ID       string `json:"id" toml:"id"`
	Coins    int64  `json:"coins" toml:"coins"`
	Price    int64  `json:"price" toml:"price"`
	Currency string `json:"currency" toml:"currency"`
}
