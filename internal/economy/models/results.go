package models

import (
	"bytes"
	"encoding/base64"
	"sort"
	"strconv"
	"strings"
	"time"

	id "coinledger/pkg/domain"
	dErrors "coinledger/pkg/domain-errors"
)

type TipResult struct {
	NewSenderBalance int64 `json:"new_balance"`
	Fee              int64 `json:"fee"`
	Net              int64 `json:"net"`
}

type PurchaseResult struct {
	NewBalance int64          `json:"new_balance"`
	Category   Category       `json:"category"`
	Owned      []id.ProductID `json:"owned"`
}

type TopUpResult struct {
	NewBalance int64 `json:"new_balance"`
	Credited   int64 `json:"credited"`
	Replayed   bool  `json:"replayed"`
}

type EndSessionResult struct {
	FinalStatus SessionStatus `json:"status"`
	Refunded    bool          `json:"refunded"`
	Session     *Session      `json:"session"`
}

// Wallet is the balance view plus the most recent history.
type Wallet struct {
	Balance        int64          `json:"balance"`
	LifetimeEarned int64          `json:"lifetime_earned"`
	History        []*LedgerEntry `json:"history"`
}

// HistoryCursor marks a position in an account's history. Entries of one
// operation share a timestamp, so the id breaks ties.
type HistoryCursor struct {
	At time.Time
	ID id.EntryID
}

// Less reports whether entry e sorts strictly after the cursor position in
// newest-first order.
func (c HistoryCursor) Less(e *LedgerEntry) bool {
	if !e.CreatedAt.Equal(c.At) {
		return e.CreatedAt.Before(c.At)
	}
	return bytes.Compare(e.ID[:], c.ID[:]) < 0
}

// Encode renders the cursor as an opaque URL-safe token.
func (c HistoryCursor) Encode() string {
	raw := strconv.FormatInt(c.At.UnixNano(), 10) + "." + c.ID.String()
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

func ParseHistoryCursor(token string) (*HistoryCursor, error) {
	invalid := dErrors.New(dErrors.CodeValidation, "invalid history cursor")
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, invalid
	}
	nanos, entry, ok := strings.Cut(string(raw), ".")
	if !ok {
		return nil, invalid
	}
	n, err := strconv.ParseInt(nanos, 10, 64)
	if err != nil {
		return nil, invalid
	}
	entryID, err := id.ParseEntryID(entry)
	if err != nil {
		return nil, invalid
	}
	return &HistoryCursor{At: time.Unix(0, n).UTC(), ID: entryID}, nil
}

// HistoryQuery pages backwards through an account's entries.
type HistoryQuery struct {
	Account id.PrincipalID
	Before  *HistoryCursor
	Limit   int
}

// HistoryPage is one page of entries, newest first.
type HistoryPage struct {
	Entries    []*LedgerEntry `json:"entries"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

// SortNewestFirst orders entries by created_at then id, both descending.
func SortNewestFirst(entries []*LedgerEntry) {
	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return bytes.Compare(a.ID[:], b.ID[:]) > 0
	})
}
