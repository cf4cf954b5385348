// Package domain holds the typed identifiers shared across the economy.
//
// Each identifier wraps a UUID so that a session id can never be passed where
// a principal id is expected. Parse functions are the trust boundary: they
// reject empty, malformed, and nil UUIDs.
package domain

import (
	"strings"

	"github.com/google/uuid"

	dErrors "coinledger/pkg/domain-errors"
)

type (
	PrincipalID uuid.UUID
	SessionID   uuid.UUID
	EntryID     uuid.UUID
)

// TreasuryID is the platform account that receives commissions and store
// revenue. It is fixed so every deployment agrees on it without lookup.
var TreasuryID = PrincipalID(uuid.MustParse("00000000-0000-4000-8000-00000000c01d"))

func (id PrincipalID) String() string { return uuid.UUID(id).String() }
func (id SessionID) String() string   { return uuid.UUID(id).String() }
func (id EntryID) String() string     { return uuid.UUID(id).String() }

func (id PrincipalID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id SessionID) IsNil() bool   { return uuid.UUID(id) == uuid.Nil }
func (id EntryID) IsNil() bool     { return uuid.UUID(id) == uuid.Nil }

// IsTreasury reports whether id is the platform treasury.
func (id PrincipalID) IsTreasury() bool { return id == TreasuryID }

func NewSessionID() SessionID { return SessionID(uuid.New()) }
func NewEntryID() EntryID     { return EntryID(uuid.New()) }

func ParsePrincipalID(s string) (PrincipalID, error) {
	u, err := parseUUID(s, "principal ID")
	return PrincipalID(u), err
}

func ParseSessionID(s string) (SessionID, error) {
	u, err := parseUUID(s, "session ID")
	return SessionID(u), err
}

func ParseEntryID(s string) (EntryID, error) {
	u, err := parseUUID(s, "entry ID")
	return EntryID(u), err
}

func parseUUID(s, label string) (uuid.UUID, error) {
	if strings.TrimSpace(s) == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, label+" required")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "invalid "+label)
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, label+" cannot be nil")
	}
	return u, nil
}

// ProductID identifies a catalog item. The catalog lives outside this
// service, so the id is an opaque slug.
type ProductID string

const maxProductIDLength = 128

func ParseProductID(s string) (ProductID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "product ID required")
	}
	if len(s) > maxProductIDLength {
		return "", dErrors.New(dErrors.CodeInvalidInput, "product ID too long")
	}
	for _, r := range s {
		if r < 0x21 || r > 0x7e {
			return "", dErrors.New(dErrors.CodeInvalidInput, "product ID contains invalid characters")
		}
	}
	return ProductID(s), nil
}

func (p ProductID) String() string { return string(p) }

func (id PrincipalID) MarshalText() ([]byte, error) { return uuid.UUID(id).MarshalText() }
func (id SessionID) MarshalText() ([]byte, error)   { return uuid.UUID(id).MarshalText() }
func (id EntryID) MarshalText() ([]byte, error)     { return uuid.UUID(id).MarshalText() }

func (id *PrincipalID) UnmarshalText(b []byte) error { return (*uuid.UUID)(id).UnmarshalText(b) }
func (id *SessionID) UnmarshalText(b []byte) error   { return (*uuid.UUID)(id).UnmarshalText(b) }
func (id *EntryID) UnmarshalText(b []byte) error     { return (*uuid.UUID)(id).UnmarshalText(b) }
