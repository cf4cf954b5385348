package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores return these (optionally
// wrapped) and services translate them into domain errors.
//
//   - ErrNotFound: row does not exist
//   - ErrConflict: unique key already taken (receipt, active session)
//   - ErrAlreadyUsed: idempotency key already claimed by another request
//   - ErrInvalidState: row is in the wrong state for the write
//   - ErrUnavailable: backend temporarily unavailable
//   - ErrSerialization: transaction lost a serialization race and may be retried
//
// For validation errors use pkg/domain-errors directly.
var (
	ErrNotFound      = errors.New("not found")
	ErrConflict      = errors.New("conflict")
	ErrAlreadyUsed   = errors.New("already used")
	ErrInvalidState  = errors.New("invalid state")
	ErrUnavailable   = errors.New("unavailable")
	ErrSerialization = errors.New("serialization failure")
)
