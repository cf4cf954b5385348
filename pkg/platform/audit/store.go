package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Store appends audit events. Postgres-backed stores join the transaction
// carried in ctx, so financial events commit atomically with the ledger.
type Store interface {
	Append(ctx context.Context, event Event) error
}

// OutboxEntry is a serialized event waiting to be relayed.
type OutboxEntry struct {
	ID        uuid.UUID
	Key       string
	EventType string
	Payload   []byte
	CreatedAt time.Time
}

// Outbox is a Store whose pending entries can be drained in order.
type Outbox interface {
	Store
	// Drain hands up to limit unpublished entries to publish and marks them
	// published only when publish returns nil.
	Drain(ctx context.Context, limit int, publish func(ctx context.Context, entries []OutboxEntry) error) (int, error)
}

// Sink delivers relayed entries to the downstream stream.
type Sink interface {
	Publish(ctx context.Context, entries []OutboxEntry) error
}
