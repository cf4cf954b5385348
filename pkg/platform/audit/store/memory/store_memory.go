package memory

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	id "coinledger/pkg/domain"
	audit "coinledger/pkg/platform/audit"
)

type outboxRow struct {
	entry     audit.OutboxEntry
	published bool
}

// InMemoryStore is an audit.Outbox for tests and single-process runs.
type InMemoryStore struct {
	mu     sync.RWMutex
	events map[id.PrincipalID][]audit.Event
	outbox []*outboxRow
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{events: make(map[id.PrincipalID][]audit.Event)}
}

func (s *InMemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = make(map[id.PrincipalID][]audit.Event)
	s.outbox = nil
}

func (s *InMemoryStore) Append(_ context.Context, event audit.Event) error {
	event.Normalize(time.Now())
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[event.PrincipalID] = append(s.events[event.PrincipalID], event)
	s.outbox = append(s.outbox, &outboxRow{entry: audit.OutboxEntry{
		ID:        event.ID,
		Key:       event.AggregateKey(),
		EventType: event.Action,
		Payload:   payload,
		CreatedAt: event.Timestamp,
	}})
	return nil
}

func (s *InMemoryStore) ListByPrincipal(_ context.Context, principal id.PrincipalID) ([]audit.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]audit.Event{}, s.events[principal]...), nil
}

// ListAll returns every event in append order per principal.
func (s *InMemoryStore) ListAll(_ context.Context) ([]audit.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var all []audit.Event
	for _, events := range s.events {
		all = append(all, events...)
	}
	return all, nil
}

// Pending counts entries not yet relayed.
func (s *InMemoryStore) Pending() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, row := range s.outbox {
		if !row.published {
			n++
		}
	}
	return n
}

func (s *InMemoryStore) Drain(ctx context.Context, limit int, publish func(ctx context.Context, entries []audit.OutboxEntry) error) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var rows []*outboxRow
	for _, row := range s.outbox {
		if row.published {
			continue
		}
		rows = append(rows, row)
		if len(rows) == limit {
			break
		}
	}
	if len(rows) == 0 {
		return 0, nil
	}

	entries := make([]audit.OutboxEntry, len(rows))
	for i, row := range rows {
		entries[i] = row.entry
	}
	if err := publish(ctx, entries); err != nil {
		return 0, err
	}
	for _, row := range rows {
		row.published = true
	}
	return len(rows), nil
}
