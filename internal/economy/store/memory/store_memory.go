// Package memory is an in-process economy store. One store-wide lock
// serializes units of work; each unit writes into a staged overlay that is
// merged into the committed state only when the unit returns nil.
package memory

import (
	"context"
	"fmt"
	"maps"

	"coinledger/internal/economy/models"
	"coinledger/internal/economy/service"
	id "coinledger/pkg/domain"
	audit "coinledger/pkg/platform/audit"
)

type state struct {
	accounts  map[id.PrincipalID]models.Account
	entries   map[id.EntryID]models.LedgerEntry
	byAccount map[id.PrincipalID][]id.EntryID
	sessions  map[id.SessionID]models.Session
	listeners map[id.PrincipalID]models.ListenerProfile
	inventory map[id.PrincipalID]*models.Inventory
	receipts  map[string]models.PaymentReceipt
	events    []audit.Event
}

func newState() *state {
	return &state{
		accounts:  make(map[id.PrincipalID]models.Account),
		entries:   make(map[id.EntryID]models.LedgerEntry),
		byAccount: make(map[id.PrincipalID][]id.EntryID),
		sessions:  make(map[id.SessionID]models.Session),
		listeners: make(map[id.PrincipalID]models.ListenerProfile),
		inventory: make(map[id.PrincipalID]*models.Inventory),
		receipts:  make(map[string]models.PaymentReceipt),
	}
}

// Store implements service.StoreTx.
type Store struct {
	sem       chan struct{}
	committed *state
	outbox    audit.Store
}

type Option func(*Store)

// WithOutbox forwards committed audit events to outbox.
func WithOutbox(outbox audit.Store) Option {
	return func(s *Store) {
		s.outbox = outbox
	}
}

func New(opts ...Option) *Store {
	s := &Store{
		sem:       make(chan struct{}, 1),
		committed: newState(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RunInTx runs fn against a staged view. Waiting for the lock honors ctx.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, stores service.Stores) error) (err error) {
	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-s.sem }()

	v := &view{base: s.committed, staged: newState()}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("unit of work panicked: %v", r)
		}
	}()

	if err := fn(ctx, v.stores()); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.commit(ctx, v.staged)
	return nil
}

func (s *Store) commit(ctx context.Context, staged *state) {
	c := s.committed
	maps.Copy(c.accounts, staged.accounts)
	maps.Copy(c.entries, staged.entries)
	maps.Copy(c.byAccount, staged.byAccount)
	maps.Copy(c.sessions, staged.sessions)
	maps.Copy(c.listeners, staged.listeners)
	maps.Copy(c.inventory, staged.inventory)
	maps.Copy(c.receipts, staged.receipts)
	c.events = append(c.events, staged.events...)
	if s.outbox == nil {
		return
	}
	for _, event := range staged.events {
		// Memory outbox appends cannot fail once the event was accepted.
		_ = s.outbox.Append(ctx, event)
	}
}

// Events returns every committed audit event in commit order.
func (s *Store) Events() []audit.Event {
	s.sem <- struct{}{}
	defer func() { <-s.sem }()
	return append([]audit.Event(nil), s.committed.events...)
}

// TotalBalance sums every committed account balance.
func (s *Store) TotalBalance() int64 {
	s.sem <- struct{}{}
	defer func() { <-s.sem }()
	var total int64
	for _, a := range s.committed.accounts {
		total += a.Balance
	}
	return total
}

// Entries returns every committed ledger entry.
func (s *Store) Entries() []models.LedgerEntry {
	s.sem <- struct{}{}
	defer func() { <-s.sem }()
	out := make([]models.LedgerEntry, 0, len(s.committed.entries))
	for _, e := range s.committed.entries {
		out = append(out, e)
	}
	return out
}

// view reads through staged to base and writes only to staged.
type view struct {
	base   *state
	staged *state
}

func (v *view) stores() service.Stores {
	return service.Stores{
		Accounts:  &accountStore{v},
		Ledger:    &ledgerStore{v},
		Sessions:  &sessionStore{v},
		Listeners: &listenerStore{v},
		Inventory: &inventoryStore{v},
		Receipts:  &receiptStore{v},
		Outbox:    &outboxStore{v},
	}
}

func lookup[K comparable, V any](staged, base map[K]V, key K) (V, bool) {
	if val, ok := staged[key]; ok {
		return val, true
	}
	val, ok := base[key]
	return val, ok
}

// keys returns the union of keys in staged and base.
func keys[K comparable, V any](staged, base map[K]V) []K {
	out := make([]K, 0, len(base)+len(staged))
	for k := range base {
		out = append(out, k)
	}
	for k := range staged {
		if _, ok := base[k]; !ok {
			out = append(out, k)
		}
	}
	return out
}
