package memory

import (
	"context"
	"slices"
	"time"

	"coinledger/internal/economy/models"
	id "coinledger/pkg/domain"
	audit "coinledger/pkg/platform/audit"
	"coinledger/pkg/platform/sentinel"
)

type accountStore struct{ v *view }

func (s *accountStore) Create(_ context.Context, account *models.Account) error {
	if _, ok := lookup(s.v.staged.accounts, s.v.base.accounts, account.ID); ok {
		return sentinel.ErrConflict
	}
	s.v.staged.accounts[account.ID] = *account
	return nil
}

func (s *accountStore) FindByID(_ context.Context, principal id.PrincipalID) (*models.Account, error) {
	acct, ok := lookup(s.v.staged.accounts, s.v.base.accounts, principal)
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return &acct, nil
}

// FindForUpdate needs no row lock: the unit already holds the store lock.
func (s *accountStore) FindForUpdate(ctx context.Context, principal id.PrincipalID) (*models.Account, error) {
	return s.FindByID(ctx, principal)
}

func (s *accountStore) Update(_ context.Context, account *models.Account) error {
	if _, ok := lookup(s.v.staged.accounts, s.v.base.accounts, account.ID); !ok {
		return sentinel.ErrNotFound
	}
	s.v.staged.accounts[account.ID] = *account
	return nil
}

type ledgerStore struct{ v *view }

func (s *ledgerStore) Append(_ context.Context, entry *models.LedgerEntry) error {
	if _, ok := lookup(s.v.staged.entries, s.v.base.entries, entry.ID); ok {
		return sentinel.ErrConflict
	}
	s.v.staged.entries[entry.ID] = *entry
	ids, _ := lookup(s.v.staged.byAccount, s.v.base.byAccount, entry.Account)
	s.v.staged.byAccount[entry.Account] = append(slices.Clip(ids), entry.ID)
	return nil
}

func (s *ledgerStore) FindByID(_ context.Context, entryID id.EntryID) (*models.LedgerEntry, error) {
	entry, ok := lookup(s.v.staged.entries, s.v.base.entries, entryID)
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return &entry, nil
}

func (s *ledgerStore) UpdateStatus(_ context.Context, entryID id.EntryID, to models.EntryStatus) error {
	entry, ok := lookup(s.v.staged.entries, s.v.base.entries, entryID)
	if !ok {
		return sentinel.ErrNotFound
	}
	if err := entry.CanResolve(to); err != nil {
		return sentinel.ErrInvalidState
	}
	entry.ApplyResolution(to)
	s.v.staged.entries[entryID] = entry
	return nil
}

func (s *ledgerStore) ListByAccount(_ context.Context, q models.HistoryQuery) ([]*models.LedgerEntry, error) {
	ids, _ := lookup(s.v.staged.byAccount, s.v.base.byAccount, q.Account)
	entries := make([]*models.LedgerEntry, 0, len(ids))
	for _, entryID := range ids {
		entry, ok := lookup(s.v.staged.entries, s.v.base.entries, entryID)
		if !ok {
			continue
		}
		if q.Before != nil && !q.Before.Less(&entry) {
			continue
		}
		entries = append(entries, &entry)
	}
	models.SortNewestFirst(entries)
	if q.Limit > 0 && len(entries) > q.Limit {
		entries = entries[:q.Limit]
	}
	return entries, nil
}

type sessionStore struct{ v *view }

func (s *sessionStore) Create(_ context.Context, session *models.Session) error {
	if _, ok := lookup(s.v.staged.sessions, s.v.base.sessions, session.ID); ok {
		return sentinel.ErrConflict
	}
	for _, sid := range keys(s.v.staged.sessions, s.v.base.sessions) {
		other, _ := lookup(s.v.staged.sessions, s.v.base.sessions, sid)
		if other.Responder == session.Responder && other.Status.IsOpen() {
			return sentinel.ErrConflict
		}
	}
	s.v.staged.sessions[session.ID] = *session
	return nil
}

func (s *sessionStore) FindByID(_ context.Context, sessionID id.SessionID) (*models.Session, error) {
	sess, ok := lookup(s.v.staged.sessions, s.v.base.sessions, sessionID)
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return &sess, nil
}

func (s *sessionStore) FindForUpdate(ctx context.Context, sessionID id.SessionID) (*models.Session, error) {
	return s.FindByID(ctx, sessionID)
}

func (s *sessionStore) Update(_ context.Context, session *models.Session) error {
	if _, ok := lookup(s.v.staged.sessions, s.v.base.sessions, session.ID); !ok {
		return sentinel.ErrNotFound
	}
	s.v.staged.sessions[session.ID] = *session
	return nil
}

func (s *sessionStore) CountOpen(_ context.Context) (int, error) {
	n := 0
	for _, sid := range keys(s.v.staged.sessions, s.v.base.sessions) {
		sess, _ := lookup(s.v.staged.sessions, s.v.base.sessions, sid)
		if sess.Status.IsOpen() {
			n++
		}
	}
	return n, nil
}

type listenerStore struct{ v *view }

func (s *listenerStore) FindByID(_ context.Context, principal id.PrincipalID) (*models.ListenerProfile, error) {
	p, ok := lookup(s.v.staged.listeners, s.v.base.listeners, principal)
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return &p, nil
}

func (s *listenerStore) Upsert(_ context.Context, profile *models.ListenerProfile) error {
	next := *profile
	if existing, ok := lookup(s.v.staged.listeners, s.v.base.listeners, profile.PrincipalID); ok {
		next.IsBusy = existing.IsBusy
		next.TotalListenMinutes = existing.TotalListenMinutes
		next.ChatsCompleted = existing.ChatsCompleted
	} else {
		next.IsBusy = false
	}
	s.v.staged.listeners[profile.PrincipalID] = next
	return nil
}

func (s *listenerStore) TryLock(_ context.Context, principal id.PrincipalID, now time.Time) error {
	p, ok := lookup(s.v.staged.listeners, s.v.base.listeners, principal)
	if !ok {
		return sentinel.ErrNotFound
	}
	if p.CanAccept() != nil {
		return sentinel.ErrUnavailable
	}
	p.ApplyLock(now)
	s.v.staged.listeners[principal] = p
	return nil
}

func (s *listenerStore) Release(_ context.Context, principal id.PrincipalID, minutes int64, counted bool, now time.Time) error {
	p, ok := lookup(s.v.staged.listeners, s.v.base.listeners, principal)
	if !ok {
		return sentinel.ErrNotFound
	}
	p.ApplyRelease(minutes, counted, now)
	s.v.staged.listeners[principal] = p
	return nil
}

type inventoryStore struct{ v *view }

func (s *inventoryStore) Find(_ context.Context, owner id.PrincipalID) (*models.Inventory, error) {
	inv, ok := lookup(s.v.staged.inventory, s.v.base.inventory, owner)
	if !ok {
		return models.NewInventory(owner), nil
	}
	return inv.Clone(), nil
}

func (s *inventoryStore) Add(_ context.Context, owner id.PrincipalID, category models.Category, product id.ProductID, _ time.Time) error {
	inv, ok := lookup(s.v.staged.inventory, s.v.base.inventory, owner)
	if !ok {
		inv = models.NewInventory(owner)
	}
	if inv.Owns(category, product) {
		return sentinel.ErrConflict
	}
	next := inv.Clone()
	next.ApplyAdd(category, product)
	s.v.staged.inventory[owner] = next
	return nil
}

type receiptStore struct{ v *view }

func (s *receiptStore) FindByRef(_ context.Context, externalRef string) (*models.PaymentReceipt, error) {
	r, ok := lookup(s.v.staged.receipts, s.v.base.receipts, externalRef)
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return &r, nil
}

func (s *receiptStore) Create(_ context.Context, receipt *models.PaymentReceipt) error {
	if _, ok := lookup(s.v.staged.receipts, s.v.base.receipts, receipt.ExternalRef); ok {
		return sentinel.ErrConflict
	}
	s.v.staged.receipts[receipt.ExternalRef] = *receipt
	return nil
}

// outboxStore stages events so they reach the outbox only on commit.
type outboxStore struct{ v *view }

func (s *outboxStore) Append(_ context.Context, event audit.Event) error {
	event.Normalize(time.Now())
	s.v.staged.events = append(s.v.staged.events, event)
	return nil
}
