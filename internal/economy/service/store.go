package service

import (
	"context"
	"time"

	"coinledger/internal/economy/models"
	id "coinledger/pkg/domain"
	audit "coinledger/pkg/platform/audit"
)

// Stores return sentinel errors (pkg/platform/sentinel); the service
// translates them. Every method is called inside StoreTx.RunInTx.

type AccountStore interface {
	// Create fails with sentinel.ErrConflict when the account exists.
	Create(ctx context.Context, account *models.Account) error
	FindByID(ctx context.Context, principal id.PrincipalID) (*models.Account, error)
	// FindForUpdate locks the row until the unit of work ends.
	FindForUpdate(ctx context.Context, principal id.PrincipalID) (*models.Account, error)
	Update(ctx context.Context, account *models.Account) error
}

type LedgerStore interface {
	Append(ctx context.Context, entry *models.LedgerEntry) error
	FindByID(ctx context.Context, entryID id.EntryID) (*models.LedgerEntry, error)
	// UpdateStatus performs the single pending -> terminal transition and
	// fails with sentinel.ErrInvalidState when the entry is not pending.
	UpdateStatus(ctx context.Context, entryID id.EntryID, to models.EntryStatus) error
	// ListByAccount returns entries newest first.
	ListByAccount(ctx context.Context, q models.HistoryQuery) ([]*models.LedgerEntry, error)
}

type SessionStore interface {
	// Create fails with sentinel.ErrConflict when the responder already has
	// an open session.
	Create(ctx context.Context, session *models.Session) error
	FindByID(ctx context.Context, sessionID id.SessionID) (*models.Session, error)
	FindForUpdate(ctx context.Context, sessionID id.SessionID) (*models.Session, error)
	Update(ctx context.Context, session *models.Session) error
	CountOpen(ctx context.Context) (int, error)
}

type ListenerStore interface {
	FindByID(ctx context.Context, principal id.PrincipalID) (*models.ListenerProfile, error)
	// Upsert writes online flag and cost; it never touches the busy flag.
	Upsert(ctx context.Context, profile *models.ListenerProfile) error
	// TryLock sets busy only if the profile is online and not busy.
	// Returns sentinel.ErrNotFound or sentinel.ErrUnavailable otherwise.
	TryLock(ctx context.Context, principal id.PrincipalID, now time.Time) error
	// Release clears busy and, when counted, adds minutes and one chat.
	Release(ctx context.Context, principal id.PrincipalID, minutes int64, counted bool, now time.Time) error
}

type InventoryStore interface {
	// Find returns an empty inventory when the owner has none.
	Find(ctx context.Context, owner id.PrincipalID) (*models.Inventory, error)
	// Add fails with sentinel.ErrConflict when the product is already owned.
	Add(ctx context.Context, owner id.PrincipalID, category models.Category, product id.ProductID, now time.Time) error
}

type ReceiptStore interface {
	FindByRef(ctx context.Context, externalRef string) (*models.PaymentReceipt, error)
	// Create fails with sentinel.ErrConflict on a duplicate external ref.
	Create(ctx context.Context, receipt *models.PaymentReceipt) error
}

// Stores is the set of tx-scoped stores handed to a unit of work.
type Stores struct {
	Accounts  AccountStore
	Ledger    LedgerStore
	Sessions  SessionStore
	Listeners ListenerStore
	Inventory InventoryStore
	Receipts  ReceiptStore
	Outbox    audit.Store
}

// StoreTx runs fn as one atomic unit. Any error returned by fn, or a panic,
// discards every write made through stores. Implementations may re-run fn
// after a serialization failure, so fn must not have side effects outside
// stores.
type StoreTx interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context, stores Stores) error) error
}
