package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"coinledger/internal/economy/models"
	"coinledger/internal/economy/service"
	id "coinledger/pkg/domain"
	audit "coinledger/pkg/platform/audit"
	auditmemory "coinledger/pkg/platform/audit/store/memory"
	"coinledger/pkg/platform/sentinel"
)

type InMemoryStoreSuite struct {
	suite.Suite
	store *Store
	ctx   context.Context
	now   time.Time
	alice id.PrincipalID
}

func TestInMemoryStoreSuite(t *testing.T) {
	suite.Run(t, new(InMemoryStoreSuite))
}

func (s *InMemoryStoreSuite) SetupTest() {
	s.store = New()
	s.ctx = context.Background()
	s.now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.alice = id.PrincipalID(uuid.New())
}

func (s *InMemoryStoreSuite) createAccount(principal id.PrincipalID, balance int64) {
	err := s.store.RunInTx(s.ctx, func(ctx context.Context, st service.Stores) error {
		acct, err := models.NewAccount(principal, s.now)
		if err != nil {
			return err
		}
		acct.Balance = balance
		return st.Accounts.Create(ctx, acct)
	})
	s.Require().NoError(err)
}

func (s *InMemoryStoreSuite) balance(principal id.PrincipalID) int64 {
	var out int64
	err := s.store.RunInTx(s.ctx, func(ctx context.Context, st service.Stores) error {
		acct, err := st.Accounts.FindByID(ctx, principal)
		if err != nil {
			return err
		}
		out = acct.Balance
		return nil
	})
	s.Require().NoError(err)
	return out
}

// =============================================================================
// Unit of work
// =============================================================================

// Justification: rollback on error is the atomicity guarantee every service
// operation relies on.
func (s *InMemoryStoreSuite) TestRunInTx() {
	s.Run("commits staged writes on success", func() {
		s.createAccount(s.alice, 100)
		s.Equal(int64(100), s.balance(s.alice))
	})

	s.Run("discards staged writes on error", func() {
		boom := errors.New("boom")
		err := s.store.RunInTx(s.ctx, func(ctx context.Context, st service.Stores) error {
			acct, err := st.Accounts.FindForUpdate(ctx, s.alice)
			s.Require().NoError(err)
			acct.Balance = 0
			s.Require().NoError(st.Accounts.Update(ctx, acct))
			return boom
		})
		s.ErrorIs(err, boom)
		s.Equal(int64(100), s.balance(s.alice))
	})

	s.Run("discards staged writes on panic", func() {
		err := s.store.RunInTx(s.ctx, func(ctx context.Context, st service.Stores) error {
			acct, _ := st.Accounts.FindForUpdate(ctx, s.alice)
			acct.Balance = 1
			_ = st.Accounts.Update(ctx, acct)
			panic("unexpected")
		})
		s.Error(err)
		s.Equal(int64(100), s.balance(s.alice))
	})

	s.Run("reads see own staged writes", func() {
		err := s.store.RunInTx(s.ctx, func(ctx context.Context, st service.Stores) error {
			acct, _ := st.Accounts.FindForUpdate(ctx, s.alice)
			acct.Balance = 42
			s.Require().NoError(st.Accounts.Update(ctx, acct))
			again, err := st.Accounts.FindByID(ctx, s.alice)
			s.Require().NoError(err)
			s.Equal(int64(42), again.Balance)
			return errors.New("rollback")
		})
		s.Error(err)
	})

	s.Run("waiting for the lock honors context", func() {
		held := make(chan struct{})
		done := make(chan struct{})
		go func() {
			_ = s.store.RunInTx(s.ctx, func(context.Context, service.Stores) error {
				close(held)
				<-done
				return nil
			})
		}()
		<-held
		ctx, cancel := context.WithTimeout(s.ctx, 20*time.Millisecond)
		defer cancel()
		err := s.store.RunInTx(ctx, func(context.Context, service.Stores) error { return nil })
		s.ErrorIs(err, context.DeadlineExceeded)
		close(done)
	})
}

// Justification: without the store lock, concurrent read-modify-write units
// would lose updates.
func (s *InMemoryStoreSuite) TestConcurrentUnitsDoNotLoseUpdates() {
	s.createAccount(s.alice, 0)

	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.store.RunInTx(s.ctx, func(ctx context.Context, st service.Stores) error {
				acct, err := st.Accounts.FindForUpdate(ctx, s.alice)
				if err != nil {
					return err
				}
				acct.Balance++
				return st.Accounts.Update(ctx, acct)
			})
		}()
	}
	wg.Wait()
	s.Equal(int64(50), s.balance(s.alice))
}

// =============================================================================
// Stores
// =============================================================================

func (s *InMemoryStoreSuite) TestAccounts() {
	s.createAccount(s.alice, 0)

	err := s.store.RunInTx(s.ctx, func(ctx context.Context, st service.Stores) error {
		acct, _ := models.NewAccount(s.alice, s.now)
		return st.Accounts.Create(ctx, acct)
	})
	s.ErrorIs(err, sentinel.ErrConflict)

	err = s.store.RunInTx(s.ctx, func(ctx context.Context, st service.Stores) error {
		_, err := st.Accounts.FindByID(ctx, id.PrincipalID(uuid.New()))
		return err
	})
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *InMemoryStoreSuite) TestLedger() {
	s.Run("history is newest first and pages by cursor", func() {
		var ids []id.EntryID
		for i := range 5 {
			err := s.store.RunInTx(s.ctx, func(ctx context.Context, st service.Stores) error {
				entry, err := models.NewLedgerEntry(id.NewEntryID(), models.EntrySpec{
					Account: s.alice,
					Amount:  int64(i + 1),
					Kind:    models.EntryKindTopUp,
				}, s.now.Add(time.Duration(i)*time.Minute))
				if err != nil {
					return err
				}
				ids = append(ids, entry.ID)
				return st.Ledger.Append(ctx, entry)
			})
			s.Require().NoError(err)
		}

		var page []*models.LedgerEntry
		err := s.store.RunInTx(s.ctx, func(ctx context.Context, st service.Stores) error {
			var err error
			page, err = st.Ledger.ListByAccount(ctx, models.HistoryQuery{Account: s.alice, Limit: 2})
			return err
		})
		s.Require().NoError(err)
		s.Require().Len(page, 2)
		s.Equal(ids[4], page[0].ID)
		s.Equal(ids[3], page[1].ID)

		cursor := &models.HistoryCursor{At: page[1].CreatedAt, ID: page[1].ID}
		err = s.store.RunInTx(s.ctx, func(ctx context.Context, st service.Stores) error {
			var err error
			page, err = st.Ledger.ListByAccount(ctx, models.HistoryQuery{Account: s.alice, Before: cursor, Limit: 10})
			return err
		})
		s.Require().NoError(err)
		s.Require().Len(page, 3)
		s.Equal(ids[2], page[0].ID)
	})

	s.Run("status resolves once", func() {
		entryID := id.NewEntryID()
		err := s.store.RunInTx(s.ctx, func(ctx context.Context, st service.Stores) error {
			entry, _ := models.NewLedgerEntry(entryID, models.EntrySpec{
				Account: s.alice,
				Amount:  -10,
				Kind:    models.EntryKindSessionPayment,
				Status:  models.EntryStatusPending,
			}, s.now)
			if err := st.Ledger.Append(ctx, entry); err != nil {
				return err
			}
			return st.Ledger.UpdateStatus(ctx, entryID, models.EntryStatusCompleted)
		})
		s.Require().NoError(err)

		err = s.store.RunInTx(s.ctx, func(ctx context.Context, st service.Stores) error {
			return st.Ledger.UpdateStatus(ctx, entryID, models.EntryStatusFailed)
		})
		s.ErrorIs(err, sentinel.ErrInvalidState)
	})
}

func (s *InMemoryStoreSuite) TestListeners() {
	bob := id.PrincipalID(uuid.New())
	err := s.store.RunInTx(s.ctx, func(ctx context.Context, st service.Stores) error {
		return st.Listeners.Upsert(ctx, &models.ListenerProfile{PrincipalID: bob, IsOnline: true})
	})
	s.Require().NoError(err)

	s.Run("try lock is compare-and-set", func() {
		lock := func() error {
			return s.store.RunInTx(s.ctx, func(ctx context.Context, st service.Stores) error {
				return st.Listeners.TryLock(ctx, bob, s.now)
			})
		}
		s.Require().NoError(lock())
		s.ErrorIs(lock(), sentinel.ErrUnavailable)
	})

	s.Run("upsert keeps busy flag", func() {
		err := s.store.RunInTx(s.ctx, func(ctx context.Context, st service.Stores) error {
			if err := st.Listeners.Upsert(ctx, &models.ListenerProfile{PrincipalID: bob, IsOnline: true, CostPerSession: 700}); err != nil {
				return err
			}
			p, err := st.Listeners.FindByID(ctx, bob)
			s.Require().NoError(err)
			s.True(p.IsBusy)
			s.Equal(int64(700), p.CostPerSession)
			return nil
		})
		s.Require().NoError(err)
	})

	s.Run("release clears busy and counts stats", func() {
		err := s.store.RunInTx(s.ctx, func(ctx context.Context, st service.Stores) error {
			if err := st.Listeners.Release(ctx, bob, 12, true, s.now); err != nil {
				return err
			}
			p, _ := st.Listeners.FindByID(ctx, bob)
			s.False(p.IsBusy)
			s.Equal(int64(12), p.TotalListenMinutes)
			s.Equal(int64(1), p.ChatsCompleted)
			return nil
		})
		s.Require().NoError(err)
	})

	s.Run("missing listener", func() {
		err := s.store.RunInTx(s.ctx, func(ctx context.Context, st service.Stores) error {
			return st.Listeners.TryLock(ctx, id.PrincipalID(uuid.New()), s.now)
		})
		s.ErrorIs(err, sentinel.ErrNotFound)
	})
}

func (s *InMemoryStoreSuite) TestSessions() {
	bob := id.PrincipalID(uuid.New())
	create := func() (*models.Session, error) {
		sess, err := models.NewActiveSession(id.NewSessionID(), s.alice, bob, false, 0, nil, s.now)
		s.Require().NoError(err)
		return sess, s.store.RunInTx(s.ctx, func(ctx context.Context, st service.Stores) error {
			return st.Sessions.Create(ctx, sess)
		})
	}

	first, err := create()
	s.Require().NoError(err)

	_, err = create()
	s.ErrorIs(err, sentinel.ErrConflict, "one open session per responder")

	err = s.store.RunInTx(s.ctx, func(ctx context.Context, st service.Stores) error {
		sess, err := st.Sessions.FindForUpdate(ctx, first.ID)
		if err != nil {
			return err
		}
		sess.ApplyEnd(models.DisconnectVoluntary, false, s.now)
		if err := st.Sessions.Update(ctx, sess); err != nil {
			return err
		}
		open, err := st.Sessions.CountOpen(ctx)
		s.Equal(0, open)
		return err
	})
	s.Require().NoError(err)

	_, err = create()
	s.NoError(err)
}

func (s *InMemoryStoreSuite) TestInventoryAndReceipts() {
	err := s.store.RunInTx(s.ctx, func(ctx context.Context, st service.Stores) error {
		inv, err := st.Inventory.Find(ctx, s.alice)
		s.Require().NoError(err)
		s.Empty(inv.Owned(models.CategoryTheme))
		if err := st.Inventory.Add(ctx, s.alice, models.CategoryTheme, "midnight", s.now); err != nil {
			return err
		}
		s.ErrorIs(st.Inventory.Add(ctx, s.alice, models.CategoryTheme, "midnight", s.now), sentinel.ErrConflict)

		receipt := &models.PaymentReceipt{ExternalRef: "order_1|pay_1", Account: s.alice, Amount: 100}
		if err := st.Receipts.Create(ctx, receipt); err != nil {
			return err
		}
		s.ErrorIs(st.Receipts.Create(ctx, receipt), sentinel.ErrConflict)
		return nil
	})
	s.Require().NoError(err)
}

func (s *InMemoryStoreSuite) TestOutboxOnlyOnCommit() {
	outbox := auditmemory.NewInMemoryStore()
	s.store = New(WithOutbox(outbox))

	_ = s.store.RunInTx(s.ctx, func(ctx context.Context, st service.Stores) error {
		_ = st.Outbox.Append(ctx, audit.Event{Action: string(audit.EventTipSent), PrincipalID: s.alice})
		return errors.New("rollback")
	})
	s.Equal(0, outbox.Pending())

	err := s.store.RunInTx(s.ctx, func(ctx context.Context, st service.Stores) error {
		return st.Outbox.Append(ctx, audit.Event{Action: string(audit.EventTipSent), PrincipalID: s.alice})
	})
	s.Require().NoError(err)
	s.Equal(1, outbox.Pending())
	s.Len(s.store.Events(), 1)
}
