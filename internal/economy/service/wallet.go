package service

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"

	"coinledger/internal/economy/models"
	id "coinledger/pkg/domain"
	dErrors "coinledger/pkg/domain-errors"
	audit "coinledger/pkg/platform/audit"
	"coinledger/pkg/platform/sentinel"
	"coinledger/pkg/requestcontext"
)

const (
	descWelcomeBonus = "Welcome bonus"
	descTreasurySeed = "Initial treasury seeding"
	treasurySeedRef  = "bootstrap:treasury"
)

// WelcomeBonus is the configured bonus for new accounts.
func (s *Service) WelcomeBonus() int64 {
	return s.cfg.WelcomeBonus
}

// CreateAccount opens an account and credits the welcome bonus, if any, as
// a welcome_bonus entry in the same unit of work.
func (s *Service) CreateAccount(ctx context.Context, principal id.PrincipalID, welcomeBonus int64) (acct *models.Account, err error) {
	ctx, finish := s.begin(ctx, "create_account", attribute.String("principal_id", principal.String()))
	defer finish(&err)

	if welcomeBonus < 0 {
		return nil, dErrors.New(dErrors.CodeInvalidAmount, "welcome bonus cannot be negative")
	}
	if principal.IsTreasury() {
		return nil, dErrors.New(dErrors.CodeBadRequest, "treasury account is created by bootstrap")
	}

	now := requestcontext.Now(ctx)
	var posted []*models.LedgerEntry
	err = s.runInTx(ctx, "create account", func(ctx context.Context, stores Stores) error {
		posted = posted[:0]
		created, err := models.NewAccount(principal, now)
		if err != nil {
			return dErrors.New(dErrors.CodeValidation, err.Error())
		}
		if err := stores.Accounts.Create(ctx, created); err != nil {
			if errors.Is(err, sentinel.ErrConflict) {
				return dErrors.New(dErrors.CodeConflict, "account already exists")
			}
			return storeErr(err, "account not found", "failed to create account")
		}
		if welcomeBonus > 0 {
			if created, err = adjust(ctx, stores, principal, welcomeBonus, 0, now); err != nil {
				return err
			}
			if _, err := post(ctx, stores, models.EntrySpec{
				Account:     principal,
				Amount:      welcomeBonus,
				Kind:        models.EntryKindWelcomeBonus,
				Description: descWelcomeBonus,
			}, now, &posted); err != nil {
				return err
			}
		}
		acct = created
		return recordOutbox(ctx, stores, audit.Event{
			Action:      string(audit.EventAccountCreated),
			PrincipalID: principal,
			Amount:      welcomeBonus,
		}, now)
	})
	if err != nil {
		return nil, err
	}

	s.observeEntries(posted)
	s.logAudit(ctx, audit.EventAccountCreated,
		"principal_id", principal.String(),
		"amount", welcomeBonus,
	)
	return acct, nil
}

// BootstrapTreasury creates the treasury with its initial float. It is
// idempotent: an existing treasury is returned unchanged with created=false.
func (s *Service) BootstrapTreasury(ctx context.Context) (acct *models.Account, created bool, err error) {
	ctx, finish := s.begin(ctx, "bootstrap_treasury")
	defer finish(&err)

	now := requestcontext.Now(ctx)
	var posted []*models.LedgerEntry
	err = s.runInTx(ctx, "bootstrap treasury", func(ctx context.Context, stores Stores) error {
		posted = posted[:0]
		created = false
		existing, err := stores.Accounts.FindByID(ctx, id.TreasuryID)
		if err == nil {
			acct = existing
			return nil
		}
		if !errors.Is(err, sentinel.ErrNotFound) {
			return storeErr(err, "treasury not found", "failed to load treasury")
		}

		treasury, err := models.NewAccount(id.TreasuryID, now)
		if err != nil {
			return err
		}
		if err := stores.Accounts.Create(ctx, treasury); err != nil {
			return storeErr(err, "treasury not found", "failed to create treasury")
		}
		if s.cfg.TreasuryFloat > 0 {
			if treasury, err = adjust(ctx, stores, id.TreasuryID, s.cfg.TreasuryFloat, 0, now); err != nil {
				return err
			}
			if _, err := post(ctx, stores, models.EntrySpec{
				Account:     id.TreasuryID,
				Amount:      s.cfg.TreasuryFloat,
				Kind:        models.EntryKindTopUp,
				Description: descTreasurySeed,
				ExternalRef: treasurySeedRef,
			}, now, &posted); err != nil {
				return err
			}
		}
		acct = treasury
		created = true
		return recordOutbox(ctx, stores, audit.Event{
			Action:      string(audit.EventTreasuryBootstrapped),
			PrincipalID: id.TreasuryID,
			Amount:      s.cfg.TreasuryFloat,
		}, now)
	})
	if err != nil {
		return nil, false, err
	}

	if created {
		s.observeEntries(posted)
		s.logAudit(ctx, audit.EventTreasuryBootstrapped, "amount", s.cfg.TreasuryFloat)
	}
	return acct, created, nil
}

// GetWallet returns balances and the most recent history entries.
func (s *Service) GetWallet(ctx context.Context, principal id.PrincipalID) (wallet *models.Wallet, err error) {
	ctx, finish := s.begin(ctx, "get_wallet", attribute.String("principal_id", principal.String()))
	defer finish(&err)

	err = s.runInTx(ctx, "get wallet", func(ctx context.Context, stores Stores) error {
		acct, err := stores.Accounts.FindByID(ctx, principal)
		if err != nil {
			return storeErr(err, "account not found", "failed to load account")
		}
		entries, err := stores.Ledger.ListByAccount(ctx, models.HistoryQuery{
			Account: principal,
			Limit:   s.cfg.HistoryLimit,
		})
		if err != nil {
			return storeErr(err, "account not found", "failed to load history")
		}
		wallet = &models.Wallet{
			Balance:        acct.Balance,
			LifetimeEarned: acct.LifetimeEarned,
			History:        entries,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return wallet, nil
}

// History pages backwards through an account's entries. A zero limit uses
// the wallet default; larger limits are capped.
func (s *Service) History(ctx context.Context, q models.HistoryQuery) (page *models.HistoryPage, err error) {
	ctx, finish := s.begin(ctx, "history", attribute.String("principal_id", q.Account.String()))
	defer finish(&err)

	switch {
	case q.Limit < 0:
		return nil, dErrors.New(dErrors.CodeValidation, "limit cannot be negative")
	case q.Limit == 0:
		q.Limit = s.cfg.HistoryLimit
	case q.Limit > s.cfg.MaxHistoryLimit:
		q.Limit = s.cfg.MaxHistoryLimit
	}

	err = s.runInTx(ctx, "history", func(ctx context.Context, stores Stores) error {
		if _, err := stores.Accounts.FindByID(ctx, q.Account); err != nil {
			return storeErr(err, "account not found", "failed to load account")
		}
		entries, err := stores.Ledger.ListByAccount(ctx, q)
		if err != nil {
			return storeErr(err, "account not found", "failed to load history")
		}
		page = &models.HistoryPage{Entries: entries}
		if len(entries) == q.Limit {
			last := entries[len(entries)-1]
			page.NextCursor = models.HistoryCursor{At: last.CreatedAt, ID: last.ID}.Encode()
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return page, nil
}

// UpsertListener registers or updates the caller's listener profile. The
// busy flag is owned by session settlement and never changes here.
func (s *Service) UpsertListener(ctx context.Context, principal id.PrincipalID, update models.ListenerUpdate) (profile *models.ListenerProfile, err error) {
	ctx, finish := s.begin(ctx, "upsert_listener", attribute.String("principal_id", principal.String()))
	defer finish(&err)

	if err := update.Validate(); err != nil {
		return nil, err
	}
	if principal.IsTreasury() {
		return nil, dErrors.New(dErrors.CodeBadRequest, "treasury cannot be a listener")
	}

	now := requestcontext.Now(ctx)
	err = s.runInTx(ctx, "upsert listener", func(ctx context.Context, stores Stores) error {
		if _, err := stores.Accounts.FindByID(ctx, principal); err != nil {
			return storeErr(err, "account not found", "failed to load account")
		}
		existing, err := stores.Listeners.FindByID(ctx, principal)
		switch {
		case errors.Is(err, sentinel.ErrNotFound):
			existing = &models.ListenerProfile{PrincipalID: principal}
		case err != nil:
			return storeErr(err, "listener not found", "failed to load listener")
		}
		existing.ApplyUpdate(update, now)
		if err := stores.Listeners.Upsert(ctx, existing); err != nil {
			return storeErr(err, "listener not found", "failed to save listener")
		}
		profile = existing
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logAudit(ctx, audit.EventListenerUpdated,
		"principal_id", principal.String(),
		"is_online", profile.IsOnline,
		"cost_per_session", profile.CostPerSession,
	)
	return profile, nil
}

func (s *Service) GetListener(ctx context.Context, principal id.PrincipalID) (profile *models.ListenerProfile, err error) {
	ctx, finish := s.begin(ctx, "get_listener", attribute.String("principal_id", principal.String()))
	defer finish(&err)

	err = s.runInTx(ctx, "get listener", func(ctx context.Context, stores Stores) error {
		p, err := stores.Listeners.FindByID(ctx, principal)
		if err != nil {
			return storeErr(err, "listener not found", "failed to load listener")
		}
		profile = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return profile, nil
}
