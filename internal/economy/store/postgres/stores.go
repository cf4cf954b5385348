package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"coinledger/internal/economy/models"
	id "coinledger/pkg/domain"
	"coinledger/pkg/platform/sentinel"
	txcontext "coinledger/pkg/platform/tx"
)

type rowScanner interface {
	Scan(dest ...any) error
}

// -----------------------------------------------------------------------------
// Accounts
// -----------------------------------------------------------------------------

type accountStore struct {
	q txcontext.Querier
}

const accountColumns = `principal_id, balance, lifetime_earned, created_at, updated_at`

func (s *accountStore) Create(ctx context.Context, account *models.Account) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO accounts (principal_id, balance, lifetime_earned, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
	`, uuid.UUID(account.ID), account.Balance, account.LifetimeEarned, account.CreatedAt, account.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert account: %w", classify(err))
	}
	return nil
}

func (s *accountStore) FindByID(ctx context.Context, principal id.PrincipalID) (*models.Account, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE principal_id = $1`, uuid.UUID(principal))
	return scanAccount(row)
}

func (s *accountStore) FindForUpdate(ctx context.Context, principal id.PrincipalID) (*models.Account, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE principal_id = $1 FOR UPDATE`, uuid.UUID(principal))
	return scanAccount(row)
}

func (s *accountStore) Update(ctx context.Context, account *models.Account) error {
	res, err := s.q.ExecContext(ctx, `
		UPDATE accounts SET balance = $2, lifetime_earned = $3, updated_at = $4
		WHERE principal_id = $1
	`, uuid.UUID(account.ID), account.Balance, account.LifetimeEarned, account.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update account: %w", classify(err))
	}
	return requireRow(res)
}

func scanAccount(row rowScanner) (*models.Account, error) {
	var (
		a         models.Account
		principal uuid.UUID
	)
	if err := row.Scan(&principal, &a.Balance, &a.LifetimeEarned, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, fmt.Errorf("scan account: %w", classify(err))
	}
	a.ID = id.PrincipalID(principal)
	return &a, nil
}

// -----------------------------------------------------------------------------
// Ledger
// -----------------------------------------------------------------------------

type ledgerStore struct {
	q txcontext.Querier
}

const entryColumns = `id, account_id, amount, kind, direction, counterparty, related_session, status, description, external_ref, created_at`

func (s *ledgerStore) Append(ctx context.Context, e *models.LedgerEntry) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO ledger_entries (`+entryColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`,
		uuid.UUID(e.ID),
		uuid.UUID(e.Account),
		e.Amount,
		string(e.Kind),
		string(e.Direction),
		nullPrincipal(e.Counterparty),
		nullSession(e.RelatedSession),
		string(e.Status),
		e.Description,
		sql.NullString{String: e.ExternalRef, Valid: e.ExternalRef != ""},
		e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert ledger entry: %w", classify(err))
	}
	return nil
}

func (s *ledgerStore) FindByID(ctx context.Context, entryID id.EntryID) (*models.LedgerEntry, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM ledger_entries WHERE id = $1`, uuid.UUID(entryID))
	return scanEntry(row)
}

func (s *ledgerStore) UpdateStatus(ctx context.Context, entryID id.EntryID, to models.EntryStatus) error {
	if !to.IsTerminal() {
		return sentinel.ErrInvalidState
	}
	res, err := s.q.ExecContext(ctx, `
		UPDATE ledger_entries SET status = $2
		WHERE id = $1 AND status = 'pending'
	`, uuid.UUID(entryID), string(to))
	if err != nil {
		return fmt.Errorf("update ledger entry status: %w", classify(err))
	}
	if err := requireRow(res); err == nil {
		return nil
	}
	var exists bool
	if err := s.q.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM ledger_entries WHERE id = $1)`, uuid.UUID(entryID)).Scan(&exists); err != nil {
		return fmt.Errorf("check ledger entry: %w", classify(err))
	}
	if !exists {
		return sentinel.ErrNotFound
	}
	return sentinel.ErrInvalidState
}

func (s *ledgerStore) ListByAccount(ctx context.Context, q models.HistoryQuery) ([]*models.LedgerEntry, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if q.Before == nil {
		rows, err = s.q.QueryContext(ctx, `
			SELECT `+entryColumns+` FROM ledger_entries
			WHERE account_id = $1
			ORDER BY created_at DESC, id DESC
			LIMIT $2
		`, uuid.UUID(q.Account), q.Limit)
	} else {
		rows, err = s.q.QueryContext(ctx, `
			SELECT `+entryColumns+` FROM ledger_entries
			WHERE account_id = $1 AND (created_at, id) < ($2, $3)
			ORDER BY created_at DESC, id DESC
			LIMIT $4
		`, uuid.UUID(q.Account), q.Before.At, uuid.UUID(q.Before.ID), q.Limit)
	}
	if err != nil {
		return nil, fmt.Errorf("list ledger entries: %w", classify(err))
	}
	defer rows.Close()

	var entries []*models.LedgerEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ledger entries: %w", classify(err))
	}
	return entries, nil
}

func scanEntry(row rowScanner) (*models.LedgerEntry, error) {
	var (
		e                    models.LedgerEntry
		entryID, account     uuid.UUID
		counterparty, relSes uuid.NullUUID
		kind, dir, status    string
		externalRef          sql.NullString
	)
	if err := row.Scan(&entryID, &account, &e.Amount, &kind, &dir, &counterparty, &relSes, &status, &e.Description, &externalRef, &e.CreatedAt); err != nil {
		return nil, fmt.Errorf("scan ledger entry: %w", classify(err))
	}
	e.ID = id.EntryID(entryID)
	e.Account = id.PrincipalID(account)
	e.Kind = models.EntryKind(kind)
	e.Direction = models.Direction(dir)
	e.Status = models.EntryStatus(status)
	e.ExternalRef = externalRef.String
	if counterparty.Valid {
		p := id.PrincipalID(counterparty.UUID)
		e.Counterparty = &p
	}
	if relSes.Valid {
		sid := id.SessionID(relSes.UUID)
		e.RelatedSession = &sid
	}
	return &e, nil
}

// -----------------------------------------------------------------------------
// Sessions
// -----------------------------------------------------------------------------

type sessionStore struct {
	q txcontext.Querier
}

const sessionColumns = `id, initiator_id, responder_id, status, is_paid, cost, escrow_entry_id, started_at, ended_at, disconnect_reason, resolution, feedback_pending`

// Create relies on the partial unique index over open sessions per responder.
func (s *sessionStore) Create(ctx context.Context, sess *models.Session) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO sessions (`+sessionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`,
		uuid.UUID(sess.ID),
		uuid.UUID(sess.Initiator),
		uuid.UUID(sess.Responder),
		string(sess.Status),
		sess.IsPaid,
		sess.Cost,
		nullEntry(sess.EscrowEntry),
		sess.StartedAt,
		sess.EndedAt,
		string(sess.DisconnectReason),
		string(sess.Resolution),
		sess.FeedbackPending,
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", classify(err))
	}
	return nil
}

func (s *sessionStore) FindByID(ctx context.Context, sessionID id.SessionID) (*models.Session, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, uuid.UUID(sessionID))
	return scanSession(row)
}

func (s *sessionStore) FindForUpdate(ctx context.Context, sessionID id.SessionID) (*models.Session, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = $1 FOR UPDATE`, uuid.UUID(sessionID))
	return scanSession(row)
}

func (s *sessionStore) Update(ctx context.Context, sess *models.Session) error {
	res, err := s.q.ExecContext(ctx, `
		UPDATE sessions
		SET status = $2, ended_at = $3, disconnect_reason = $4, resolution = $5, feedback_pending = $6
		WHERE id = $1
	`,
		uuid.UUID(sess.ID),
		string(sess.Status),
		sess.EndedAt,
		string(sess.DisconnectReason),
		string(sess.Resolution),
		sess.FeedbackPending,
	)
	if err != nil {
		return fmt.Errorf("update session: %w", classify(err))
	}
	return requireRow(res)
}

func (s *sessionStore) CountOpen(ctx context.Context) (int, error) {
	var n int
	err := s.q.QueryRowContext(ctx, `SELECT count(*) FROM sessions WHERE status IN ('requested', 'active')`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count open sessions: %w", classify(err))
	}
	return n, nil
}

func scanSession(row rowScanner) (*models.Session, error) {
	var (
		sess                      models.Session
		sessionID, initiator, rsp uuid.UUID
		escrow                    uuid.NullUUID
		endedAt                   sql.NullTime
		status, reason, res       string
	)
	if err := row.Scan(&sessionID, &initiator, &rsp, &status, &sess.IsPaid, &sess.Cost, &escrow,
		&sess.StartedAt, &endedAt, &reason, &res, &sess.FeedbackPending); err != nil {
		return nil, fmt.Errorf("scan session: %w", classify(err))
	}
	sess.ID = id.SessionID(sessionID)
	sess.Initiator = id.PrincipalID(initiator)
	sess.Responder = id.PrincipalID(rsp)
	sess.Status = models.SessionStatus(status)
	sess.DisconnectReason = models.DisconnectReason(reason)
	sess.Resolution = models.Resolution(res)
	if escrow.Valid {
		e := id.EntryID(escrow.UUID)
		sess.EscrowEntry = &e
	}
	if endedAt.Valid {
		t := endedAt.Time
		sess.EndedAt = &t
	}
	return &sess, nil
}

// -----------------------------------------------------------------------------
// Listener profiles
// -----------------------------------------------------------------------------

type listenerStore struct {
	q txcontext.Querier
}

func (s *listenerStore) FindByID(ctx context.Context, principal id.PrincipalID) (*models.ListenerProfile, error) {
	var (
		p   models.ListenerProfile
		pid uuid.UUID
	)
	err := s.q.QueryRowContext(ctx, `
		SELECT principal_id, is_online, is_busy, cost_per_session, total_listen_minutes, chats_completed, updated_at
		FROM listener_profiles WHERE principal_id = $1
	`, uuid.UUID(principal)).Scan(&pid, &p.IsOnline, &p.IsBusy, &p.CostPerSession, &p.TotalListenMinutes, &p.ChatsCompleted, &p.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("find listener: %w", classify(err))
	}
	p.PrincipalID = id.PrincipalID(pid)
	return &p, nil
}

// Upsert never writes is_busy or the stats; settlement owns them.
func (s *listenerStore) Upsert(ctx context.Context, p *models.ListenerProfile) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO listener_profiles (principal_id, is_online, is_busy, cost_per_session, updated_at)
		VALUES ($1, $2, FALSE, $3, $4)
		ON CONFLICT (principal_id) DO UPDATE
		SET is_online = EXCLUDED.is_online,
		    cost_per_session = EXCLUDED.cost_per_session,
		    updated_at = EXCLUDED.updated_at
	`, uuid.UUID(p.PrincipalID), p.IsOnline, p.CostPerSession, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert listener: %w", classify(err))
	}
	return nil
}

// TryLock is a compare-and-set on the busy flag.
func (s *listenerStore) TryLock(ctx context.Context, principal id.PrincipalID, now time.Time) error {
	res, err := s.q.ExecContext(ctx, `
		UPDATE listener_profiles SET is_busy = TRUE, updated_at = $2
		WHERE principal_id = $1 AND is_online AND NOT is_busy
	`, uuid.UUID(principal), now)
	if err != nil {
		return fmt.Errorf("lock listener: %w", classify(err))
	}
	if err := requireRow(res); err == nil {
		return nil
	}
	var exists bool
	if err := s.q.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM listener_profiles WHERE principal_id = $1)`, uuid.UUID(principal)).Scan(&exists); err != nil {
		return fmt.Errorf("check listener: %w", classify(err))
	}
	if !exists {
		return sentinel.ErrNotFound
	}
	return sentinel.ErrUnavailable
}

func (s *listenerStore) Release(ctx context.Context, principal id.PrincipalID, minutes int64, counted bool, now time.Time) error {
	var chats int64
	if counted {
		chats = 1
	} else {
		minutes = 0
	}
	res, err := s.q.ExecContext(ctx, `
		UPDATE listener_profiles
		SET is_busy = FALSE,
		    total_listen_minutes = total_listen_minutes + $2,
		    chats_completed = chats_completed + $3,
		    updated_at = $4
		WHERE principal_id = $1
	`, uuid.UUID(principal), minutes, chats, now)
	if err != nil {
		return fmt.Errorf("release listener: %w", classify(err))
	}
	return requireRow(res)
}

// -----------------------------------------------------------------------------
// Inventory
// -----------------------------------------------------------------------------

type inventoryStore struct {
	q txcontext.Querier
}

func (s *inventoryStore) Find(ctx context.Context, owner id.PrincipalID) (*models.Inventory, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT category, array_agg(product_id ORDER BY acquired_at, product_id)
		FROM inventory_items
		WHERE principal_id = $1
		GROUP BY category
	`, uuid.UUID(owner))
	if err != nil {
		return nil, fmt.Errorf("find inventory: %w", classify(err))
	}
	defer rows.Close()

	inv := models.NewInventory(owner)
	for rows.Next() {
		var (
			category string
			products []string
		)
		if err := rows.Scan(&category, pq.Array(&products)); err != nil {
			return nil, fmt.Errorf("scan inventory: %w", classify(err))
		}
		for _, p := range products {
			inv.ApplyAdd(models.Category(category), id.ProductID(p))
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate inventory: %w", classify(err))
	}
	return inv, nil
}

func (s *inventoryStore) Add(ctx context.Context, owner id.PrincipalID, category models.Category, product id.ProductID, now time.Time) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO inventory_items (principal_id, category, product_id, acquired_at)
		VALUES ($1, $2, $3, $4)
	`, uuid.UUID(owner), string(category), string(product), now)
	if err != nil {
		return fmt.Errorf("insert inventory item: %w", classify(err))
	}
	return nil
}

// -----------------------------------------------------------------------------
// Payment receipts
// -----------------------------------------------------------------------------

type receiptStore struct {
	q txcontext.Querier
}

func (s *receiptStore) FindByRef(ctx context.Context, externalRef string) (*models.PaymentReceipt, error) {
	var (
		r                models.PaymentReceipt
		account, entryID uuid.UUID
	)
	err := s.q.QueryRowContext(ctx, `
		SELECT external_ref, account_id, amount, entry_id, new_balance, created_at
		FROM payment_receipts WHERE external_ref = $1
	`, externalRef).Scan(&r.ExternalRef, &account, &r.Amount, &entryID, &r.NewBalance, &r.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("find receipt: %w", classify(err))
	}
	r.Account = id.PrincipalID(account)
	r.EntryID = id.EntryID(entryID)
	return &r, nil
}

func (s *receiptStore) Create(ctx context.Context, r *models.PaymentReceipt) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO payment_receipts (external_ref, account_id, amount, entry_id, new_balance, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, r.ExternalRef, uuid.UUID(r.Account), r.Amount, uuid.UUID(r.EntryID), r.NewBalance, r.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert receipt: %w", classify(err))
	}
	return nil
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func nullPrincipal(p *id.PrincipalID) uuid.NullUUID {
	if p == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: uuid.UUID(*p), Valid: true}
}

func nullSession(sid *id.SessionID) uuid.NullUUID {
	if sid == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: uuid.UUID(*sid), Valid: true}
}

func nullEntry(e *id.EntryID) uuid.NullUUID {
	if e == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: uuid.UUID(*e), Valid: true}
}
