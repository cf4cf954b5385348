// Package postgres implements the economy stores on PostgreSQL. Every unit
// of work runs at SERIALIZABLE isolation and locks the rows it mutates with
// SELECT ... FOR UPDATE; serialization failures are retried a bounded number
// of times.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"

	"coinledger/internal/economy/metrics"
	"coinledger/internal/economy/service"
	dErrors "coinledger/pkg/domain-errors"
	audit "coinledger/pkg/platform/audit"
	"coinledger/pkg/platform/sentinel"
	txcontext "coinledger/pkg/platform/tx"
)

const (
	defaultTxTimeout  = 5 * time.Second
	defaultMaxRetries = 8
	defaultBackoff    = 10 * time.Millisecond
	maxBackoff        = 250 * time.Millisecond
)

// SQLSTATE codes the store reacts to.
const (
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeUniqueViolation      = "23505"
	codeCheckViolation       = "23514"
)

// Store implements service.StoreTx.
type Store struct {
	db         *sql.DB
	outbox     audit.Store
	timeout    time.Duration
	maxRetries int
	backoff    time.Duration
	jitter     func(n int64) int64
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

type Option func(*Store)

func WithTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithMaxRetries bounds how often a unit is re-run after a serialization
// failure. Zero disables retries.
func WithMaxRetries(n int) Option {
	return func(s *Store) {
		if n >= 0 {
			s.maxRetries = n
		}
	}
}

// WithBackoff sets the base retry delay. Attempt n waits a random duration
// up to base<<n, capped at maxBackoff.
func WithBackoff(d time.Duration) Option {
	return func(s *Store) {
		s.backoff = d
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Store) {
		s.metrics = m
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// WithOutbox sets the audit store handed to units of work. It must join the
// transaction carried in ctx.
func WithOutbox(outbox audit.Store) Option {
	return func(s *Store) {
		s.outbox = outbox
	}
}

func New(db *sql.DB, opts ...Option) *Store {
	s := &Store{
		db:         db,
		timeout:    defaultTxTimeout,
		maxRetries: defaultMaxRetries,
		backoff:    defaultBackoff,
		jitter:     rand.Int64N,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RunInTx runs fn in a SERIALIZABLE transaction. The transaction is rolled
// back on every exit path except a successful commit.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, stores service.Stores) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	for attempt := 0; ; attempt++ {
		err := s.runOnce(ctx, fn)
		if err == nil {
			return nil
		}
		if !errors.Is(err, sentinel.ErrSerialization) {
			return err
		}
		if attempt >= s.maxRetries {
			if s.metrics != nil {
				s.metrics.IncrementConflict()
			}
			return err
		}
		if s.metrics != nil {
			s.metrics.IncrementRetry()
		}
		s.logger.DebugContext(ctx, "retrying serialization failure", "attempt", attempt+1)

		select {
		case <-ctx.Done():
			return dErrors.Wrap(ctx.Err(), dErrors.CodeTimeout, "transaction retry aborted")
		case <-time.After(s.retryDelay(attempt)):
		}
	}
}

// retryDelay spreads retries of units contending on the same rows, most
// often the treasury account that every fee-bearing unit credits.
func (s *Store) retryDelay(attempt int) time.Duration {
	ceiling := maxBackoff
	if attempt < 16 {
		ceiling = min(s.backoff<<attempt, maxBackoff)
	}
	if ceiling <= 0 {
		return 0
	}
	return time.Duration(s.jitter(int64(ceiling) + 1))
}

func (s *Store) runOnce(ctx context.Context, fn func(ctx context.Context, stores service.Stores) error) (err error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return classify(err)
	}
	defer func() {
		_ = tx.Rollback()
	}()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("unit of work panicked: %v", r)
		}
	}()

	ctx = txcontext.WithTx(ctx, tx)
	if err := fn(ctx, s.stores(tx)); err != nil {
		return classify(err)
	}
	if err := tx.Commit(); err != nil {
		return classify(err)
	}
	return nil
}

func (s *Store) stores(q txcontext.Querier) service.Stores {
	return service.Stores{
		Accounts:  &accountStore{q: q},
		Ledger:    &ledgerStore{q: q},
		Sessions:  &sessionStore{q: q},
		Listeners: &listenerStore{q: q},
		Inventory: &inventoryStore{q: q},
		Receipts:  &receiptStore{q: q},
		Outbox:    s.outbox,
	}
}

// classify maps driver errors onto sentinels. Both pgx and lib/pq error
// types are recognized. Serialization failures win over any domain code
// wrapped around them so the unit is retried.
func classify(err error) error {
	if err == nil {
		return nil
	}
	state := sqlState(err)
	if state == codeSerializationFailure || state == codeDeadlockDetected {
		if errors.Is(err, sentinel.ErrSerialization) {
			return err
		}
		return fmt.Errorf("%w: %w", sentinel.ErrSerialization, err)
	}
	if _, coded := dErrors.As(err); coded {
		return err
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %w", sentinel.ErrNotFound, err)
	}
	switch state {
	case codeUniqueViolation:
		return fmt.Errorf("%w: %w", sentinel.ErrConflict, err)
	case codeCheckViolation:
		return fmt.Errorf("%w: %w", sentinel.ErrInvalidState, err)
	}
	return err
}

func sqlState(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code)
	}
	return ""
}
