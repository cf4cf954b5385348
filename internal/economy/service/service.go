// Package service implements the economy: transfers, session escrow and
// settlement. Every operation runs as one StoreTx unit of work.
package service

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"slices"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"coinledger/internal/economy/commission"
	"coinledger/internal/economy/metrics"
	"coinledger/internal/economy/models"
	"coinledger/internal/economy/observability"
	id "coinledger/pkg/domain"
	dErrors "coinledger/pkg/domain-errors"
	audit "coinledger/pkg/platform/audit"
	"coinledger/pkg/platform/sentinel"
	"coinledger/pkg/requestcontext"
)

// ReplayCache remembers finished top-ups by external reference so a replayed
// gateway callback is answered without opening a unit of work.
type ReplayCache interface {
	// Claim reserves key for one in-flight request.
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
	Lookup(ctx context.Context, key string) ([]byte, bool, error)
	Remember(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// Config holds the economy policy knobs.
type Config struct {
	WelcomeBonus       int64
	DefaultSessionCost int64
	RefundThreshold    time.Duration
	HistoryLimit       int
	MaxHistoryLimit    int
	TreasuryFloat      int64
	PaymentSecret      []byte
	Packages           []models.CoinPackage
	ReplayTTL          time.Duration
}

// DefaultConfig mirrors the production policy.
func DefaultConfig() Config {
	return Config{
		WelcomeBonus:       100,
		DefaultSessionCost: 500,
		RefundThreshold:    5 * time.Minute,
		HistoryLimit:       50,
		MaxHistoryLimit:    100,
		TreasuryFloat:      1_000_000,
		ReplayTTL:          24 * time.Hour,
	}
}

// Service orchestrates the economy.
type Service struct {
	tx             StoreTx
	cfg            Config
	commission     *commission.Policy
	logger         *slog.Logger
	auditPublisher observability.AuditPublisher
	metrics        *metrics.Metrics
	replay         ReplayCache
	tracer         trace.Tracer
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithAuditPublisher(publisher observability.AuditPublisher) Option {
	return func(s *Service) {
		s.auditPublisher = publisher
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithCommission(p *commission.Policy) Option {
	return func(s *Service) {
		s.commission = p
	}
}

func WithReplayCache(c ReplayCache) Option {
	return func(s *Service) {
		s.replay = c
	}
}

func WithConfig(cfg Config) Option {
	return func(s *Service) {
		s.cfg = cfg
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(s *Service) {
		s.tracer = t
	}
}

// New constructs a Service.
func New(tx StoreTx, opts ...Option) (*Service, error) {
	if tx == nil {
		return nil, errors.New("economy store tx is required")
	}
	s := &Service{
		tx:         tx,
		cfg:        DefaultConfig(),
		commission: commission.Default(),
		logger:     slog.Default(),
		tracer:     otel.Tracer("coinledger/economy"),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.cfg.HistoryLimit <= 0 {
		s.cfg.HistoryLimit = 50
	}
	if s.cfg.MaxHistoryLimit < s.cfg.HistoryLimit {
		s.cfg.MaxHistoryLimit = s.cfg.HistoryLimit
	}
	if s.cfg.DefaultSessionCost <= 0 {
		return nil, errors.New("default session cost must be positive")
	}
	return s, nil
}

// Packages returns the coin package catalog.
func (s *Service) Packages() []models.CoinPackage {
	return append([]models.CoinPackage(nil), s.cfg.Packages...)
}

// -----------------------------------------------------------------------------
// Shared helpers
// -----------------------------------------------------------------------------

// begin starts a span and returns a finish func that records metrics and
// span status for the operation's outcome.
func (s *Service) begin(ctx context.Context, op string, kv ...attribute.KeyValue) (context.Context, func(*error)) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "economy."+op, trace.WithAttributes(kv...))
	return ctx, func(errp *error) {
		result := "ok"
		if errp != nil && *errp != nil {
			result = string(dErrors.CodeOf(*errp))
			span.RecordError(*errp)
			span.SetStatus(codes.Error, result)
		}
		span.SetAttributes(attribute.String("result", result))
		span.End()
		if s.metrics != nil {
			s.metrics.ObserveOperation(op, result, start)
		}
	}
}

// runInTx runs fn and guarantees that anything escaping is a coded error.
func (s *Service) runInTx(ctx context.Context, op string, fn func(ctx context.Context, stores Stores) error) error {
	err := s.tx.RunInTx(ctx, fn)
	if err == nil {
		return nil
	}
	if errors.Is(err, sentinel.ErrSerialization) {
		return dErrors.Wrap(err, dErrors.CodeConcurrencyConflict, op+" conflicted with a concurrent request")
	}
	if _, coded := dErrors.As(err); coded {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return dErrors.Wrap(err, dErrors.CodeTimeout, op+" timed out")
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, op+" failed")
}

// storeErr translates a store error into a domain error.
func storeErr(err error, notFoundMsg, internalMsg string) error {
	if err == nil {
		return nil
	}
	if _, coded := dErrors.As(err); coded {
		return err
	}
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, notFoundMsg)
	case errors.Is(err, sentinel.ErrSerialization):
		return err
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, internalMsg)
}

// post appends a ledger entry and records it for metrics once committed.
func post(ctx context.Context, stores Stores, spec models.EntrySpec, now time.Time, posted *[]*models.LedgerEntry) (*models.LedgerEntry, error) {
	entry, err := models.NewLedgerEntry(id.NewEntryID(), spec, now)
	if err != nil {
		return nil, err
	}
	if err := stores.Ledger.Append(ctx, entry); err != nil {
		return nil, storeErr(err, "ledger entry not found", "failed to append ledger entry")
	}
	if posted != nil {
		*posted = append(*posted, entry)
	}
	return entry, nil
}

// adjust locks, changes and writes one account.
func adjust(ctx context.Context, stores Stores, principal id.PrincipalID, delta, earned int64, now time.Time) (*models.Account, error) {
	acct, err := stores.Accounts.FindForUpdate(ctx, principal)
	if err != nil {
		return nil, storeErr(err, "account not found", "failed to load account")
	}
	if err := acct.Adjust(delta, earned, now); err != nil {
		return nil, err
	}
	if err := stores.Accounts.Update(ctx, acct); err != nil {
		return nil, storeErr(err, "account not found", "failed to update account")
	}
	return acct, nil
}

// lockAccounts locks every distinct principal in a fixed order so two units
// touching the same pair of accounts cannot deadlock.
func lockAccounts(ctx context.Context, stores Stores, principals ...id.PrincipalID) (map[id.PrincipalID]*models.Account, error) {
	ordered := make([]id.PrincipalID, 0, len(principals))
	for _, p := range principals {
		if !slices.Contains(ordered, p) {
			ordered = append(ordered, p)
		}
	}
	slices.SortFunc(ordered, func(a, b id.PrincipalID) int {
		return bytes.Compare(a[:], b[:])
	})

	locked := make(map[id.PrincipalID]*models.Account, len(ordered))
	for _, p := range ordered {
		acct, err := stores.Accounts.FindForUpdate(ctx, p)
		if err != nil {
			if p.IsTreasury() && errors.Is(err, sentinel.ErrNotFound) {
				return nil, dErrors.New(dErrors.CodeInternal, "treasury account is not bootstrapped")
			}
			return nil, storeErr(err, "account not found", "failed to load account")
		}
		locked[p] = acct
	}
	return locked, nil
}

// save persists accounts changed in memory after lockAccounts.
func save(ctx context.Context, stores Stores, accounts ...*models.Account) error {
	for _, acct := range accounts {
		if err := stores.Accounts.Update(ctx, acct); err != nil {
			return storeErr(err, "account not found", "failed to update account")
		}
	}
	return nil
}

// recordOutbox writes a financial event inside the unit of work.
func recordOutbox(ctx context.Context, stores Stores, event audit.Event, now time.Time) error {
	if stores.Outbox == nil {
		return nil
	}
	event.RequestID = requestcontext.RequestID(ctx)
	event.Timestamp = now
	if err := stores.Outbox.Append(ctx, event); err != nil {
		return storeErr(err, "outbox not found", "failed to write audit outbox")
	}
	return nil
}

func (s *Service) observeEntries(entries []*models.LedgerEntry) {
	if s.metrics == nil {
		return
	}
	for _, e := range entries {
		s.metrics.AddCoins(string(e.Kind), e.Amount)
	}
}

func (s *Service) logAudit(ctx context.Context, event audit.AuditEvent, attrs ...any) {
	observability.LogAudit(ctx, s.logger, s.auditPublisher, event, attrs...)
}

func principalPtr(p id.PrincipalID) *id.PrincipalID {
	return &p
}

func sessionPtr(sid id.SessionID) *id.SessionID {
	return &sid
}
