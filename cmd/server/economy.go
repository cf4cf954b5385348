package main

import (
	"context"
	"database/sql"
	"fmt"

	"coinledger/internal/economy/commission"
	"coinledger/internal/economy/idempotency"
	econmetrics "coinledger/internal/economy/metrics"
	"coinledger/internal/economy/service"
	pgstore "coinledger/internal/economy/store/postgres"
	"coinledger/internal/platform/redis"
	"coinledger/pkg/platform/audit/publisher"
	auditpostgres "coinledger/pkg/platform/audit/store/postgres"
)

// economyDeps is the wired economy service and the resources it owns.
type economyDeps struct {
	svc       *service.Service
	metrics   *econmetrics.Metrics
	outbox    *auditpostgres.Store
	redis     *redis.Client
	replay    *idempotency.GuardedCache
	publisher *publisher.Publisher
}

func (d *economyDeps) close() {
	d.publisher.Close()
	if d.redis != nil {
		_ = d.redis.Close()
	}
}

func (a *app) buildEconomy(ctx context.Context, db *sql.DB) (*economyDeps, error) {
	policy, err := commission.Parse(a.cfg.Economy.CommissionRate)
	if err != nil {
		return nil, fmt.Errorf("commission rate: %w", err)
	}

	m := econmetrics.New()
	outbox := auditpostgres.New(db)
	store := pgstore.New(db,
		pgstore.WithTimeout(a.cfg.Postgres.TxTimeout),
		pgstore.WithMaxRetries(a.cfg.Postgres.MaxRetries),
		pgstore.WithMetrics(m),
		pgstore.WithLogger(a.logger),
		pgstore.WithOutbox(outbox),
	)

	deps := &economyDeps{metrics: m, outbox: outbox}

	var replay service.ReplayCache = idempotency.NewMemoryCache()
	client, err := redis.New(ctx, a.cfg.Redis)
	if err != nil {
		return nil, err
	}
	if client != nil {
		deps.redis = client
		deps.replay = idempotency.NewGuardedCache(
			idempotency.NewRedisCache(client.Client, idempotency.WithKeyPrefix(a.cfg.Redis.KeyPrefix)),
			idempotency.NewMemoryCache(),
			idempotency.WithLogger(a.logger),
		)
		replay = deps.replay
	} else {
		a.logger.InfoContext(ctx, "REDIS_URL not set, replay cache is process local")
	}

	deps.publisher = publisher.NewPublisher(outbox,
		publisher.WithAsyncBuffer(256),
		publisher.WithLogger(a.logger),
	)

	e := a.cfg.Economy
	svc, err := service.New(store,
		service.WithLogger(a.logger),
		service.WithMetrics(m),
		service.WithCommission(policy),
		service.WithReplayCache(replay),
		service.WithAuditPublisher(deps.publisher),
		service.WithConfig(service.Config{
			WelcomeBonus:       e.WelcomeBonus,
			DefaultSessionCost: e.DefaultSessionCost,
			RefundThreshold:    e.RefundThreshold.Duration,
			HistoryLimit:       e.HistoryLimit,
			MaxHistoryLimit:    e.MaxHistoryLimit,
			TreasuryFloat:      e.TreasuryFloat,
			PaymentSecret:      []byte(e.PaymentSecret),
			Packages:           e.Packages,
			ReplayTTL:          e.ReplayTTL.Duration,
		}),
	)
	if err != nil {
		deps.close()
		return nil, fmt.Errorf("build economy service: %w", err)
	}
	deps.svc = svc
	return deps, nil
}
