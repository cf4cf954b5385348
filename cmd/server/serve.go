package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"coinledger/internal/economy/handler"
	jwttoken "coinledger/internal/jwt_token"
	"coinledger/internal/platform/httpserver"
	"coinledger/internal/platform/metrics"
	"coinledger/internal/platform/migrations"
	httptransport "coinledger/internal/transport/http"
	"coinledger/pkg/platform/audit"
	kafkapub "coinledger/pkg/platform/audit/publishers/kafka"
	"coinledger/pkg/platform/audit/worker"
	"coinledger/pkg/platform/circuit"
	"coinledger/pkg/platform/middleware/ratelimit"
)

func newServeCmd(a *app) *cobra.Command {
	var migrate bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the outbox relay",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.serve(cmd.Context(), migrate)
		},
	}
	cmd.Flags().BoolVar(&migrate, "migrate", false, "apply pending migrations before serving")
	return cmd
}

func (a *app) serve(ctx context.Context, migrate bool) error {
	if a.cfg.Auth.JWTSigningKey == "" {
		return errors.New("JWT_SIGNING_KEY is required to serve")
	}
	if a.cfg.Economy.PaymentSecret == "" {
		a.logger.WarnContext(ctx, "PAYMENT_WEBHOOK_SECRET not set, every payment verification will be rejected")
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := a.openDB(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	if migrate {
		if err := migrations.Up(ctx, db, a.logger); err != nil {
			return err
		}
	}

	deps, err := a.buildEconomy(ctx, db)
	if err != nil {
		return err
	}
	defer deps.close()

	if _, created, err := deps.svc.BootstrapTreasury(ctx); err != nil {
		return fmt.Errorf("bootstrap treasury: %w", err)
	} else if created {
		a.logger.InfoContext(ctx, "treasury account created")
	}

	sink, closeSink, err := a.outboxSink(ctx)
	if err != nil {
		return err
	}
	defer closeSink()

	relay := worker.NewRelay(deps.outbox, sink,
		worker.WithInterval(a.cfg.Kafka.RelayInterval),
		worker.WithBatchSize(a.cfg.Kafka.RelayBatch),
		worker.WithLogger(a.logger),
		worker.WithObserver(deps.metrics.ObserveRelay),
	)

	jwtService := jwttoken.NewJWTService(a.cfg.Auth.JWTSigningKey, a.cfg.Auth.JWTIssuer)
	economyHandler := handler.New(deps.svc, a.logger, metrics.New(),
		jwttoken.NewJWTServiceAdapter(jwtService),
		a.cfg.Server.AdminToken,
		handler.WithRequestTimeout(a.cfg.Server.RequestTimeout),
		handler.WithVerifyLimiter(ratelimit.New(a.cfg.Auth.VerifyRate, a.cfg.Auth.VerifyBurst)),
	)

	checks := map[string]httptransport.HealthCheck{
		"postgres": db.PingContext,
	}
	if deps.redis != nil {
		checks["replay_cache"] = func(context.Context) error {
			if deps.replay.State() == circuit.StateOpen {
				return errors.New("circuit open, using local fallback")
			}
			return nil
		}
	}
	router := httptransport.NewRouter(prometheus.DefaultGatherer, checks, economyHandler)
	srv := httpserver.New(a.cfg.Server.Addr, router, a.cfg.Server.RequestTimeout)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.InfoContext(gctx, "starting coinledger", "addr", a.cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := relay.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
		defer cancel()
		a.logger.InfoContext(shutdownCtx, "shutting down")
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown: %w", err)
		}
		// Push whatever committed while the server drained.
		if _, err := relay.RunOnce(shutdownCtx); err != nil {
			a.logger.WarnContext(shutdownCtx, "final outbox drain failed", "error", err)
		}
		return nil
	})
	return g.Wait()
}

// outboxSink publishes to Kafka when brokers are configured and to the log
// otherwise.
func (a *app) outboxSink(ctx context.Context) (audit.Sink, func(), error) {
	if len(a.cfg.Kafka.Brokers) == 0 {
		a.logger.InfoContext(ctx, "KAFKA_BROKERS not set, relaying outbox to the log")
		return worker.NewLogSink(a.logger), func() {}, nil
	}
	pub, err := kafkapub.New(a.cfg.Kafka.Brokers, a.cfg.Kafka.Topic, kafkapub.WithLogger(a.logger))
	if err != nil {
		return nil, nil, err
	}
	if err := pub.EnsureTopic(ctx, 3, -1); err != nil {
		pub.Close()
		return nil, nil, err
	}
	return pub, pub.Close, nil
}
