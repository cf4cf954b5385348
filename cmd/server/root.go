package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"

	"coinledger/internal/platform/config"
	"coinledger/internal/platform/logger"
)

// app carries what every subcommand needs once config is loaded.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:          "coinledger",
		Short:        "Coin economy ledger and session settlement",
		SilenceUsage: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			a.cfg = cfg
			a.logger = logger.New(cfg.Server.LogLevel)
			return nil
		},
	}
	root.AddCommand(newServeCmd(a), newMigrateCmd(a), newBootstrapCmd(a))
	return root
}

// openDB opens the pgx-backed pool and checks connectivity.
func (a *app) openDB(ctx context.Context) (*sql.DB, error) {
	if a.cfg.Postgres.DSN == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	db, err := sql.Open("pgx", a.cfg.Postgres.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(a.cfg.Postgres.MaxOpenConns)
	db.SetMaxIdleConns(a.cfg.Postgres.MaxOpenConns / 2)
	db.SetConnMaxIdleTime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}
