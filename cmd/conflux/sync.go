package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/confluxhq/conflux/internal/bus"
	"github.com/confluxhq/conflux/internal/config"
	"github.com/confluxhq/conflux/internal/engine"
	"github.com/confluxhq/conflux/internal/logging"
	"github.com/confluxhq/conflux/internal/store"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run a one-off sync pass over every configured dataset.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSync()
	},
}

func runSync() error {
	if _, err := logging.Bootstrap("sync", os.Stderr); err != nil {
		return err
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()

	st := store.New(pool)
	reg, err := buildRegistry(cfg)
	if err != nil {
		return err
	}
	resolver, err := buildResolver(cfg, st)
	if err != nil {
		return err
	}

	eng := engine.New(st, bus.New(), reg, resolver)
	eng.FetchTimeout = cfg.FetchTimeout

	if err := eng.RunOnce(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			return &exitError{code: 130, err: err, silent: true}
		}
		return err
	}
	return nil
}
