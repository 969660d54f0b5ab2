package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/confluxhq/conflux/internal/bus"
	"github.com/confluxhq/conflux/internal/config"
	"github.com/confluxhq/conflux/internal/engine"
	"github.com/confluxhq/conflux/internal/httpapi"
	"github.com/confluxhq/conflux/internal/logging"
	"github.com/confluxhq/conflux/internal/metrics"
	"github.com/confluxhq/conflux/internal/store"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP server and background sync loop.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func runServe() error {
	if _, err := logging.Bootstrap("serve", os.Stderr); err != nil {
		return err
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

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

	b := bus.New()
	eng := engine.New(st, b, reg, resolver)
	eng.FetchTimeout = cfg.FetchTimeout

	scheduler := engine.Scheduler{Runner: eng, Interval: cfg.SyncInterval}
	go scheduler.Run(ctx)

	supervisor := engine.NewSupervisor(ctx, 8)
	defer supervisor.Wait()

	metrics.StartServer(ctx, cfg.MetricsAddr)

	srv := httpapi.NewEchoServer(&httpapi.Handlers{
		Store:      st,
		Registry:   reg,
		Bus:        b,
		Syncer:     eng,
		Resolver:   resolver,
		Supervisor: supervisor,
	})

	errCh := make(chan error, 1)
	go func() {
		slog.Info("listening", "addr", cfg.HTTPAddr)
		errCh <- srv.Start(cfg.HTTPAddr)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
