// cmd/functions/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/ehgus2390/chineseapp/internal/infra/config"
	"github.com/ehgus2390/chineseapp/internal/infra/logging"
	"github.com/ehgus2390/chineseapp/internal/jobs"
	"github.com/ehgus2390/chineseapp/internal/platform/di"
)

func main() {
	cfg := config.Load()
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("functions stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx := context.Background()

	cont, err := di.Build(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("di: %w", err)
	}
	defer cont.Close()

	// ─────────────────────────────────────────────────────────────
	// Scheduled sweeps
	// ─────────────────────────────────────────────────────────────
	sched := jobs.NewScheduler(log, cfg.HandlerTimeout)
	if err := sched.Add("expireMatchSessions", cfg.SweepSchedule, cont.Sweeper.ExpireSessions); err != nil {
		return err
	}
	if err := sched.Add("cleanupQueue", cfg.SweepSchedule, cont.Sweeper.CleanupQueue); err != nil {
		return err
	}
	if err := sched.Add("purgeAccounts", cfg.PurgeSchedule, cont.Purger.Purge); err != nil {
		return err
	}
	sched.Start()

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           cont.Handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// ─────────────────────────────────────────────────────────────
	// Graceful shutdown for Cloud Run
	// ─────────────────────────────────────────────────────────────
	idleConnsClosed := make(chan struct{})
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		sig := <-c
		log.Info("shutting down", zap.String("signal", sig.String()))

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 25*time.Second)
		defer cancel()

		sched.Stop(shutdownCtx)
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("server shutdown", zap.Error(err))
		}
		close(idleConnsClosed)
	}()

	log.Info("listening", zap.String("addr", srv.Addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	<-idleConnsClosed
	log.Info("server stopped")
	return nil
}
