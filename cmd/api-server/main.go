package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hackgods/clinic-queue-scheduler/internal/api"
	"github.com/hackgods/clinic-queue-scheduler/internal/bootstrap"
	"github.com/hackgods/clinic-queue-scheduler/internal/config"
	"github.com/hackgods/clinic-queue-scheduler/internal/logging"
	"github.com/hackgods/clinic-queue-scheduler/internal/sweeper"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.New("api-server", "dev", "info").Fatal().Err(err).Msg("config load error")
	}

	logger := logging.New("api-server", cfg.Env, cfg.LogLevel)
	logger.Info().
		Str("env", cfg.Env).
		Str("http_port", cfg.HTTPPort).
		Str("store", cfg.Store).
		Str("lock_backend", cfg.LockBackend).
		Str("clinic_tz", cfg.Location.String()).
		Msg("api-server starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.Build(rootCtx, cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("startup failed")
		os.Exit(1)
	}
	defer app.Close()

	// memory state is per process, so the sweeper has to live here
	if cfg.Store == config.StoreMemory {
		sw := sweeper.New(app.Service, logger, app.Metrics)
		runner := sweeper.NewRunner(sw, sweeper.RunnerConfig{
			FinishInterval:   cfg.FinishInterval,
			ReminderInterval: cfg.ReminderInterval,
			Cutoff:           cfg.Cutoff,
			RunTimeout:       cfg.SweepRunTimeout,
		}, logger)
		go func() {
			_ = runner.Run(rootCtx)
		}()
	}

	router := api.NewRouter(api.RouterConfig{
		Service:  app.Service,
		Logger:   logger,
		Checks:   app.Checks,
		Gatherer: app.Registry,
		Env:      cfg.Env,
		Version:  version,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-rootCtx.Done():
		logger.Info().Msg("shutdown signal received")
	case err := <-errCh:
		logger.Error().Err(err).Msg("http server error")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}

	logger.Info().Msg("api-server stopped")
}
