package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/hackgods/clinic-queue-scheduler/internal/bootstrap"
	"github.com/hackgods/clinic-queue-scheduler/internal/config"
	"github.com/hackgods/clinic-queue-scheduler/internal/logging"
	"github.com/hackgods/clinic-queue-scheduler/internal/sweeper"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.New("sweeper", "dev", "info").Fatal().Err(err).Msg("config load error")
	}

	logger := logging.New("sweeper", cfg.Env, cfg.LogLevel)
	if cfg.Store == config.StoreMemory {
		logger.Warn().Msg("STORE=memory: this process sees only its own appointments; the api-server runs its own sweeper in this mode")
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.Build(rootCtx, cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("startup failed")
		os.Exit(1)
	}
	defer app.Close()

	sw := sweeper.New(app.Service, logger, app.Metrics)
	runner := sweeper.NewRunner(sw, sweeper.RunnerConfig{
		FinishInterval:   cfg.FinishInterval,
		ReminderInterval: cfg.ReminderInterval,
		Cutoff:           cfg.Cutoff,
		RunTimeout:       cfg.SweepRunTimeout,
	}, logger)

	if err := runner.Run(rootCtx); err != nil {
		logger.Error().Err(err).Msg("sweeper stopped with error")
		return
	}
	logger.Info().Msg("sweeper stopped")
}
