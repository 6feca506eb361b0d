package main

import (
	"context"
	"flag"
	"time"

	"github.com/brianvoe/gofakeit/v7"

	"github.com/hackgods/clinic-queue-scheduler/internal/config"
	"github.com/hackgods/clinic-queue-scheduler/internal/db"
	"github.com/hackgods/clinic-queue-scheduler/internal/logging"
	"github.com/hackgods/clinic-queue-scheduler/internal/provider"
)

func main() {
	count := flag.Int("providers", 100, "number of providers to seed")
	seed := flag.Uint64("seed", uint64(time.Now().UnixNano()), "faker seed; reuse it to regenerate the same providers")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logging.New("seed", "dev", "info").Fatal().Err(err).Msg("config load error")
	}
	logger := logging.New("seed", cfg.Env, cfg.LogLevel)

	if cfg.PostgresDSN == "" {
		logger.Fatal().Msg("POSTGRES_DSN is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, cfg.PostgresMaxConn)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect postgres")
	}
	defer pool.Close()

	logger.Info().Int("providers", *count).Uint64("seed", *seed).Msg("seed starting")

	dir := provider.NewPgDirectory(pool)
	for i, p := range provider.FakeProfiles(gofakeit.New(*seed), *count) {
		if err := dir.Upsert(ctx, p); err != nil {
			logger.Error().Err(err).Int("seeded", i).Msg("seed aborted")
			return
		}
		logger.Debug().
			Str("provider_id", p.ID.String()).
			Str("name", p.Name).
			Int("slot_minutes", p.Schedule.SlotMinutes).
			Int("max_per_slot", p.Schedule.MaxPerSlot).
			Msg("provider seeded")
	}

	logger.Info().Msg("seed complete")
}
