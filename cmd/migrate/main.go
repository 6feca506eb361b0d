package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/hackgods/clinic-queue-scheduler/internal/config"
	"github.com/hackgods/clinic-queue-scheduler/internal/db"
	"github.com/hackgods/clinic-queue-scheduler/internal/logging"
)

func usage() {
	fmt.Fprintln(os.Stderr, "usage: migrate <up|down N|force V|version>")
	os.Exit(2)
}

func main() {
	flag.Parse()
	args := flag.Args()
	if len(args) == 0 {
		usage()
	}

	cfg, err := config.Load()
	if err != nil {
		logging.New("migrate", "dev", "info").Fatal().Err(err).Msg("config load error")
	}
	logger := logging.New("migrate", cfg.Env, cfg.LogLevel)

	if cfg.PostgresDSN == "" {
		logger.Fatal().Msg("POSTGRES_DSN is required")
	}

	m, err := db.NewMigrator(cfg.PostgresDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("migrator init failed")
	}
	defer func() {
		if err := m.Close(); err != nil {
			logger.Warn().Err(err).Msg("error closing migrator")
		}
	}()

	switch args[0] {
	case "up":
		err = m.Up()
	case "down":
		n := 1
		if len(args) > 1 {
			if n, err = strconv.Atoi(args[1]); err != nil || n <= 0 {
				logger.Error().Str("arg", args[1]).Msg("down needs a positive step count")
				return
			}
		}
		err = m.Down(n)
	case "force":
		if len(args) < 2 {
			usage()
		}
		v, convErr := strconv.Atoi(args[1])
		if convErr != nil {
			logger.Error().Err(convErr).Msg("invalid version")
			return
		}
		err = m.Force(v)
	case "version":
	default:
		usage()
	}
	if err != nil {
		logger.Error().Err(err).Str("command", args[0]).Msg("migration failed")
		return
	}

	v, dirty, err := m.Version()
	if err != nil {
		logger.Error().Err(err).Msg("read version failed")
		return
	}
	logger.Info().Str("command", args[0]).Uint("version", v).Bool("dirty", dirty).Msg("migrations ok")
}
