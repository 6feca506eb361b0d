package sweeper

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-queue-scheduler/internal/schedule"
)

type RunnerConfig struct {
	FinishInterval   time.Duration      // auto-finish and queue refresh
	ReminderInterval time.Duration      // reminders
	Cutoff           schedule.TimeOfDay // daily auto-cancel, clinic time
	RunTimeout       time.Duration      // per job run
}

func (c RunnerConfig) withDefaults() RunnerConfig {
	if c.FinishInterval <= 0 {
		c.FinishInterval = 15 * time.Minute
	}
	if c.ReminderInterval <= 0 {
		c.ReminderInterval = time.Hour
	}
	if c.Cutoff <= 0 {
		c.Cutoff = 20 * 60
	}
	if c.RunTimeout <= 0 {
		c.RunTimeout = time.Minute
	}
	return c
}

// Runner drives the sweeper jobs on their tickers until ctx is cancelled.
type Runner struct {
	sweeper *Sweeper
	now     func() time.Time
	cfg     RunnerConfig
	logger  zerolog.Logger

	lastCutoff time.Time
}

func NewRunner(s *Sweeper, cfg RunnerConfig, logger zerolog.Logger) *Runner {
	return &Runner{
		sweeper: s,
		now:     s.svc.Now,
		cfg:     cfg.withDefaults(),
		logger:  logger.With().Str("component", "sweeper-runner").Logger(),
	}
}

func (r *Runner) Run(ctx context.Context) error {
	r.logger.Info().
		Dur("finish_interval", r.cfg.FinishInterval).
		Dur("reminder_interval", r.cfg.ReminderInterval).
		Str("cutoff", r.cfg.Cutoff.String()).
		Msg("sweeper runner starting")

	// Run once at startup
	r.runOnce(ctx, r.sweeper.AutoFinish)
	r.runOnce(ctx, r.sweeper.RefreshQueues)
	r.runOnce(ctx, r.sweeper.SendReminders)
	r.checkCutoff(ctx)

	finish := time.NewTicker(r.cfg.FinishInterval)
	defer finish.Stop()
	reminders := time.NewTicker(r.cfg.ReminderInterval)
	defer reminders.Stop()
	cutoff := time.NewTicker(time.Minute)
	defer cutoff.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info().Msg("shutdown signal received, stopping sweeper")
			return nil
		case <-finish.C:
			r.runOnce(ctx, r.sweeper.AutoFinish)
			r.runOnce(ctx, r.sweeper.RefreshQueues)
		case <-reminders.C:
			r.runOnce(ctx, r.sweeper.SendReminders)
		case <-cutoff.C:
			r.checkCutoff(ctx)
		}
	}
}

// checkCutoff fires the end-of-day cancellation once per clinic date, on
// the first check at or after the cutoff.
func (r *Runner) checkCutoff(ctx context.Context) bool {
	now := r.now()
	today := schedule.DateOf(now)
	if r.lastCutoff.Equal(today) {
		return false
	}
	if now.Before(schedule.At(today, r.cfg.Cutoff, now.Location())) {
		return false
	}
	r.lastCutoff = today
	r.runOnce(ctx, r.sweeper.AutoCancelPending)
	return true
}

func (r *Runner) runOnce(ctx context.Context, job func(context.Context) (Report, error)) {
	runCtx, cancel := context.WithTimeout(ctx, r.cfg.RunTimeout)
	defer cancel()

	if _, err := job(runCtx); err != nil {
		r.logger.Error().Err(err).Msg("sweep run error")
	}
}
