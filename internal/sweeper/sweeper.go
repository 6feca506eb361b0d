// Package sweeper enforces the time-based appointment transitions. Every job
// reads a snapshot, plans candidates with a pure function, and commits each
// one through the same service entry points interactive callers use.
package sweeper

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/hackgods/clinic-queue-scheduler/internal/appointment"
	"github.com/hackgods/clinic-queue-scheduler/internal/metrics"
	"github.com/hackgods/clinic-queue-scheduler/internal/schedule"
)

const (
	JobAutoFinish    = "auto_finish"
	JobAutoCancel    = "auto_cancel"
	JobReminders     = "reminders"
	JobRefreshQueues = "refresh_queues"
)

// scans look back this far for stragglers
const lookback = 30 * 24 * time.Hour

var tracer = otel.Tracer("github.com/hackgods/clinic-queue-scheduler/internal/sweeper")

// Service is the part of appointment.Service the sweeper drives.
type Service interface {
	Now() time.Time
	ListByStatus(ctx context.Context, statuses []appointment.Status, from, to time.Time) ([]appointment.Appointment, error)
	AutoFinish(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error)
	AutoCancel(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error)
	SendReminder(ctx context.Context, a appointment.Appointment) (bool, error)
	RecomputeQueue(ctx context.Context, providerID uuid.UUID, date time.Time) error
}

// Report summarises one job run.
type Report struct {
	Job        string
	Considered int
	Applied    int
	Failed     int
}

func (r Report) log(ev *zerolog.Event, took time.Duration) {
	ev.Str("job", r.Job).
		Int("considered", r.Considered).
		Int("applied", r.Applied).
		Int("failed", r.Failed).
		Dur("took", took).
		Msg("sweep complete")
}

type Sweeper struct {
	svc     Service
	logger  zerolog.Logger
	metrics *metrics.SchedulerMetrics
}

func New(svc Service, logger zerolog.Logger, m *metrics.SchedulerMetrics) *Sweeper {
	return &Sweeper{
		svc:     svc,
		logger:  logger.With().Str("component", "sweeper").Logger(),
		metrics: m,
	}
}

// AutoFinish moves processing appointments whose slot has ended to finished.
func (s *Sweeper) AutoFinish(ctx context.Context) (Report, error) {
	now := s.svc.Now()
	today := schedule.DateOf(now)

	return s.run(ctx, JobAutoFinish, func(ctx context.Context) ([]appointment.Appointment, error) {
		snap, err := s.svc.ListByStatus(ctx, []appointment.Status{appointment.StatusProcessing}, today.Add(-lookback), today)
		if err != nil {
			return nil, err
		}
		return PlanAutoFinish(snap, now), nil
	}, func(ctx context.Context, a appointment.Appointment) (bool, error) {
		_, err := s.svc.AutoFinish(ctx, a.ID)
		return err == nil, err
	})
}

// AutoCancelPending cancels requests for today or earlier that are still
// unapproved. It is meant to run once at the daily cutoff.
func (s *Sweeper) AutoCancelPending(ctx context.Context) (Report, error) {
	now := s.svc.Now()
	today := schedule.DateOf(now)

	return s.run(ctx, JobAutoCancel, func(ctx context.Context) ([]appointment.Appointment, error) {
		snap, err := s.svc.ListByStatus(ctx, []appointment.Status{appointment.StatusRequested}, today.Add(-lookback), today)
		if err != nil {
			return nil, err
		}
		return PlanAutoCancel(snap, now), nil
	}, func(ctx context.Context, a appointment.Appointment) (bool, error) {
		_, err := s.svc.AutoCancel(ctx, a.ID)
		return err == nil, err
	})
}

// SendReminders notifies patients of tomorrow's appointments, once each.
func (s *Sweeper) SendReminders(ctx context.Context) (Report, error) {
	now := s.svc.Now()
	tomorrow := schedule.DateOf(now).AddDate(0, 0, 1)

	return s.run(ctx, JobReminders, func(ctx context.Context) ([]appointment.Appointment, error) {
		snap, err := s.svc.ListByStatus(ctx,
			[]appointment.Status{appointment.StatusApproved, appointment.StatusInQueue}, tomorrow, tomorrow)
		if err != nil {
			return nil, err
		}
		return PlanReminders(snap, now), nil
	}, func(ctx context.Context, a appointment.Appointment) (bool, error) {
		return s.svc.SendReminder(ctx, a)
	})
}

// RefreshQueues re-derives cached positions for every provider-day with
// active appointments today.
func (s *Sweeper) RefreshQueues(ctx context.Context) (Report, error) {
	ctx, span := tracer.Start(ctx, "sweeper."+JobRefreshQueues)
	defer span.End()

	start := time.Now()
	today := schedule.DateOf(s.svc.Now())
	report := Report{Job: JobRefreshQueues}

	active := []appointment.Status{
		appointment.StatusRequested, appointment.StatusApproved,
		appointment.StatusInQueue, appointment.StatusProcessing,
	}
	snap, err := s.svc.ListByStatus(ctx, active, today, today)
	if err != nil {
		return report, fmt.Errorf("%s snapshot: %w", JobRefreshQueues, err)
	}

	days := PlanQueueRefresh(snap)
	report.Considered = len(days)
	for _, d := range days {
		if ctx.Err() != nil {
			break
		}
		if err := s.svc.RecomputeQueue(ctx, d.ProviderID, d.Date); err != nil {
			report.Failed++
			s.metrics.ObserveSweepItem(JobRefreshQueues, "error")
			s.logger.Error().Err(err).
				Str("job", JobRefreshQueues).
				Str("provider_id", d.ProviderID.String()).
				Str("date", d.Date.Format(schedule.DateLayout)).
				Msg("queue refresh failed")
			continue
		}
		report.Applied++
		s.metrics.ObserveSweepItem(JobRefreshQueues, "ok")
	}

	span.SetAttributes(attribute.Int("considered", report.Considered), attribute.Int("failed", report.Failed))
	report.log(s.logger.Info(), time.Since(start))
	return report, nil
}

type planFunc func(ctx context.Context) ([]appointment.Appointment, error)

type commitFunc func(ctx context.Context, a appointment.Appointment) (bool, error)

// run plans candidates from a snapshot and commits them one at a time. An
// item failure is logged and counted; only a failed snapshot aborts the run.
func (s *Sweeper) run(ctx context.Context, job string, plan planFunc, commit commitFunc) (Report, error) {
	ctx, span := tracer.Start(ctx, "sweeper."+job)
	defer span.End()

	start := time.Now()
	report := Report{Job: job}

	candidates, err := plan(ctx)
	if err != nil {
		return report, fmt.Errorf("%s snapshot: %w", job, err)
	}
	report.Considered = len(candidates)

	for _, a := range candidates {
		if ctx.Err() != nil {
			s.logger.Warn().Str("job", job).Msg("sweep interrupted, remaining items left for next run")
			break
		}

		applied, err := commit(ctx, a)
		switch {
		case err != nil:
			report.Failed++
			s.metrics.ObserveSweepItem(job, "error")
			s.logger.Error().Err(err).
				Str("job", job).
				Str("appointment_id", a.ID.String()).
				Str("status", string(a.Status)).
				Msg("sweep item failed")
		case applied:
			report.Applied++
			s.metrics.ObserveSweepItem(job, "ok")
		default:
			s.metrics.ObserveSweepItem(job, "skipped")
		}
	}

	span.SetAttributes(
		attribute.Int("considered", report.Considered),
		attribute.Int("applied", report.Applied),
		attribute.Int("failed", report.Failed),
	)
	report.log(s.logger.Info(), time.Since(start))
	return report, nil
}
