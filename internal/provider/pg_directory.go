package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/hackgods/clinic-queue-scheduler/internal/schedule"
)

type pgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PgDirectory reads provider profiles from the providers table.
type PgDirectory struct {
	pool pgxPool
}

func NewPgDirectory(pool pgxPool) *PgDirectory {
	return &PgDirectory{pool: pool}
}

type breakRow struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

func (d *PgDirectory) GetSchedule(ctx context.Context, providerID uuid.UUID) (*schedule.ProviderSchedule, error) {
	var (
		days               []string
		workStart, workEnd string
		breaksJSON         []byte
		slotMinutes, maxPS int
	)
	err := d.pool.QueryRow(ctx, `
		SELECT working_days, work_start, work_end, breaks, slot_minutes, max_per_slot
		FROM providers
		WHERE id = $1
	`, providerID).Scan(&days, &workStart, &workEnd, &breaksJSON, &slotMinutes, &maxPS)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load provider schedule: %w", err)
	}

	s := &schedule.ProviderSchedule{
		ProviderID:  providerID,
		SlotMinutes: slotMinutes,
		MaxPerSlot:  maxPS,
	}
	for _, name := range days {
		day, err := schedule.ParseWeekday(name)
		if err != nil {
			return nil, fmt.Errorf("provider %s: %w", providerID, err)
		}
		s.WorkingDays = append(s.WorkingDays, day)
	}
	if s.WorkStart, err = schedule.ParseTimeOfDay(workStart); err != nil {
		return nil, fmt.Errorf("provider %s work_start: %w", providerID, err)
	}
	if s.WorkEnd, err = schedule.ParseTimeOfDay(workEnd); err != nil {
		return nil, fmt.Errorf("provider %s work_end: %w", providerID, err)
	}

	var breaks []breakRow
	if len(breaksJSON) > 0 {
		if err := json.Unmarshal(breaksJSON, &breaks); err != nil {
			return nil, fmt.Errorf("provider %s breaks: %w", providerID, err)
		}
	}
	for _, b := range breaks {
		start, err := schedule.ParseTimeOfDay(b.Start)
		if err != nil {
			return nil, fmt.Errorf("provider %s break: %w", providerID, err)
		}
		end, err := schedule.ParseTimeOfDay(b.End)
		if err != nil {
			return nil, fmt.Errorf("provider %s break: %w", providerID, err)
		}
		s.Breaks = append(s.Breaks, schedule.Interval{Start: start, End: end})
	}

	return s, nil
}

func (d *PgDirectory) IsVerifiedAndActive(ctx context.Context, providerID uuid.UUID) (bool, error) {
	var verified, active bool
	err := d.pool.QueryRow(ctx, `
		SELECT verified, active
		FROM providers
		WHERE id = $1
	`, providerID).Scan(&verified, &active)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, ErrNotFound
		}
		return false, fmt.Errorf("load provider status: %w", err)
	}
	return verified && active, nil
}

// Upsert writes a profile; used by the seeder and admin tooling.
func (d *PgDirectory) Upsert(ctx context.Context, p Profile) error {
	days := make([]string, len(p.Schedule.WorkingDays))
	for i, day := range p.Schedule.WorkingDays {
		days[i] = day.String()
	}
	breaks := make([]breakRow, len(p.Schedule.Breaks))
	for i, b := range p.Schedule.Breaks {
		breaks[i] = breakRow{Start: b.Start.String(), End: b.End.String()}
	}
	breaksJSON, err := json.Marshal(breaks)
	if err != nil {
		return fmt.Errorf("marshal breaks: %w", err)
	}

	_, err = d.pool.Exec(ctx, `
		INSERT INTO providers (id, name, specialty, verified, active, working_days, work_start, work_end,
		                       breaks, slot_minutes, max_per_slot, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, now(), now())
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name,
		    specialty = EXCLUDED.specialty,
		    verified = EXCLUDED.verified,
		    active = EXCLUDED.active,
		    working_days = EXCLUDED.working_days,
		    work_start = EXCLUDED.work_start,
		    work_end = EXCLUDED.work_end,
		    breaks = EXCLUDED.breaks,
		    slot_minutes = EXCLUDED.slot_minutes,
		    max_per_slot = EXCLUDED.max_per_slot,
		    updated_at = now()
	`, p.ID, p.Name, p.Specialty, p.Verified, p.Active, days,
		p.Schedule.WorkStart.String(), p.Schedule.WorkEnd.String(), breaksJSON,
		p.Schedule.SlotMinutes, p.Schedule.MaxPerSlot)
	if err != nil {
		return fmt.Errorf("upsert provider %s: %w", p.ID, err)
	}
	return nil
}
