package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/hackgods/clinic-queue-scheduler/internal/schedule"
)

// pgxPool is the subset of *pgxpool.Pool the repository uses.
type pgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

type PgRepository struct {
	pool pgxPool
}

func NewPgRepository(pool pgxPool) *PgRepository {
	return &PgRepository{pool: pool}
}

const appointmentColumns = `id, reference, patient_id, provider_id, appt_date, slot_start, slot_end,
	status, queue_token, queue_position, called_at, completed_at, cancelled_at,
	cancel_reason, cancelled_by, has_clinical_record, reminder_sent_at, created_at, updated_at`

// Helpers

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var slotStart, slotEnd int
	var status, cancelledBy string

	err := row.Scan(
		&a.ID,
		&a.Reference,
		&a.PatientID,
		&a.ProviderID,
		&a.Date,
		&slotStart,
		&slotEnd,
		&status,
		&a.QueueToken,
		&a.QueuePosition,
		&a.CalledAt,
		&a.CompletedAt,
		&a.CancelledAt,
		&a.CancelReason,
		&cancelledBy,
		&a.HasClinicalRecord,
		&a.ReminderSentAt,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	a.SlotStart = schedule.TimeOfDay(slotStart)
	a.SlotEnd = schedule.TimeOfDay(slotEnd)
	a.Status = Status(status)
	a.CancelledBy = Actor(cancelledBy)
	return &a, nil
}

func collectAppointments(rows pgx.Rows) ([]Appointment, error) {
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func statusStrings(statuses []Status) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

// Interface methods

func (r *PgRepository) CreateAppointment(ctx context.Context, a *Appointment) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO appointments (`+appointmentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
	`,
		a.ID, a.Reference, a.PatientID, a.ProviderID, a.Date, int(a.SlotStart), int(a.SlotEnd),
		string(a.Status), a.QueueToken, a.QueuePosition, a.CalledAt, a.CompletedAt, a.CancelledAt,
		a.CancelReason, string(a.CancelledBy), a.HasClinicalRecord, a.ReminderSentAt, a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert appointment: %w", err)
	}
	return nil
}

func (r *PgRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) UpdateAppointment(ctx context.Context, a *Appointment, expected Status) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE appointments
		SET status = $2,
		    queue_token = $3,
		    queue_position = $4,
		    called_at = $5,
		    completed_at = $6,
		    cancelled_at = $7,
		    cancel_reason = $8,
		    cancelled_by = $9,
		    updated_at = $10
		WHERE id = $1
		  AND status = $11
	`,
		a.ID, string(a.Status), a.QueueToken, a.QueuePosition, a.CalledAt, a.CompletedAt,
		a.CancelledAt, a.CancelReason, string(a.CancelledBy), a.UpdatedAt, string(expected),
	)
	if err != nil {
		return fmt.Errorf("update appointment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStaleAppointment
	}
	return nil
}

func (r *PgRepository) CountReservations(ctx context.Context, providerID uuid.UUID, date time.Time, slotStart schedule.TimeOfDay) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM appointments
		WHERE provider_id = $1
		  AND appt_date = $2
		  AND slot_start = $3
		  AND status = ANY($4)
	`, providerID, date, int(slotStart), statusStrings(SlotHoldingStatuses)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count reservations: %w", err)
	}
	return n, nil
}

func (r *PgRepository) MaxToken(ctx context.Context, providerID uuid.UUID, date time.Time) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `
		SELECT COALESCE(MAX(queue_token), 0)
		FROM appointments
		WHERE provider_id = $1
		  AND appt_date = $2
	`, providerID, date).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("max token: %w", err)
	}
	return n, nil
}

func (r *PgRepository) ListProviderDay(ctx context.Context, providerID uuid.UUID, date time.Time) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE provider_id = $1
		  AND appt_date = $2
		ORDER BY created_at, id
	`, providerID, date)
	if err != nil {
		return nil, fmt.Errorf("list provider day: %w", err)
	}
	return collectAppointments(rows)
}

// UpdatePositions rewrites the cached positions in one transaction.
func (r *PgRepository) UpdatePositions(ctx context.Context, positions map[uuid.UUID]*int) error {
	if len(positions) == 0 {
		return nil
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin positions tx: %w", err)
	}
	defer tx.Rollback(ctx)

	for id, pos := range positions {
		_, err := tx.Exec(ctx, `
			UPDATE appointments
			SET queue_position = $2
			WHERE id = $1
			  AND queue_position IS DISTINCT FROM $2
		`, id, pos)
		if err != nil {
			return fmt.Errorf("update position for %s: %w", id, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit positions tx: %w", err)
	}
	return nil
}

func (r *PgRepository) ListByStatus(ctx context.Context, statuses []Status, from, to time.Time) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE status = ANY($1)
		  AND appt_date BETWEEN $2 AND $3
		ORDER BY appt_date, slot_start, created_at
	`, statusStrings(statuses), from, to)
	if err != nil {
		return nil, fmt.Errorf("list by status: %w", err)
	}
	return collectAppointments(rows)
}

func (r *PgRepository) ClaimReminder(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE appointments
		SET reminder_sent_at = $2
		WHERE id = $1
		  AND reminder_sent_at IS NULL
		  AND status = ANY($3)
	`, id, at, statusStrings(RemindableStatuses))
	if err != nil {
		return false, fmt.Errorf("claim reminder: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *PgRepository) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE patient_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, patientID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list by patient: %w", err)
	}
	return collectAppointments(rows)
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO appointment_events (event_type, appointment_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.AppointmentID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}

	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
