package appointment

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-queue-scheduler/internal/schedule"
)

// Repository contains all persistence the scheduler needs.
type Repository interface {
	CreateAppointment(ctx context.Context, a *Appointment) error
	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)

	// UpdateAppointment writes a if the stored status still equals expected,
	// and returns ErrStaleAppointment otherwise.
	UpdateAppointment(ctx context.Context, a *Appointment, expected Status) error

	// For conflict checks and token assignment
	CountReservations(ctx context.Context, providerID uuid.UUID, date time.Time, slotStart schedule.TimeOfDay) (int, error)
	MaxToken(ctx context.Context, providerID uuid.UUID, date time.Time) (int, error)

	// Queue
	ListProviderDay(ctx context.Context, providerID uuid.UUID, date time.Time) ([]Appointment, error)
	UpdatePositions(ctx context.Context, positions map[uuid.UUID]*int) error

	// Sweeper
	ListByStatus(ctx context.Context, statuses []Status, from, to time.Time) ([]Appointment, error)
	// ClaimReminder sets reminder_sent_at if it is unset and the appointment
	// is still remindable. It reports whether this call set it.
	ClaimReminder(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)

	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error)

	// Event logging
	InsertEvent(ctx context.Context, ev EventLog) error
}
