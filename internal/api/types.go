package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-queue-scheduler/internal/appointment"
	"github.com/hackgods/clinic-queue-scheduler/internal/schedule"
)

type BookAppointmentRequest struct {
	PatientID  string `json:"patient_id"`
	ProviderID string `json:"provider_id"`
	Date       string `json:"date"`       // YYYY-MM-DD
	SlotStart  string `json:"slot_start"` // HH:MM
}

// TransitionRequest is the optional body of every lifecycle endpoint.
type TransitionRequest struct {
	Actor  string `json:"actor,omitempty"`
	Reason string `json:"reason,omitempty"`
}

type AppointmentResponse struct {
	ID             uuid.UUID  `json:"id"`
	Reference      string     `json:"reference"`
	PatientID      uuid.UUID  `json:"patient_id"`
	ProviderID     uuid.UUID  `json:"provider_id"`
	Date           string     `json:"date"`
	SlotStart      string     `json:"slot_start"`
	SlotEnd        string     `json:"slot_end"`
	Status         string     `json:"status"`
	QueueToken     *int       `json:"queue_token,omitempty"`
	QueuePosition  *int       `json:"queue_position,omitempty"`
	CalledAt       *time.Time `json:"called_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	CancelledAt    *time.Time `json:"cancelled_at,omitempty"`
	CancelReason   string     `json:"cancel_reason,omitempty"`
	CancelledBy    string     `json:"cancelled_by,omitempty"`
	ReminderSentAt *time.Time `json:"reminder_sent_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

func toAppointmentResponse(a *appointment.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:             a.ID,
		Reference:      a.Reference,
		PatientID:      a.PatientID,
		ProviderID:     a.ProviderID,
		Date:           a.Date.Format(schedule.DateLayout),
		SlotStart:      a.SlotStart.String(),
		SlotEnd:        a.SlotEnd.String(),
		Status:         string(a.Status),
		QueueToken:     a.QueueToken,
		QueuePosition:  a.QueuePosition,
		CalledAt:       a.CalledAt,
		CompletedAt:    a.CompletedAt,
		CancelledAt:    a.CancelledAt,
		CancelReason:   a.CancelReason,
		CancelledBy:    string(a.CancelledBy),
		ReminderSentAt: a.ReminderSentAt,
		CreatedAt:      a.CreatedAt,
		UpdatedAt:      a.UpdatedAt,
	}
}

type QueueEntryResponse struct {
	Position             int                 `json:"position"`
	EstimatedWaitMinutes int                 `json:"estimated_wait_minutes"`
	Appointment          AppointmentResponse `json:"appointment"`
}

type QueueResponse struct {
	ProviderID uuid.UUID            `json:"provider_id"`
	Date       string               `json:"date"`
	Entries    []QueueEntryResponse `json:"entries"`
}

type SlotResponse struct {
	Start     string `json:"start"`
	End       string `json:"end"`
	Capacity  int    `json:"capacity"`
	Reserved  int    `json:"reserved"`
	Remaining int    `json:"remaining"`
	Past      bool   `json:"past"`
}

type AvailabilityResponse struct {
	ProviderID uuid.UUID      `json:"provider_id"`
	Date       string         `json:"date"`
	Slots      []SlotResponse `json:"slots"`
}

type ListResponse struct {
	Items  []AppointmentResponse `json:"items"`
	Limit  int                   `json:"limit"`
	Offset int                   `json:"offset"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
