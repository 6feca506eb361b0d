package appointment

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-queue-scheduler/internal/schedule"
)

type Status string

const (
	StatusRequested  Status = "requested"
	StatusApproved   Status = "approved"
	StatusInQueue    Status = "in_queue"
	StatusProcessing Status = "processing"
	StatusFinished   Status = "finished"
	StatusCompleted  Status = "completed"
	StatusRejected   Status = "rejected"
	StatusCancelled  Status = "cancelled"
)

func (s Status) Valid() bool {
	switch s {
	case StatusRequested, StatusApproved, StatusInQueue, StatusProcessing,
		StatusFinished, StatusCompleted, StatusRejected, StatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether no transition may leave s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusRejected || s == StatusCancelled
}

// Active reports whether an appointment in s takes part in the queue.
func (s Status) Active() bool {
	switch s {
	case StatusRequested, StatusApproved, StatusInQueue, StatusProcessing:
		return true
	}
	return false
}

// HoldsSlot reports whether an appointment in s occupies capacity in its slot.
func (s Status) HoldsSlot() bool {
	switch s {
	case StatusApproved, StatusInQueue, StatusProcessing, StatusFinished, StatusCompleted:
		return true
	}
	return false
}

// Remindable reports whether a day-before reminder may go out for s.
func (s Status) Remindable() bool {
	return s == StatusApproved || s == StatusInQueue
}

// RemindableStatuses lists the statuses ClaimReminder accepts.
var RemindableStatuses = []Status{StatusApproved, StatusInQueue}

// SlotHoldingStatuses lists every status counted against slot capacity.
var SlotHoldingStatuses = []Status{
	StatusApproved, StatusInQueue, StatusProcessing, StatusFinished, StatusCompleted,
}

type Actor string

const (
	ActorPatient  Actor = "patient"
	ActorProvider Actor = "provider"
	ActorAdmin    Actor = "admin"
	ActorSystem   Actor = "system"
)

func (a Actor) Valid() bool {
	switch a {
	case ActorPatient, ActorProvider, ActorAdmin, ActorSystem:
		return true
	}
	return false
}

type Appointment struct {
	ID         uuid.UUID
	Reference  string
	PatientID  uuid.UUID
	ProviderID uuid.UUID

	Date      time.Time // civil date, midnight UTC
	SlotStart schedule.TimeOfDay
	SlotEnd   schedule.TimeOfDay

	Status        Status
	QueueToken    *int
	QueuePosition *int

	CalledAt    *time.Time
	CompletedAt *time.Time
	CancelledAt *time.Time

	CancelReason string
	CancelledBy  Actor

	// clinical payload lives elsewhere; only its presence matters here
	HasClinicalRecord bool

	ReminderSentAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (a Appointment) Slot() schedule.Slot {
	return schedule.Slot{Start: a.SlotStart, End: a.SlotEnd}
}

// StartsAt is the absolute slot start in loc.
func (a Appointment) StartsAt(loc *time.Location) time.Time {
	return schedule.At(a.Date, a.SlotStart, loc)
}

// EndsAt is the absolute slot end in loc.
func (a Appointment) EndsAt(loc *time.Location) time.Time {
	return schedule.At(a.Date, a.SlotEnd, loc)
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}

// QueueEntry is one row of the provider-facing queue view.
type QueueEntry struct {
	Appointment   Appointment
	Position      int
	EstimatedWait time.Duration
}

// SlotAvailability describes one enumerated slot for a provider-day.
type SlotAvailability struct {
	Slot      schedule.Slot
	Capacity  int
	Reserved  int
	Remaining int
	Past      bool
}
