package appointment

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrSlotExpired       = errors.New("slot time has already passed")
	ErrSlotConflict      = errors.New("slot capacity exceeded")
	ErrNotFound          = errors.New("not found")
	ErrBusy              = errors.New("provider schedule is busy, retry shortly")
	ErrValidation        = errors.New("validation failed")
)

var (
	ErrAppointmentNotFound = fmt.Errorf("appointment %w", ErrNotFound)
	ErrProviderNotFound    = fmt.Errorf("provider %w", ErrNotFound)
	ErrProviderInactive    = fmt.Errorf("%w: provider is not verified and active", ErrValidation)
	ErrStaleAppointment    = errors.New("appointment changed concurrently")
)

// TransitionError records which appointment, event and guard rejected a
// state change. It unwraps to one of the sentinel errors above.
type TransitionError struct {
	AppointmentID uuid.UUID
	From          Status
	Event         Event
	Actor         Actor
	Guard         string
	Err           error
}

func (e *TransitionError) Error() string {
	msg := fmt.Sprintf("appointment %s: %s by %s from %s", e.AppointmentID, e.Event, e.Actor, e.From)
	if e.Guard != "" {
		msg += " (" + e.Guard + ")"
	}
	return msg + ": " + e.Err.Error()
}

func (e *TransitionError) Unwrap() error {
	return e.Err
}

func validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
