// Package notify dispatches fire-and-forget notifications after a
// transition has committed. Delivery failures never roll anything back.
package notify

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type Kind string

const (
	KindAppointmentRequested Kind = "appointment_requested"
	KindAppointmentApproved  Kind = "appointment_approved"
	KindAppointmentRejected  Kind = "appointment_rejected"
	KindAppointmentQueued    Kind = "appointment_queued"
	KindAppointmentCalled    Kind = "appointment_called"
	KindAppointmentFinished  Kind = "appointment_finished"
	KindAppointmentCompleted Kind = "appointment_completed"
	KindAppointmentCancelled Kind = "appointment_cancelled"
	KindAppointmentReminder  Kind = "appointment_reminder"
)

type Notifier interface {
	Notify(ctx context.Context, userID uuid.UUID, kind Kind, payload map[string]any) error
}

// LogNotifier writes every notification to the log. It is the fallback
// dispatcher when no delivery channel is configured.
type LogNotifier struct {
	logger zerolog.Logger
}

func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With().Str("component", "notify").Logger()}
}

func (n *LogNotifier) Notify(_ context.Context, userID uuid.UUID, kind Kind, payload map[string]any) error {
	n.logger.Info().
		Str("user_id", userID.String()).
		Str("kind", string(kind)).
		Fields(payload).
		Msg("notification dispatched")
	return nil
}

// Multi fans a notification out to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, userID uuid.UUID, kind Kind, payload map[string]any) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, userID, kind, payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Nop discards notifications.
type Nop struct{}

func (Nop) Notify(context.Context, uuid.UUID, Kind, map[string]any) error { return nil }
