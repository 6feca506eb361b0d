package appointment

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-queue-scheduler/internal/schedule"
)

type reservationCounter interface {
	CountReservations(ctx context.Context, providerID uuid.UUID, date time.Time, slotStart schedule.TimeOfDay) (int, error)
}

// reserve succeeds iff fewer than maxPerSlot appointments already hold the
// slot. Callers must hold the provider-day lock so the count and the
// following write form one unit.
func reserve(ctx context.Context, repo reservationCounter, providerID uuid.UUID, date time.Time, slotStart schedule.TimeOfDay, maxPerSlot int) error {
	count, err := repo.CountReservations(ctx, providerID, date, slotStart)
	if err != nil {
		return fmt.Errorf("count reservations: %w", err)
	}
	return checkCapacity(count, maxPerSlot)
}

func checkCapacity(reserved, maxPerSlot int) error {
	if reserved >= maxPerSlot {
		return fmt.Errorf("%w: %d of %d taken", ErrSlotConflict, reserved, maxPerSlot)
	}
	return nil
}
