package appointment

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

type tokenSource interface {
	MaxToken(ctx context.Context, providerID uuid.UUID, date time.Time) (int, error)
}

// assignToken returns the next token for a provider-day. Callers must hold
// the provider-day lock.
func assignToken(ctx context.Context, repo tokenSource, providerID uuid.UUID, date time.Time) (int, error) {
	max, err := repo.MaxToken(ctx, providerID, date)
	if err != nil {
		return 0, fmt.Errorf("max token: %w", err)
	}
	return max + 1, nil
}

// queueRank groups active statuses in display order.
func queueRank(s Status) int {
	switch s {
	case StatusRequested:
		return 0
	case StatusApproved:
		return 1
	case StatusInQueue, StatusProcessing:
		return 2
	}
	return 3
}

// OrderQueue returns the active appointments of a provider-day in display
// order: requested first (token, else creation time), then approved by slot
// start, then in-queue and processing by call order. The result does not
// depend on the order of the input.
func OrderQueue(appts []Appointment) []Appointment {
	active := make([]Appointment, 0, len(appts))
	for _, a := range appts {
		if a.Status.Active() {
			active = append(active, a)
		}
	}

	sort.SliceStable(active, func(i, j int) bool {
		a, b := active[i], active[j]
		if ra, rb := queueRank(a.Status), queueRank(b.Status); ra != rb {
			return ra < rb
		}
		switch queueRank(a.Status) {
		case 0:
			if c := compareTokens(a.QueueToken, b.QueueToken); c != 0 {
				return c < 0
			}
		case 1:
			if a.SlotStart != b.SlotStart {
				return a.SlotStart < b.SlotStart
			}
			if c := compareTokens(a.QueueToken, b.QueueToken); c != 0 {
				return c < 0
			}
		case 2:
			if c := compareTimes(a.CalledAt, b.CalledAt); c != 0 {
				return c < 0
			}
			if c := compareTokens(a.QueueToken, b.QueueToken); c != 0 {
				return c < 0
			}
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID.String() < b.ID.String()
	})
	return active
}

// RecomputePositions assigns 1-based positions to the active appointments and
// nil to everything else, keyed by appointment id.
func RecomputePositions(appts []Appointment) map[uuid.UUID]*int {
	positions := make(map[uuid.UUID]*int, len(appts))
	for _, a := range appts {
		positions[a.ID] = nil
	}
	for i, a := range OrderQueue(appts) {
		pos := i + 1
		positions[a.ID] = &pos
	}
	return positions
}

// EstimateWait is a display value only; it never gates a transition.
func EstimateWait(position int, avgServiceMinutes int) time.Duration {
	if position <= 0 || avgServiceMinutes <= 0 {
		return 0
	}
	return time.Duration(position*avgServiceMinutes) * time.Minute
}

// present values sort before nil
func compareTokens(a, b *int) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1
	case b == nil:
		return -1
	case *a < *b:
		return -1
	case *a > *b:
		return 1
	}
	return 0
}

func compareTimes(a, b *time.Time) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1
	case b == nil:
		return -1
	case a.Before(*b):
		return -1
	case a.After(*b):
		return 1
	}
	return 0
}
