package appointment

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(v int) *int { return &v }

func timePtr(t time.Time) *time.Time { return &t }

func queueFixture() []Appointment {
	base := at("07:00")
	mk := func(status Status, start string, created int) Appointment {
		a := slotAppt(status, start, "")
		a.SlotEnd = a.SlotStart + 30
		a.CreatedAt = base.Add(time.Duration(created) * time.Minute)
		return a
	}

	processing := mk(StatusProcessing, "09:00", 1)
	processing.QueueToken = intPtr(1)
	processing.CalledAt = timePtr(at("09:02"))

	queued := mk(StatusInQueue, "09:30", 2)
	queued.QueueToken = intPtr(2)

	queuedCalled := mk(StatusInQueue, "09:30", 3)
	queuedCalled.QueueToken = intPtr(3)
	queuedCalled.CalledAt = timePtr(at("09:05"))

	approvedLate := mk(StatusApproved, "11:00", 4)
	approvedLate.QueueToken = intPtr(4)

	approvedEarly := mk(StatusApproved, "10:00", 5)
	approvedEarly.QueueToken = intPtr(5)

	reqOld := mk(StatusRequested, "10:30", 6)
	reqNew := mk(StatusRequested, "10:30", 7)

	done := mk(StatusCompleted, "08:30", 0)
	cancelled := mk(StatusCancelled, "11:30", 8)
	finished := mk(StatusFinished, "08:00", 0)

	return []Appointment{
		processing, queued, queuedCalled, approvedLate, approvedEarly,
		reqOld, reqNew, done, cancelled, finished,
	}
}

func TestOrderQueue_Order(t *testing.T) {
	in := queueFixture()
	got := OrderQueue(in)

	require.Len(t, got, 7)
	want := []uuid.UUID{
		in[5].ID, // requested, created first
		in[6].ID,
		in[4].ID, // approved 10:00
		in[3].ID, // approved 11:00
		in[0].ID, // called 09:02
		in[2].ID, // called 09:05
		in[1].ID, // in queue, not yet called
	}
	for i, id := range want {
		assert.Equal(t, id, got[i].ID, "position %d", i+1)
	}
}

func TestOrderQueue_IndependentOfInputOrder(t *testing.T) {
	in := queueFixture()
	want := OrderQueue(in)

	r := rand.New(rand.NewSource(7))
	for i := 0; i < 20; i++ {
		shuffled := append([]Appointment(nil), in...)
		r.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })
		assert.Equal(t, want, OrderQueue(shuffled))
	}
}

func TestRecomputePositions(t *testing.T) {
	in := queueFixture()
	positions := RecomputePositions(in)

	require.Len(t, positions, len(in))

	seen := make(map[int]bool)
	for _, a := range in {
		pos := positions[a.ID]
		if !a.Status.Active() {
			assert.Nil(t, pos, "%s should have no position", a.Status)
			continue
		}
		require.NotNil(t, pos)
		assert.False(t, seen[*pos], "duplicate position %d", *pos)
		seen[*pos] = true
	}
	for p := 1; p <= 7; p++ {
		assert.True(t, seen[p], "missing position %d", p)
	}
}

func TestEstimateWait(t *testing.T) {
	assert.Equal(t, 45*time.Minute, EstimateWait(3, 15))
	assert.Zero(t, EstimateWait(0, 15))
	assert.Zero(t, EstimateWait(2, 0))
}

type fixedTokens int

func (f fixedTokens) MaxToken(context.Context, uuid.UUID, time.Time) (int, error) {
	return int(f), nil
}

func TestAssignToken(t *testing.T) {
	tok, err := assignToken(context.Background(), fixedTokens(0), uuid.New(), testDay)
	require.NoError(t, err)
	assert.Equal(t, 1, tok)

	tok, err = assignToken(context.Background(), fixedTokens(41), uuid.New(), testDay)
	require.NoError(t, err)
	assert.Equal(t, 42, tok)
}

func TestCheckCapacity(t *testing.T) {
	assert.NoError(t, checkCapacity(0, 1))
	assert.NoError(t, checkCapacity(2, 3))
	assert.ErrorIs(t, checkCapacity(3, 3), ErrSlotConflict)
}
