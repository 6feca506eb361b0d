package provider

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-queue-scheduler/internal/schedule"
)

func sampleProfile() Profile {
	return Profile{
		ID:       uuid.New(),
		Name:     "Dr. Okafor",
		Verified: true,
		Active:   true,
		Schedule: schedule.ProviderSchedule{
			WorkingDays: []time.Weekday{time.Monday, time.Tuesday},
			WorkStart:   9 * 60,
			WorkEnd:     12 * 60,
			Breaks:      []schedule.Interval{{Start: 10*60 + 30, End: 11 * 60}},
			SlotMinutes: 30,
			MaxPerSlot:  2,
		},
	}
}

func TestStaticDirectory(t *testing.T) {
	p := sampleProfile()
	inactive := sampleProfile()
	inactive.Active = false

	d := NewStaticDirectory(p, inactive)
	ctx := context.Background()

	s, err := d.GetSchedule(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, p.ID, s.ProviderID)
	assert.Equal(t, 2, s.MaxPerSlot)

	ok, err := d.IsVerifiedAndActive(ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = d.IsVerifiedAndActive(ctx, inactive.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = d.GetSchedule(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

type countingDirectory struct {
	Directory
	scheduleCalls int32
	activeCalls   int32
}

func (c *countingDirectory) GetSchedule(ctx context.Context, id uuid.UUID) (*schedule.ProviderSchedule, error) {
	atomic.AddInt32(&c.scheduleCalls, 1)
	return c.Directory.GetSchedule(ctx, id)
}

func (c *countingDirectory) IsVerifiedAndActive(ctx context.Context, id uuid.UUID) (bool, error) {
	atomic.AddInt32(&c.activeCalls, 1)
	return c.Directory.IsVerifiedAndActive(ctx, id)
}

func TestCachedDirectory(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	p := sampleProfile()
	inner := &countingDirectory{Directory: NewStaticDirectory(p)}
	c := NewCachedDirectory(inner, client, time.Minute, zerolog.Nop())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		s, err := c.GetSchedule(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, p.Schedule.Breaks, s.Breaks)
		assert.Equal(t, p.Schedule.WorkingDays, s.WorkingDays)

		ok, err := c.IsVerifiedAndActive(ctx, p.ID)
		require.NoError(t, err)
		assert.True(t, ok)
	}
	assert.Equal(t, int32(1), inner.scheduleCalls)
	assert.Equal(t, int32(1), inner.activeCalls)

	require.NoError(t, c.Invalidate(ctx, p.ID))
	_, err = c.GetSchedule(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, int32(2), inner.scheduleCalls)

	mr.FastForward(2 * time.Minute)
	_, err = c.IsVerifiedAndActive(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, int32(2), inner.activeCalls)
}

func TestCachedDirectory_NotFoundIsNotCached(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	c := NewCachedDirectory(NewStaticDirectory(), client, time.Minute, zerolog.Nop())
	id := uuid.New()

	_, err = c.GetSchedule(context.Background(), id)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.False(t, mr.Exists(scheduleKey(id)))
}

func TestPgDirectory_GetSchedule(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	d := NewPgDirectory(mock)
	id := uuid.New()

	rows := pgxmock.NewRows([]string{"working_days", "work_start", "work_end", "breaks", "slot_minutes", "max_per_slot"}).
		AddRow([]string{"Monday", "wed"}, "09:00", "17:00", []byte(`[{"start":"12:00","end":"13:00"}]`), 20, 3)
	mock.ExpectQuery("SELECT working_days").WithArgs(id).WillReturnRows(rows)

	s, err := d.GetSchedule(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, []time.Weekday{time.Monday, time.Wednesday}, s.WorkingDays)
	assert.Equal(t, "09:00", s.WorkStart.String())
	assert.Equal(t, "17:00", s.WorkEnd.String())
	assert.Equal(t, []schedule.Interval{{Start: 12 * 60, End: 13 * 60}}, s.Breaks)
	assert.Equal(t, 20, s.SlotMinutes)
	assert.Equal(t, 3, s.MaxPerSlot)
	assert.NoError(t, s.Validate())

	mock.ExpectQuery("SELECT working_days").WithArgs(id).WillReturnError(pgx.ErrNoRows)
	_, err = d.GetSchedule(context.Background(), id)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgDirectory_IsVerifiedAndActive(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	d := NewPgDirectory(mock)
	id := uuid.New()

	mock.ExpectQuery("SELECT verified, active").WithArgs(id).
		WillReturnRows(pgxmock.NewRows([]string{"verified", "active"}).AddRow(true, false))
	ok, err := d.IsVerifiedAndActive(context.Background(), id)
	require.NoError(t, err)
	assert.False(t, ok)

	boom := errors.New("connection reset")
	mock.ExpectQuery("SELECT verified, active").WithArgs(id).WillReturnError(boom)
	_, err = d.IsVerifiedAndActive(context.Background(), id)
	assert.ErrorIs(t, err, boom)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgDirectory_Upsert(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	p := sampleProfile()
	mock.ExpectExec("INSERT INTO providers").
		WithArgs(p.ID, p.Name, p.Specialty, true, true, []string{"Monday", "Tuesday"},
			"09:00", "12:00", []byte(`[{"start":"10:30","end":"11:00"}]`), 30, 2).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, NewPgDirectory(mock).Upsert(context.Background(), p))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFakeProfiles(t *testing.T) {
	a := FakeProfiles(gofakeit.New(42), 5)
	b := FakeProfiles(gofakeit.New(42), 5)

	require.Len(t, a, 5)
	assert.Equal(t, a, b, "same seed, same profiles")
	for _, p := range a {
		assert.NoError(t, p.Schedule.Validate(), p.Name)
		assert.Equal(t, p.ID, p.Schedule.ProviderID)
		assert.NotEmpty(t, schedule.EnumerateSlots(p.Schedule, time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)))
	}
}
