package appointment

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-queue-scheduler/internal/clock"
	"github.com/hackgods/clinic-queue-scheduler/internal/locking"
	"github.com/hackgods/clinic-queue-scheduler/internal/notify"
	"github.com/hackgods/clinic-queue-scheduler/internal/provider"
	"github.com/hackgods/clinic-queue-scheduler/internal/schedule"
)

type sentNote struct {
	userID uuid.UUID
	kind   notify.Kind
}

type recordingNotifier struct {
	mu    sync.Mutex
	notes []sentNote
	err   error
}

func (n *recordingNotifier) Notify(_ context.Context, userID uuid.UUID, kind notify.Kind, _ map[string]any) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notes = append(n.notes, sentNote{userID: userID, kind: kind})
	return n.err
}

func (n *recordingNotifier) kinds() []notify.Kind {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]notify.Kind, len(n.notes))
	for i, s := range n.notes {
		out[i] = s.kind
	}
	return out
}

type busyLocker struct{}

func (busyLocker) WithLock(context.Context, string, func(context.Context) error) error {
	return locking.ErrLockNotAcquired
}

type fixture struct {
	svc        *Service
	repo       *MemoryRepository
	clk        *clock.Fake
	dir        *provider.StaticDirectory
	notes      *recordingNotifier
	providerID uuid.UUID
}

func newFixture(t *testing.T, maxPerSlot int) *fixture {
	t.Helper()

	f := &fixture{
		repo:       NewMemoryRepository(),
		clk:        clock.NewFake(at("08:00")),
		notes:      &recordingNotifier{},
		providerID: uuid.New(),
	}
	f.dir = provider.NewStaticDirectory(provider.Profile{
		ID:       f.providerID,
		Name:     "Dr. Test",
		Verified: true,
		Active:   true,
		Schedule: schedule.ProviderSchedule{
			WorkingDays: []time.Weekday{time.Monday, time.Tuesday},
			WorkStart:   9 * 60,
			WorkEnd:     17 * 60,
			Breaks:      []schedule.Interval{{Start: 12 * 60, End: 13 * 60}},
			SlotMinutes: 30,
			MaxPerSlot:  maxPerSlot,
		},
	})
	f.svc = f.newService(locking.NewKeyedLocker(2 * time.Second))
	return f
}

func (f *fixture) newService(locker locking.Locker) *Service {
	return NewService(Dependencies{
		Repo:      f.repo,
		Locker:    locker,
		Directory: f.dir,
		Notifier:  f.notes,
		Clock:     f.clk,
		Logger:    zerolog.Nop(),
	}, Config{CancelLeadTime: 24 * time.Hour, AvgServiceMinutes: 10})
}

func (f *fixture) book(t *testing.T, date time.Time, slot string) *Appointment {
	t.Helper()
	tod, err := schedule.ParseTimeOfDay(slot)
	require.NoError(t, err)
	appt, err := f.svc.Book(context.Background(), BookRequest{
		PatientID:  uuid.New(),
		ProviderID: f.providerID,
		Date:       date,
		SlotStart:  tod,
	})
	require.NoError(t, err)
	return appt
}

func TestBook(t *testing.T) {
	f := newFixture(t, 2)

	appt := f.book(t, testDay, "14:00")

	assert.Equal(t, StatusRequested, appt.Status)
	assert.Equal(t, "14:30", appt.SlotEnd.String())
	assert.Regexp(t, `^APT-20260302-[0-9A-Z]{6}$`, appt.Reference)
	require.NotNil(t, appt.QueuePosition)
	assert.Equal(t, 1, *appt.QueuePosition)
	assert.Nil(t, appt.QueueToken)

	events := f.repo.Events()
	require.Len(t, events, 1)
	assert.Equal(t, EventAppointmentRequested, events[0].EventType)
	assert.Equal(t, []notify.Kind{notify.KindAppointmentRequested}, f.notes.kinds())
}

func TestBook_Validation(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()

	tests := []struct {
		name string
		req  BookRequest
		want error
	}{
		{"missing patient", BookRequest{ProviderID: f.providerID, Date: testDay, SlotStart: 14 * 60}, ErrValidation},
		{"unknown provider", BookRequest{PatientID: uuid.New(), ProviderID: uuid.New(), Date: testDay, SlotStart: 14 * 60}, ErrNotFound},
		{"misaligned slot", BookRequest{PatientID: uuid.New(), ProviderID: f.providerID, Date: testDay, SlotStart: 14*60 + 10}, ErrValidation},
		{"inside break", BookRequest{PatientID: uuid.New(), ProviderID: f.providerID, Date: testDay, SlotStart: 12 * 60}, ErrValidation},
		{"non working day", BookRequest{PatientID: uuid.New(), ProviderID: f.providerID, Date: testDay.AddDate(0, 0, 2), SlotStart: 14 * 60}, ErrValidation},
		{"before working hours", BookRequest{PatientID: uuid.New(), ProviderID: f.providerID, Date: testDay, SlotStart: 8 * 60}, ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Book(ctx, tt.req)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestBook_SlotInThePast(t *testing.T) {
	f := newFixture(t, 1)
	f.clk.Set(at("14:00"))

	_, err := f.svc.Book(context.Background(), BookRequest{
		PatientID: uuid.New(), ProviderID: f.providerID, Date: testDay, SlotStart: 14 * 60,
	})
	assert.ErrorIs(t, err, ErrSlotExpired)
}

func TestBook_InactiveProvider(t *testing.T) {
	f := newFixture(t, 1)
	sched, err := f.dir.GetSchedule(context.Background(), f.providerID)
	require.NoError(t, err)
	f.dir.Put(provider.Profile{ID: f.providerID, Verified: true, Active: false, Schedule: *sched})

	_, err = f.svc.Book(context.Background(), BookRequest{
		PatientID: uuid.New(), ProviderID: f.providerID, Date: testDay, SlotStart: 14 * 60,
	})
	assert.ErrorIs(t, err, ErrProviderInactive)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestBook_FullSlot(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()

	first := f.book(t, testDay, "14:00")
	_, err := f.svc.Approve(ctx, first.ID, ActorProvider)
	require.NoError(t, err)

	_, err = f.svc.Book(ctx, BookRequest{
		PatientID: uuid.New(), ProviderID: f.providerID, Date: testDay, SlotStart: 14 * 60,
	})
	assert.ErrorIs(t, err, ErrSlotConflict)
}

func TestApprove_SameDayAssignsToken(t *testing.T) {
	f := newFixture(t, 3)
	ctx := context.Background()

	a := f.book(t, testDay, "14:00")
	b := f.book(t, testDay, "14:00")
	tomorrow := f.book(t, testDay.AddDate(0, 0, 1), "14:00")

	got, err := f.svc.Approve(ctx, a.ID, ActorProvider)
	require.NoError(t, err)
	require.NotNil(t, got.QueueToken)
	assert.Equal(t, 1, *got.QueueToken)

	got, err = f.svc.Approve(ctx, b.ID, ActorAdmin)
	require.NoError(t, err)
	assert.Equal(t, 2, *got.QueueToken)

	got, err = f.svc.Approve(ctx, tomorrow.ID, ActorProvider)
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, got.Status)
	assert.Nil(t, got.QueueToken)
}

// Many approvals race for a slot with two seats: exactly two win.
func TestApprove_ConcurrentApprovalsRespectCapacity(t *testing.T) {
	const racers = 12
	f := newFixture(t, 2)
	ctx := context.Background()

	ids := make([]uuid.UUID, racers)
	for i := range ids {
		ids[i] = f.book(t, testDay, "10:00").ID
	}

	var wg sync.WaitGroup
	errs := make([]error, racers)
	for i, id := range ids {
		wg.Add(1)
		go func(i int, id uuid.UUID) {
			defer wg.Done()
			_, errs[i] = f.svc.Approve(ctx, id, ActorProvider)
		}(i, id)
	}
	wg.Wait()

	var ok, conflict int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrSlotConflict):
			conflict++
			var te *TransitionError
			require.True(t, errors.As(err, &te))
			assert.Equal(t, StatusRequested, te.From)
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 2, ok)
	assert.Equal(t, racers-2, conflict)

	n, err := f.repo.CountReservations(ctx, f.providerID, testDay, 10*60)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestApprove_ConcurrentTokensAreUnique(t *testing.T) {
	f := newFixture(t, 4)
	ctx := context.Background()

	var ids []uuid.UUID
	for _, slot := range []string{"09:00", "09:30", "10:00", "10:30", "11:00"} {
		for i := 0; i < 2; i++ {
			ids = append(ids, f.book(t, testDay, slot).ID)
		}
	}

	var wg sync.WaitGroup
	tokens := make([]int, len(ids))
	for i, id := range ids {
		wg.Add(1)
		go func(i int, id uuid.UUID) {
			defer wg.Done()
			got, err := f.svc.Approve(ctx, id, ActorProvider)
			if assert.NoError(t, err) && assert.NotNil(t, got.QueueToken) {
				tokens[i] = *got.QueueToken
			}
		}(i, id)
	}
	wg.Wait()

	seen := make(map[int]bool)
	for _, tok := range tokens {
		assert.False(t, seen[tok], "token %d issued twice", tok)
		seen[tok] = true
	}
	for want := 1; want <= len(ids); want++ {
		assert.True(t, seen[want], "token %d missing", want)
	}
}

func TestApprove_AfterSlotStart(t *testing.T) {
	f := newFixture(t, 1)
	a := f.book(t, testDay, "09:00")
	f.clk.Set(at("09:00"))

	_, err := f.svc.Approve(context.Background(), a.ID, ActorProvider)
	assert.ErrorIs(t, err, ErrSlotExpired)

	cur, err := f.svc.Get(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRequested, cur.Status)
}

func TestApprove_NotFound(t *testing.T) {
	f := newFixture(t, 1)
	_, err := f.svc.Approve(context.Background(), uuid.New(), ActorProvider)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAutoCancelThenApprove(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()
	a := f.book(t, testDay, "16:30")

	f.clk.Set(at("20:00"))
	got, err := f.svc.AutoCancel(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, got.Status)
	assert.Equal(t, ReasonNotApprovedByEndOfDay, got.CancelReason)
	assert.Nil(t, got.QueuePosition)

	_, err = f.svc.Approve(ctx, a.ID, ActorProvider)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestFullLifecycle(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()
	a := f.book(t, testDay, "14:00")

	_, err := f.svc.Approve(ctx, a.ID, ActorProvider)
	require.NoError(t, err)
	_, err = f.svc.MoveToQueue(ctx, a.ID, ActorProvider)
	require.NoError(t, err)

	f.clk.Set(at("14:05"))
	got, err := f.svc.StartProcessing(ctx, a.ID, ActorProvider)
	require.NoError(t, err)
	assert.Equal(t, StatusProcessing, got.Status)
	require.NotNil(t, got.QueuePosition)
	assert.Equal(t, 1, *got.QueuePosition)

	got, err = f.svc.Finish(ctx, a.ID, ActorProvider)
	require.NoError(t, err)
	assert.Equal(t, StatusFinished, got.Status)
	assert.Nil(t, got.QueuePosition)

	got, err = f.svc.Complete(ctx, a.ID, ActorPatient)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)

	assert.Equal(t, []notify.Kind{
		notify.KindAppointmentRequested,
		notify.KindAppointmentApproved,
		notify.KindAppointmentQueued,
		notify.KindAppointmentCalled,
		notify.KindAppointmentFinished,
		notify.KindAppointmentCompleted,
	}, f.notes.kinds())

	var types []string
	for _, ev := range f.repo.Events() {
		types = append(types, ev.EventType)
	}
	assert.Equal(t, []string{
		EventAppointmentRequested,
		"APPOINTMENT_APPROVED",
		"APPOINTMENT_QUEUED",
		"APPOINTMENT_PROCESSING",
		"APPOINTMENT_FINISHED",
		"APPOINTMENT_COMPLETED",
	}, types)
}

func TestCancel_PatientLeadTime(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()

	tomorrow := testDay.AddDate(0, 0, 1)
	a := f.book(t, tomorrow, "14:00")
	b := f.book(t, tomorrow, "09:00")

	got, err := f.svc.Cancel(ctx, a.ID, ActorPatient, "")
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, got.Status)
	assert.Equal(t, ActorPatient, got.CancelledBy)

	// 23h before the 09:00 slot
	f.clk.Set(at("10:00"))
	_, err = f.svc.Cancel(ctx, b.ID, ActorPatient, "changed my mind")
	assert.ErrorIs(t, err, ErrSlotExpired)

	got, err = f.svc.Cancel(ctx, b.ID, ActorProvider, "clinic closed")
	require.NoError(t, err)
	assert.Equal(t, "clinic closed", got.CancelReason)

	// patient cancellations go to the provider
	f.notes.mu.Lock()
	last := f.notes.notes[len(f.notes.notes)-1]
	first := f.notes.notes[2]
	f.notes.mu.Unlock()
	assert.Equal(t, f.providerID, first.userID)
	assert.Equal(t, b.PatientID, last.userID)
}

func TestCancel_FreesCapacity(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()

	a := f.book(t, testDay, "15:00")
	_, err := f.svc.Approve(ctx, a.ID, ActorProvider)
	require.NoError(t, err)
	_, err = f.svc.Cancel(ctx, a.ID, ActorAdmin, "")
	require.NoError(t, err)

	b := f.book(t, testDay, "15:00")
	_, err = f.svc.Approve(ctx, b.ID, ActorProvider)
	assert.NoError(t, err)
}

func TestBusyLockSurfacesAsBusy(t *testing.T) {
	f := newFixture(t, 1)
	a := f.book(t, testDay, "14:00")

	busy := f.newService(busyLocker{})
	_, err := busy.Approve(context.Background(), a.ID, ActorProvider)
	assert.ErrorIs(t, err, ErrBusy)

	cur, err := f.svc.Get(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRequested, cur.Status)
}

func TestBusyAfterBoundedWait(t *testing.T) {
	f := newFixture(t, 1)
	locker := locking.NewKeyedLocker(20 * time.Millisecond)
	svc := f.newService(locker)
	a := f.book(t, testDay, "14:00")

	held := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = locker.WithLock(context.Background(), locking.DayKey(f.providerID, testDay), func(context.Context) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held
	defer close(release)

	_, err := svc.Approve(context.Background(), a.ID, ActorProvider)
	assert.ErrorIs(t, err, ErrBusy)
}

func TestNotifierFailureDoesNotRollBack(t *testing.T) {
	f := newFixture(t, 1)
	f.notes.err = errors.New("smtp down")

	a := f.book(t, testDay, "14:00")
	got, err := f.svc.Approve(context.Background(), a.ID, ActorProvider)
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, got.Status)
}

func TestGetQueue(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()

	a := f.book(t, testDay, "10:00")
	b := f.book(t, testDay, "09:00")
	c := f.book(t, testDay, "11:00")
	_, err := f.svc.Approve(ctx, a.ID, ActorProvider)
	require.NoError(t, err)
	_, err = f.svc.Approve(ctx, b.ID, ActorProvider)
	require.NoError(t, err)

	entries, err := f.svc.GetQueue(ctx, f.providerID, testDay)
	require.NoError(t, err)
	require.Len(t, entries, 3)

	assert.Equal(t, c.ID, entries[0].Appointment.ID)
	assert.Equal(t, b.ID, entries[1].Appointment.ID)
	assert.Equal(t, a.ID, entries[2].Appointment.ID)
	for i, e := range entries {
		assert.Equal(t, i+1, e.Position)
		assert.Equal(t, time.Duration((i+1)*10)*time.Minute, e.EstimatedWait)
		require.NotNil(t, e.Appointment.QueuePosition)
		assert.Equal(t, i+1, *e.Appointment.QueuePosition, "stored position matches display order")
	}
}

func TestRecomputeQueue_NoOpWhenCurrent(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()
	f.book(t, testDay, "10:00")
	f.book(t, testDay, "11:00")

	writes := f.repo.Writes()
	require.NoError(t, f.svc.RecomputeQueue(ctx, f.providerID, testDay))
	assert.Equal(t, writes, f.repo.Writes())
}

func TestGetAvailability(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()

	a := f.book(t, testDay, "09:00")
	_, err := f.svc.Approve(ctx, a.ID, ActorProvider)
	require.NoError(t, err)
	f.book(t, testDay, "09:00") // requested does not hold capacity

	f.clk.Set(at("09:10"))
	slots, err := f.svc.GetAvailability(ctx, f.providerID, testDay)
	require.NoError(t, err)

	// 09:00-12:00 and 13:00-17:00 in 30 minute steps
	require.Len(t, slots, 14)
	assert.Equal(t, "09:00", slots[0].Slot.Start.String())
	assert.Equal(t, 1, slots[0].Reserved)
	assert.Equal(t, 1, slots[0].Remaining)
	assert.True(t, slots[0].Past)
	assert.False(t, slots[1].Past)
	assert.Equal(t, "13:00", slots[6].Slot.Start.String())
}

func TestSendReminder_OnlyOnce(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()
	a := f.book(t, testDay.AddDate(0, 0, 1), "09:00")
	approved, err := f.svc.Approve(ctx, a.ID, ActorProvider)
	require.NoError(t, err)

	sent, err := f.svc.SendReminder(ctx, *approved)
	require.NoError(t, err)
	assert.True(t, sent)

	sent, err = f.svc.SendReminder(ctx, *approved)
	require.NoError(t, err)
	assert.False(t, sent)

	var reminders int
	for _, k := range f.notes.kinds() {
		if k == notify.KindAppointmentReminder {
			reminders++
		}
	}
	assert.Equal(t, 1, reminders)

	_, err = f.svc.SendReminder(ctx, *a)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

// claimBetweenReadAndWrite claims the reminder right after the given read
// of an appointment, the way a sweeper running concurrently would.
type claimBetweenReadAndWrite struct {
	*MemoryRepository
	mu      sync.Mutex
	reads   int
	claimOn int
	at      time.Time
}

func (r *claimBetweenReadAndWrite) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	a, err := r.MemoryRepository.GetAppointmentByID(ctx, id)
	r.mu.Lock()
	r.reads++
	claim := r.reads == r.claimOn
	r.mu.Unlock()
	if claim {
		if _, err := r.MemoryRepository.ClaimReminder(ctx, id, r.at); err != nil {
			return nil, err
		}
	}
	return a, err
}

func TestSendReminder_ClaimSurvivesConcurrentTransition(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()
	a := f.book(t, testDay.AddDate(0, 0, 1), "09:00")
	_, err := f.svc.Approve(ctx, a.ID, ActorProvider)
	require.NoError(t, err)

	// read 1 is the unlocked lookup, read 2 the one under the day lock
	racing := &claimBetweenReadAndWrite{MemoryRepository: f.repo, claimOn: 2, at: f.clk.Now()}
	svc := NewService(Dependencies{
		Repo:      racing,
		Locker:    locking.NewKeyedLocker(time.Second),
		Directory: f.dir,
		Notifier:  f.notes,
		Clock:     f.clk,
		Logger:    zerolog.Nop(),
	}, Config{CancelLeadTime: 24 * time.Hour, AvgServiceMinutes: 10})

	queued, err := svc.MoveToQueue(ctx, a.ID, ActorProvider)
	require.NoError(t, err)
	assert.Equal(t, StatusInQueue, queued.Status)
	require.NotNil(t, queued.ReminderSentAt)

	sent, err := f.svc.SendReminder(ctx, *queued)
	require.NoError(t, err)
	assert.False(t, sent)
}

func TestSendReminder_SkipsAppointmentCancelledAfterSnapshot(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()
	a := f.book(t, testDay.AddDate(0, 0, 1), "09:00")
	snapshot, err := f.svc.Approve(ctx, a.ID, ActorProvider)
	require.NoError(t, err)

	_, err = f.svc.Cancel(ctx, a.ID, ActorProvider, "provider unavailable")
	require.NoError(t, err)

	sent, err := f.svc.SendReminder(ctx, *snapshot)
	require.NoError(t, err)
	assert.False(t, sent)
	assert.NotContains(t, f.notes.kinds(), notify.KindAppointmentReminder)

	got, err := f.svc.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Nil(t, got.ReminderSentAt)
}

func TestListByPatient(t *testing.T) {
	f := newFixture(t, 5)
	ctx := context.Background()
	patient := uuid.New()

	for i := 0; i < 3; i++ {
		f.clk.Advance(time.Minute)
		_, err := f.svc.Book(ctx, BookRequest{
			PatientID: patient, ProviderID: f.providerID, Date: testDay, SlotStart: 14 * 60,
		})
		require.NoError(t, err)
	}
	f.book(t, testDay, "14:00")

	got, err := f.svc.ListByPatient(ctx, patient, 0, 0)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.True(t, got[0].CreatedAt.After(got[2].CreatedAt))

	got, err = f.svc.ListByPatient(ctx, patient, 2, 2)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestNormalizePage(t *testing.T) {
	tests := []struct {
		limit, offset         int
		wantLimit, wantOffset int
	}{
		{0, 0, DefaultPageSize, 0},
		{-5, -1, DefaultPageSize, 0},
		{7, 3, 7, 3},
		{MaxPageSize + 1, 0, MaxPageSize, 0},
	}
	for _, tt := range tests {
		limit, offset := NormalizePage(tt.limit, tt.offset)
		assert.Equal(t, tt.wantLimit, limit)
		assert.Equal(t, tt.wantOffset, offset)
	}
}
