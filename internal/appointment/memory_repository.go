package appointment

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-queue-scheduler/internal/schedule"
)

// MemoryRepository is an in-process Repository used for local runs and tests.
type MemoryRepository struct {
	mu     sync.RWMutex
	appts  map[uuid.UUID]Appointment
	events []EventLog
	writes int
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{appts: make(map[uuid.UUID]Appointment)}
}

func (r *MemoryRepository) CreateAppointment(_ context.Context, a *Appointment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.appts[a.ID] = clone(*a)
	r.writes++
	return nil
}

func (r *MemoryRepository) GetAppointmentByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.appts[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	c := clone(a)
	return &c, nil
}

func (r *MemoryRepository) UpdateAppointment(_ context.Context, a *Appointment, expected Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.appts[a.ID]
	if !ok {
		return ErrAppointmentNotFound
	}
	if cur.Status != expected {
		return ErrStaleAppointment
	}
	// only lifecycle columns change; reminder_sent_at belongs to ClaimReminder
	next := clone(*a)
	next.ReminderSentAt = cur.ReminderSentAt
	r.appts[a.ID] = next
	r.writes++
	return nil
}

func (r *MemoryRepository) CountReservations(_ context.Context, providerID uuid.UUID, date time.Time, slotStart schedule.TimeOfDay) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, a := range r.appts {
		if a.ProviderID == providerID && a.Date.Equal(date) && a.SlotStart == slotStart && a.Status.HoldsSlot() {
			n++
		}
	}
	return n, nil
}

func (r *MemoryRepository) MaxToken(_ context.Context, providerID uuid.UUID, date time.Time) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	max := 0
	for _, a := range r.appts {
		if a.ProviderID == providerID && a.Date.Equal(date) && a.QueueToken != nil && *a.QueueToken > max {
			max = *a.QueueToken
		}
	}
	return max, nil
}

func (r *MemoryRepository) ListProviderDay(_ context.Context, providerID uuid.UUID, date time.Time) ([]Appointment, error) {
	return r.filter(func(a Appointment) bool {
		return a.ProviderID == providerID && a.Date.Equal(date)
	}), nil
}

func (r *MemoryRepository) UpdatePositions(_ context.Context, positions map[uuid.UUID]*int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, pos := range positions {
		a, ok := r.appts[id]
		if !ok || equalIntPtr(a.QueuePosition, pos) {
			continue
		}
		a.QueuePosition = copyInt(pos)
		r.appts[id] = a
		r.writes++
	}
	return nil
}

func (r *MemoryRepository) ListByStatus(_ context.Context, statuses []Status, from, to time.Time) ([]Appointment, error) {
	return r.filter(func(a Appointment) bool {
		return containsStatus(statuses, a.Status) && !a.Date.Before(from) && !a.Date.After(to)
	}), nil
}

func (r *MemoryRepository) ClaimReminder(_ context.Context, id uuid.UUID, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.appts[id]
	if !ok {
		return false, ErrAppointmentNotFound
	}
	if a.ReminderSentAt != nil || !a.Status.Remindable() {
		return false, nil
	}
	a.ReminderSentAt = &at
	r.appts[id] = a
	r.writes++
	return true, nil
}

func (r *MemoryRepository) ListByPatient(_ context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error) {
	all := r.filter(func(a Appointment) bool { return a.PatientID == patientID })
	sort.SliceStable(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if limit < len(all) {
		all = all[:limit]
	}
	return all, nil
}

func (r *MemoryRepository) InsertEvent(_ context.Context, ev EventLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ev.ID = int64(len(r.events) + 1)
	r.events = append(r.events, ev)
	return nil
}

// Events returns a copy of the event log.
func (r *MemoryRepository) Events() []EventLog {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]EventLog(nil), r.events...)
}

// Writes counts appointment writes, which lets tests assert a no-op pass.
func (r *MemoryRepository) Writes() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.writes
}

func (r *MemoryRepository) filter(keep func(Appointment) bool) []Appointment {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Appointment
	for _, a := range r.appts {
		if keep(a) {
			out = append(out, clone(a))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out
}

func clone(a Appointment) Appointment {
	a.QueueToken = copyInt(a.QueueToken)
	a.QueuePosition = copyInt(a.QueuePosition)
	a.CalledAt = copyTime(a.CalledAt)
	a.CompletedAt = copyTime(a.CompletedAt)
	a.CancelledAt = copyTime(a.CancelledAt)
	a.ReminderSentAt = copyTime(a.ReminderSentAt)
	return a
}

func copyInt(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func copyTime(p *time.Time) *time.Time {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func equalIntPtr(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
