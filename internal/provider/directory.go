package provider

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-queue-scheduler/internal/schedule"
)

var ErrNotFound = errors.New("provider not found")

// Directory is the read side of the external provider profile store.
type Directory interface {
	GetSchedule(ctx context.Context, providerID uuid.UUID) (*schedule.ProviderSchedule, error)
	IsVerifiedAndActive(ctx context.Context, providerID uuid.UUID) (bool, error)
}

type Profile struct {
	ID        uuid.UUID
	Name      string
	Specialty string
	Verified  bool
	Active    bool
	Schedule  schedule.ProviderSchedule
}

// StaticDirectory keeps profiles in memory.
type StaticDirectory struct {
	mu       sync.RWMutex
	profiles map[uuid.UUID]Profile
}

func NewStaticDirectory(profiles ...Profile) *StaticDirectory {
	d := &StaticDirectory{profiles: make(map[uuid.UUID]Profile)}
	for _, p := range profiles {
		d.Put(p)
	}
	return d
}

func (d *StaticDirectory) Put(p Profile) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p.Schedule.ProviderID = p.ID
	d.profiles[p.ID] = p
}

func (d *StaticDirectory) GetSchedule(_ context.Context, providerID uuid.UUID) (*schedule.ProviderSchedule, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.profiles[providerID]
	if !ok {
		return nil, ErrNotFound
	}
	s := p.Schedule
	return &s, nil
}

func (d *StaticDirectory) IsVerifiedAndActive(_ context.Context, providerID uuid.UUID) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.profiles[providerID]
	if !ok {
		return false, ErrNotFound
	}
	return p.Verified && p.Active, nil
}
