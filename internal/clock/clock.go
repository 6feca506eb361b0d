// Package clock is the single seam through which the scheduler reads time.
package clock

import (
	"sync"
	"time"
)

// Clock returns the clinic's reference time. All temporal guards go through it.
type Clock interface {
	Now() time.Time
}

type systemClock struct {
	loc *time.Location
}

// System returns a Clock that reads the wall clock in loc.
func System(loc *time.Location) Clock {
	if loc == nil {
		loc = time.Local
	}
	return systemClock{loc: loc}
}

func (c systemClock) Now() time.Time {
	return time.Now().In(c.loc)
}

// Fake is a manually driven Clock for tests.
type Fake struct {
	mu  sync.Mutex
	now time.Time
}

func NewFake(now time.Time) *Fake {
	return &Fake{now: now}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *Fake) Set(now time.Time) {
	f.mu.Lock()
	f.now = now
	f.mu.Unlock()
}

func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}
