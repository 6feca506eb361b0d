package locking

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-queue-scheduler/internal/schedule"
)

var (
	ErrLockNotAcquired = errors.New("provider-day lock not acquired")
)

// Locker serializes the capacity and token critical sections for one
// provider-day. Unrelated keys must never block each other.
type Locker interface {
	WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

// DayKey is the arbitration key for a provider's appointments on one date.
func DayKey(providerID uuid.UUID, date time.Time) string {
	return fmt.Sprintf("provider:%s:%s", providerID, date.Format(schedule.DateLayout))
}

type keyEntry struct {
	ch   chan struct{}
	refs int
}

// KeyedLocker is the in-process Locker: one single-slot channel per key,
// created on demand and dropped once nobody holds or waits on it.
type KeyedLocker struct {
	wait time.Duration

	mu   sync.Mutex
	keys map[string]*keyEntry
}

// NewKeyedLocker returns a locker whose callers give up with
// ErrLockNotAcquired after waiting wait for a busy key.
func NewKeyedLocker(wait time.Duration) *KeyedLocker {
	return &KeyedLocker{
		wait: wait,
		keys: make(map[string]*keyEntry),
	}
}

func (l *KeyedLocker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	e := l.ref(key)

	timer := time.NewTimer(l.wait)
	defer timer.Stop()

	select {
	case e.ch <- struct{}{}:
	case <-timer.C:
		l.unref(key, e)
		return ErrLockNotAcquired
	case <-ctx.Done():
		l.unref(key, e)
		return fmt.Errorf("acquire %s: %w", key, ctx.Err())
	}

	defer func() {
		<-e.ch
		l.unref(key, e)
	}()

	return fn(ctx)
}

func (l *KeyedLocker) ref(key string) *keyEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.keys[key]
	if !ok {
		e = &keyEntry{ch: make(chan struct{}, 1)}
		l.keys[key] = e
	}
	e.refs++
	return e
}

func (l *KeyedLocker) unref(key string, e *keyEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(l.keys, key)
	}
}

// size reports how many keys are currently tracked.
func (l *KeyedLocker) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.keys)
}
