package locking

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDayKey(t *testing.T) {
	id := uuid.MustParse("6f1c1f8e-6a51-4b89-9d55-2b7e0f7f4c11")
	date := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, "provider:6f1c1f8e-6a51-4b89-9d55-2b7e0f7f4c11:2026-03-02", DayKey(id, date))
}

func TestKeyedLocker_SerializesSameKey(t *testing.T) {
	l := NewKeyedLocker(5 * time.Second)

	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := l.WithLock(context.Background(), "k", func(ctx context.Context) error {
				n := atomic.AddInt32(&inside, 1)
				for {
					m := atomic.LoadInt32(&maxInside)
					if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				atomic.AddInt32(&inside, -1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInside)
	assert.Equal(t, 0, l.size())
}

func TestKeyedLocker_BusyAfterWait(t *testing.T) {
	l := NewKeyedLocker(20 * time.Millisecond)

	held := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = l.WithLock(context.Background(), "k", func(ctx context.Context) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held

	called := false
	err := l.WithLock(context.Background(), "k", func(ctx context.Context) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrLockNotAcquired)
	assert.False(t, called)

	close(release)
}

func TestKeyedLocker_DistinctKeysDoNotBlock(t *testing.T) {
	l := NewKeyedLocker(20 * time.Millisecond)

	held := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = l.WithLock(context.Background(), "a", func(ctx context.Context) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held
	defer close(release)

	err := l.WithLock(context.Background(), "b", func(ctx context.Context) error { return nil })
	require.NoError(t, err)
}

func TestKeyedLocker_ContextCancelled(t *testing.T) {
	l := NewKeyedLocker(time.Second)

	held := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = l.WithLock(context.Background(), "k", func(ctx context.Context) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := l.WithLock(ctx, "k", func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}
