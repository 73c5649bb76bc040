package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var t0 = time.Date(2024, 1, 2, 9, 30, 0, 0, time.UTC)

func TestStepClock_Advances(t *testing.T) {
	clock := NewStepClock(t0, 5*time.Millisecond)

	assert.Equal(t, t0, clock.Now())
	assert.Equal(t, t0.Add(5*time.Millisecond), clock.Now())
	assert.Equal(t, t0.Add(10*time.Millisecond), clock.Now())
	assert.Equal(t, int64(3), clock.Calls())
}

func TestFrozenClock(t *testing.T) {
	clock := NewFrozenClock(t0)

	for i := 0; i < 5; i++ {
		assert.Equal(t, t0, clock.Now())
	}
}

func TestStepClock_Reset(t *testing.T) {
	clock := NewStepClock(t0, time.Second)
	clock.Now()
	clock.Now()

	clock.Reset()

	assert.Equal(t, int64(0), clock.Calls())
	assert.Equal(t, t0, clock.Now())
}

func TestStepClock_ConcurrentAccess(t *testing.T) {
	clock := NewStepClock(t0, time.Millisecond)

	var wg sync.WaitGroup
	seen := make(chan time.Time, 100)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				seen <- clock.Now()
			}
		}()
	}
	wg.Wait()
	close(seen)

	unique := map[time.Time]bool{}
	for ts := range seen {
		unique[ts] = true
	}
	assert.Len(t, unique, 100, "every call observes a distinct instant")
}
