package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeterministicClock_StartsAtEpoch(t *testing.T) {
	clock := NewDeterministicClock()
	assert.Equal(t, Epoch, clock.Current())
	assert.Equal(t, Epoch, clock.Now())
}

func TestDeterministicClock_NowAdvances(t *testing.T) {
	clock := NewDeterministicClock()

	first := clock.Now()
	second := clock.Now()
	third := clock.Now()

	assert.Equal(t, time.Second, second.Sub(first))
	assert.Equal(t, time.Second, third.Sub(second))
	assert.Equal(t, third.Add(time.Second), clock.Current())
}

func TestDeterministicClock_Advance(t *testing.T) {
	clock := NewDeterministicClock()
	clock.Advance(time.Hour)
	assert.Equal(t, Epoch.Add(time.Hour), clock.Now())
}

func TestDeterministicClock_Reset(t *testing.T) {
	clock := NewDeterministicClock()
	clock.Now()
	clock.Advance(time.Minute)

	clock.Reset()
	assert.Equal(t, Epoch, clock.Now())
}

func TestDeterministicClock_ConcurrentReadingsAreDistinct(t *testing.T) {
	clock := NewDeterministicClock()

	const goroutines = 50
	var wg sync.WaitGroup
	var mu sync.Mutex
	seen := map[time.Time]bool{}

	for range goroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ts := clock.Now()
			mu.Lock()
			seen[ts] = true
			mu.Unlock()
		}()
	}
	wg.Wait()

	require.Len(t, seen, goroutines)
	assert.Equal(t, Epoch.Add(goroutines*time.Second), clock.Current())
}
