package service

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeyedMutex_SerializesPerKey(t *testing.T) {
	var k keyedMutex
	var wg sync.WaitGroup
	counter := 0

	for range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := k.lock("p")
			counter++
			unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 100, counter)
	assert.Empty(t, k.locks, "idle keys are dropped")
}

func TestKeyedMutex_IndependentKeys(t *testing.T) {
	var k keyedMutex
	unlockA := k.lock("a")
	unlockB := k.lock("b")
	unlockB()
	unlockA()
	assert.Empty(t, k.locks)
}
