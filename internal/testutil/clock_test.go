package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFixedClock(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c := NewFixedClock(at)

	assert.Equal(t, at, c.Now())
	assert.Equal(t, at, c.Now())
	assert.Equal(t, DefaultTestTime, NewFixedClock(time.Time{}).Now())
}

func TestStepClock_Advances(t *testing.T) {
	c := NewStepClock(time.Time{}, time.Minute)

	assert.Equal(t, DefaultTestTime, c.Now())
	assert.Equal(t, DefaultTestTime.Add(time.Minute), c.Now())
	assert.Equal(t, int64(2), c.Calls())

	c.Reset()
	assert.Equal(t, DefaultTestTime, c.Now())
}

func TestStepClock_ThreadSafe(t *testing.T) {
	c := NewStepClock(time.Time{}, time.Second)
	const goroutines = 50

	seen := make(chan time.Time, goroutines)
	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			seen <- c.Now()
		}()
	}
	wg.Wait()
	close(seen)

	unique := make(map[time.Time]bool)
	for ts := range seen {
		unique[ts] = true
	}
	assert.Len(t, unique, goroutines)
}
