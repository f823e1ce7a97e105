package limiter

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAdmitUpToLimit(t *testing.T) {
	l := NewSlidingWindow(3, time.Hour)
	for i := 0; i < 3; i++ {
		assert.True(t, l.Admit(42), "attempt %d should be admitted", i+1)
	}
	assert.False(t, l.Admit(42))
}

func TestDenialDoesNotConsumeSlot(t *testing.T) {
	l := NewSlidingWindow(2, time.Hour)
	clock := time.Now()
	l.now = func() time.Time { return clock }

	assert.True(t, l.Admit(7))
	assert.True(t, l.Admit(7))
	for i := 0; i < 5; i++ {
		assert.False(t, l.Admit(7))
	}

	// Both admitted slots age out together; the denials left no trace.
	clock = clock.Add(61 * time.Minute)
	assert.True(t, l.Admit(7))
}

func TestWindowSlides(t *testing.T) {
	l := NewSlidingWindow(2, time.Hour)
	clock := time.Now()
	l.now = func() time.Time { return clock }

	assert.True(t, l.Admit(1))
	clock = clock.Add(40 * time.Minute)
	assert.True(t, l.Admit(1))
	assert.False(t, l.Admit(1))

	// First slot falls outside the rolling hour, second is still inside.
	clock = clock.Add(30 * time.Minute)
	assert.True(t, l.Admit(1))
	assert.False(t, l.Admit(1))
}

func TestKeysAreIndependent(t *testing.T) {
	l := NewSlidingWindow(1, time.Hour)
	assert.True(t, l.Admit(1))
	assert.True(t, l.Admit(2))
	assert.False(t, l.Admit(1))
	assert.False(t, l.Admit(2))
}

func TestConcurrentAdmit(t *testing.T) {
	l := NewSlidingWindow(3, time.Hour)
	var wg sync.WaitGroup
	var mu sync.Mutex
	admitted := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Admit(99) {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 3, admitted)
}
