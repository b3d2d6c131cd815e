package ratelimit

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllowCeiling(t *testing.T) {
	l := New(time.Minute, 10)

	for i := 0; i < 10; i++ {
		require.True(t, l.Allow("1.2.3.4"), "request %d should be admitted", i+1)
	}
	assert.False(t, l.Allow("1.2.3.4"), "11th request inside the window must be rejected")
	assert.Equal(t, 0, l.Remaining("1.2.3.4"))
}

func TestWindowExpiry(t *testing.T) {
	l := New(time.Minute, 10)

	now := time.Unix(1000, 0)
	l.now = func() time.Time { return now }

	for i := 0; i < 10; i++ {
		require.True(t, l.Allow("client"))
	}
	require.False(t, l.Allow("client"))

	// After the window fully elapses, admission resumes.
	now = now.Add(time.Minute + time.Second)
	assert.True(t, l.Allow("client"))
}

func TestSlidingPurge(t *testing.T) {
	l := New(time.Minute, 2)

	now := time.Unix(1000, 0)
	l.now = func() time.Time { return now }

	require.True(t, l.Allow("c"))
	now = now.Add(40 * time.Second)
	require.True(t, l.Allow("c"))
	require.False(t, l.Allow("c"))

	// First hit slides out of the window, the second is still inside.
	now = now.Add(25 * time.Second)
	assert.True(t, l.Allow("c"))
	assert.False(t, l.Allow("c"))
}

func TestIndependentIdentities(t *testing.T) {
	l := New(time.Minute, 1)

	require.True(t, l.Allow("a"))
	require.False(t, l.Allow("a"))
	assert.True(t, l.Allow("b"), "identities must not share a window")
}

func TestConcurrentSameIdentity(t *testing.T) {
	l := New(time.Minute, 10)

	var wg sync.WaitGroup
	admitted := make(chan struct{}, 100)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Allow("shared") {
				admitted <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(admitted)

	n := 0
	for range admitted {
		n++
	}
	assert.Equal(t, 10, n, "exactly ceiling admissions under concurrency")
}
