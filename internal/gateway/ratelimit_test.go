package gateway

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type manualClock struct{ t time.Time }

func (c *manualClock) now() time.Time          { return c.t }
func (c *manualClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestLimiter() (*authRateLimiter, *manualClock) {
	clock := &manualClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	return newAuthRateLimiter(clock.now), clock
}

func TestAuthRateLimiter_BlocksAfterMaxFailures(t *testing.T) {
	limiter, _ := newTestLimiter()
	assert.True(t, limiter.allow("192.168.1.1:12345"))

	for range authRateMaxFails - 1 {
		limiter.recordFailure("192.168.1.1:12345")
	}
	assert.True(t, limiter.allow("192.168.1.1:12345"))

	limiter.recordFailure("192.168.1.1:12345")
	assert.False(t, limiter.allow("192.168.1.1:12345"))
	// The port does not matter.
	assert.False(t, limiter.allow("192.168.1.1:999"))
	assert.True(t, limiter.allow("192.168.1.2:12345"))
}

func TestAuthRateLimiter_IPWithoutPort(t *testing.T) {
	limiter, _ := newTestLimiter()
	for range authRateMaxFails {
		limiter.recordFailure("192.168.1.1")
	}
	assert.False(t, limiter.allow("192.168.1.1"))
}

func TestAuthRateLimiter_FailuresExpire(t *testing.T) {
	limiter, clock := newTestLimiter()
	for range authRateMaxFails {
		limiter.recordFailure("10.0.0.1:1")
	}
	require.False(t, limiter.allow("10.0.0.1:1"))

	clock.advance(authRateWindow + time.Second)
	assert.True(t, limiter.allow("10.0.0.1:1"))

	limiter.mu.Lock()
	defer limiter.mu.Unlock()
	assert.Empty(t, limiter.failures)
}

func TestAuthRateLimiter_Sweep(t *testing.T) {
	limiter, clock := newTestLimiter()
	limiter.recordFailure("10.0.0.1:1")
	clock.advance(authRateWindow / 2)
	limiter.recordFailure("10.0.0.2:1")
	clock.advance(authRateWindow/2 + time.Second)

	limiter.sweep()

	limiter.mu.Lock()
	defer limiter.mu.Unlock()
	assert.NotContains(t, limiter.failures, "10.0.0.1")
	assert.Len(t, limiter.failures["10.0.0.2"], 1)
}

func TestAuthRateLimiter_EvictsOldestAtCapacity(t *testing.T) {
	limiter, clock := newTestLimiter()
	for i := range authRateMaxIPs {
		limiter.failures[fmt.Sprintf("host-%d", i)] = []time.Time{clock.now().Add(time.Duration(i) * time.Millisecond)}
	}

	limiter.recordFailure("newcomer:1")

	assert.Len(t, limiter.failures, authRateMaxIPs)
	assert.NotContains(t, limiter.failures, "host-0")
	assert.Contains(t, limiter.failures, "newcomer")
}

func TestAuthRateLimiter_RunStopsWithContext(t *testing.T) {
	limiter, _ := newTestLimiter()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		limiter.run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("run did not return after cancel")
	}
}
