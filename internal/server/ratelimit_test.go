package server

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock returns a limiter whose clock is advanced by the returned func.
func fakeClock(rl *RateLimiter, start time.Time) func(time.Duration) {
	now := start
	rl.now = func() time.Time { return now }
	return func(d time.Duration) { now = now.Add(d) }
}

func TestRateLimiter_NoLimits(t *testing.T) {
	rl := NewRateLimiter(0, 0, 0, 0)
	for range 50 {
		require.NoError(t, rl.Allow("user1", 100))
	}
	u := rl.Usage("user1")
	assert.Equal(t, 50, u.Today)
	assert.Equal(t, int64(5000), u.BytesToday)
}

func TestRateLimiter_PerMinuteSlidingWindow(t *testing.T) {
	rl := NewRateLimiter(2, 0, 0, 0)
	advance := fakeClock(rl, time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC))

	require.NoError(t, rl.Allow("u", 0))
	advance(20 * time.Second)
	require.NoError(t, rl.Allow("u", 0))

	err := rl.Allow("u", 0)
	var rle *RateLimitError
	require.ErrorAs(t, err, &rle)
	assert.Equal(t, "minute", rle.Type)
	assert.Equal(t, 2, rle.Limit)
	assert.Equal(t, 40*time.Second, rle.RetryAfter)

	// The first hit leaves the window, the second is still in it.
	advance(41 * time.Second)
	require.NoError(t, rl.Allow("u", 0))
	assert.Error(t, rl.Allow("u", 0))
}

func TestRateLimiter_PerHour(t *testing.T) {
	rl := NewRateLimiter(0, 3, 0, 0)
	advance := fakeClock(rl, time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC))

	for range 3 {
		require.NoError(t, rl.Allow("u", 0))
		advance(10 * time.Minute)
	}
	err := rl.Allow("u", 0)
	var rle *RateLimitError
	require.ErrorAs(t, err, &rle)
	assert.Equal(t, "hour", rle.Type)
	assert.Equal(t, 30*time.Minute, rle.RetryAfter)

	advance(31 * time.Minute)
	assert.NoError(t, rl.Allow("u", 0))
}

func TestRateLimiter_DailyQuotas(t *testing.T) {
	rl := NewRateLimiter(0, 0, 2, 1000)
	advance := fakeClock(rl, time.Date(2026, 3, 2, 22, 0, 0, 0, time.UTC))

	require.NoError(t, rl.Allow("u", 400))
	err := rl.Allow("u", 700)
	var qe *QuotaExceededError
	require.ErrorAs(t, err, &qe)
	assert.Equal(t, "data", qe.Type)
	assert.Equal(t, int64(400), qe.Used)
	assert.Equal(t, time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC), qe.Resets)

	require.NoError(t, rl.Allow("u", 100))
	err = rl.Allow("u", 0)
	require.ErrorAs(t, err, &qe)
	assert.Equal(t, "requests", qe.Type)
	assert.Equal(t, int64(2), qe.Limit)

	advance(3 * time.Hour)
	assert.NoError(t, rl.Allow("u", 900))
	assert.Equal(t, 1, rl.Usage("u").Today)
}

func TestRateLimiter_RejectedRequestsAreNotCounted(t *testing.T) {
	rl := NewRateLimiter(1, 0, 0, 0)
	require.NoError(t, rl.Allow("u", 0))
	for range 5 {
		require.Error(t, rl.Allow("u", 0))
	}
	assert.Equal(t, 1, rl.Usage("u").Today)
}

func TestRateLimiter_ClientsAreIndependent(t *testing.T) {
	rl := NewRateLimiter(1, 0, 0, 0)
	require.NoError(t, rl.Allow("a", 0))
	require.NoError(t, rl.Allow("b", 0))
	assert.Error(t, rl.Allow("a", 0))
	assert.Equal(t, Usage{}, rl.Usage("nobody"))
}

func TestRateLimiter_Sweep(t *testing.T) {
	rl := NewRateLimiter(0, 0, 0, 0)
	advance := fakeClock(rl, time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC))
	require.NoError(t, rl.Allow("old", 0))
	advance(25 * time.Hour)
	require.NoError(t, rl.Allow("fresh", 0))

	assert.Equal(t, 1, rl.Sweep())
	assert.Equal(t, Usage{}, rl.Usage("old"))
	assert.Equal(t, 1, rl.Usage("fresh").Today)
}

func TestServer_SweepRateLimitsStopsWithContext(t *testing.T) {
	s := &Server{rateLimiter: NewRateLimiter(1, 0, 0, 0)}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.SweepRateLimits(ctx, time.Millisecond)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper did not stop")
	}

	// Without a limiter it returns immediately.
	(&Server{}).SweepRateLimits(context.Background(), time.Millisecond)
}

func TestErrorMessages(t *testing.T) {
	rle := &RateLimitError{Type: "minute", Limit: 5, RetryAfter: 10 * time.Second}
	assert.Contains(t, rle.Error(), "minute")
	assert.Contains(t, rle.Error(), "limit: 5")

	qe := &QuotaExceededError{Type: "data", Limit: 10, Used: 8, Resets: time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)}
	assert.Contains(t, qe.Error(), "used: 8")
	assert.Contains(t, qe.Error(), "2026-01-02T00:00:00Z")
}
