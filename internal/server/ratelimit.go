package server

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// RateLimiter enforces per-client request rates over sliding minute and
// hour windows, plus daily request and upload quotas. A zero limit is off.
type RateLimiter struct {
	mu sync.Mutex

	perMinute  int
	perHour    int
	perDay     int
	dataPerDay int64

	clients map[string]*clientUsage
	now     func() time.Time
}

type clientUsage struct {
	hits     []time.Time // within the last hour, oldest first
	day      time.Time   // local midnight the daily counters belong to
	dayCount int
	dayBytes int64
	lastSeen time.Time
}

// Usage is a snapshot of one client's counters.
type Usage struct {
	LastMinute int
	LastHour   int
	Today      int
	BytesToday int64
}

// NewRateLimiter creates a limiter with the given limits.
func NewRateLimiter(perMinute, perHour, perDay int, dataPerDay int64) *RateLimiter {
	return &RateLimiter{
		perMinute:  perMinute,
		perHour:    perHour,
		perDay:     perDay,
		dataPerDay: dataPerDay,
		clients:    make(map[string]*clientUsage),
		now:        time.Now,
	}
}

// Allow records a request of size bytes for client, or returns a
// *RateLimitError or *QuotaExceededError without recording it.
func (rl *RateLimiter) Allow(client string, size int64) error {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	u := rl.usage(client, now)
	u.prune(now)

	if rl.perMinute > 0 {
		if n, oldest := u.since(now.Add(-time.Minute)); n >= rl.perMinute {
			return &RateLimitError{Type: "minute", Limit: rl.perMinute, RetryAfter: oldest.Add(time.Minute).Sub(now)}
		}
	}
	if rl.perHour > 0 && len(u.hits) >= rl.perHour {
		return &RateLimitError{Type: "hour", Limit: rl.perHour, RetryAfter: u.hits[0].Add(time.Hour).Sub(now)}
	}

	resets := u.day.AddDate(0, 0, 1)
	if rl.perDay > 0 && u.dayCount >= rl.perDay {
		return &QuotaExceededError{Type: "requests", Limit: int64(rl.perDay), Used: int64(u.dayCount), Resets: resets}
	}
	if rl.dataPerDay > 0 && u.dayBytes+size > rl.dataPerDay {
		return &QuotaExceededError{Type: "data", Limit: rl.dataPerDay, Used: u.dayBytes, Resets: resets}
	}

	u.hits = append(u.hits, now)
	u.dayCount++
	u.dayBytes += size
	u.lastSeen = now
	return nil
}

// Usage returns the current counters for client.
func (rl *RateLimiter) Usage(client string) Usage {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	u, ok := rl.clients[client]
	if !ok {
		return Usage{}
	}
	now := rl.now()
	u.prune(now)
	lastMinute, _ := u.since(now.Add(-time.Minute))
	return Usage{LastMinute: lastMinute, LastHour: len(u.hits), Today: u.dayCount, BytesToday: u.dayBytes}
}

// Sweep drops clients idle for longer than a day.
func (rl *RateLimiter) Sweep() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := rl.now().Add(-24 * time.Hour)
	removed := 0
	for id, u := range rl.clients {
		if u.lastSeen.Before(cutoff) {
			delete(rl.clients, id)
			removed++
		}
	}
	return removed
}

// SweepRateLimits runs Sweep every interval until ctx is done.
func (s *Server) SweepRateLimits(ctx context.Context, every time.Duration) {
	if s.rateLimiter == nil || every <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.rateLimiter.Sweep(); n > 0 {
				slog.Debug("rate limiter swept idle clients", "removed", n)
			}
		}
	}
}

func (rl *RateLimiter) usage(client string, now time.Time) *clientUsage {
	u, ok := rl.clients[client]
	if !ok {
		u = &clientUsage{day: midnight(now), lastSeen: now}
		rl.clients[client] = u
	}
	return u
}

// prune drops hits older than an hour and rolls the daily counters over.
func (u *clientUsage) prune(now time.Time) {
	cutoff := now.Add(-time.Hour)
	i := 0
	for i < len(u.hits) && !u.hits[i].After(cutoff) {
		i++
	}
	u.hits = u.hits[i:]

	if today := midnight(now); today.After(u.day) {
		u.day = today
		u.dayCount = 0
		u.dayBytes = 0
	}
}

// since counts hits after t and returns the oldest of them.
func (u *clientUsage) since(t time.Time) (int, time.Time) {
	for i, h := range u.hits {
		if h.After(t) {
			return len(u.hits) - i, h
		}
	}
	return 0, time.Time{}
}

func midnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// RateLimitError reports a request over a minute or hour limit.
type RateLimitError struct {
	Type       string // "minute" or "hour"
	Limit      int
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s (limit: %d, retry after: %v)", e.Type, e.Limit, e.RetryAfter)
}

// QuotaExceededError reports an exhausted daily quota.
type QuotaExceededError struct {
	Type   string // "requests" or "data"
	Limit  int64
	Used   int64
	Resets time.Time
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("quota exceeded for %s (used: %d, limit: %d, resets: %s)",
		e.Type, e.Used, e.Limit, e.Resets.Format(time.RFC3339))
}
