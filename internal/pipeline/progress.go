package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"
)

// ProgressCallback receives progress of a multi-run operation.
type ProgressCallback interface {
	OnStart(total int)
	OnProgress(current, total int)
	OnComplete()
	OnError(index int, err error)
}

// NoOpProgressCallback discards all progress.
type NoOpProgressCallback struct{}

func (NoOpProgressCallback) OnStart(int)         {}
func (NoOpProgressCallback) OnProgress(int, int) {}
func (NoOpProgressCallback) OnComplete()         {}
func (NoOpProgressCallback) OnError(int, error)  {}

// ConsoleProgressCallback draws a single updating progress line.
type ConsoleProgressCallback struct {
	mu       sync.Mutex
	w        io.Writer
	label    string
	barWidth int
	every    time.Duration
	started  time.Time
	drawn    time.Time
	failures int
}

// NewConsoleProgressCallback writes to w, or stderr when w is nil.
func NewConsoleProgressCallback(w io.Writer, label string) *ConsoleProgressCallback {
	if w == nil {
		w = os.Stderr
	}
	return &ConsoleProgressCallback{w: w, label: label, barWidth: 30, every: 100 * time.Millisecond}
}

// WithWidth sets the bar width in characters.
func (c *ConsoleProgressCallback) WithWidth(n int) *ConsoleProgressCallback {
	if n > 0 {
		c.barWidth = n
	}
	return c
}

// WithUpdateInterval sets the minimum time between redraws.
func (c *ConsoleProgressCallback) WithUpdateInterval(d time.Duration) *ConsoleProgressCallback {
	c.every = d
	return c
}

func (c *ConsoleProgressCallback) OnStart(total int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.started = time.Now()
	c.drawn = time.Time{}
	c.failures = 0
	_, _ = fmt.Fprintf(c.w, "%s0/%d\n", c.label, total)
}

func (c *ConsoleProgressCallback) OnProgress(current, total int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	if current < total && now.Sub(c.drawn) < c.every {
		return
	}
	c.drawn = now
	if total <= 0 {
		return
	}
	filled := min(c.barWidth*current/total, c.barWidth)
	line := fmt.Sprintf("\r%s[%s%s] %d/%d", c.label,
		strings.Repeat("#", filled), strings.Repeat(".", c.barWidth-filled), current, total)
	if elapsed := now.Sub(c.started).Seconds(); elapsed > 0 && current > 0 {
		line += fmt.Sprintf(" %.1f/s", float64(current)/elapsed)
	}
	if c.failures > 0 {
		line += fmt.Sprintf(" (%d failed)", c.failures)
	}
	_, _ = fmt.Fprint(c.w, line)
}

func (c *ConsoleProgressCallback) OnComplete() {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, _ = fmt.Fprintf(c.w, "\n%sdone in %v\n", c.label, time.Since(c.started).Round(time.Millisecond))
}

func (c *ConsoleProgressCallback) OnError(index int, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures++
	_, _ = fmt.Fprintf(c.w, "\n%sjob %d failed: %v\n", c.label, index, err)
}

// LogProgressCallback reports progress through slog every interval items.
type LogProgressCallback struct {
	mu       sync.Mutex
	logger   *slog.Logger
	level    slog.Level
	interval int
	last     int
	started  time.Time
}

// NewLogProgressCallback logs with logger, or slog.Default when nil.
func NewLogProgressCallback(logger *slog.Logger, level slog.Level) *LogProgressCallback {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogProgressCallback{logger: logger, level: level, interval: 10}
}

// WithInterval logs every n completed items.
func (l *LogProgressCallback) WithInterval(n int) *LogProgressCallback {
	if n > 0 {
		l.interval = n
	}
	return l
}

func (l *LogProgressCallback) OnStart(total int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.started = time.Now()
	l.last = 0
	l.logger.Log(context.Background(), l.level, "runs started", "total", total)
}

func (l *LogProgressCallback) OnProgress(current, total int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if current-l.last < l.interval && current != total {
		return
	}
	l.last = current
	l.logger.Log(context.Background(), l.level, "runs progress",
		"current", current,
		"total", total,
		"elapsed_ms", time.Since(l.started).Milliseconds())
}

func (l *LogProgressCallback) OnComplete() {
	l.logger.Log(context.Background(), l.level, "runs complete",
		"duration_ms", time.Since(l.started).Milliseconds())
}

func (l *LogProgressCallback) OnError(index int, err error) {
	l.logger.Error("run failed", "index", index, "error", err)
}

// MultiProgressCallback fans progress out to several callbacks.
type MultiProgressCallback []ProgressCallback

func (m MultiProgressCallback) OnStart(total int) {
	for _, cb := range m {
		cb.OnStart(total)
	}
}

func (m MultiProgressCallback) OnProgress(current, total int) {
	for _, cb := range m {
		cb.OnProgress(current, total)
	}
}

func (m MultiProgressCallback) OnComplete() {
	for _, cb := range m {
		cb.OnComplete()
	}
}

func (m MultiProgressCallback) OnError(index int, err error) {
	for _, cb := range m {
		cb.OnError(index, err)
	}
}
