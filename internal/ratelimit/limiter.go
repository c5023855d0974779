// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Revora Contributors

// Package ratelimit implements fixed-window request counting keyed by
// client identity.
package ratelimit

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/oops"
)

// Result reports the outcome of an Admit call.
type Result struct {
	// Count is the number of requests observed in the current window,
	// this one included.
	Count int

	// Limit echoes the limiter's configured ceiling.
	Limit int

	// ResetAt is when the current window closes.
	ResetAt time.Time

	// Allowed is false once Count exceeds Limit.
	Allowed bool
}

// Remaining returns the requests left in the window, never negative.
func (r Result) Remaining() int {
	if r.Count >= r.Limit {
		return 0
	}
	return r.Limit - r.Count
}

// RetryAfter returns how long a rejected caller should wait, rounded up
// to a whole second and never below one second.
func (r Result) RetryAfter(now time.Time) time.Duration {
	d := r.ResetAt.Sub(now)
	if d <= 0 {
		return time.Second
	}
	rounded := d.Truncate(time.Second)
	if rounded < d {
		rounded += time.Second
	}
	return rounded
}

// window is the per-key counter state.
type window struct {
	count   int
	resetAt time.Time
}

// Limiter counts requests per key within non-overlapping windows. Stale
// windows are not swept; a call at or after resetAt lazily replaces the
// window, so memory is bounded by the number of distinct active keys.
// Safe for concurrent use.
type Limiter struct {
	mu      sync.Mutex
	windows map[string]*window
	limit   int
	period  time.Duration

	// now is read once per Admit so a window decision uses a single
	// observation of the clock.
	now func() time.Time

	// keyGauge tracks the live window map size (nil without a registry).
	keyGauge prometheus.Gauge
}

// New creates a Limiter admitting up to limit requests per period per key.
// Invalid configuration is a construction-time error.
func New(limit int, period time.Duration) (*Limiter, error) {
	return newLimiter(limit, period, nil)
}

// NewWithRegistry creates a Limiter and registers a gauge for the number
// of tracked keys with the provided Prometheus registry.
func NewWithRegistry(limit int, period time.Duration, reg prometheus.Registerer) (*Limiter, error) {
	return newLimiter(limit, period, reg)
}

func newLimiter(limit int, period time.Duration, reg prometheus.Registerer) (*Limiter, error) {
	if limit <= 0 {
		return nil, oops.Code("RATELIMIT_INVALID_LIMIT").
			With("limit", limit).
			Errorf("limit must be positive")
	}
	if period <= 0 {
		return nil, oops.Code("RATELIMIT_INVALID_WINDOW").
			With("window", period.String()).
			Errorf("window must be positive")
	}

	l := &Limiter{
		windows: make(map[string]*window),
		limit:   limit,
		period:  period,
		now:     time.Now,
	}

	if reg != nil {
		l.keyGauge = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "revora_ratelimit_tracked_keys",
			Help: "Current number of keys with an open rate-limit window",
		})
		reg.MustRegister(l.keyGauge)
	}

	return l, nil
}

// Admit records one request for key and reports whether it is within the
// limit. The first touch of a key, and any touch at or after the window's
// resetAt, opens a fresh window with count 1.
func (l *Limiter) Admit(key string) Result {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[key]
	if !ok || !now.Before(w.resetAt) {
		w = &window{count: 0, resetAt: now.Add(l.period)}
		l.windows[key] = w
	}
	w.count++

	if l.keyGauge != nil {
		l.keyGauge.Set(float64(len(l.windows)))
	}

	return Result{
		Count:   w.count,
		Limit:   l.limit,
		ResetAt: w.resetAt,
		Allowed: w.count <= l.limit,
	}
}

// Len returns the number of tracked keys. Useful for tests and monitoring.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}
