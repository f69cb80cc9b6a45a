// ============================================================================
// conversa - Agente de voz
// ============================================================================
//
// Package:     cognition
// Description: Sliding-window rate limiter for outbound LLM calls
// Created:     2025-12-09
// License:     MIT
// ============================================================================

package cognition

import (
	"context"
	"sync"
	"time"
)

// RateLimitConfig configures the sliding window
type RateLimitConfig struct {
	Quota  int
	Margin int
	Window time.Duration
	Grace  time.Duration
}

// RateLimiter keeps request timestamps of the last window and holds callers
// back once quota minus margin is reached
type RateLimiter struct {
	mu        sync.Mutex
	effective int
	window    time.Duration
	grace     time.Duration
	stamps    []time.Time

	waits     uint64
	waitTotal time.Duration

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// RateLimiterStats holds limiter counters
type RateLimiterStats struct {
	Effective int           `json:"effective"`
	InWindow  int           `json:"in_window"`
	Waits     uint64        `json:"waits"`
	WaitTotal time.Duration `json:"wait_total"`
}

// NewRateLimiter creates a limiter. The effective limit is at least 1.
func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	effective := cfg.Quota - cfg.Margin
	if effective < 1 {
		effective = 1
	}
	return &RateLimiter{
		effective: effective,
		window:    cfg.Window,
		grace:     cfg.Grace,
		now:       time.Now,
		sleep:     sleepContext,
	}
}

// Effective returns quota minus margin
func (r *RateLimiter) Effective() int {
	return r.effective
}

// ShouldWait returns how long the next request has to wait
func (r *RateLimiter) ShouldWait() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.shouldWaitLocked(r.now())
}

// Wait blocks the calling goroutine until a slot is free, then records the
// request. It returns the time spent waiting.
func (r *RateLimiter) Wait(ctx context.Context) (time.Duration, error) {
	var waited time.Duration
	for {
		r.mu.Lock()
		now := r.now()
		d := r.shouldWaitLocked(now)
		if d == 0 {
			r.stamps = append(r.stamps, now)
			if waited > 0 {
				r.waits++
				r.waitTotal += waited
			}
			r.mu.Unlock()
			return waited, nil
		}
		r.mu.Unlock()

		if err := r.sleep(ctx, d); err != nil {
			return waited, err
		}
		waited += d
	}
}

// Stats returns a snapshot
func (r *RateLimiter) Stats() RateLimiterStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cleanupLocked(r.now())
	return RateLimiterStats{
		Effective: r.effective,
		InWindow:  len(r.stamps),
		Waits:     r.waits,
		WaitTotal: r.waitTotal,
	}
}

func (r *RateLimiter) shouldWaitLocked(now time.Time) time.Duration {
	r.cleanupLocked(now)
	if len(r.stamps) < r.effective {
		return 0
	}
	d := r.stamps[0].Add(r.window).Sub(now) + r.grace
	if d <= 0 {
		return r.grace
	}
	return d
}

// cleanupLocked drops timestamps that left the window
func (r *RateLimiter) cleanupLocked(now time.Time) {
	cutoff := now.Add(-r.window)
	i := 0
	for i < len(r.stamps) && !r.stamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		r.stamps = append(r.stamps[:0], r.stamps[i:]...)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
