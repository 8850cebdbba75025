// Package clock keeps the simulated calendar date of one process.
//
// The date moves forward one day per tick of a background loop and jumps
// ahead whenever a peer's timestamp shows a later date, so a process never
// sees a message from its own future.
package clock

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"grantfed/internal/metrics"
	"grantfed/internal/types"
)

type Config struct {
	MinTick time.Duration
	MaxTick time.Duration
}

type Clock struct {
	mu      sync.Mutex
	current types.Date

	minTick time.Duration
	maxTick time.Duration
}

func New(start types.Date, cfg Config) *Clock {
	if cfg.MinTick <= 0 {
		cfg.MinTick = 4 * time.Second
	}
	if cfg.MaxTick < cfg.MinTick {
		cfg.MaxTick = cfg.MinTick
	}
	return &Clock{
		current: start,
		minTick: cfg.MinTick,
		maxTick: cfg.MaxTick,
	}
}

func (c *Clock) Now() types.Date {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Advance moves the date forward by one day.
func (c *Clock) Advance() types.Date {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.current.AddDays(1)
	return c.current
}

// Reconcile parses a peer timestamp and applies ReconcileDate. A malformed
// timestamp leaves the clock untouched.
func (c *Clock) Reconcile(peer string) error {
	d, err := types.ParseDate(peer)
	if err != nil {
		return fmt.Errorf("reconcile: %w", err)
	}
	c.ReconcileDate(d)
	return nil
}

// ReconcileDate moves the clock to peer+1 day when peer is strictly ahead.
// It reports whether the clock moved.
func (c *Clock) ReconcileDate(peer types.Date) bool {
	if peer.IsZero() {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.current.Before(peer) {
		return false
	}

	prev := c.current
	c.current = peer.AddDays(1)
	metrics.ClockReconciliationsTotal.Inc()
	slog.Debug("clock reconciled", "from", prev, "peer", peer, "to", c.current)
	return true
}

// Run advances the clock at a random interval in [MinTick, MaxTick] until
// ctx is cancelled.
func (c *Clock) Run(ctx context.Context) {
	timer := time.NewTimer(c.nextInterval())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			now := c.Advance()
			slog.Debug("clock tick", "date", now)
			timer.Reset(c.nextInterval())
		}
	}
}

func (c *Clock) nextInterval() time.Duration {
	span := c.maxTick - c.minTick
	if span <= 0 {
		return c.minTick
	}
	return c.minTick + rand.N(span+1)
}
