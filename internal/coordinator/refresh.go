// Package coordinator implements the Refresh coordinator (spec §4.5):
// the entry point driven by the FaaS runtime that signals the Target
// Manager to refresh and waits for every long-poll/bi-stream reader it
// woke up to acknowledge, optionally behind a cooldown.
package coordinator

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Refresher is the subset of manager.Manager the coordinator depends on;
// defined here rather than importing the concrete type so tests can
// substitute a fake cycle without a running event loop.
type Refresher interface {
	Refresh(ctx context.Context) (<-chan struct{}, error)
}

// Coordinator is the single process-wide C5 singleton (spec §9's "three
// process-wide singletons": Target Manager, Coordinator, Provider).
type Coordinator struct {
	refresher Refresher
	cooldown  time.Duration
	delay     time.Duration
	log       *slog.Logger

	mu   sync.Mutex
	last time.Time
}

// New builds a Coordinator. cooldown is the minimum gap between two
// refresh triggers (spec §6 COOLDOWN_MS, default 0 = no cooldown); delay
// is the post-refresh grace sleep (spec §6 DELAY_MS, default 10ms).
func New(refresher Refresher, cooldown, delay time.Duration, log *slog.Logger) *Coordinator {
	if log == nil {
		log = slog.Default()
	}
	return &Coordinator{refresher: refresher, cooldown: cooldown, delay: delay, log: log}
}

// Trigger runs one refresh cycle, per spec §4.5. It is safe to call
// concurrently from both the extension-event path and the runtime-proxy
// path; the cooldown check and the last-refresh timestamp update are
// serialized so that when both triggers fire for one invocation within
// the cooldown, only the first actually refreshes. With a zero cooldown
// every trigger refreshes.
func (c *Coordinator) Trigger(ctx context.Context) error {
	if !c.claim() {
		c.log.Debug("refresh suppressed by cooldown")
		return nil
	}

	changes, err := c.refresher.Refresh(ctx)
	if err != nil {
		return err
	}

	changed := false
	for range changes {
		changed = true
	}

	if changed {
		c.log.Debug("refresh cycle drained with changes, sleeping before returning", slog.Duration("delay", c.delay))
		select {
		case <-time.After(c.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	} else {
		c.log.Debug("refresh cycle drained with no changes")
	}
	return nil
}

// claim reports whether enough time has elapsed since the last refresh
// to proceed, and if so, stamps the new last-refresh time eagerly (before
// the refresh itself completes) so a second trigger arriving mid-refresh
// is also suppressed rather than racing in.
func (c *Coordinator) claim() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cooldown > 0 && !c.last.IsZero() {
		if time.Since(c.last) < c.cooldown {
			return false
		}
	}
	c.last = time.Now()
	return true
}
