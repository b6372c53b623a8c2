// Package exchange implements the signed REST clients for the two spot
// venues, the shared server-clock synchronization, and batched order
// operations.
package exchange

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// resyncAfter is how stale the clock offset may get before the next signed
// call triggers a transparent resync.
const resyncAfter = 30 * time.Second

// Clock tracks the offset between the venue clock and the local clock.
// Single writer at resync, multi-reader at sign time; reads are lock-free.
type Clock struct {
	fetch    func(ctx context.Context) (int64, error) // venue /time in epoch ms
	now      func() time.Time
	offsetMs atomic.Int64
	syncedAt atomic.Int64 // local epoch ms of the last successful sync
	mu       sync.Mutex   // serializes resyncs
}

// NewClock creates a clock backed by the given venue time fetcher.
func NewClock(fetch func(ctx context.Context) (int64, error)) *Clock {
	return &Clock{fetch: fetch, now: time.Now}
}

// NowMilli returns the current venue time in epoch milliseconds, resyncing
// first when the offset is older than resyncAfter.
func (c *Clock) NowMilli(ctx context.Context) (int64, error) {
	local := c.now().UnixMilli()
	if local-c.syncedAt.Load() > resyncAfter.Milliseconds() {
		if err := c.Resync(ctx); err != nil {
			return 0, err
		}
		local = c.now().UnixMilli()
	}
	return local + c.offsetMs.Load(), nil
}

// Resync fetches the venue clock and swaps the offset atomically.
func (c *Clock) Resync(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	server, err := c.fetch(ctx)
	if err != nil {
		return err
	}
	local := c.now().UnixMilli()
	c.offsetMs.Store(server - local)
	c.syncedAt.Store(local)
	return nil
}

// OffsetMilli returns the last computed server-minus-local offset.
func (c *Clock) OffsetMilli() int64 { return c.offsetMs.Load() }

// Warnings rate-limits repeated warning logs, replacing the legacy
// "first error logged" globals with an explicit value type.
type Warnings struct {
	every  time.Duration
	lastAt atomic.Int64
}

// NewWarnings allows one warning per interval.
func NewWarnings(every time.Duration) *Warnings {
	return &Warnings{every: every}
}

// Allow reports whether a warning may be emitted now.
func (w *Warnings) Allow() bool {
	now := time.Now().UnixNano()
	last := w.lastAt.Load()
	if now-last < w.every.Nanoseconds() {
		return false
	}
	return w.lastAt.CompareAndSwap(last, now)
}
