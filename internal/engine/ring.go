package engine

import (
	"sync"

	"gcbbot/internal/core"
)

// ringCapacity bounds the advisory in-memory activity buffer. The durable
// activity log in storage is the audit source of truth; the ring only
// serves fast recent-activity reads without a storage round trip.
const ringCapacity = 500

// activityRing is a fixed-capacity, newest-first buffer of log entries.
type activityRing struct {
	mu      sync.RWMutex
	entries []*core.ActivityEntry
	next    int
	full    bool
}

func newActivityRing() *activityRing {
	return &activityRing{entries: make([]*core.ActivityEntry, ringCapacity)}
}

func (r *activityRing) add(e *core.ActivityEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[r.next] = e
	r.next = (r.next + 1) % ringCapacity
	if r.next == 0 {
		r.full = true
	}
}

// recent returns up to limit entries, newest first.
func (r *activityRing) recent(limit int) []*core.ActivityEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	size := r.next
	if r.full {
		size = ringCapacity
	}
	if limit <= 0 || limit > size {
		limit = size
	}

	out := make([]*core.ActivityEntry, 0, limit)
	for i := 1; i <= limit; i++ {
		idx := (r.next - i + ringCapacity) % ringCapacity
		out = append(out, r.entries[idx])
	}
	return out
}
