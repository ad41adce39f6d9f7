package engine

import (
	"container/heap"
	"time"
)

// deadlineEntry schedules one re-evaluation of a pool at a given instant.
type deadlineEntry struct {
	at     time.Time
	poolID string
}

// deadlineHeap is a min-heap ordered by deadline so Tick only touches pools
// that are actually due, instead of scanning every open pool. Entries may be
// stale: processing always re-derives from persisted pool state, so a
// duplicate or out-of-date entry is harmless.
type deadlineHeap []deadlineEntry

func (h deadlineHeap) Len() int            { return len(h) }
func (h deadlineHeap) Less(i, j int) bool  { return h[i].at.Before(h[j].at) }
func (h deadlineHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *deadlineHeap) Push(x any)         { *h = append(*h, x.(deadlineEntry)) }
func (h *deadlineHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	*h = old[:n-1]
	return e
}

// schedule adds a deadline for a pool. Caller must hold m.mu.
func (m *Manager) schedule(at time.Time, poolID string) {
	heap.Push(&m.deadlines, deadlineEntry{at: at, poolID: poolID})
}

// due pops every entry with a deadline at or before now and returns the pool
// IDs, deduplicated. Caller must hold m.mu.
func (m *Manager) due(now time.Time) []string {
	seen := make(map[string]bool)
	var ids []string
	for m.deadlines.Len() > 0 && !m.deadlines[0].at.After(now) {
		e := heap.Pop(&m.deadlines).(deadlineEntry)
		if !seen[e.poolID] {
			seen[e.poolID] = true
			ids = append(ids, e.poolID)
		}
	}
	return ids
}
