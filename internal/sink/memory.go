package sink

import (
	"sync"

	"github.com/atlas-desktop/fxengine/pkg/fxtypes"
)

// RingWriter retains the last N records for the read-only API surface
// (internal/api) to query without re-reading the JSON-lines file.
type RingWriter struct {
	mu       sync.RWMutex
	records  []fxtypes.EventRecord
	capacity int
	next     int
	full     bool
}

// NewRingWriter creates a RingWriter holding at most capacity records.
func NewRingWriter(capacity int) *RingWriter {
	if capacity <= 0 {
		capacity = 1000
	}
	return &RingWriter{records: make([]fxtypes.EventRecord, capacity), capacity: capacity}
}

func (r *RingWriter) Name() string { return "memory_ring" }

func (r *RingWriter) Write(rec fxtypes.EventRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[r.next] = rec
	r.next = (r.next + 1) % r.capacity
	if r.next == 0 {
		r.full = true
	}
	return nil
}

// Snapshot returns the retained records in ascending sequence order.
func (r *RingWriter) Snapshot() []fxtypes.EventRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if !r.full {
		out := make([]fxtypes.EventRecord, r.next)
		copy(out, r.records[:r.next])
		return out
	}

	out := make([]fxtypes.EventRecord, r.capacity)
	copy(out, r.records[r.next:])
	copy(out[r.capacity-r.next:], r.records[:r.next])
	return out
}
