package sink_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/atlas-desktop/fxengine/internal/sink"
	"github.com/atlas-desktop/fxengine/pkg/fxtypes"
	"go.uber.org/zap"
)

type countingWriter struct {
	mu   sync.Mutex
	seen []int64
}

func (c *countingWriter) Name() string { return "counting" }

func (c *countingWriter) Write(rec fxtypes.EventRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seen = append(c.seen, rec.Sequence)
	return nil
}

func (c *countingWriter) sequences() []int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]int64, len(c.seen))
	copy(out, c.seen)
	return out
}

func TestEventSinkPreservesOrderUnderBackpressure(t *testing.T) {
	w := &countingWriter{}
	s := sink.New(zap.NewNop(), sink.Config{BufferSize: 2, DrainBudget: time.Second}, w)

	const n = 50
	for i := int64(0); i < n; i++ {
		s.Emit(fxtypes.EventRecord{Sequence: i, Kind: fxtypes.EventEntryExecuted})
	}

	s.Stop(context.Background())

	got := w.sequences()
	if len(got) != n {
		t.Fatalf("expected %d records written, got %d", n, len(got))
	}
	for i, seq := range got {
		if seq != int64(i) {
			t.Fatalf("out-of-order record at index %d: expected sequence %d, got %d", i, i, seq)
		}
	}
}

func TestEventSinkReportsDegradedUnderBackpressure(t *testing.T) {
	block := make(chan struct{})
	blocking := writerFunc(func(rec fxtypes.EventRecord) error {
		<-block
		return nil
	})

	s := sink.New(zap.NewNop(), sink.Config{BufferSize: 1, DrainBudget: time.Second}, blocking)

	for i := int64(0); i < 10; i++ {
		s.Emit(fxtypes.EventRecord{Sequence: i})
	}

	if !s.Degraded() {
		t.Fatal("expected sink to report degraded once its buffer is exhausted")
	}

	close(block)
	s.Stop(context.Background())
}

type writerFunc func(rec fxtypes.EventRecord) error

func (f writerFunc) Name() string                          { return "blocking" }
func (f writerFunc) Write(rec fxtypes.EventRecord) error { return f(rec) }

func TestRingWriterSnapshotWrapsInOrder(t *testing.T) {
	r := sink.NewRingWriter(3)
	for i := int64(0); i < 5; i++ {
		_ = r.Write(fxtypes.EventRecord{Sequence: i})
	}

	got := r.Snapshot()
	if len(got) != 3 {
		t.Fatalf("expected ring capacity of 3 retained records, got %d", len(got))
	}
	want := []int64{2, 3, 4}
	for i, rec := range got {
		if rec.Sequence != want[i] {
			t.Fatalf("index %d: expected sequence %d, got %d", i, want[i], rec.Sequence)
		}
	}
}
