// Package sink implements the Event Sink (spec §4.10): the terminal
// destination for ordered EventRecords (rule activations, entries,
// closes, escalations, emergency stops). Grounded on the teacher's
// events.EventBus worker-pool dispatch and its Stop() bounded-drain
// idiom, but deliberately diverging from it in one place: the
// teacher's Publish drops the event when the channel buffer is full
// (see event_bus.go's `default: eventsDropped.Add(1)` branch). The
// spec's ordering/no-drop invariant forbids that, so Emit here never
// discards a record — once the bounded channel is full it falls back
// to an unbounded overflow queue and the sink reports itself degraded
// until the backlog drains.
package sink

import (
	"context"
	"sync"
	"time"

	"github.com/atlas-desktop/fxengine/pkg/fxtypes"
	"go.uber.org/zap"
)

// Writer is a single fan-out destination. Implementations must not
// retain the EventRecord's payload pointers beyond the call.
type Writer interface {
	Write(rec fxtypes.EventRecord) error
	Name() string
}

// Sink is what the engine's decision pipeline calls after every state
// mutation.
type Sink interface {
	Emit(rec fxtypes.EventRecord)
	Degraded() bool
	Stop(ctx context.Context)
}

// Config tunes the bounded channel sizing.
type Config struct {
	BufferSize int
	DrainBudget time.Duration // matches the spec's 5s shutdown drain budget
}

// DefaultConfig mirrors spec §5's 5s shutdown drain budget.
func DefaultConfig() Config {
	return Config{BufferSize: 4096, DrainBudget: 5 * time.Second}
}

// EventSink is the default Sink: a single worker goroutine fans every
// record out to all configured Writers in order.
type EventSink struct {
	logger  *zap.Logger
	writers []Writer
	cfg     Config

	ch   chan fxtypes.EventRecord
	wg   sync.WaitGroup
	stop chan struct{}

	mu       sync.Mutex
	overflow []fxtypes.EventRecord
	degraded bool

	emitted  int64
	written  int64
	writeErr int64
}

// New creates an EventSink and starts its drain worker.
func New(logger *zap.Logger, cfg Config, writers ...Writer) *EventSink {
	s := &EventSink{
		logger:  logger.Named("sink"),
		writers: writers,
		cfg:     cfg,
		ch:      make(chan fxtypes.EventRecord, cfg.BufferSize),
		stop:    make(chan struct{}),
	}
	s.wg.Add(1)
	go s.worker()
	return s
}

// Emit is non-blocking from the caller's perspective (spec §4.10): a
// full channel is never a reason to drop. When the channel is full
// the record is appended to an overflow slice instead and the sink
// marks itself degraded; the worker drains the overflow ahead of new
// channel sends once it catches up.
func (s *EventSink) Emit(rec fxtypes.EventRecord) {
	s.mu.Lock()
	s.emitted++
	alreadyDegraded := s.degraded
	s.mu.Unlock()

	// While degraded, every new record must join the overflow tail
	// rather than race into a channel slot the worker just freed —
	// channel contents always predate the overflow queue, and
	// skipping ahead of them would break the single-position/global
	// sequence ordering guarantee.
	if !alreadyDegraded {
		select {
		case s.ch <- rec:
			return
		default:
		}
	}

	s.mu.Lock()
	wasDegraded := s.degraded
	s.overflow = append(s.overflow, rec)
	s.degraded = true
	s.mu.Unlock()

	if !wasDegraded {
		s.logger.Warn("sink buffer exhausted, entering degraded mode",
			zap.Int("bufferSize", s.cfg.BufferSize))
	}
}

// Degraded reports whether the sink is currently backed up. The
// engine must suppress new entries while this is true (spec §4.10):
// existing positions are still managed.
func (s *EventSink) Degraded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.degraded
}

// Stats exposes counters for internal/metrics.
func (s *EventSink) Stats() (emitted, written, writeErrors int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.emitted, s.written, s.writeErr
}

func (s *EventSink) worker() {
	defer s.wg.Done()

	for {
		// Channel contents always predate the overflow queue (Emit
		// only appends to overflow once the channel is full), so the
		// channel must fully drain before any overflow record is
		// dispatched.
		select {
		case rec := <-s.ch:
			s.dispatch(rec)
			continue
		default:
		}

		rec, ok := s.nextOverflow()
		if ok {
			s.dispatch(rec)
			continue
		}

		select {
		case rec := <-s.ch:
			s.dispatch(rec)
		case <-s.stop:
			s.drainChannel()
			return
		}
	}
}

// nextOverflow pops the oldest overflowed record, if any, and clears
// the degraded flag once the overflow and channel are both empty.
func (s *EventSink) nextOverflow() (fxtypes.EventRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.overflow) == 0 {
		return fxtypes.EventRecord{}, false
	}
	rec := s.overflow[0]
	s.overflow = s.overflow[1:]
	if len(s.overflow) == 0 && len(s.ch) == 0 {
		s.degraded = false
	}
	return rec, true
}

// drainChannel flushes whatever is still queued after Stop is
// signalled, bounded by the caller's context in Stop.
func (s *EventSink) drainChannel() {
	for {
		select {
		case rec := <-s.ch:
			s.dispatch(rec)
		default:
			s.mu.Lock()
			overflow := s.overflow
			s.overflow = nil
			s.mu.Unlock()
			for _, rec := range overflow {
				s.dispatch(rec)
			}
			return
		}
	}
}

func (s *EventSink) dispatch(rec fxtypes.EventRecord) {
	for _, w := range s.writers {
		if err := w.Write(rec); err != nil {
			s.mu.Lock()
			s.writeErr++
			s.mu.Unlock()
			s.logger.Error("sink writer failed",
				zap.String("writer", w.Name()), zap.Int64("sequence", rec.Sequence), zap.Error(err))
			continue
		}
		s.mu.Lock()
		s.written++
		s.mu.Unlock()
	}
}

// Stop signals the worker to drain remaining records and waits up to
// cfg.DrainBudget (teacher precedent: EventBus.Stop()'s
// `select { case <-done: ...; case <-time.After(5*time.Second): ...}`).
func (s *EventSink) Stop(ctx context.Context) {
	close(s.stop)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	budget := s.cfg.DrainBudget
	if budget <= 0 {
		budget = 5 * time.Second
	}

	select {
	case <-done:
		s.logger.Info("sink drained", zap.Int64("emitted", s.emitted), zap.Int64("written", s.written))
	case <-time.After(budget):
		s.logger.Warn("sink shutdown drain budget exceeded", zap.Int("overflowRemaining", len(s.overflow)))
	case <-ctx.Done():
		s.logger.Warn("sink shutdown cancelled by context")
	}
}
