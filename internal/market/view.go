// Package market provides the Market View (spec §4.2): the immutable
// most-recent snapshot of tick, per-timeframe OHLC windows, and the
// indicator vector. Single-writer (the ingest path); readers obtain a
// consistent point-in-time Snapshot via an atomic pointer swap,
// grounded on the atomic-state idiom used throughout the teacher's
// events.EventBus and workers.Pool.
package market

import (
	"sync/atomic"
	"time"

	"github.com/atlas-desktop/fxengine/pkg/fxtypes"
)

// Staleness describes whether the last tick is fresh enough to trade on.
type Staleness int

const (
	Fresh Staleness = iota
	Stale
)

// Snapshot is an immutable point-in-time view of the market.
type Snapshot struct {
	Tick       fxtypes.Tick
	TickAt     time.Time
	Bars       map[fxtypes.Timeframe][]fxtypes.OhlcBar // newest last
	Indicators fxtypes.IndicatorVector
}

// LatestBar returns the most recent closed bar for tf, if any.
func (s *Snapshot) LatestBar(tf fxtypes.Timeframe) (fxtypes.OhlcBar, bool) {
	bars := s.Bars[tf]
	if len(bars) == 0 {
		return fxtypes.OhlcBar{}, false
	}
	return bars[len(bars)-1], true
}

// RecentBars returns up to n most recent closed bars for tf, oldest first.
func (s *Snapshot) RecentBars(tf fxtypes.Timeframe, n int) []fxtypes.OhlcBar {
	bars := s.Bars[tf]
	if len(bars) <= n {
		return bars
	}
	return bars[len(bars)-n:]
}

// View owns the single current Snapshot and staleness policy.
type View struct {
	staleAfter time.Duration
	clockNow   func() time.Time

	current atomic.Pointer[Snapshot]
}

// New creates a Market View. clockNow supplies "now" for staleness
// checks, decoupling the view from any particular clock mode.
func New(staleAfter time.Duration, clockNow func() time.Time) *View {
	v := &View{staleAfter: staleAfter, clockNow: clockNow}
	v.current.Store(&Snapshot{
		Bars: make(map[fxtypes.Timeframe][]fxtypes.OhlcBar),
	})
	return v
}

// Snapshot returns a read-only pointer to the current state. The
// returned value is never mutated in place; updates always install a
// new *Snapshot.
func (v *View) Snapshot() *Snapshot {
	return v.current.Load()
}

// UpdateTick atomically replaces the current tick. Duplicate ticks
// (same time/bid/ask) and out-of-order ticks are the ingest callback's
// responsibility to filter (spec §6); UpdateTick assumes a valid,
// monotonic tick.
func (v *View) UpdateTick(t fxtypes.Tick) {
	prev := v.current.Load()
	next := &Snapshot{
		Tick:       t,
		TickAt:     t.Time,
		Bars:       prev.Bars,
		Indicators: prev.Indicators,
	}
	v.current.Store(next)
}

// UpdateBar appends a newly closed bar for tf (or rewrites the trailing
// unclosed bar when bar.Time matches the current last bar), evicting to
// the timeframe's configured retention window.
func (v *View) UpdateBar(tf fxtypes.Timeframe, bar fxtypes.OhlcBar) {
	prev := v.current.Load()
	bars := append([]fxtypes.OhlcBar(nil), prev.Bars[tf]...)

	if n := len(bars); n > 0 && bars[n-1].Time.Equal(bar.Time) {
		bars[n-1] = bar
	} else {
		bars = append(bars, bar)
	}

	if max := tf.RingSize(); len(bars) > max {
		bars = bars[len(bars)-max:]
	}

	nextBars := make(map[fxtypes.Timeframe][]fxtypes.OhlcBar, len(prev.Bars)+1)
	for k, v := range prev.Bars {
		nextBars[k] = v
	}
	nextBars[tf] = bars

	next := &Snapshot{
		Tick:       prev.Tick,
		TickAt:     prev.TickAt,
		Bars:       nextBars,
		Indicators: prev.Indicators,
	}
	v.current.Store(next)
}

// UpdateIndicators replaces the indicator vector in bulk.
func (v *View) UpdateIndicators(ind fxtypes.IndicatorVector) {
	prev := v.current.Load()
	next := &Snapshot{
		Tick:       prev.Tick,
		TickAt:     prev.TickAt,
		Bars:       prev.Bars,
		Indicators: ind,
	}
	v.current.Store(next)
}

// Staleness reports whether the last tick age exceeds the configured
// threshold. Layer-1 must still run on any tick that does arrive even
// when Staleness reports Stale for entries (spec §4.2).
func (v *View) Staleness() Staleness {
	snap := v.current.Load()
	if snap.TickAt.IsZero() {
		return Stale
	}
	if v.clockNow().Sub(snap.TickAt) > v.staleAfter {
		return Stale
	}
	return Fresh
}
