// Package position provides the Position Book (spec §4.5): the
// authoritative in-memory set of open positions, with executed-milestone
// tracking, trailing-stop state, and realized-PnL tally. Grounded on the
// teacher's execution.OrderManager (ManagedOrder tracking via
// TrackOrder/UpdateOrderStatus) generalized from multi-exchange order
// tracking to single-symbol position tracking with a TP ladder and
// trailing stop added per spec semantics.
package position

import (
	"fmt"
	"sync"
	"time"

	"github.com/atlas-desktop/fxengine/pkg/fxtypes"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Book is the single owner of position state. All mutations go through
// the Open/PartialClose/FullClose methods below.
type Book struct {
	mu     sync.RWMutex
	logger *zap.Logger
	open   map[string]*fxtypes.Position
	closed []*fxtypes.Position
}

// New creates an empty Position Book.
func New(logger *zap.Logger) *Book {
	return &Book{
		logger: logger.Named("position-book"),
		open:   make(map[string]*fxtypes.Position),
	}
}

// Count returns the number of open positions for symbol (the engine is
// single-symbol, but the signature keeps the invariant from spec §4.5
// explicit: "at most max_positions open per symbol").
func (b *Book) Count(symbol string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := 0
	for _, p := range b.open {
		if p.Symbol == symbol {
			n++
		}
	}
	return n
}

// Open registers a newly filled position. openPrice/volume/insuranceSL
// are the gateway-confirmed fill terms.
func (b *Book) Open(symbol string, direction fxtypes.Direction, openedAt time.Time,
	openPrice, volume, insuranceSL, accountEquity float64, rule fxtypes.StructuredRule) *fxtypes.Position {

	pos := &fxtypes.Position{
		ID:                  uuid.New().String(),
		Symbol:              symbol,
		Direction:           direction,
		Status:              fxtypes.PositionOpen,
		OpenedAt:            openedAt,
		OpenPrice:           decimal.NewFromFloat(openPrice),
		VolumeInitial:       decimal.NewFromFloat(volume),
		VolumeRemaining:     decimal.NewFromFloat(volume),
		InsuranceSL:         decimal.NewFromFloat(insuranceSL),
		ExecutedTPLevels:    make(map[int]bool),
		AccountEquityAtOpen: decimal.NewFromFloat(accountEquity),
		RuleSnapshot:        rule,
	}

	b.mu.Lock()
	b.open[pos.ID] = pos
	b.mu.Unlock()

	b.logger.Info("position opened",
		zap.String("positionId", pos.ID),
		zap.String("direction", string(direction)),
		zap.Float64("price", openPrice),
		zap.Float64("volume", volume),
	)
	return pos
}

// PartialClose reduces volumeRemaining by closedVolume and marks tpLevel
// executed when non-negative. Returns an error if the position is
// unknown or the invariant 0 <= volumeRemaining would be violated.
func (b *Book) PartialClose(positionID string, closedVolume, realizedPips float64, tpLevel int) (*fxtypes.Position, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	pos, ok := b.open[positionID]
	if !ok {
		return nil, fmt.Errorf("position %s not open", positionID)
	}

	remaining := pos.VolumeRemaining.Sub(decimal.NewFromFloat(closedVolume))
	if remaining.IsNegative() {
		return nil, fmt.Errorf("invariant violation: volumeRemaining would go negative for %s", positionID)
	}

	pos.VolumeRemaining = remaining
	pos.RealizedPnLPips = pos.RealizedPnLPips.Add(decimal.NewFromFloat(realizedPips))
	if tpLevel >= 0 {
		pos.ExecutedTPLevels[tpLevel] = true
	}

	if remaining.IsZero() {
		pos.Status = fxtypes.PositionClosed
		delete(b.open, positionID)
		b.closed = append(b.closed, pos)
	}

	b.logger.Info("position partial close",
		zap.String("positionId", positionID),
		zap.Float64("closedVolume", closedVolume),
		zap.Int("tpLevel", tpLevel),
	)
	return pos, nil
}

// FullClose closes the remainder of a position at once.
func (b *Book) FullClose(positionID string, realizedPips float64) (*fxtypes.Position, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	pos, ok := b.open[positionID]
	if !ok {
		return nil, fmt.Errorf("position %s not open", positionID)
	}

	pos.RealizedPnLPips = pos.RealizedPnLPips.Add(decimal.NewFromFloat(realizedPips))
	pos.VolumeRemaining = decimal.Zero
	pos.Status = fxtypes.PositionClosed
	delete(b.open, positionID)
	b.closed = append(b.closed, pos)

	b.logger.Info("position full close", zap.String("positionId", positionID))
	return pos, nil
}

// SetTrailingStop installs or advances the trailing-stop state. Callers
// (the exit pipeline) are responsible for enforcing "never move
// adversely" before calling this.
func (b *Book) SetTrailingStop(positionID string, highWaterPips, stopPrice float64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	pos, ok := b.open[positionID]
	if !ok {
		return fmt.Errorf("position %s not open", positionID)
	}
	pos.TrailingStop = &fxtypes.TrailingStopState{
		HighWaterPips: decimal.NewFromFloat(highWaterPips),
		StopPrice:     decimal.NewFromFloat(stopPrice),
	}
	return nil
}

// Get returns a read-only copy of an open position.
func (b *Book) Get(positionID string) (fxtypes.Position, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	pos, ok := b.open[positionID]
	if !ok {
		return fxtypes.Position{}, false
	}
	return pos.Clone(), true
}

// Snapshot returns read-only copies of all open positions for symbol,
// ordered by position ID ascending (spec §5: "stable by position.id
// ascending" for same-step processing).
func (b *Book) Snapshot(symbol string) []fxtypes.Position {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]fxtypes.Position, 0, len(b.open))
	for _, p := range b.open {
		if p.Symbol == symbol {
			out = append(out, p.Clone())
		}
	}
	sortByID(out)
	return out
}

func sortByID(ps []fxtypes.Position) {
	for i := 1; i < len(ps); i++ {
		for j := i; j > 0 && ps[j].ID < ps[j-1].ID; j-- {
			ps[j], ps[j-1] = ps[j-1], ps[j]
		}
	}
}

// ClosedCount returns the number of closed positions retained (until
// acknowledged by the Event Sink; the engine retains them for this
// engine's lifetime rather than modeling sink ack round-trips).
func (b *Book) ClosedCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.closed)
}

// RecentClosed returns read-only copies of up to n most recently closed
// positions, newest first, for read-only status consumers.
func (b *Book) RecentClosed(n int) []fxtypes.Position {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if n > len(b.closed) {
		n = len(b.closed)
	}
	out := make([]fxtypes.Position, 0, n)
	for i := len(b.closed) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, b.closed[i].Clone())
	}
	return out
}
