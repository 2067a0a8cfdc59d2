package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/atlas-desktop/fxengine/internal/market"
	"github.com/atlas-desktop/fxengine/pkg/fxtypes"
	"github.com/atlas-desktop/fxengine/pkg/pip"
	"github.com/shopspring/decimal"
)

// SimulatedConfig parameterizes deterministic fills, narrowed from the
// teacher's SlippageConfig{BaseSlippage, MaxSlippage} to the few knobs
// a deterministic backtest-style fill model needs.
type SimulatedConfig struct {
	SlippagePips    decimal.Decimal
	CommissionPerLot decimal.Decimal
	SwapPerDayLong  decimal.Decimal
	SwapPerDayShort decimal.Decimal
	PipScale        int32
}

// DefaultSimulatedConfig returns a zero-friction configuration; callers
// override fields as scenarios require.
func DefaultSimulatedConfig() SimulatedConfig {
	return SimulatedConfig{
		SlippagePips:     decimal.Zero,
		CommissionPerLot: decimal.Zero,
		SwapPerDayLong:   decimal.Zero,
		SwapPerDayShort:  decimal.Zero,
		PipScale:         100,
	}
}

// SimulatedGateway fills orders deterministically at the current
// Market View bid/ask plus configured slippage, commission, and swap —
// no network calls, no circuit breaker, suitable for scenario tests and
// dry-run operation.
type SimulatedGateway struct {
	mu       sync.Mutex
	view     *market.View
	cfg      SimulatedConfig
	equity   decimal.Decimal
	balance  decimal.Decimal
	clockNow func() time.Time
}

// NewSimulatedGateway creates a deterministic gateway reading quotes
// from view and starting with startingEquity. view may be nil at
// construction time — see AttachView — to let a caller build the
// gateway before the Engine that owns the real Market View exists.
func NewSimulatedGateway(view *market.View, cfg SimulatedConfig, startingEquity decimal.Decimal, clockNow func() time.Time) *SimulatedGateway {
	return &SimulatedGateway{
		view:     view,
		cfg:      cfg,
		equity:   startingEquity,
		balance:  startingEquity,
		clockNow: clockNow,
	}
}

// AttachView binds the Market View the gateway reads quotes from.
// Must be called before any order-facing method once view was omitted
// at construction time.
func (s *SimulatedGateway) AttachView(view *market.View) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.view = view
}

func (s *SimulatedGateway) quote() fxtypes.Tick {
	return s.view.Snapshot().Tick
}

func (s *SimulatedGateway) slippageDelta() decimal.Decimal {
	return pip.ToPrice(s.cfg.SlippagePips, pip.Scale(s.cfg.PipScale))
}

// MarketOpen fills a BUY at ask+slippage, a SELL at bid-slippage.
func (s *SimulatedGateway) MarketOpen(ctx context.Context, order OrderIntent) (FillResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q := s.quote()
	if !q.Valid() {
		return FillResult{}, fmt.Errorf("no valid quote available to open %s", order.Symbol)
	}

	delta := s.slippageDelta()
	var price decimal.Decimal
	if order.Direction == fxtypes.DirectionBuy {
		price = q.Ask.Add(delta)
	} else {
		price = q.Bid.Sub(delta)
	}

	commission := s.cfg.CommissionPerLot.Mul(order.Volume)
	s.balance = s.balance.Sub(commission)
	s.equity = s.balance

	return FillResult{
		Price:      price,
		Volume:     order.Volume,
		Commission: commission,
		At:         s.clockNow(),
	}, nil
}

// Close fills the given volume at bid (closing a BUY) or ask (closing a
// SELL), the deterministic inverse of MarketOpen.
func (s *SimulatedGateway) Close(ctx context.Context, close CloseIntent) (FillResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q := s.quote()
	if !q.Valid() {
		return FillResult{}, fmt.Errorf("no valid quote available to close %s", close.PositionID)
	}

	delta := s.slippageDelta()
	// Closing a BUY crosses the bid side; closing a SELL crosses the ask
	// side — the mirror image of MarketOpen.
	var price decimal.Decimal
	if close.Direction == fxtypes.DirectionBuy {
		price = q.Bid.Sub(delta)
	} else {
		price = q.Ask.Add(delta)
	}

	commission := s.cfg.CommissionPerLot.Mul(close.Volume)
	s.balance = s.balance.Sub(commission)
	s.equity = s.balance

	return FillResult{
		Price:      price,
		Volume:     close.Volume,
		Commission: commission,
		At:         s.clockNow(),
	}, nil
}

// ModifyStop is a no-op for the simulated gateway: stop levels are
// tracked entirely within the Position Book.
func (s *SimulatedGateway) ModifyStop(ctx context.Context, positionID string, newStopPrice decimal.Decimal) error {
	return nil
}

// AccountInfo reports the simulated account's running equity/balance.
func (s *SimulatedGateway) AccountInfo(ctx context.Context) (AccountInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return AccountInfo{Equity: s.equity, Balance: s.balance, Margin: decimal.Zero}, nil
}

// SymbolInfo reports the Market View's current quote for symbol.
func (s *SimulatedGateway) SymbolInfo(ctx context.Context, symbol string) (SymbolInfo, error) {
	q := s.quote()
	return SymbolInfo{Bid: q.Bid, Ask: q.Ask, PipScale: s.cfg.PipScale}, nil
}

// ApplyDailySwap debits/credits the simulated account for an overnight
// hold, direction-aware. The engine's scheduled jobs do not call it, so
// swap is applied only when the embedder calls it.
func (s *SimulatedGateway) ApplyDailySwap(direction fxtypes.Direction, volume decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var swap decimal.Decimal
	if direction == fxtypes.DirectionBuy {
		swap = s.cfg.SwapPerDayLong.Mul(volume)
	} else {
		swap = s.cfg.SwapPerDayShort.Mul(volume)
	}
	s.balance = s.balance.Add(swap)
	s.equity = s.balance
}
