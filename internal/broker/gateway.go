// Package broker provides the Broker Gateway (spec §4.6): the boundary
// between the engine's decisions and order execution, with a Live
// implementation (retry + circuit breaker wrapped transport) and a
// Simulated implementation (deterministic fills) behind one interface.
// Grounded on the teacher's execution.Executor / ExchangeAdapter split:
// Gateway here plays the ExchangeAdapter role, narrowed from
// multi-exchange crypto trading to a single FX broker connection.
package broker

import (
	"context"
	"time"

	"github.com/atlas-desktop/fxengine/pkg/fxtypes"
	"github.com/shopspring/decimal"
)

// OrderIntent is what the engine asks the gateway to execute.
type OrderIntent struct {
	Symbol    string
	Direction fxtypes.Direction
	Volume    decimal.Decimal
}

// CloseIntent is a full or partial close request against an open position.
type CloseIntent struct {
	PositionID string
	Symbol     string
	Direction  fxtypes.Direction // the position's direction, so the gateway can cross the correct side
	Volume     decimal.Decimal   // volume to close; full position volume for a full close
}

// FillResult is the broker-confirmed outcome of an open or close request.
type FillResult struct {
	Price      decimal.Decimal
	Volume     decimal.Decimal
	Commission decimal.Decimal
	Swap       decimal.Decimal
	At         time.Time
}

// AccountInfo is the broker-reported account state used for risk sizing
// and emergency drawdown checks.
type AccountInfo struct {
	Equity  decimal.Decimal
	Balance decimal.Decimal
	Margin  decimal.Decimal
}

// SymbolInfo is the broker-reported current quote and pip scale for a symbol.
type SymbolInfo struct {
	Bid      decimal.Decimal
	Ask      decimal.Decimal
	PipScale int32
}

// Gateway is the execution boundary the engine depends on. Both
// implementations (Live, Simulated) satisfy it identically so the rest
// of the engine never branches on execution mode.
type Gateway interface {
	MarketOpen(ctx context.Context, order OrderIntent) (FillResult, error)
	Close(ctx context.Context, close CloseIntent) (FillResult, error)
	ModifyStop(ctx context.Context, positionID string, newStopPrice decimal.Decimal) error
	AccountInfo(ctx context.Context) (AccountInfo, error)
	SymbolInfo(ctx context.Context, symbol string) (SymbolInfo, error)
}
