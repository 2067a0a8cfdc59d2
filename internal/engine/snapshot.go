package engine

import (
	"time"

	"github.com/atlas-desktop/fxengine/internal/evaluator"
	"github.com/atlas-desktop/fxengine/internal/market"
	"github.com/atlas-desktop/fxengine/pkg/fxtypes"
	"github.com/atlas-desktop/fxengine/pkg/pip"
	"github.com/shopspring/decimal"
)

func decimal100() decimal.Decimal { return decimal.NewFromInt(100) }

// positionSnapshot projects a Position and the current market state
// into the stable wire shape the advisory oracle consumes (spec §4.9,
// §6). The oracle never sees the full Position or StructuredRule.
func positionSnapshot(pos fxtypes.Position, snap *market.Snapshot, scale pip.Scale, now time.Time) fxtypes.PositionSnapshot {
	isBuy := pos.Direction == fxtypes.DirectionBuy
	price := snap.Tick.Mid()
	unrealizedPips := pip.ForDirectionGain(isBuy, pos.OpenPrice, price, scale)

	var unrealizedPct = unrealizedPips
	if pos.AccountEquityAtOpen.IsPositive() {
		unrealizedPct = pip.ToPrice(unrealizedPips, scale).Mul(pos.VolumeRemaining).Div(pos.AccountEquityAtOpen).Mul(decimal100())
	}

	m15Bars := snap.RecentBars(fxtypes.TimeframeM15, 15)
	var recent fxtypes.RecentIndicators
	if h1, ok := snap.Indicators.For(fxtypes.TimeframeH1); ok {
		recent.RsiH1 = h1.RSI.Value
		recent.MacdH1Histogram = h1.MACD.Histogram
		recent.EmaH1Alignment = emaAlignment(h1)
	}

	return fxtypes.PositionSnapshot{
		PositionID:       pos.ID,
		Symbol:           pos.Symbol,
		Direction:        pos.Direction,
		OpenPrice:        pos.OpenPrice,
		OpenTime:         pos.OpenedAt,
		CurrentPrice:     price,
		UnrealizedPips:   unrealizedPips,
		UnrealizedPct:    unrealizedPct,
		HoldingMinutes:   now.Sub(pos.OpenedAt).Minutes(),
		RecentIndicators: recent,
		LastBarsM15:      m15Bars,
	}
}

func emaAlignment(ind fxtypes.TimeframeIndicators) string {
	switch {
	case ind.EMA20.Value > ind.EMA50.Value:
		return "bullish"
	case ind.EMA20.Value < ind.EMA50.Value:
		return "bearish"
	default:
		return "flat"
	}
}

// advisoryExitDecision adapts a close_partial Verdict into the exit
// pipeline's ExitDecision shape so the advisory path reuses the same
// partialClose bookkeeping as the rule-driven exit path.
func advisoryExitDecision(v fxtypes.Verdict) evaluator.ExitDecision {
	return evaluator.ExitDecision{
		Action:       evaluator.ExitPartial,
		Reason:       "advisory_" + v.Reason,
		ClosePercent: v.PartialClosePct,
		TPLevelIndex: -1,
	}
}

// tightenedStopPrice converts a tighten_stop verdict's pip distance
// into an absolute price on the favourable side of the open price (a
// BUY stop sits stopGainPips above the open, a SELL stop below it),
// exactly like the rule-driven trailing stop
// (internal/evaluator.trailingStopPrice).
func tightenedStopPrice(isBuy bool, openPrice, stopGainPips decimal.Decimal, scale pip.Scale) decimal.Decimal {
	delta := pip.ToPrice(stopGainPips, scale)
	if isBuy {
		return openPrice.Add(delta)
	}
	return openPrice.Sub(delta)
}
