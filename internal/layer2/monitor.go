// Package layer2 provides the Anomaly Monitor (spec §4.8): two
// cadences of non-actionable checks that only escalate, never close.
// Grounded on the same ordered-check style as layer1, generalized to
// emit Escalation records instead of triggering closes, and on
// strategy/strategy.go's indicator-reversal detection idiom.
package layer2

import (
	"time"

	"github.com/atlas-desktop/fxengine/internal/market"
	"github.com/atlas-desktop/fxengine/pkg/fxtypes"
	"github.com/atlas-desktop/fxengine/pkg/pip"
	"go.uber.org/zap"
)

// Monitor runs the 60s and 300s anomaly passes.
type Monitor struct {
	logger   *zap.Logger
	pipScale pip.Scale
}

// New creates a Layer-2 Monitor.
func New(logger *zap.Logger, pipScale pip.Scale) *Monitor {
	return &Monitor{logger: logger.Named("layer2"), pipScale: pipScale}
}

// CheckMinute runs the every-60s pass (spec §4.8): critical-level
// breach, M15 indicator reversal, three-candle adversity.
func (m *Monitor) CheckMinute(snap *market.Snapshot, positions []fxtypes.Position, now time.Time) []fxtypes.Escalation {
	var out []fxtypes.Escalation
	m15, hasM15 := snap.Indicators.For(fxtypes.TimeframeM15)
	bars := snap.RecentBars(fxtypes.TimeframeM15, 3)

	for _, pos := range positions {
		if pos.Status != fxtypes.PositionOpen {
			continue
		}
		isBuy := pos.Direction == fxtypes.DirectionBuy

		if esc, ok := m.checkCriticalLevel(pos, isBuy, snap, now); ok {
			out = append(out, esc)
		}
		if hasM15 {
			if esc, ok := m.checkIndicatorReversal(pos, isBuy, m15, now); ok {
				out = append(out, esc)
			}
		}
		if esc, ok := m.checkThreeCandleAdversity(pos, isBuy, bars, now); ok {
			out = append(out, esc)
		}
	}
	return out
}

func (m *Monitor) checkCriticalLevel(pos fxtypes.Position, isBuy bool, snap *market.Snapshot, now time.Time) (fxtypes.Escalation, bool) {
	levels := pos.RuleSnapshot.KeyLevels
	mid := snap.Tick.Mid()

	if isBuy && len(levels.CriticalSupport) > 0 && mid.LessThan(levels.CriticalSupport[0]) {
		return fxtypes.Escalation{At: now, Severity: fxtypes.SeverityHigh, Trigger: "critical_support_broken", PositionID: pos.ID}, true
	}
	if !isBuy && len(levels.CriticalResistance) > 0 && mid.GreaterThan(levels.CriticalResistance[0]) {
		return fxtypes.Escalation{At: now, Severity: fxtypes.SeverityHigh, Trigger: "critical_resistance_broken", PositionID: pos.ID}, true
	}
	return fxtypes.Escalation{}, false
}

func (m *Monitor) checkIndicatorReversal(pos fxtypes.Position, isBuy bool, ind fxtypes.TimeframeIndicators, now time.Time) (fxtypes.Escalation, bool) {
	macdAgainst := (isBuy && ind.MACD.PrevValue >= ind.MACD.PrevSignal && ind.MACD.Value < ind.MACD.Signal) ||
		(!isBuy && ind.MACD.PrevValue <= ind.MACD.PrevSignal && ind.MACD.Value > ind.MACD.Signal)
	if macdAgainst {
		return fxtypes.Escalation{At: now, Severity: fxtypes.SeverityMedium, Trigger: "macd_signal_cross_against_position", PositionID: pos.ID}, true
	}

	ema20Against := (isBuy && ind.EMA20.PrevClose >= ind.EMA20.Value && ind.EMA20.Value > 0) ||
		(!isBuy && ind.EMA20.PrevClose <= ind.EMA20.Value)
	ema50Against := (isBuy && ind.EMA50.PrevClose >= ind.EMA50.Value) ||
		(!isBuy && ind.EMA50.PrevClose <= ind.EMA50.Value)
	if ema20Against && ema50Against {
		return fxtypes.Escalation{At: now, Severity: fxtypes.SeverityMedium, Trigger: "ema20_50_crossover_against_position", PositionID: pos.ID}, true
	}
	return fxtypes.Escalation{}, false
}

func (m *Monitor) checkThreeCandleAdversity(pos fxtypes.Position, isBuy bool, bars []fxtypes.OhlcBar, now time.Time) (fxtypes.Escalation, bool) {
	if len(bars) < 3 {
		return fxtypes.Escalation{}, false
	}
	for _, b := range bars[len(bars)-3:] {
		barUp := b.Close.GreaterThan(b.Open)
		adverse := (isBuy && barUp) || (!isBuy && !barUp)
		if adverse {
			return fxtypes.Escalation{}, false
		}
	}
	return fxtypes.Escalation{At: now, Severity: fxtypes.SeverityMedium, Trigger: "three_candle_adversity", PositionID: pos.ID}, true
}

// CheckFiveMinute runs the every-300s pass (spec §4.8): rule avoid_if
// predicates and RSI overheat.
func (m *Monitor) CheckFiveMinute(snap *market.Snapshot, positions []fxtypes.Position, now time.Time, evalPredicate func(fxtypes.IndicatorPredicates, fxtypes.IndicatorVector, float64) (bool, string)) []fxtypes.Escalation {
	var out []fxtypes.Escalation
	midF, _ := snap.Tick.Mid().Float64()

	for _, pos := range positions {
		if pos.Status != fxtypes.PositionOpen {
			continue
		}
		isBuy := pos.Direction == fxtypes.DirectionBuy

		for _, predicate := range pos.RuleSnapshot.EntryConditions.AvoidIf {
			if ok, _ := evalPredicate(predicate, snap.Indicators, midF); ok {
				out = append(out, fxtypes.Escalation{
					At: now, Severity: fxtypes.SeverityMedium,
					Trigger: "avoid_if_triggered", PositionID: pos.ID,
				})
			}
		}

		if h1, ok := snap.Indicators.For(fxtypes.TimeframeH1); ok {
			if isBuy && h1.RSI.Value > 80 {
				out = append(out, fxtypes.Escalation{At: now, Severity: fxtypes.SeverityLow, Trigger: "rsi_overheat_buy", PositionID: pos.ID})
			}
			if !isBuy && h1.RSI.Value < 20 {
				out = append(out, fxtypes.Escalation{At: now, Severity: fxtypes.SeverityLow, Trigger: "rsi_overheat_sell", PositionID: pos.ID})
			}
		}
	}
	return out
}
