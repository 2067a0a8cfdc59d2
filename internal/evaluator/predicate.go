// Package evaluator provides the Rule Evaluator (spec §4.4): a stateless
// pair of entry/exit pipelines deriving trade decisions from
// (rule, market snapshot, position). Grounded on the teacher's
// strategy.Strategy interface (OnBar/OnTick) generalized into
// EvaluateEntry/EvaluateExit, with gate outcomes modeled after
// execution.RiskCheckResult{Approved, Violations, Warnings}.
package evaluator

import (
	"fmt"

	"github.com/atlas-desktop/fxengine/pkg/fxtypes"
)

// emaForPeriod picks the EMA reading matching a predicate's configured
// period; the indicator vector only carries EMA20/EMA50.
func emaForPeriod(ind fxtypes.TimeframeIndicators, period int) (fxtypes.EMA, bool) {
	switch period {
	case 20:
		return ind.EMA20, true
	case 50:
		return ind.EMA50, true
	default:
		return fxtypes.EMA{}, false
	}
}

// evalPredicates reports whether every non-nil predicate in p holds
// against the indicators available for its declared timeframe. currentMid
// is the live mid-price, needed for EMA price_above/price_below.
//
// EvalPredicates exports the same check for Layer-2's 300s avoid_if
// pass (spec §4.8), which reuses the entry indicator predicate DSL
// verbatim.
func EvalPredicates(p fxtypes.IndicatorPredicates, vec fxtypes.IndicatorVector, currentMid float64) (bool, string) {
	return evalPredicates(p, vec, currentMid)
}

func evalPredicates(p fxtypes.IndicatorPredicates, vec fxtypes.IndicatorVector, currentMid float64) (bool, string) {
	if p.RSI != nil {
		ind, ok := vec.For(p.RSI.Timeframe)
		if !ok {
			return false, fmt.Sprintf("no indicators for timeframe %s", p.RSI.Timeframe)
		}
		v := ind.RSI.Value
		if v < p.RSI.Min || v > p.RSI.Max {
			return false, fmt.Sprintf("rsi %.2f outside [%.2f,%.2f]", v, p.RSI.Min, p.RSI.Max)
		}
	}

	if p.EMA != nil {
		ind, ok := vec.For(p.EMA.Timeframe)
		if !ok {
			return false, fmt.Sprintf("no indicators for timeframe %s", p.EMA.Timeframe)
		}
		ema, ok := emaForPeriod(ind, p.EMA.Period)
		if !ok {
			return false, fmt.Sprintf("unsupported ema period %d", p.EMA.Period)
		}
		if ok, reason := evalEmaCondition(p.EMA.Condition, ema, currentMid); !ok {
			return false, reason
		}
	}

	if p.MACD != nil {
		ind, ok := vec.For(p.MACD.Timeframe)
		if !ok {
			return false, fmt.Sprintf("no indicators for timeframe %s", p.MACD.Timeframe)
		}
		if ok, reason := evalMacdCondition(p.MACD.Condition, ind.MACD); !ok {
			return false, reason
		}
	}

	return true, ""
}

func evalEmaCondition(cond fxtypes.EmaCondition, ema fxtypes.EMA, currentMid float64) (bool, string) {
	switch cond {
	case fxtypes.EmaPriceAbove:
		if currentMid <= ema.Value {
			return false, fmt.Sprintf("price %.5f not above ema %.5f", currentMid, ema.Value)
		}
	case fxtypes.EmaPriceBelow:
		if currentMid >= ema.Value {
			return false, fmt.Sprintf("price %.5f not below ema %.5f", currentMid, ema.Value)
		}
	case fxtypes.EmaCrossAbove:
		if !(ema.PrevClose <= ema.Value && currentMid > ema.Value) {
			return false, "no cross_above on ema"
		}
	case fxtypes.EmaCrossBelow:
		if !(ema.PrevClose >= ema.Value && currentMid < ema.Value) {
			return false, "no cross_below on ema"
		}
	default:
		return false, fmt.Sprintf("unknown ema condition %q", cond)
	}
	return true, ""
}

func evalMacdCondition(cond fxtypes.MacdCondition, m fxtypes.MACD) (bool, string) {
	switch cond {
	case fxtypes.MacdHistogramPositive:
		if m.Histogram <= 0 {
			return false, "macd histogram not positive"
		}
	case fxtypes.MacdHistogramNegative:
		if m.Histogram >= 0 {
			return false, "macd histogram not negative"
		}
	case fxtypes.MacdSignalCrossAbove:
		if !(m.PrevValue <= m.PrevSignal && m.Value > m.Signal) {
			return false, "no macd signal cross_above"
		}
	case fxtypes.MacdSignalCrossBelow:
		if !(m.PrevValue >= m.PrevSignal && m.Value < m.Signal) {
			return false, "no macd signal cross_below"
		}
	default:
		return false, fmt.Sprintf("unknown macd condition %q", cond)
	}
	return true, ""
}
