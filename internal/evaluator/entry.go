package evaluator

import (
	"fmt"

	"github.com/atlas-desktop/fxengine/internal/market"
	"github.com/atlas-desktop/fxengine/pkg/fxtypes"
	"github.com/atlas-desktop/fxengine/pkg/pip"
	"github.com/shopspring/decimal"
)

// GateResult records the outcome of a single entry gate, modeled after
// the teacher's RiskCheckResult{Approved, Violations, Warnings}.
type GateResult struct {
	Gate   string
	Passed bool
	Reason string
}

// EntryDecision is the evaluator's verdict on whether to open a new
// position this tick, and at what size.
type EntryDecision struct {
	ShouldEnter bool
	Direction   fxtypes.Direction
	VolumeLots  decimal.Decimal
	Gates       []GateResult
}

// EntryInputs bundles everything EvaluateEntry needs beyond the rule
// itself, so the function stays a pure projection of its arguments.
type EntryInputs struct {
	Rule            fxtypes.StructuredRule
	Snapshot        *market.Snapshot
	Staleness       market.Staleness
	OpenPositions   int
	AccountEquity   decimal.Decimal
	PipScale        pip.Scale
	NowLocalHHMM    string
}

// EvaluateEntry runs the five ordered admissibility gates of spec §4.4.1:
// admissibility, price zone, indicator requirements, guardrails, risk
// sizing. The first failing gate short-circuits the remainder; all
// attempted gates (failed or passed) are reported in the decision.
func EvaluateEntry(in EntryInputs) EntryDecision {
	var gates []GateResult
	fail := func(gate, reason string) EntryDecision {
		gates = append(gates, GateResult{Gate: gate, Passed: false, Reason: reason})
		return EntryDecision{ShouldEnter: false, Gates: gates}
	}
	pass := func(gate string) {
		gates = append(gates, GateResult{Gate: gate, Passed: true})
	}

	// Gate 1: admissibility.
	if in.Rule.DailyBias == fxtypes.BiasNeutral {
		return fail("admissibility", "rule.dailyBias is NEUTRAL")
	}
	if !in.Rule.EntryConditions.ShouldTrade {
		return fail("admissibility", "rule.shouldTrade is false")
	}
	if in.Staleness == market.Stale {
		return fail("admissibility", "market data is stale")
	}
	if !in.Snapshot.Tick.Valid() {
		return fail("admissibility", "current tick fails ask>=bid invariant")
	}
	pass("admissibility")

	// Gate 2: price zone.
	mid := in.Snapshot.Tick.Mid()
	zone := in.Rule.EntryConditions.PriceZone
	if mid.LessThan(zone.Min) || mid.GreaterThan(zone.Max) {
		return fail("price_zone", fmt.Sprintf("mid %s outside [%s,%s]", mid, zone.Min, zone.Max))
	}
	pass("price_zone")

	// Gate 3: indicator requirements.
	midF, _ := mid.Float64()
	if ok, reason := evalPredicates(in.Rule.EntryConditions.Indicators, in.Snapshot.Indicators, midF); !ok {
		return fail("indicators", reason)
	}
	pass("indicators")

	// Gate 4: guardrails (spread, avoid-time windows, max positions).
	spread := in.Snapshot.Tick.SpreadPips(int32(in.PipScale))
	if spread.GreaterThan(in.Rule.EntryConditions.Spread.MaxPips) {
		return fail("guardrails", fmt.Sprintf("spread %s exceeds max %s", spread, in.Rule.EntryConditions.Spread.MaxPips))
	}
	for _, w := range in.Rule.EntryConditions.TimeFilter.AvoidTimes {
		if withinWindow(in.NowLocalHHMM, w.Start, w.End) {
			return fail("guardrails", fmt.Sprintf("within avoid window %s-%s (%s)", w.Start, w.End, w.Reason))
		}
	}
	if in.Rule.RiskManagement.MaxPositions > 0 && in.OpenPositions >= in.Rule.RiskManagement.MaxPositions {
		return fail("guardrails", fmt.Sprintf("open positions %d at max %d", in.OpenPositions, in.Rule.RiskManagement.MaxPositions))
	}
	pass("guardrails")

	// Gate 5: risk sizing.
	volume, reason := sizePosition(in.Rule, in.AccountEquity, in.PipScale)
	if volume.IsZero() || volume.IsNegative() {
		return fail("risk_sizing", reason)
	}
	pass("risk_sizing")

	return EntryDecision{
		ShouldEnter: true,
		Direction:   in.Rule.EntryConditions.Direction,
		VolumeLots:  volume,
		Gates:       gates,
	}
}

// withinWindow reports whether hhmm falls in [start, end) treating the
// window as wrapping past midnight when end <= start.
func withinWindow(hhmm, start, end string) bool {
	if start == "" || end == "" {
		return false
	}
	if start <= end {
		return hhmm >= start && hhmm < end
	}
	return hhmm >= start || hhmm < end
}

// sizePosition derives a lot size from the rule's risk parameters:
// (equity * maxRiskPerTradePercent/100) / (stopLossPips in price terms),
// scaled by positionSizeMultiplier and capped so that existing plus new
// exposure never exceeds maxTotalExposurePercent of equity.
func sizePosition(rule fxtypes.StructuredRule, equity decimal.Decimal, pipScale pip.Scale) (decimal.Decimal, string) {
	rm := rule.RiskManagement
	if equity.IsZero() || equity.IsNegative() {
		return decimal.Zero, "non-positive account equity"
	}
	if rule.ExitStrategy.StopLoss.InitialPips.IsZero() {
		return decimal.Zero, "stop loss initialPips is zero, cannot size risk"
	}

	riskAmount := equity.Mul(rm.MaxRiskPerTradePercent).Div(decimal.NewFromInt(100))
	stopDistance := pip.ToPrice(rule.ExitStrategy.StopLoss.InitialPips, pipScale)
	if stopDistance.IsZero() {
		return decimal.Zero, "stop distance resolves to zero"
	}

	volume := riskAmount.Div(stopDistance)
	if rm.PositionSizeMultiplier.IsPositive() {
		volume = volume.Mul(rm.PositionSizeMultiplier)
	}

	maxExposure := equity.Mul(rm.MaxTotalExposurePercent).Div(decimal.NewFromInt(100))
	if rm.MaxTotalExposurePercent.IsPositive() && volume.GreaterThan(maxExposure) {
		volume = maxExposure
	}

	if volume.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, "sized volume is non-positive"
	}
	return volume, ""
}
