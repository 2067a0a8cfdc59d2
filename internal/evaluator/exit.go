package evaluator

import (
	"fmt"
	"time"

	"github.com/atlas-desktop/fxengine/internal/market"
	"github.com/atlas-desktop/fxengine/pkg/fxtypes"
	"github.com/atlas-desktop/fxengine/pkg/pip"
	"github.com/shopspring/decimal"
)

// ExitAction enumerates what the exit pipeline wants the engine to do
// with a position this step.
type ExitAction string

const (
	ExitNone         ExitAction = "none"
	ExitPartial      ExitAction = "partial_close"
	ExitFull         ExitAction = "full_close"
	ExitTrailingOnly ExitAction = "trailing_update"
)

// ExitDecision is the evaluator's verdict for a single open position.
type ExitDecision struct {
	Action       ExitAction
	Reason       string
	ClosePercent decimal.Decimal
	TPLevelIndex int // -1 when not a take-profit-ladder close

	// TrailingHighWaterPips/TrailingStopPrice carry the updated trailing
	// state when Action is ExitTrailingOnly or a trailing stop produced
	// the full close; the engine persists these via Book.SetTrailingStop.
	TrailingHighWaterPips decimal.Decimal
	TrailingStopPrice     decimal.Decimal
}

// ExitInputs bundles everything EvaluateExit needs.
type ExitInputs struct {
	Position     fxtypes.Position
	Rule         fxtypes.StructuredRule
	Snapshot     *market.Snapshot
	PipScale     pip.Scale
	NowLocalHHMM string
	Now          time.Time

	// EmergencyTriggered/EmergencyReason carry a Layer-1 verdict reached
	// for this position this tick; when set it preempts every other
	// exit check (spec §4.4.3, check order item 1).
	EmergencyTriggered bool
	EmergencyReason    string
}

// EvaluateExit runs the six ordered exit checks of spec §4.4.3:
// Layer-1 emergencies, hard stop-loss, take-profit ladder, trailing
// stop, indicator exits, time exits. The first decision that is not
// ExitNone wins; later checks are not evaluated once one triggers,
// except that a position already flagged by Layer-1 never proceeds to
// any other check (terminal).
func EvaluateExit(in ExitInputs) ExitDecision {
	if in.EmergencyTriggered {
		return ExitDecision{Action: ExitFull, Reason: in.EmergencyReason, TPLevelIndex: -1}
	}

	isBuy := in.Position.Direction == fxtypes.DirectionBuy
	price := in.Snapshot.Tick.Mid()
	gain := pip.ForDirectionGain(isBuy, in.Position.OpenPrice, price, in.PipScale)

	// Check 2: hard stop-loss.
	sl := in.Rule.ExitStrategy.StopLoss
	if sl.PriceLevel != nil {
		breached := (isBuy && price.LessThanOrEqual(*sl.PriceLevel)) || (!isBuy && price.GreaterThanOrEqual(*sl.PriceLevel))
		if breached {
			return ExitDecision{Action: ExitFull, Reason: "stop_loss_price_level", TPLevelIndex: -1}
		}
	}
	if sl.InitialPips.IsPositive() && gain.LessThanOrEqual(sl.InitialPips.Neg()) {
		return ExitDecision{Action: ExitFull, Reason: "stop_loss", TPLevelIndex: -1}
	}

	// Check 3: take-profit ladder, strictly in order, one rung per call.
	nextLevel := in.Position.MaxTPLevelExecuted() + 1
	if nextLevel < len(in.Rule.ExitStrategy.TakeProfit) {
		lvl := in.Rule.ExitStrategy.TakeProfit[nextLevel]
		if gain.GreaterThanOrEqual(lvl.Pips) {
			return ExitDecision{
				Action:       ExitPartial,
				Reason:       fmt.Sprintf("take_profit_level_%d", nextLevel),
				ClosePercent: lvl.ClosePercent,
				TPLevelIndex: nextLevel,
			}
		}
	}

	// Check 4: trailing stop.
	if sl.Trailing != nil {
		if in.Position.TrailingStop != nil {
			// Already armed: monitor for breach on every tick regardless of
			// current gain, since a retracement is exactly what drops gain
			// back below the original activation threshold.
			existing := in.Position.TrailingStop
			breached := (isBuy && price.LessThanOrEqual(existing.StopPrice)) ||
				(!isBuy && price.GreaterThanOrEqual(existing.StopPrice))
			if breached {
				return ExitDecision{Action: ExitFull, Reason: "trailing_stop", TPLevelIndex: -1}
			}

			if gain.GreaterThan(existing.HighWaterPips) {
				stopGain := gain.Sub(sl.Trailing.TrailDistancePips)
				stopPrice := trailingStopPrice(isBuy, in.Position.OpenPrice, stopGain, in.PipScale)
				tightened := (isBuy && stopPrice.GreaterThan(existing.StopPrice)) ||
					(!isBuy && stopPrice.LessThan(existing.StopPrice))
				if tightened {
					return ExitDecision{
						Action:                ExitTrailingOnly,
						TrailingHighWaterPips: gain,
						TrailingStopPrice:     stopPrice,
						TPLevelIndex:          -1,
					}
				}
			}
		} else if gain.GreaterThanOrEqual(sl.Trailing.ActivateAtPips) {
			stopGain := gain.Sub(sl.Trailing.TrailDistancePips)
			stopPrice := trailingStopPrice(isBuy, in.Position.OpenPrice, stopGain, in.PipScale)
			return ExitDecision{
				Action:                ExitTrailingOnly,
				TrailingHighWaterPips: gain,
				TrailingStopPrice:     stopPrice,
				TPLevelIndex:          -1,
			}
		}
	}

	// Check 5: indicator-triggered exits, first declared match wins (at
	// most one per evaluation step).
	midF, _ := price.Float64()
	for _, ie := range in.Rule.ExitStrategy.IndicatorExits {
		if _, ok := in.Snapshot.Indicators.For(ie.Timeframe); !ok {
			continue
		}
		if ok, _ := evalPredicates(ie.Predicate, in.Snapshot.Indicators, midF); ok {
			return ExitDecision{
				Action:       actionForIndicatorExit(ie.Action),
				Reason:       "indicator_exit",
				ClosePercent: closePercentForAction(ie.Action),
				TPLevelIndex: -1,
			}
		}
	}

	// Check 6: time exits.
	if in.Rule.ExitStrategy.TimeExits.MaxHoldMinutes > 0 {
		held := in.Now.Sub(in.Position.OpenedAt).Minutes()
		if held >= float64(in.Rule.ExitStrategy.TimeExits.MaxHoldMinutes) {
			return ExitDecision{Action: ExitFull, Reason: "max_hold_duration", TPLevelIndex: -1}
		}
	}
	if ft := in.Rule.ExitStrategy.TimeExits.ForceCloseTime; ft != "" && in.NowLocalHHMM >= ft {
		return ExitDecision{Action: ExitFull, Reason: "force_close_time", TPLevelIndex: -1}
	}

	return ExitDecision{Action: ExitNone, TPLevelIndex: -1}
}

func trailingStopPrice(isBuy bool, openPrice, stopGainPips decimal.Decimal, scale pip.Scale) decimal.Decimal {
	delta := pip.ToPrice(stopGainPips, scale)
	if isBuy {
		return openPrice.Add(delta)
	}
	return openPrice.Sub(delta)
}

func actionForIndicatorExit(a fxtypes.IndicatorExitAction) ExitAction {
	if a == fxtypes.ActionCloseAll {
		return ExitFull
	}
	return ExitPartial
}

func closePercentForAction(a fxtypes.IndicatorExitAction) decimal.Decimal {
	switch a {
	case fxtypes.ActionClose50:
		return decimal.NewFromInt(50)
	case fxtypes.ActionClose75:
		return decimal.NewFromInt(75)
	case fxtypes.ActionCloseAll:
		return decimal.NewFromInt(100)
	default:
		return decimal.Zero
	}
}
