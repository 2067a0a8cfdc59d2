package fxtypes

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Bias is the rule's overall daily directional bias.
type Bias string

const (
	BiasBuy     Bias = "BUY"
	BiasSell    Bias = "SELL"
	BiasNeutral Bias = "NEUTRAL"
)

// Direction is a trade direction, distinct from Bias so NEUTRAL cannot
// appear where a concrete direction is required.
type Direction string

const (
	DirectionBuy  Direction = "BUY"
	DirectionSell Direction = "SELL"
)

// PriceZone bounds the mid-price range in which an entry is admissible.
type PriceZone struct {
	Min decimal.Decimal `json:"min"`
	Max decimal.Decimal `json:"max"`
}

// EmaCondition enumerates the EMA predicate comparisons the schema supports.
type EmaCondition string

const (
	EmaPriceAbove  EmaCondition = "price_above"
	EmaPriceBelow  EmaCondition = "price_below"
	EmaCrossAbove  EmaCondition = "cross_above"
	EmaCrossBelow  EmaCondition = "cross_below"
)

// MacdCondition enumerates the MACD predicate comparisons the schema supports.
type MacdCondition string

const (
	MacdHistogramPositive  MacdCondition = "histogram_positive"
	MacdHistogramNegative  MacdCondition = "histogram_negative"
	MacdSignalCrossAbove   MacdCondition = "signal_cross_above"
	MacdSignalCrossBelow   MacdCondition = "signal_cross_below"
)

// RsiPredicate requires RSI(timeframe) to fall within [Min, Max].
type RsiPredicate struct {
	Timeframe Timeframe `json:"timeframe"`
	Min       float64   `json:"min"`
	Max       float64   `json:"max"`
}

// EmaPredicate requires an EMA relationship to hold on a timeframe.
type EmaPredicate struct {
	Timeframe Timeframe    `json:"timeframe"`
	Condition EmaCondition `json:"condition"`
	Period    int          `json:"period"`
}

// MacdPredicate requires a MACD relationship to hold on a timeframe.
type MacdPredicate struct {
	Timeframe Timeframe     `json:"timeframe"`
	Condition MacdCondition `json:"condition"`
}

// IndicatorPredicates is the (optional, exhaustive-variant) set of
// indicator requirements an entry must satisfy. Unknown/free-form fields
// are rejected at install time by the caller of UnmarshalJSON/Validate,
// never silently accepted — see DESIGN.md for the rationale.
type IndicatorPredicates struct {
	RSI  *RsiPredicate  `json:"rsi,omitempty"`
	EMA  *EmaPredicate  `json:"ema,omitempty"`
	MACD *MacdPredicate `json:"macd,omitempty"`
}

// AvoidWindow is a broker-local time-of-day window in which entries are
// suppressed.
type AvoidWindow struct {
	Start  string `json:"start"` // HH:MM broker-local
	End    string `json:"end"`   // HH:MM broker-local
	Reason string `json:"reason"`
}

// TimeFilter names windows in which entries must be suppressed.
type TimeFilter struct {
	AvoidTimes []AvoidWindow `json:"avoidTimes"`
}

// SpreadGuard caps the admissible spread at entry time.
type SpreadGuard struct {
	MaxPips decimal.Decimal `json:"maxPips"`
}

// EntryConditions is the rule's full entry gate specification.
type EntryConditions struct {
	ShouldTrade bool                 `json:"shouldTrade"`
	Direction   Direction            `json:"direction"`
	PriceZone   PriceZone            `json:"priceZone"`
	Indicators  IndicatorPredicates  `json:"indicators"`
	Spread      SpreadGuard          `json:"spread"`
	TimeFilter  TimeFilter           `json:"timeFilter"`
	// AvoidIf names the mini-DSL predicates Layer-2's 300s pass
	// re-evaluates against the active rule (spec §4.8).
	AvoidIf []IndicatorPredicates `json:"avoidIf,omitempty"`
}

// TakeProfitLevel is one rung of the ascending take-profit ladder.
type TakeProfitLevel struct {
	Pips         decimal.Decimal `json:"pips"`
	ClosePercent decimal.Decimal `json:"closePercent"`
}

// Trailing configures a trailing stop that activates once price has
// moved favourably by ActivateAtPips.
type Trailing struct {
	ActivateAtPips    decimal.Decimal `json:"activateAtPips"`
	TrailDistancePips decimal.Decimal `json:"trailDistancePips"`
}

// StopLoss configures the initial protective stop and optional trailing.
type StopLoss struct {
	InitialPips decimal.Decimal  `json:"initialPips"`
	PriceLevel  *decimal.Decimal `json:"priceLevel,omitempty"`
	Trailing    *Trailing        `json:"trailing,omitempty"`
}

// IndicatorExitAction is the action an indicator-triggered exit applies.
type IndicatorExitAction string

const (
	ActionClose50  IndicatorExitAction = "close_50"
	ActionClose75  IndicatorExitAction = "close_75"
	ActionCloseAll IndicatorExitAction = "close_all"
)

// IndicatorExit is a single configured indicator-triggered partial/full close.
type IndicatorExit struct {
	Type      string               `json:"type"`
	Timeframe Timeframe            `json:"timeframe"`
	Action    IndicatorExitAction  `json:"action"`
	// Predicate carries the same exhaustive predicate variants as entry
	// indicators, reused rather than duplicated.
	Predicate IndicatorPredicates  `json:"predicate"`
}

// TimeExits configures hold-duration and wall-clock forced exits.
type TimeExits struct {
	MaxHoldMinutes  int    `json:"maxHoldMinutes"`
	ForceCloseTime  string `json:"forceCloseTime"` // HH:MM broker-local
}

// ExitStrategy is the rule's full exit specification.
type ExitStrategy struct {
	TakeProfit      []TakeProfitLevel `json:"takeProfit"`
	StopLoss        StopLoss          `json:"stopLoss"`
	IndicatorExits  []IndicatorExit   `json:"indicatorExits"`
	TimeExits       TimeExits         `json:"timeExits"`
}

// RiskManagement bounds position sizing and exposure for this rule.
type RiskManagement struct {
	PositionSizeMultiplier  decimal.Decimal `json:"positionSizeMultiplier"`
	MaxPositions            int             `json:"maxPositions"`
	MaxRiskPerTradePercent  decimal.Decimal `json:"maxRiskPerTradePercent"`
	MaxTotalExposurePercent decimal.Decimal `json:"maxTotalExposurePercent"`
}

// KeyLevels carries informational support/resistance context; only
// CriticalSupport/CriticalResistance are consulted by Layer-2 (§4.8).
type KeyLevels struct {
	EntryTarget        *decimal.Decimal  `json:"entryTarget,omitempty"`
	InvalidationLevel  *decimal.Decimal  `json:"invalidationLevel,omitempty"`
	CriticalSupport    []decimal.Decimal `json:"criticalSupport,omitempty"`
	CriticalResistance []decimal.Decimal `json:"criticalResistance,omitempty"`
}

// StructuredRule is the authoritative trade law produced on an hourly
// cadence by the (out of scope) analysis service. Immutable once stored.
type StructuredRule struct {
	Version        int             `json:"version"`
	GeneratedAt    time.Time       `json:"generatedAt"`
	ValidUntil     time.Time       `json:"validUntil"`
	Symbol         string          `json:"symbol"`
	DailyBias      Bias            `json:"dailyBias"`
	Confidence     float64         `json:"confidence"`
	EntryConditions EntryConditions `json:"entryConditions"`
	ExitStrategy    ExitStrategy    `json:"exitStrategy"`
	RiskManagement  RiskManagement  `json:"riskManagement"`
	KeyLevels       KeyLevels       `json:"keyLevels"`
}

// Validate enforces the §3 invariants. A non-nil error means install()
// must reject the rule; the caller is responsible for emitting the
// RuleActivated{accepted:false} event with the returned reason.
func (r StructuredRule) Validate() error {
	if r.GeneratedAt.After(r.ValidUntil) {
		return fmt.Errorf("generatedAt %s is after validUntil %s", r.GeneratedAt, r.ValidUntil)
	}
	if r.Confidence < 0 || r.Confidence > 1 {
		return fmt.Errorf("confidence %f out of [0,1]", r.Confidence)
	}
	if r.EntryConditions.ShouldTrade {
		switch r.EntryConditions.Direction {
		case DirectionBuy, DirectionSell:
		default:
			return fmt.Errorf("shouldTrade is true but direction %q is not BUY/SELL", r.EntryConditions.Direction)
		}
		if r.EntryConditions.PriceZone.Min.GreaterThan(r.EntryConditions.PriceZone.Max) {
			return fmt.Errorf("priceZone.min %s > priceZone.max %s",
				r.EntryConditions.PriceZone.Min, r.EntryConditions.PriceZone.Max)
		}
	}
	if err := validateTakeProfitLadder(r.ExitStrategy.TakeProfit); err != nil {
		return err
	}
	return nil
}

func validateTakeProfitLadder(levels []TakeProfitLevel) error {
	sumPercent := decimal.Zero
	var prevPips decimal.Decimal
	for i, lvl := range levels {
		if i > 0 && lvl.Pips.LessThanOrEqual(prevPips) {
			return fmt.Errorf("take-profit ladder not strictly ascending at index %d (%s <= %s)",
				i, lvl.Pips, prevPips)
		}
		prevPips = lvl.Pips
		sumPercent = sumPercent.Add(lvl.ClosePercent)
		if sumPercent.GreaterThan(decimal.NewFromInt(100)) {
			return fmt.Errorf("take-profit closePercent sums to %s, exceeds 100", sumPercent)
		}
	}
	return nil
}

// Contains reports whether instant t falls within [GeneratedAt, ValidUntil].
func (r StructuredRule) Contains(t time.Time) bool {
	return !t.Before(r.GeneratedAt) && !t.After(r.ValidUntil)
}
