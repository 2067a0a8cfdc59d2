// Package fxtypes provides the shared wire and domain types for the fx
// engine: ticks, bars, structured rules, positions, and event records.
package fxtypes

import (
	"time"

	"github.com/shopspring/decimal"
)

// Timeframe is one of the chart timeframes the engine consumes.
type Timeframe string

const (
	TimeframeD1  Timeframe = "D1"
	TimeframeH4  Timeframe = "H4"
	TimeframeH1  Timeframe = "H1"
	TimeframeM15 Timeframe = "M15"
)

// RingSize returns the configured retention window for a timeframe,
// per the Market View eviction policy.
func (tf Timeframe) RingSize() int {
	switch tf {
	case TimeframeD1:
		return 30
	case TimeframeH4:
		return 50
	case TimeframeH1:
		return 100
	case TimeframeM15:
		return 100
	default:
		return 100
	}
}

// Tick is an immutable bid/ask quote update. Invariant: Ask >= Bid.
type Tick struct {
	Time   time.Time       `json:"time"`
	Bid    decimal.Decimal `json:"bid"`
	Ask    decimal.Decimal `json:"ask"`
	Volume decimal.Decimal `json:"volume"`
}

// Mid returns the mid price (bid+ask)/2.
func (t Tick) Mid() decimal.Decimal {
	return t.Bid.Add(t.Ask).Div(decimal.NewFromInt(2))
}

// SpreadPips returns the current spread in pips for the given pip scale.
// pipScale is a multiplier (100 for JPY crosses), not a decimal exponent.
func (t Tick) SpreadPips(pipScale int32) decimal.Decimal {
	return t.Ask.Sub(t.Bid).Mul(decimal.New(int64(pipScale), 0))
}

// Valid reports whether the tick satisfies the Ask >= Bid invariant.
func (t Tick) Valid() bool {
	return t.Ask.GreaterThanOrEqual(t.Bid)
}

// OhlcBar is a single candlestick. Invariant: Low <= Open,Close <= High; Low <= High.
type OhlcBar struct {
	Time   time.Time       `json:"time"`
	Open   decimal.Decimal `json:"open"`
	High   decimal.Decimal `json:"high"`
	Low    decimal.Decimal `json:"low"`
	Close  decimal.Decimal `json:"close"`
	Volume decimal.Decimal `json:"volume"`
	Spread decimal.Decimal `json:"spread"`
}

// Valid reports whether the bar satisfies the OHLC consistency invariant.
func (b OhlcBar) Valid() bool {
	if b.Low.GreaterThan(b.High) {
		return false
	}
	if b.Open.LessThan(b.Low) || b.Open.GreaterThan(b.High) {
		return false
	}
	if b.Close.LessThan(b.Low) || b.Close.GreaterThan(b.High) {
		return false
	}
	return true
}

// RSI holds an RSI reading for a timeframe.
type RSI struct {
	Value float64 `json:"value"`
}

// EMA holds EMA readings needed for crossover detection.
type EMA struct {
	Period  int     `json:"period"`
	Value   float64 `json:"value"`
	PrevClose float64 `json:"prevClose"`
}

// MACD holds the MACD line, signal line, and histogram for a timeframe,
// current and previous bar, so cross detection does not need history
// lookups outside of the indicator vector itself.
type MACD struct {
	Value     float64 `json:"value"`
	Signal    float64 `json:"signal"`
	Histogram float64 `json:"histogram"`
	PrevValue  float64 `json:"prevValue"`
	PrevSignal float64 `json:"prevSignal"`
}

// TimeframeIndicators bundles the indicator readings the rule schema can
// reference for a single timeframe.
type TimeframeIndicators struct {
	RSI      RSI            `json:"rsi"`
	EMA20    EMA            `json:"ema20"`
	EMA50    EMA            `json:"ema50"`
	MACD     MACD           `json:"macd"`
	PrevBarDirectionUp bool `json:"prevBarDirectionUp"`
}

// IndicatorVector is the full pre-computed indicator snapshot handed to
// the core by the (out of scope) indicator engine.
type IndicatorVector struct {
	ByTimeframe map[Timeframe]TimeframeIndicators `json:"byTimeframe"`
}

// For looks up indicators for a timeframe, returning the zero value and
// false if absent.
func (v IndicatorVector) For(tf Timeframe) (TimeframeIndicators, bool) {
	if v.ByTimeframe == nil {
		return TimeframeIndicators{}, false
	}
	ti, ok := v.ByTimeframe[tf]
	return ti, ok
}
