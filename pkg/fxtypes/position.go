package fxtypes

import (
	"time"

	"github.com/shopspring/decimal"
)

// PositionStatus tracks whether a position is still open.
type PositionStatus string

const (
	PositionOpen   PositionStatus = "open"
	PositionClosed PositionStatus = "closed"
)

// TrailingStopState is the internally tracked trailing-stop, present
// once the activation threshold has been crossed.
type TrailingStopState struct {
	HighWaterPips decimal.Decimal `json:"highWaterPips"`
	StopPrice     decimal.Decimal `json:"stopPrice"`
}

// Position is the authoritative record of an open or recently closed
// trade. Owned exclusively by the Position Book; all other components
// see read-only copies.
type Position struct {
	ID               string             `json:"id"`
	Symbol           string             `json:"symbol"`
	Direction        Direction          `json:"direction"`
	Status           PositionStatus     `json:"status"`
	OpenedAt         time.Time          `json:"openedAt"`
	OpenPrice        decimal.Decimal    `json:"openPrice"`
	VolumeInitial    decimal.Decimal    `json:"volumeInitial"`
	VolumeRemaining  decimal.Decimal    `json:"volumeRemaining"`
	InsuranceSL      decimal.Decimal    `json:"insuranceSL"`
	TrailingStop     *TrailingStopState `json:"trailingStop,omitempty"`
	ExecutedTPLevels map[int]bool       `json:"executedTPLevels"`
	RealizedPnLPips  decimal.Decimal    `json:"realizedPnLPips"`
	AccountEquityAtOpen decimal.Decimal `json:"accountEquityAtOpen"`
	RuleSnapshot     StructuredRule     `json:"ruleSnapshot"`
}

// Clone returns a deep-enough copy safe to hand to read-only consumers.
func (p Position) Clone() Position {
	cp := p
	cp.ExecutedTPLevels = make(map[int]bool, len(p.ExecutedTPLevels))
	for k, v := range p.ExecutedTPLevels {
		cp.ExecutedTPLevels[k] = v
	}
	if p.TrailingStop != nil {
		ts := *p.TrailingStop
		cp.TrailingStop = &ts
	}
	return cp
}

// MaxTPLevelExecuted returns the highest executed ladder index, or -1.
func (p Position) MaxTPLevelExecuted() int {
	max := -1
	for idx, done := range p.ExecutedTPLevels {
		if done && idx > max {
			max = idx
		}
	}
	return max
}

// EscalationSeverity ranks a Layer-2 escalation.
type EscalationSeverity string

const (
	SeverityLow      EscalationSeverity = "low"
	SeverityMedium   EscalationSeverity = "medium"
	SeverityHigh     EscalationSeverity = "high"
	SeverityCritical EscalationSeverity = "critical"
)

// Escalation is a non-actionable Layer-2 signal consumed by Layer-3.
type Escalation struct {
	At         time.Time          `json:"at"`
	Severity   EscalationSeverity `json:"severity"`
	Trigger    string             `json:"trigger"`
	PositionID string             `json:"positionId,omitempty"`
}

// VerdictAction enumerates the advisory oracle's possible actions.
type VerdictAction string

const (
	VerdictContinue     VerdictAction = "continue"
	VerdictClosePartial VerdictAction = "close_partial"
	VerdictCloseAll     VerdictAction = "close_all"
	VerdictTightenStop  VerdictAction = "tighten_stop"
	VerdictEscalate     VerdictAction = "escalate"
)

// Verdict is the advisory oracle's response to a periodic or emergency
// re-evaluation request.
type Verdict struct {
	Action          VerdictAction `json:"action"`
	Reason          string        `json:"reason"`
	Severity        EscalationSeverity `json:"severity,omitempty"`
	PartialClosePct decimal.Decimal `json:"partialClosePct,omitempty"`
	NewStopPips     decimal.Decimal `json:"newStopPips,omitempty"`
}

// PositionSnapshot is the stable wire shape sent to the advisory oracle.
type PositionSnapshot struct {
	PositionID       string          `json:"positionId"`
	Symbol           string          `json:"symbol"`
	Direction        Direction       `json:"direction"`
	OpenPrice        decimal.Decimal `json:"openPrice"`
	OpenTime         time.Time       `json:"openTime"`
	CurrentPrice     decimal.Decimal `json:"currentPrice"`
	UnrealizedPips   decimal.Decimal `json:"unrealizedPips"`
	UnrealizedPct    decimal.Decimal `json:"unrealizedPct"`
	HoldingMinutes   float64         `json:"holdingMinutes"`
	RecentIndicators RecentIndicators `json:"recentIndicators"`
	LastBarsM15      []OhlcBar       `json:"lastBarsM15"`
}

// RecentIndicators is the compact indicator summary carried in a snapshot.
type RecentIndicators struct {
	RsiH1            float64 `json:"rsiH1"`
	EmaH1Alignment   string  `json:"emaH1Alignment"`
	MacdH1Histogram  float64 `json:"macdH1Histogram"`
}
