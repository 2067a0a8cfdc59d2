package fxtypes

import "time"

// EventKind tags the variant carried by an EventRecord.
type EventKind string

const (
	EventRuleActivated  EventKind = "RuleActivated"
	EventEntryExecuted  EventKind = "EntryExecuted"
	EventPartialClose   EventKind = "PartialClose"
	EventFullClose      EventKind = "FullClose"
	EventEmergencyStop  EventKind = "EmergencyStop"
	EventLayer2Trigger  EventKind = "Layer2Trigger"
	EventLayer3aVerdict EventKind = "Layer3aVerdict"
	EventLayer3bVerdict EventKind = "Layer3bVerdict"
	EventForceClose     EventKind = "ForceClose"
	EventLayer1Skipped  EventKind = "Layer1Skipped"
	EventUnknownOutcome EventKind = "UnknownOutcome"
)

const maxReasonRunes = 256

// truncateReason caps free-text reason/message fields at the boundary,
// per the Open Question this engine resolves in SPEC_FULL.md §9.
func truncateReason(s string) string {
	r := []rune(s)
	if len(r) <= maxReasonRunes {
		return s
	}
	return string(r[:maxReasonRunes]) + "…"
}

// EventRecord is the ordered, monotonically-sequenced record handed to
// the Event Sink. Exactly one tagged payload field is populated,
// matching Kind.
type EventRecord struct {
	Sequence  int64     `json:"sequence"`
	At        time.Time `json:"at"`
	Kind      EventKind `json:"kind"`
	Symbol    string    `json:"symbol"`

	RuleActivated  *RuleActivatedPayload  `json:"ruleActivated,omitempty"`
	EntryExecuted  *EntryExecutedPayload  `json:"entryExecuted,omitempty"`
	PartialClose   *PartialClosePayload   `json:"partialClose,omitempty"`
	FullClose      *FullClosePayload      `json:"fullClose,omitempty"`
	EmergencyStop  *EmergencyStopPayload  `json:"emergencyStop,omitempty"`
	Layer2Trigger  *Layer2TriggerPayload  `json:"layer2Trigger,omitempty"`
	Layer3Verdict  *Layer3VerdictPayload  `json:"layer3Verdict,omitempty"`
	ForceClose     *ForceClosePayload     `json:"forceClose,omitempty"`
	Layer1Skipped  *Layer1SkippedPayload  `json:"layer1Skipped,omitempty"`
	UnknownOutcome *UnknownOutcomePayload `json:"unknownOutcome,omitempty"`
}

// RuleActivatedPayload records a rule install attempt.
type RuleActivatedPayload struct {
	Rule     StructuredRule `json:"rule"`
	Accepted bool           `json:"accepted"`
	Reason   string         `json:"reason,omitempty"`
}

// NewRuleActivatedPayload truncates Reason at construction time.
func NewRuleActivatedPayload(rule StructuredRule, accepted bool, reason string) *RuleActivatedPayload {
	return &RuleActivatedPayload{Rule: rule, Accepted: accepted, Reason: truncateReason(reason)}
}

// EntryExecutedPayload records a newly opened position.
type EntryExecutedPayload struct {
	PositionID string  `json:"positionId"`
	Direction  Direction `json:"direction"`
	Price      string  `json:"price"`
	Volume     string  `json:"volume"`
}

// PartialClosePayload records a partial close of a position.
type PartialClosePayload struct {
	PositionID   string `json:"positionId"`
	Price        string `json:"price"`
	ClosedVolume string `json:"closedVolume"`
	Reason       string `json:"reason"`
	TPLevelIndex *int   `json:"tpLevelIndex,omitempty"`
}

// FullClosePayload records a full close of a position.
type FullClosePayload struct {
	PositionID  string `json:"positionId"`
	Price       string `json:"price"`
	Reason      string `json:"reason"`
	RealizedPips string `json:"realizedPips"`
}

// EmergencyStopPayload records an unconditional engine-level stop.
type EmergencyStopPayload struct {
	Reason     string `json:"reason"`
	PositionID string `json:"positionId,omitempty"`
}

// NewEmergencyStopPayload truncates Reason at construction time.
func NewEmergencyStopPayload(reason, positionID string) *EmergencyStopPayload {
	return &EmergencyStopPayload{Reason: truncateReason(reason), PositionID: positionID}
}

// Layer2TriggerPayload records an anomaly-monitor escalation.
type Layer2TriggerPayload struct {
	Escalation Escalation `json:"escalation"`
}

// Layer3VerdictPayload records an advisory verdict applied by the coordinator.
type Layer3VerdictPayload struct {
	PositionID string  `json:"positionId"`
	Verdict    Verdict `json:"verdict"`
	Periodic   bool    `json:"periodic"`
	Applied    bool    `json:"applied"`
}

// ForceClosePayload records a wall-clock daily/weekend force close.
type ForceClosePayload struct {
	PositionID string `json:"positionId"`
	Price      string `json:"price"`
	Reason     string `json:"reason"`
}

// Layer1SkippedPayload records a skipped Layer-1 invocation due to stale data.
type Layer1SkippedPayload struct {
	LastTickAgeMillis int64 `json:"lastTickAgeMillis"`
}

// UnknownOutcomePayload records an in-flight order whose outcome is
// unknown after shutdown, requiring reconciliation.
type UnknownOutcomePayload struct {
	PositionID string `json:"positionId,omitempty"`
	OrderDescription string `json:"orderDescription"`
}
