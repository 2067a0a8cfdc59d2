package engine

import (
	"time"

	"github.com/atlas-desktop/fxengine/internal/market"
)

// Status is the read-only snapshot the API surface polls: spec §5's
// "rule-expired vs active" regime, open-position count, and the
// suppression/degradation state that governs new entries.
type Status struct {
	Symbol            string    `json:"symbol"`
	Now               time.Time `json:"now"`
	RegimeActive      bool      `json:"regimeActive"`
	OpenPositions     int       `json:"openPositions"`
	ClosedPositions   int       `json:"closedPositions"`
	InstalledRules    int       `json:"installedRules"`
	EntriesSuppressed bool      `json:"entriesSuppressed"`
	SuppressionReason string    `json:"suppressionReason,omitempty"`
	SinkDegraded      bool      `json:"sinkDegraded"`
	MarketStale       bool      `json:"marketStale"`
}

// Status reports the engine's current regime and health for read-only
// consumers (internal/api). Safe to call concurrently with Run.
func (e *Engine) Status() Status {
	now := e.clock.Now()
	_, regimeActive := e.ruleStore.Current(now)
	suppressed, reason := e.entriesSuppressed(now)
	return Status{
		Symbol:            e.cfg.Symbol,
		Now:               now,
		RegimeActive:      regimeActive,
		OpenPositions:     e.book.Count(e.cfg.Symbol),
		ClosedPositions:   e.book.ClosedCount(),
		InstalledRules:    e.ruleStore.Len(),
		EntriesSuppressed: suppressed,
		SuppressionReason: reason,
		SinkDegraded:      e.sink.Degraded(),
		MarketStale:       e.view.Staleness() == market.Stale,
	}
}
