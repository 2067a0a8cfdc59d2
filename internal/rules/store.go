// Package rules provides the Rule Store (spec §4.3): an append-only
// history of StructuredRule with current-rule lookup by instant.
package rules

import (
	"sync"
	"time"

	"github.com/atlas-desktop/fxengine/pkg/fxtypes"
	"go.uber.org/zap"
)

// Store is the append-only rule history. Mutations are guarded by a
// mutex (teacher idiom: execution.RiskManager / strategy.StrategyRegistry
// both guard a slice/map this way), since installs are rare compared to
// the tick-rate reads current() serves.
type Store struct {
	mu     sync.RWMutex
	logger *zap.Logger
	rules  []fxtypes.StructuredRule
}

// New creates an empty Rule Store.
func New(logger *zap.Logger) *Store {
	return &Store{logger: logger.Named("rule-store")}
}

// InstallResult reports the outcome of an Install call.
type InstallResult struct {
	Accepted bool
	Reason   string
}

// Install appends rule to the history if it satisfies the §3 invariants.
// Rejected rules do not mutate the store.
func (s *Store) Install(rule fxtypes.StructuredRule) InstallResult {
	if err := rule.Validate(); err != nil {
		s.logger.Warn("rule rejected", zap.Error(err), zap.String("symbol", rule.Symbol))
		return InstallResult{Accepted: false, Reason: err.Error()}
	}

	s.mu.Lock()
	s.rules = append(s.rules, rule)
	s.mu.Unlock()

	s.logger.Info("rule installed",
		zap.String("symbol", rule.Symbol),
		zap.Time("generatedAt", rule.GeneratedAt),
		zap.Time("validUntil", rule.ValidUntil),
		zap.String("bias", string(rule.DailyBias)),
	)
	return InstallResult{Accepted: true}
}

// Current returns the most-recent installed rule whose
// [GeneratedAt, ValidUntil] interval contains at, or false if the
// engine is in rule-expired mode (no rule covers at).
func (s *Store) Current(at time.Time) (fxtypes.StructuredRule, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	// Rules are appended in install order, which is also generation
	// order for a well-behaved upstream; scan from the newest so the
	// most-recently generated covering rule wins.
	for i := len(s.rules) - 1; i >= 0; i-- {
		if s.rules[i].Contains(at) {
			return s.rules[i], true
		}
	}
	return fxtypes.StructuredRule{}, false
}

// History returns a copy of all installed rules, oldest first.
func (s *Store) History() []fxtypes.StructuredRule {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]fxtypes.StructuredRule, len(s.rules))
	copy(out, s.rules)
	return out
}

// Len reports how many rules have been installed.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rules)
}
