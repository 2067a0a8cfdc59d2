// Package layer1 provides the Emergency Monitor (spec §4.7): per-tick,
// first-hit-wins checks that bypass the advisory oracle entirely and
// trigger an immediate full close. Grounded on the teacher's
// execution.RiskManager check-ladder style (ordered boolean checks,
// first violation wins) narrowed to the four emergency conditions.
package layer1

import (
	"time"

	"github.com/atlas-desktop/fxengine/pkg/fxtypes"
	"github.com/atlas-desktop/fxengine/pkg/pip"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Reason is a Layer-1 trigger reason, recorded verbatim as the reason
// of the position's FullClose event (a Layer-1 close emits no
// EmergencyStop).
type Reason string

const (
	ReasonAccount2Pct    Reason = "account_2pct"
	ReasonHardStop50Pips Reason = "hard_stop_50pips"
	ReasonSpreadAlert    Reason = "spread_alert"
	ReasonFlashCrash     Reason = "flash_crash"
)

// Trigger is a single position's Layer-1 verdict for this tick.
type Trigger struct {
	PositionID string
	Reason     Reason
}

// SkipStaleness is the spec's §4.7 threshold: if the 100ms scheduler
// fires but the last tick is older than this, Layer-1 has nothing to
// evaluate and the caller should record Layer1Skipped instead.
const SkipStaleness = time.Second

// flashCrashLookback is how far back the recent-tick ring looks for the
// "~100ms ago" comparison point.
const flashCrashLookback = 100 * time.Millisecond

// Monitor runs the four ordered emergency checks. It keeps a small
// ring of recent ticks purely for the flash-crash lookback; all other
// state is read from the inputs passed to Check.
type Monitor struct {
	logger   *zap.Logger
	pipScale pip.Scale

	recentTicks []fxtypes.Tick
}

// New creates a Layer-1 Monitor.
func New(logger *zap.Logger, pipScale pip.Scale) *Monitor {
	return &Monitor{logger: logger.Named("layer1"), pipScale: pipScale}
}

// recordTick appends tick to the lookback ring, evicting entries older
// than the lookback window plus a small margin.
func (m *Monitor) recordTick(tick fxtypes.Tick) {
	m.recentTicks = append(m.recentTicks, tick)
	cutoff := tick.Time.Add(-flashCrashLookback * 4)
	i := 0
	for i < len(m.recentTicks) && m.recentTicks[i].Time.Before(cutoff) {
		i++
	}
	m.recentTicks = m.recentTicks[i:]
}

// tickNearLookback returns the recorded tick closest to (but not after)
// now - flashCrashLookback, or false if none is recorded yet.
func (m *Monitor) tickNearLookback(now time.Time) (fxtypes.Tick, bool) {
	target := now.Add(-flashCrashLookback)
	var best fxtypes.Tick
	found := false
	for _, t := range m.recentTicks {
		if !t.Time.After(target) {
			best = t
			found = true
		}
	}
	return best, found
}

// Check runs the ordered emergency checks for every open position
// against the current tick, returning at most one Trigger per position
// (first hit wins). Budget: spec allocates 50ms wall-clock; the checks
// below are pure arithmetic over already-resident data, no I/O.
func (m *Monitor) Check(tick fxtypes.Tick, positions []fxtypes.Position) []Trigger {
	flashCrashPrev, hasFlashCrashPrev := m.tickNearLookback(tick.Time)
	m.recordTick(tick)

	spreadPips := tick.SpreadPips(int32(m.pipScale))
	mid := tick.Mid()

	var triggers []Trigger
	for _, pos := range positions {
		if pos.Status != fxtypes.PositionOpen {
			continue
		}

		isBuy := pos.Direction == fxtypes.DirectionBuy
		unrealizedPips := pip.ForDirectionGain(isBuy, pos.OpenPrice, mid, m.pipScale)
		lossPips := decimal.Zero
		if unrealizedPips.IsNegative() {
			lossPips = unrealizedPips.Neg()
		}
		unrealizedLoss := pip.ToPrice(lossPips, m.pipScale).Mul(pos.VolumeRemaining)
		realizedLoss := decimal.Zero
		if pos.RealizedPnLPips.IsNegative() {
			realizedLoss = pip.ToPrice(pos.RealizedPnLPips.Neg(), m.pipScale).Mul(pos.VolumeInitial)
		}
		if pos.AccountEquityAtOpen.IsPositive() {
			totalLoss := unrealizedLoss.Add(realizedLoss)
			threshold := pos.AccountEquityAtOpen.Mul(decimal.NewFromFloat(0.02))
			if totalLoss.GreaterThanOrEqual(threshold) {
				triggers = append(triggers, Trigger{PositionID: pos.ID, Reason: ReasonAccount2Pct})
				continue
			}
		}

		currentPips := pip.Distance(pos.OpenPrice, mid, m.pipScale)
		if currentPips.Abs().GreaterThanOrEqual(decimal.NewFromInt(50)) {
			triggers = append(triggers, Trigger{PositionID: pos.ID, Reason: ReasonHardStop50Pips})
			continue
		}

		if spreadPips.GreaterThanOrEqual(decimal.NewFromInt(20)) {
			triggers = append(triggers, Trigger{PositionID: pos.ID, Reason: ReasonSpreadAlert})
			continue
		}

		if hasFlashCrashPrev {
			move := pip.Distance(flashCrashPrev.Mid(), mid, m.pipScale).Abs()
			if move.GreaterThanOrEqual(decimal.NewFromInt(30)) {
				triggers = append(triggers, Trigger{PositionID: pos.ID, Reason: ReasonFlashCrash})
				continue
			}
		}
	}

	return triggers
}
