package engine

import (
	"context"
	"time"

	"github.com/atlas-desktop/fxengine/internal/broker"
	"github.com/atlas-desktop/fxengine/internal/evaluator"
	"github.com/atlas-desktop/fxengine/internal/market"
	"github.com/atlas-desktop/fxengine/pkg/fxtypes"
	"github.com/atlas-desktop/fxengine/pkg/pip"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// onTick is the single per-tick step of spec §5: MarketView update,
// Layer-1 checks, entry/exit evaluation, then every scheduled job
// whose deadline is due. Duplicate ticks (same time/bid/ask) are
// idempotent — this reprocesses nothing and emits nothing new;
// out-of-order ticks (earlier than the last accepted tick) are
// dropped and logged (spec §6's tick-source contract).
func (e *Engine) onTick(ctx context.Context, tick fxtypes.Tick) {
	if e.haveLastTick {
		if tick.Time.Equal(e.lastTick.Time) && tick.Bid.Equal(e.lastTick.Bid) && tick.Ask.Equal(e.lastTick.Ask) {
			return
		}
		if tick.Time.Before(e.lastTick.Time) {
			e.logger.Warn("out-of-order tick dropped", zap.Time("tickTime", tick.Time), zap.Time("lastTickTime", e.lastTick.Time))
			return
		}
	}
	e.lastTick = tick
	e.haveLastTick = true

	e.view.UpdateTick(tick)
	e.clock.Advance(tick.Time)
	now := e.clock.Now()

	if e.view.Staleness() == market.Stale {
		e.emitLayer1Skipped(now.Sub(tick.Time).Milliseconds())
	}

	e.runLayer1(ctx, tick, now)
	e.runEntry(ctx, now)
	e.runExits(ctx, now)

	e.scheduler.Tick()

	if e.metrics != nil {
		e.metrics.OpenPositionsGauge.Set(float64(e.book.Count(e.cfg.Symbol)))
	}
}

// runLayer1 evaluates the four emergency checks against every open
// position and immediately full-closes any that trigger (spec §4.7).
// This is a plain full close, not an EmergencyStop — EmergencyStop is
// reserved for a close that itself fails (spec §4.6).
func (e *Engine) runLayer1(ctx context.Context, tick fxtypes.Tick, now time.Time) {
	start := time.Now()
	positions := e.book.Snapshot(e.cfg.Symbol)
	triggers := e.layer1.Check(tick, positions)
	if e.metrics != nil {
		e.metrics.Layer1LatencySeconds.Observe(time.Since(start).Seconds())
	}

	for _, t := range triggers {
		if e.metrics != nil {
			e.metrics.Layer1TriggersTotal.WithLabelValues(string(t.Reason)).Inc()
		}
		e.closePosition(ctx, t.PositionID, string(t.Reason), now)
	}
}

// runEntry evaluates the currently active rule against the market
// snapshot and opens a position if admissible (spec §4.4.1). No rule
// covering `now` means rule-expired mode: no entries, existing
// positions keep running under their own rule_snapshot.
func (e *Engine) runEntry(ctx context.Context, now time.Time) {
	rule, ok := e.ruleStore.Current(now)
	if !ok {
		return
	}
	if suppressed, _ := e.entriesSuppressed(now); suppressed {
		return
	}

	equity, err := e.accountEquity(ctx)
	if err != nil {
		e.logger.Warn("account info unavailable, skipping entry evaluation", zap.Error(err))
		return
	}

	decision := evaluator.EvaluateEntry(evaluator.EntryInputs{
		Rule:          rule,
		Snapshot:      e.view.Snapshot(),
		Staleness:     e.view.Staleness(),
		OpenPositions: e.book.Count(e.cfg.Symbol),
		AccountEquity: equity,
		PipScale:      e.cfg.PipScale,
		NowLocalHHMM:  e.clock.LocalHHMM(),
	})
	if !decision.ShouldEnter {
		return
	}

	cctx, cancel := e.gatewayContext(ctx)
	fill, err := e.gateway.MarketOpen(cctx, broker.OrderIntent{
		Symbol:    e.cfg.Symbol,
		Direction: decision.Direction,
		Volume:    decision.VolumeLots,
	})
	cancel()
	if err != nil {
		e.logger.Warn("market open failed", zap.Error(err))
		return
	}

	isBuy := decision.Direction == fxtypes.DirectionBuy
	insuranceSL := insuranceStopLossPrice(isBuy, fill.Price, equity, fill.Volume)
	priceF, _ := fill.Price.Float64()
	volF, _ := fill.Volume.Float64()
	insuranceF, _ := insuranceSL.Float64()
	equityF, _ := equity.Float64()

	pos := e.book.Open(e.cfg.Symbol, decision.Direction, fill.At, priceF, volF, insuranceF, equityF, rule)
	e.emitEntryExecuted(pos)
}

// insuranceStopLossPrice derives the backstop stop level required by
// spec §4.4.1 step 5: a price distance equal to 5% of account equity
// for the filled volume, placed on the adverse side of the fill.
func insuranceStopLossPrice(isBuy bool, openPrice, equity, volume decimal.Decimal) decimal.Decimal {
	if volume.IsZero() {
		return openPrice
	}
	distance := equity.Mul(decimal.NewFromFloat(0.05)).Div(volume)
	if isBuy {
		return openPrice.Sub(distance)
	}
	return openPrice.Add(distance)
}

// runExits evaluates the exit pipeline for every open position and
// applies partial closes, full closes, and trailing-stop updates.
func (e *Engine) runExits(ctx context.Context, now time.Time) {
	for _, pos := range e.book.Snapshot(e.cfg.Symbol) {
		decision := evaluator.EvaluateExit(evaluator.ExitInputs{
			Position:     pos,
			Rule:         pos.RuleSnapshot,
			Snapshot:     e.view.Snapshot(),
			PipScale:     e.cfg.PipScale,
			NowLocalHHMM: e.clock.LocalHHMM(),
			Now:          now,
		})
		e.applyExitDecision(ctx, pos, decision, now)
	}
}

func (e *Engine) applyExitDecision(ctx context.Context, pos fxtypes.Position, decision evaluator.ExitDecision, now time.Time) {
	switch decision.Action {
	case evaluator.ExitNone:
		return
	case evaluator.ExitTrailingOnly:
		hw, _ := decision.TrailingHighWaterPips.Float64()
		sp, _ := decision.TrailingStopPrice.Float64()
		if err := e.book.SetTrailingStop(pos.ID, hw, sp); err != nil {
			e.logger.Warn("trailing stop update failed", zap.String("positionId", pos.ID), zap.Error(err))
		}
	case evaluator.ExitPartial:
		e.partialClose(ctx, pos, decision, now)
	case evaluator.ExitFull:
		e.closePosition(ctx, pos.ID, decision.Reason, now)
	}
}

func (e *Engine) partialClose(ctx context.Context, pos fxtypes.Position, decision evaluator.ExitDecision, now time.Time) {
	// ClosePercent is a rung of the original volume, not of whatever
	// remains after earlier rungs already closed (spec §4.4.2 step 3).
	closeVolume := pos.VolumeInitial.Mul(decision.ClosePercent).Div(decimal.NewFromInt(100))
	if closeVolume.GreaterThan(pos.VolumeRemaining) {
		closeVolume = pos.VolumeRemaining
	}

	cctx, cancel := e.gatewayContext(ctx)
	fill, err := e.gateway.Close(cctx, broker.CloseIntent{
		PositionID: pos.ID,
		Symbol:     pos.Symbol,
		Direction:  pos.Direction,
		Volume:     closeVolume,
	})
	cancel()
	if err != nil {
		e.logger.Warn("partial close failed, leaving position open", zap.String("positionId", pos.ID), zap.Error(err))
		return
	}

	isBuy := pos.Direction == fxtypes.DirectionBuy
	realizedPips := pip.ForDirectionGain(isBuy, pos.OpenPrice, fill.Price, e.cfg.PipScale)
	realizedF, _ := realizedPips.Float64()
	volF, _ := fill.Volume.Float64()

	tpLevel := decision.TPLevelIndex
	var tpLevelPtr *int
	if tpLevel >= 0 {
		tpLevelPtr = &tpLevel
	}
	updated, err := e.book.PartialClose(pos.ID, volF, realizedF, tpLevel)
	if err != nil {
		e.logger.Error("partial close bookkeeping failed", zap.String("positionId", pos.ID), zap.Error(err))
		return
	}
	e.emitPartialClose(now, pos.ID, fill.Price.String(), fill.Volume.String(), decision.Reason, tpLevelPtr)
	if updated.Status == fxtypes.PositionClosed {
		e.emitFullClose(now, pos.ID, fill.Price.String(), decision.Reason, updated.RealizedPnLPips.String())
	}
}

// closePosition closes the remainder of a position at market (spec
// §4.5/§4.6). A close failure is catastrophic (spec §4.6): it emits
// EmergencyStop{reason=close_failed} and latches entry suppression
// until AcknowledgeCloseFailure is called.
func (e *Engine) closePosition(ctx context.Context, positionID, reason string, now time.Time) {
	pos, ok := e.book.Get(positionID)
	if !ok {
		return
	}

	cctx, cancel := e.gatewayContext(ctx)
	fill, err := e.gateway.Close(cctx, broker.CloseIntent{
		PositionID: positionID,
		Symbol:     pos.Symbol,
		Direction:  pos.Direction,
		Volume:     pos.VolumeRemaining,
	})
	cancel()
	if err != nil {
		e.logger.Error("close failed, suppressing entries until acknowledgement",
			zap.String("positionId", positionID), zap.Error(err))
		e.suppressEntries.Store(true)
		e.emitEmergencyStop("close_failed", positionID)
		e.emitUnknownOutcome(positionID, "close intent: "+reason)
		return
	}

	isBuy := pos.Direction == fxtypes.DirectionBuy
	realizedPips := pip.ForDirectionGain(isBuy, pos.OpenPrice, fill.Price, e.cfg.PipScale)
	realizedF, _ := realizedPips.Float64()
	updated, err := e.book.FullClose(positionID, realizedF)
	if err != nil {
		e.logger.Error("full close bookkeeping failed", zap.String("positionId", positionID), zap.Error(err))
		return
	}
	e.emitFullClose(now, positionID, fill.Price.String(), reason, updated.RealizedPnLPips.String())
}

// forceCloseAll closes every open position unconditionally (daily or
// weekend boundary, spec §4.4.4/§4.9's "force close" reason).
func (e *Engine) forceCloseAll(ctx context.Context, reason string, now time.Time) {
	for _, pos := range e.book.Snapshot(e.cfg.Symbol) {
		cctx, cancel := e.gatewayContext(ctx)
		fill, err := e.gateway.Close(cctx, broker.CloseIntent{
			PositionID: pos.ID,
			Symbol:     pos.Symbol,
			Direction:  pos.Direction,
			Volume:     pos.VolumeRemaining,
		})
		cancel()
		if err != nil {
			e.logger.Error("force close failed", zap.String("positionId", pos.ID), zap.Error(err))
			e.suppressEntries.Store(true)
			e.emitEmergencyStop("close_failed", pos.ID)
			continue
		}
		isBuy := pos.Direction == fxtypes.DirectionBuy
		realizedPips := pip.ForDirectionGain(isBuy, pos.OpenPrice, fill.Price, e.cfg.PipScale)
		realizedF, _ := realizedPips.Float64()
		if _, err := e.book.FullClose(pos.ID, realizedF); err != nil {
			e.logger.Error("force close bookkeeping failed", zap.String("positionId", pos.ID), zap.Error(err))
			continue
		}
		e.emitForceClose(now, pos.ID, fill.Price.String(), reason)
	}
}
