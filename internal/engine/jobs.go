package engine

import (
	"context"
	"time"

	"github.com/atlas-desktop/fxengine/internal/clock"
	"github.com/atlas-desktop/fxengine/internal/evaluator"
	"github.com/atlas-desktop/fxengine/internal/layer3"
	"github.com/atlas-desktop/fxengine/pkg/fxtypes"
	"go.uber.org/zap"
)

// registerJobs wires Layer-2a/2b, Layer-3a, and the daily force-close
// job into the scheduler, in the priority order spec §4.1 fixes for a
// shared instant: Layer-1 (per-tick, not scheduled), Layer-2, Layer-3,
// daily.
func (e *Engine) registerJobs() {
	e.scheduler.Register(&clock.Job{
		Name:     "layer2a",
		Priority: clock.PriorityLayer2,
		Period:   e.cfg.Layer2APeriod,
		Run:      e.runLayer2Minute,
	})
	e.scheduler.Register(&clock.Job{
		Name:     "layer2b",
		Priority: clock.PriorityLayer2,
		Period:   e.cfg.Layer2BPeriod,
		Run:      e.runLayer2FiveMinute,
	})
	e.scheduler.Register(&clock.Job{
		Name:     "layer3a",
		Priority: clock.PriorityLayer3,
		Period:   e.cfg.Layer3APeriod,
		Run:      e.runLayer3Periodic,
	})
	e.scheduler.Register(&clock.Job{
		Name:     "daily_close",
		Priority: clock.PriorityDaily,
		HHMM:     e.cfg.DailyCloseHHMM,
		Run:      e.runDailyClose,
	})
}

func (e *Engine) runLayer2Minute(now time.Time) {
	snap := e.view.Snapshot()
	positions := e.book.Snapshot(e.cfg.Symbol)
	escalations := e.layer2.CheckMinute(snap, positions, now)
	e.handleEscalations(context.Background(), escalations)
}

func (e *Engine) runLayer2FiveMinute(now time.Time) {
	snap := e.view.Snapshot()
	positions := e.book.Snapshot(e.cfg.Symbol)
	escalations := e.layer2.CheckFiveMinute(snap, positions, now, evaluator.EvalPredicates)
	e.handleEscalations(context.Background(), escalations)
}

// handleEscalations emits each Layer-2 trigger and forwards it to
// Layer-3b for an event-driven advisory re-evaluation (spec §4.8/§4.9).
func (e *Engine) handleEscalations(ctx context.Context, escalations []fxtypes.Escalation) {
	for _, esc := range escalations {
		e.emitLayer2Trigger(esc)
		if e.metrics != nil {
			e.metrics.EscalationsTotal.WithLabelValues(esc.Trigger, string(esc.Severity)).Inc()
		}

		pos, ok := e.book.Get(esc.PositionID)
		if !ok {
			continue
		}
		snap := positionSnapshot(pos, e.view.Snapshot(), e.cfg.PipScale, e.clock.Now())

		applied, handled := e.layer3.HandleEscalation(ctx, esc, snap)
		if !handled {
			continue
		}
		e.applyVerdict(ctx, applied, e.clock.Now())
	}
}

func (e *Engine) runLayer3Periodic(now time.Time) {
	positions := e.book.Snapshot(e.cfg.Symbol)
	if len(positions) == 0 {
		return
	}
	snaps := make([]fxtypes.PositionSnapshot, 0, len(positions))
	for _, pos := range positions {
		snaps = append(snaps, positionSnapshot(pos, e.view.Snapshot(), e.cfg.PipScale, now))
	}

	verdicts := e.layer3.RunPeriodic(context.Background(), snaps)
	for _, v := range verdicts {
		e.applyVerdict(context.Background(), v, now)
	}
}

func (e *Engine) runDailyClose(now time.Time) {
	e.forceCloseAll(context.Background(), "daily_close", now)
}

// applyVerdict applies an advisory verdict to the named position's
// book entry (spec §4.9): continue is a no-op, close_partial/close_all
// route through the usual close paths, tighten_stop narrows the
// trailing stop, and escalate re-routes into Layer-3b.
func (e *Engine) applyVerdict(ctx context.Context, applied layer3.AppliedVerdict, now time.Time) {
	e.emitLayer3Verdict(now, applied.PositionID, applied.Verdict, applied.Periodic, applied.Verdict.Action != fxtypes.VerdictContinue)

	switch applied.Verdict.Action {
	case fxtypes.VerdictContinue:
		return
	case fxtypes.VerdictClosePartial:
		e.applyClosePartialVerdict(ctx, applied, now)
	case fxtypes.VerdictCloseAll:
		e.closePosition(ctx, applied.PositionID, "advisory_"+applied.Verdict.Reason, now)
	case fxtypes.VerdictTightenStop:
		e.applyTightenStopVerdict(applied)
	case fxtypes.VerdictEscalate:
		e.escalateVerdict(ctx, applied, now)
	}
}

func (e *Engine) applyClosePartialVerdict(ctx context.Context, applied layer3.AppliedVerdict, now time.Time) {
	pos, ok := e.book.Get(applied.PositionID)
	if !ok {
		return
	}
	pct := applied.Verdict.PartialClosePct
	if pct.IsZero() || pct.IsNegative() {
		return
	}
	e.partialClose(ctx, pos, advisoryExitDecision(applied.Verdict), now)
}

func (e *Engine) applyTightenStopVerdict(applied layer3.AppliedVerdict) {
	pos, ok := e.book.Get(applied.PositionID)
	if !ok || pos.TrailingStop == nil {
		return
	}
	isBuy := pos.Direction == fxtypes.DirectionBuy
	newStopPrice := tightenedStopPrice(isBuy, pos.OpenPrice, applied.Verdict.NewStopPips, e.cfg.PipScale)
	if err := e.book.SetTrailingStop(applied.PositionID, applied.Verdict.NewStopPips.InexactFloat64(), newStopPrice.InexactFloat64()); err != nil {
		e.logger.Warn("tighten_stop verdict could not be applied", zap.String("positionId", applied.PositionID), zap.Error(err))
	}
}

// escalateVerdict forwards a Layer-3a "escalate" verdict into Layer-3b
// as a synthetic escalation (spec §4.9: an escalate verdict is itself
// a Layer-3b trigger).
func (e *Engine) escalateVerdict(ctx context.Context, applied layer3.AppliedVerdict, now time.Time) {
	pos, ok := e.book.Get(applied.PositionID)
	if !ok {
		return
	}
	esc := fxtypes.Escalation{
		At: now, Severity: applied.Verdict.Severity, Trigger: "layer3a_escalate", PositionID: applied.PositionID,
	}
	e.emitLayer2Trigger(esc)
	snap := positionSnapshot(pos, e.view.Snapshot(), e.cfg.PipScale, now)
	next, handled := e.layer3.HandleEscalation(ctx, esc, snap)
	if !handled {
		return
	}
	e.applyVerdict(ctx, next, now)
}
