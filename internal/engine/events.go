package engine

import (
	"time"

	"github.com/atlas-desktop/fxengine/pkg/fxtypes"
	"go.uber.org/zap"
)

func (e *Engine) emit(rec fxtypes.EventRecord) {
	rec.Sequence = e.nextSequence()
	rec.Symbol = e.cfg.Symbol
	e.sink.Emit(rec)
	if e.metrics != nil {
		e.metrics.EventsProcessedTotal.WithLabelValues(string(rec.Kind)).Inc()
		e.metrics.ObserveSinkDegraded(e.sink.Degraded())
	}
}

func (e *Engine) emitRuleActivated(rule fxtypes.StructuredRule, accepted bool, reason string) {
	e.emit(fxtypes.EventRecord{
		At:            e.clock.Now(),
		Kind:          fxtypes.EventRuleActivated,
		RuleActivated: fxtypes.NewRuleActivatedPayload(rule, accepted, reason),
	})
}

func (e *Engine) emitEntryExecuted(pos *fxtypes.Position) {
	e.emit(fxtypes.EventRecord{
		At:   pos.OpenedAt,
		Kind: fxtypes.EventEntryExecuted,
		EntryExecuted: &fxtypes.EntryExecutedPayload{
			PositionID: pos.ID,
			Direction:  pos.Direction,
			Price:      pos.OpenPrice.String(),
			Volume:     pos.VolumeInitial.String(),
		},
	})
}

func (e *Engine) emitPartialClose(at time.Time, positionID, price, closedVolume, reason string, tpLevel *int) {
	e.emit(fxtypes.EventRecord{
		At:   at,
		Kind: fxtypes.EventPartialClose,
		PartialClose: &fxtypes.PartialClosePayload{
			PositionID: positionID, Price: price, ClosedVolume: closedVolume,
			Reason: reason, TPLevelIndex: tpLevel,
		},
	})
}

func (e *Engine) emitFullClose(at time.Time, positionID, price, reason, realizedPips string) {
	e.emit(fxtypes.EventRecord{
		At:   at,
		Kind: fxtypes.EventFullClose,
		FullClose: &fxtypes.FullClosePayload{
			PositionID: positionID, Price: price, Reason: reason, RealizedPips: realizedPips,
		},
	})
}

func (e *Engine) emitEmergencyStop(reason, positionID string) {
	e.emit(fxtypes.EventRecord{
		At:            e.clock.Now(),
		Kind:          fxtypes.EventEmergencyStop,
		EmergencyStop: fxtypes.NewEmergencyStopPayload(reason, positionID),
	})
}

func (e *Engine) emitLayer2Trigger(esc fxtypes.Escalation) {
	e.emit(fxtypes.EventRecord{
		At:            esc.At,
		Kind:          fxtypes.EventLayer2Trigger,
		Layer2Trigger: &fxtypes.Layer2TriggerPayload{Escalation: esc},
	})
}

func (e *Engine) emitLayer3Verdict(at time.Time, positionID string, verdict fxtypes.Verdict, periodic, applied bool) {
	kind := fxtypes.EventLayer3bVerdict
	if periodic {
		kind = fxtypes.EventLayer3aVerdict
	}
	e.emit(fxtypes.EventRecord{
		At:   at,
		Kind: kind,
		Layer3Verdict: &fxtypes.Layer3VerdictPayload{
			PositionID: positionID, Verdict: verdict, Periodic: periodic, Applied: applied,
		},
	})
	if e.metrics != nil && verdict.Reason == "advisory_timeout" {
		callType := "emergency"
		if periodic {
			callType = "periodic"
		}
		e.metrics.AdvisoryTimeoutsTotal.WithLabelValues(callType).Inc()
	}
}

func (e *Engine) emitForceClose(at time.Time, positionID, price, reason string) {
	e.emit(fxtypes.EventRecord{
		At:   at,
		Kind: fxtypes.EventForceClose,
		ForceClose: &fxtypes.ForceClosePayload{
			PositionID: positionID, Price: price, Reason: reason,
		},
	})
}

func (e *Engine) emitLayer1Skipped(lastTickAgeMillis int64) {
	e.emit(fxtypes.EventRecord{
		At:            e.clock.Now(),
		Kind:          fxtypes.EventLayer1Skipped,
		Layer1Skipped: &fxtypes.Layer1SkippedPayload{LastTickAgeMillis: lastTickAgeMillis},
	})
}

func (e *Engine) emitUnknownOutcome(positionID, orderDescription string) {
	e.emit(fxtypes.EventRecord{
		At:   e.clock.Now(),
		Kind: fxtypes.EventUnknownOutcome,
		UnknownOutcome: &fxtypes.UnknownOutcomePayload{
			PositionID: positionID, OrderDescription: orderDescription,
		},
	})
	e.logger.Warn("order outcome unknown after shutdown, requires reconciliation",
		zap.String("positionId", positionID), zap.String("order", orderDescription))
}
