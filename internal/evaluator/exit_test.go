package evaluator_test

import (
	"testing"
	"time"

	"github.com/atlas-desktop/fxengine/internal/evaluator"
	"github.com/atlas-desktop/fxengine/pkg/fxtypes"
	"github.com/atlas-desktop/fxengine/pkg/pip"
	"github.com/shopspring/decimal"
)

func openPosition(direction fxtypes.Direction, openPrice float64, openedAt time.Time) fxtypes.Position {
	return fxtypes.Position{
		ID:               "pos-1",
		Symbol:           "USDJPY",
		Direction:        direction,
		Status:           fxtypes.PositionOpen,
		OpenedAt:         openedAt,
		OpenPrice:        decimal.NewFromFloat(openPrice),
		VolumeInitial:    decimal.NewFromFloat(1),
		VolumeRemaining:  decimal.NewFromFloat(1),
		ExecutedTPLevels: map[int]bool{},
	}
}

func TestEvaluateExitEmergencyIsTerminal(t *testing.T) {
	pos := openPosition(fxtypes.DirectionBuy, 150.0, time.Now().UTC())
	decision := evaluator.EvaluateExit(evaluator.ExitInputs{
		Position:           pos,
		Rule:               baseRule(),
		Snapshot:           snapshotAt(100.0), // would otherwise also breach stop-loss
		PipScale:           pip.DefaultJPYScale,
		Now:                time.Now().UTC(),
		EmergencyTriggered: true,
		EmergencyReason:    "account_drawdown_2pct",
	})

	if decision.Action != evaluator.ExitFull {
		t.Fatalf("expected full close on emergency, got %s", decision.Action)
	}
	if decision.Reason != "account_drawdown_2pct" {
		t.Errorf("expected emergency reason preserved, got %q", decision.Reason)
	}
}

func TestEvaluateExitHardStopLoss(t *testing.T) {
	rule := baseRule()
	pos := openPosition(fxtypes.DirectionBuy, 150.00, time.Now().UTC())

	// 30 pip initial stop at JPY scale (100) means 0.30 adverse move.
	decision := evaluator.EvaluateExit(evaluator.ExitInputs{
		Position: pos,
		Rule:     rule,
		Snapshot: snapshotAt(149.60),
		PipScale: pip.DefaultJPYScale,
		Now:      time.Now().UTC(),
	})

	if decision.Action != evaluator.ExitFull || decision.Reason != "stop_loss" {
		t.Fatalf("expected stop_loss full close, got %+v", decision)
	}
}

func TestEvaluateExitTakeProfitLadderOrder(t *testing.T) {
	rule := baseRule()
	rule.ExitStrategy.TakeProfit = []fxtypes.TakeProfitLevel{
		{Pips: decimal.NewFromFloat(20), ClosePercent: decimal.NewFromFloat(50)},
		{Pips: decimal.NewFromFloat(40), ClosePercent: decimal.NewFromFloat(50)},
	}
	pos := openPosition(fxtypes.DirectionBuy, 150.00, time.Now().UTC())

	decision := evaluator.EvaluateExit(evaluator.ExitInputs{
		Position: pos,
		Rule:     rule,
		Snapshot: snapshotAt(150.50), // 50 pips favourable, both levels technically reached
		PipScale: pip.DefaultJPYScale,
		Now:      time.Now().UTC(),
	})

	if decision.Action != evaluator.ExitPartial || decision.TPLevelIndex != 0 {
		t.Fatalf("expected level 0 to fire first despite both being in range, got %+v", decision)
	}

	pos.ExecutedTPLevels[0] = true
	decision = evaluator.EvaluateExit(evaluator.ExitInputs{
		Position: pos,
		Rule:     rule,
		Snapshot: snapshotAt(150.50),
		PipScale: pip.DefaultJPYScale,
		Now:      time.Now().UTC(),
	})
	if decision.Action != evaluator.ExitPartial || decision.TPLevelIndex != 1 {
		t.Fatalf("expected level 1 to fire next, got %+v", decision)
	}
}

func TestEvaluateExitTrailingStopTriggersOnRetrace(t *testing.T) {
	rule := baseRule()
	rule.ExitStrategy.StopLoss.Trailing = &fxtypes.Trailing{
		ActivateAtPips:    decimal.NewFromFloat(20),
		TrailDistancePips: decimal.NewFromFloat(10),
	}
	pos := openPosition(fxtypes.DirectionBuy, 150.00, time.Now().UTC())

	// First pass activates trailing and records high water.
	decision := evaluator.EvaluateExit(evaluator.ExitInputs{
		Position: pos,
		Rule:     rule,
		Snapshot: snapshotAt(150.30), // 30 pips favourable
		PipScale: pip.DefaultJPYScale,
		Now:      time.Now().UTC(),
	})
	if decision.Action != evaluator.ExitTrailingOnly {
		t.Fatalf("expected trailing_update on first activation, got %+v", decision)
	}
	pos.TrailingStop = &fxtypes.TrailingStopState{
		HighWaterPips: decision.TrailingHighWaterPips,
		StopPrice:     decision.TrailingStopPrice,
	}

	// Price retraces below the recorded trailing stop price.
	decision = evaluator.EvaluateExit(evaluator.ExitInputs{
		Position: pos,
		Rule:     rule,
		Snapshot: snapshotAt(150.15),
		PipScale: pip.DefaultJPYScale,
		Now:      time.Now().UTC(),
	})
	if decision.Action != evaluator.ExitFull || decision.Reason != "trailing_stop" {
		t.Fatalf("expected trailing_stop full close on retrace, got %+v", decision)
	}
}

func TestEvaluateExitTimeExitMaxHold(t *testing.T) {
	rule := baseRule()
	rule.ExitStrategy.TimeExits.MaxHoldMinutes = 60
	openedAt := time.Now().UTC().Add(-90 * time.Minute)
	pos := openPosition(fxtypes.DirectionBuy, 150.00, openedAt)

	decision := evaluator.EvaluateExit(evaluator.ExitInputs{
		Position: pos,
		Rule:     rule,
		Snapshot: snapshotAt(150.00),
		PipScale: pip.DefaultJPYScale,
		Now:      time.Now().UTC(),
	})

	if decision.Action != evaluator.ExitFull || decision.Reason != "max_hold_duration" {
		t.Fatalf("expected max_hold_duration full close, got %+v", decision)
	}
}

func TestEvaluateExitNoneWhenNothingTriggers(t *testing.T) {
	rule := baseRule()
	pos := openPosition(fxtypes.DirectionBuy, 150.00, time.Now().UTC())

	decision := evaluator.EvaluateExit(evaluator.ExitInputs{
		Position: pos,
		Rule:     rule,
		Snapshot: snapshotAt(150.05),
		PipScale: pip.DefaultJPYScale,
		Now:      time.Now().UTC(),
	})

	if decision.Action != evaluator.ExitNone {
		t.Fatalf("expected no exit action, got %+v", decision)
	}
}
