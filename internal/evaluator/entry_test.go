package evaluator_test

import (
	"testing"
	"time"

	"github.com/atlas-desktop/fxengine/internal/evaluator"
	"github.com/atlas-desktop/fxengine/internal/market"
	"github.com/atlas-desktop/fxengine/pkg/fxtypes"
	"github.com/atlas-desktop/fxengine/pkg/pip"
	"github.com/shopspring/decimal"
)

func baseRule() fxtypes.StructuredRule {
	now := time.Date(2026, 7, 30, 9, 0, 0, 0, time.UTC)
	return fxtypes.StructuredRule{
		GeneratedAt: now,
		ValidUntil:  now.Add(time.Hour),
		Symbol:      "USDJPY",
		DailyBias:   fxtypes.BiasBuy,
		Confidence:  0.8,
		EntryConditions: fxtypes.EntryConditions{
			ShouldTrade: true,
			Direction:   fxtypes.DirectionBuy,
			PriceZone:   fxtypes.PriceZone{Min: decimal.NewFromFloat(149.0), Max: decimal.NewFromFloat(151.0)},
			Spread:      fxtypes.SpreadGuard{MaxPips: decimal.NewFromFloat(3)},
		},
		ExitStrategy: fxtypes.ExitStrategy{
			StopLoss: fxtypes.StopLoss{InitialPips: decimal.NewFromFloat(30)},
		},
		RiskManagement: fxtypes.RiskManagement{
			PositionSizeMultiplier:  decimal.NewFromFloat(1),
			MaxPositions:            1,
			MaxRiskPerTradePercent:  decimal.NewFromFloat(1),
			MaxTotalExposurePercent: decimal.NewFromFloat(50),
		},
	}
}

func snapshotAt(mid float64) *market.Snapshot {
	bid := decimal.NewFromFloat(mid - 0.005)
	ask := decimal.NewFromFloat(mid + 0.005)
	return &market.Snapshot{
		Tick: fxtypes.Tick{Time: time.Now().UTC(), Bid: bid, Ask: ask},
	}
}

func TestEvaluateEntryHappyPath(t *testing.T) {
	rule := baseRule()
	decision := evaluator.EvaluateEntry(evaluator.EntryInputs{
		Rule:          rule,
		Snapshot:      snapshotAt(150.0),
		Staleness:     market.Fresh,
		OpenPositions: 0,
		AccountEquity: decimal.NewFromInt(10000),
		PipScale:      pip.DefaultJPYScale,
		NowLocalHHMM:  "10:00",
	})

	if !decision.ShouldEnter {
		t.Fatalf("expected entry, gates: %+v", decision.Gates)
	}
	if decision.Direction != fxtypes.DirectionBuy {
		t.Errorf("expected BUY direction, got %s", decision.Direction)
	}
	if !decision.VolumeLots.IsPositive() {
		t.Errorf("expected positive sized volume, got %s", decision.VolumeLots)
	}
}

func TestEvaluateEntryRejectsWhenShouldTradeFalse(t *testing.T) {
	rule := baseRule()
	rule.EntryConditions.ShouldTrade = false

	decision := evaluator.EvaluateEntry(evaluator.EntryInputs{
		Rule:          rule,
		Snapshot:      snapshotAt(150.0),
		Staleness:     market.Fresh,
		AccountEquity: decimal.NewFromInt(10000),
		PipScale:      pip.DefaultJPYScale,
	})

	if decision.ShouldEnter {
		t.Fatal("expected rejection when shouldTrade is false")
	}
	if len(decision.Gates) != 1 || decision.Gates[0].Gate != "admissibility" {
		t.Errorf("expected single failing admissibility gate, got %+v", decision.Gates)
	}
}

func TestEvaluateEntryRejectsNeutralBias(t *testing.T) {
	rule := baseRule()
	rule.DailyBias = fxtypes.BiasNeutral

	decision := evaluator.EvaluateEntry(evaluator.EntryInputs{
		Rule:          rule,
		Snapshot:      snapshotAt(150.0),
		Staleness:     market.Fresh,
		AccountEquity: decimal.NewFromInt(10000),
		PipScale:      pip.DefaultJPYScale,
	})

	if decision.ShouldEnter {
		t.Fatal("expected rejection when dailyBias is NEUTRAL")
	}
	if len(decision.Gates) != 1 || decision.Gates[0].Gate != "admissibility" {
		t.Errorf("expected single failing admissibility gate, got %+v", decision.Gates)
	}
}

func TestEvaluateEntryRejectsOutsidePriceZone(t *testing.T) {
	rule := baseRule()

	decision := evaluator.EvaluateEntry(evaluator.EntryInputs{
		Rule:          rule,
		Snapshot:      snapshotAt(155.0),
		Staleness:     market.Fresh,
		AccountEquity: decimal.NewFromInt(10000),
		PipScale:      pip.DefaultJPYScale,
	})

	if decision.ShouldEnter {
		t.Fatal("expected rejection outside price zone")
	}
	last := decision.Gates[len(decision.Gates)-1]
	if last.Gate != "price_zone" || last.Passed {
		t.Errorf("expected failing price_zone gate, got %+v", last)
	}
}

func TestEvaluateEntryRejectsOnStaleMarket(t *testing.T) {
	rule := baseRule()

	decision := evaluator.EvaluateEntry(evaluator.EntryInputs{
		Rule:          rule,
		Snapshot:      snapshotAt(150.0),
		Staleness:     market.Stale,
		AccountEquity: decimal.NewFromInt(10000),
		PipScale:      pip.DefaultJPYScale,
	})

	if decision.ShouldEnter {
		t.Fatal("expected rejection on stale market")
	}
}

func TestEvaluateEntryRejectsWideSpread(t *testing.T) {
	rule := baseRule()
	snap := snapshotAt(150.0)
	snap.Tick.Ask = snap.Tick.Bid.Add(decimal.NewFromFloat(0.10)) // 10 pips at JPY scale

	decision := evaluator.EvaluateEntry(evaluator.EntryInputs{
		Rule:          rule,
		Snapshot:      snap,
		Staleness:     market.Fresh,
		AccountEquity: decimal.NewFromInt(10000),
		PipScale:      pip.DefaultJPYScale,
	})

	if decision.ShouldEnter {
		t.Fatal("expected rejection on excessive spread")
	}
}

func TestEvaluateEntryRejectsAtMaxPositions(t *testing.T) {
	rule := baseRule()

	decision := evaluator.EvaluateEntry(evaluator.EntryInputs{
		Rule:          rule,
		Snapshot:      snapshotAt(150.0),
		Staleness:     market.Fresh,
		OpenPositions: 1,
		AccountEquity: decimal.NewFromInt(10000),
		PipScale:      pip.DefaultJPYScale,
	})

	if decision.ShouldEnter {
		t.Fatal("expected rejection at max positions")
	}
}

func TestEvaluateEntryRejectsWithinAvoidWindow(t *testing.T) {
	rule := baseRule()
	rule.EntryConditions.TimeFilter.AvoidTimes = []fxtypes.AvoidWindow{
		{Start: "09:55", End: "10:05", Reason: "news release"},
	}

	decision := evaluator.EvaluateEntry(evaluator.EntryInputs{
		Rule:          rule,
		Snapshot:      snapshotAt(150.0),
		Staleness:     market.Fresh,
		AccountEquity: decimal.NewFromInt(10000),
		PipScale:      pip.DefaultJPYScale,
		NowLocalHHMM:  "10:00",
	})

	if decision.ShouldEnter {
		t.Fatal("expected rejection within avoid window")
	}
}
