package layer2_test

import (
	"testing"
	"time"

	"github.com/atlas-desktop/fxengine/internal/layer2"
	"github.com/atlas-desktop/fxengine/internal/market"
	"github.com/atlas-desktop/fxengine/pkg/fxtypes"
	"github.com/atlas-desktop/fxengine/pkg/pip"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func TestCheckMinuteCriticalSupportBreach(t *testing.T) {
	m := layer2.New(zap.NewNop(), pip.DefaultJPYScale)
	snap := &market.Snapshot{
		Tick: fxtypes.Tick{Time: time.Now().UTC(), Bid: decimal.NewFromFloat(149.00), Ask: decimal.NewFromFloat(149.01)},
	}
	pos := fxtypes.Position{
		ID: "p1", Status: fxtypes.PositionOpen, Direction: fxtypes.DirectionBuy,
		RuleSnapshot: fxtypes.StructuredRule{
			KeyLevels: fxtypes.KeyLevels{CriticalSupport: []decimal.Decimal{decimal.NewFromFloat(149.50)}},
		},
	}

	escalations := m.CheckMinute(snap, []fxtypes.Position{pos}, time.Now().UTC())
	if len(escalations) != 1 || escalations[0].Trigger != "critical_support_broken" {
		t.Fatalf("expected critical_support_broken escalation, got %+v", escalations)
	}
}

func TestCheckMinuteThreeCandleAdversity(t *testing.T) {
	m := layer2.New(zap.NewNop(), pip.DefaultJPYScale)
	now := time.Now().UTC()
	bars := []fxtypes.OhlcBar{
		{Time: now.Add(-3 * 15 * time.Minute), Open: decimal.NewFromFloat(150.10), Close: decimal.NewFromFloat(150.00)},
		{Time: now.Add(-2 * 15 * time.Minute), Open: decimal.NewFromFloat(150.00), Close: decimal.NewFromFloat(149.90)},
		{Time: now.Add(-1 * 15 * time.Minute), Open: decimal.NewFromFloat(149.90), Close: decimal.NewFromFloat(149.80)},
	}
	snap := &market.Snapshot{
		Tick: fxtypes.Tick{Time: now, Bid: decimal.NewFromFloat(149.79), Ask: decimal.NewFromFloat(149.80)},
		Bars: map[fxtypes.Timeframe][]fxtypes.OhlcBar{fxtypes.TimeframeM15: bars},
	}
	pos := fxtypes.Position{ID: "p1", Status: fxtypes.PositionOpen, Direction: fxtypes.DirectionBuy}

	escalations := m.CheckMinute(snap, []fxtypes.Position{pos}, now)
	found := false
	for _, e := range escalations {
		if e.Trigger == "three_candle_adversity" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected three_candle_adversity escalation, got %+v", escalations)
	}
}

func TestCheckFiveMinuteRsiOverheat(t *testing.T) {
	m := layer2.New(zap.NewNop(), pip.DefaultJPYScale)
	now := time.Now().UTC()
	snap := &market.Snapshot{
		Tick: fxtypes.Tick{Time: now, Bid: decimal.NewFromFloat(150.00), Ask: decimal.NewFromFloat(150.01)},
		Indicators: fxtypes.IndicatorVector{ByTimeframe: map[fxtypes.Timeframe]fxtypes.TimeframeIndicators{
			fxtypes.TimeframeH1: {RSI: fxtypes.RSI{Value: 85}},
		}},
	}
	pos := fxtypes.Position{ID: "p1", Status: fxtypes.PositionOpen, Direction: fxtypes.DirectionBuy}

	noop := func(fxtypes.IndicatorPredicates, fxtypes.IndicatorVector, float64) (bool, string) { return false, "" }
	escalations := m.CheckFiveMinute(snap, []fxtypes.Position{pos}, now, noop)
	if len(escalations) != 1 || escalations[0].Trigger != "rsi_overheat_buy" {
		t.Fatalf("expected rsi_overheat_buy escalation, got %+v", escalations)
	}
}
