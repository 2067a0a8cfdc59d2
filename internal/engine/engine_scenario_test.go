package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/atlas-desktop/fxengine/internal/broker"
	"github.com/atlas-desktop/fxengine/internal/clock"
	"github.com/atlas-desktop/fxengine/internal/metrics"
	"github.com/atlas-desktop/fxengine/internal/sink"
	"github.com/atlas-desktop/fxengine/pkg/fxtypes"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// fakeGateway is a deterministic broker.Gateway test double: every
// open/close fills instantly at the quote last set via setQuote.
type fakeGateway struct {
	mu         sync.Mutex
	bid, ask   decimal.Decimal
	at         time.Time
	equity     decimal.Decimal
	closeErr   error
	openCalls  int
	closeCalls int
}

func newFakeGateway(equity float64) *fakeGateway {
	return &fakeGateway{equity: decimal.NewFromFloat(equity)}
}

func (g *fakeGateway) setQuote(mid float64, spreadPips float64, at time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	half := decimal.NewFromFloat(spreadPips).Div(decimal.NewFromInt(200))
	m := decimal.NewFromFloat(mid)
	g.bid = m.Sub(half)
	g.ask = m.Add(half)
	g.at = at
}

func (g *fakeGateway) mid() decimal.Decimal {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.bid.Add(g.ask).Div(decimal.NewFromInt(2))
}

func (g *fakeGateway) MarketOpen(ctx context.Context, order broker.OrderIntent) (broker.FillResult, error) {
	g.mu.Lock()
	g.openCalls++
	g.mu.Unlock()
	return broker.FillResult{Price: g.mid(), Volume: order.Volume, At: g.at}, nil
}

func (g *fakeGateway) Close(ctx context.Context, c broker.CloseIntent) (broker.FillResult, error) {
	g.mu.Lock()
	g.closeCalls++
	err := g.closeErr
	g.mu.Unlock()
	if err != nil {
		return broker.FillResult{}, err
	}
	return broker.FillResult{Price: g.mid(), Volume: c.Volume, At: g.at}, nil
}

func (g *fakeGateway) ModifyStop(ctx context.Context, positionID string, newStopPrice decimal.Decimal) error {
	return nil
}

func (g *fakeGateway) AccountInfo(ctx context.Context) (broker.AccountInfo, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return broker.AccountInfo{Equity: g.equity, Balance: g.equity}, nil
}

func (g *fakeGateway) SymbolInfo(ctx context.Context, symbol string) (broker.SymbolInfo, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return broker.SymbolInfo{Bid: g.bid, Ask: g.ask, PipScale: 100}, nil
}

// fakeAdvisory always continues; scenarios that exercise Layer-3's
// safe-default path are covered directly in internal/layer3's own tests.
type fakeAdvisory struct{}

func (fakeAdvisory) Periodic(ctx context.Context, snap fxtypes.PositionSnapshot) (fxtypes.Verdict, error) {
	return fxtypes.Verdict{Action: fxtypes.VerdictContinue, Reason: "ok"}, nil
}

func (fakeAdvisory) Emergency(ctx context.Context, snap fxtypes.PositionSnapshot, trigger string) (fxtypes.Verdict, error) {
	return fxtypes.Verdict{Action: fxtypes.VerdictContinue, Reason: "ok"}, nil
}

// testHarness bundles an Engine with the test-visible handles (the
// sink and its ring writer) that Engine itself does not expose.
type testHarness struct {
	*Engine
	sink *sink.EventSink
	ring *sink.RingWriter
}

func testEngine(t *testing.T, gw *fakeGateway) *testHarness {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Symbol = "USDJPY"
	cfg.ClockMode = clock.ModeSimulated
	ring := sink.NewRingWriter(256)
	sk := sink.New(zap.NewNop(), sink.DefaultConfig(), ring)
	e := New(zap.NewNop(), cfg, gw, fakeAdvisory{}, sk, metrics.New())
	t.Cleanup(func() { sk.Stop(context.Background()) })
	return &testHarness{Engine: e, sink: sk, ring: ring}
}

// events drains whatever the sink has dispatched so far, giving the
// background worker a short grace window to catch up.
func (h *testHarness) events(t *testing.T) []fxtypes.EventRecord {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		emitted, written, _ := h.sink.Stats()
		if emitted == written {
			break
		}
		time.Sleep(time.Millisecond)
	}
	return h.ring.Snapshot()
}

func baseTestRule(validUntil time.Time) fxtypes.StructuredRule {
	return fxtypes.StructuredRule{
		GeneratedAt: validUntil.Add(-time.Hour),
		ValidUntil:  validUntil,
		Symbol:      "USDJPY",
		DailyBias:   fxtypes.BiasBuy,
		Confidence:  0.8,
		EntryConditions: fxtypes.EntryConditions{
			ShouldTrade: true,
			Direction:   fxtypes.DirectionBuy,
			PriceZone:   fxtypes.PriceZone{Min: decimal.NewFromFloat(149.50), Max: decimal.NewFromFloat(149.65)},
			Spread:      fxtypes.SpreadGuard{MaxPips: decimal.NewFromInt(20)},
		},
		ExitStrategy: fxtypes.ExitStrategy{
			StopLoss: fxtypes.StopLoss{InitialPips: decimal.NewFromInt(15)},
		},
		RiskManagement: fxtypes.RiskManagement{
			PositionSizeMultiplier:  decimal.NewFromFloat(1),
			MaxPositions:            1,
			MaxRiskPerTradePercent:  decimal.NewFromFloat(0.5),
			MaxTotalExposurePercent: decimal.NewFromFloat(50),
		},
	}
}

func eventKinds(recs []fxtypes.EventRecord) []fxtypes.EventKind {
	out := make([]fxtypes.EventKind, len(recs))
	for i, r := range recs {
		out[i] = r.Kind
	}
	return out
}

func countKind(recs []fxtypes.EventRecord, kind fxtypes.EventKind) int {
	n := 0
	for _, r := range recs {
		if r.Kind == kind {
			n++
		}
	}
	return n
}

func TestEngineHappyPathStagedTakeProfitThenStopLoss(t *testing.T) {
	gw := newFakeGateway(1_000_000)
	e := testEngine(t, gw)

	now := time.Date(2026, 7, 27, 10, 0, 0, 0, time.UTC)
	rule := baseTestRule(now.Add(24 * time.Hour))
	rule.ExitStrategy.TakeProfit = []fxtypes.TakeProfitLevel{
		{Pips: decimal.NewFromInt(10), ClosePercent: decimal.NewFromInt(30)},
		{Pips: decimal.NewFromInt(20), ClosePercent: decimal.NewFromInt(40)},
	}
	if !e.InstallRule(rule) {
		t.Fatal("expected rule to be accepted")
	}

	ticks := []struct {
		at  time.Time
		mid float64
	}{
		{now, 149.60},
		{now.Add(2 * time.Second), 149.70},
		{now.Add(4 * time.Second), 149.80},
		{now.Add(6 * time.Second), 149.45},
	}
	for _, tk := range ticks {
		gw.setQuote(tk.mid, 1, tk.at)
		half := decimal.NewFromFloat(0.005)
		mid := decimal.NewFromFloat(tk.mid)
		e.onTick(context.Background(), fxtypes.Tick{Time: tk.at, Bid: mid.Sub(half), Ask: mid.Add(half)})
	}

	if gw.openCalls != 1 {
		t.Fatalf("expected exactly one market open, got %d", gw.openCalls)
	}
	if e.book.Count("USDJPY") != 0 {
		t.Fatalf("expected position fully closed by stop-loss, %d still open", e.book.Count("USDJPY"))
	}

	recs := e.events(t)
	if n := countKind(recs, fxtypes.EventEntryExecuted); n != 1 {
		t.Fatalf("expected 1 EntryExecuted, got %d (%v)", n, eventKinds(recs))
	}
	if n := countKind(recs, fxtypes.EventPartialClose); n != 2 {
		t.Fatalf("expected 2 PartialClose, got %d (%v)", n, eventKinds(recs))
	}

	// Each TP rung closes a percentage of the position's original
	// volume, not of whatever remained after the prior rung (spec
	// §4.4.2 step 3): 30% then 40% of the same original volume, not
	// 30% then 40% of the ever-shrinking remainder.
	var entryVolume decimal.Decimal
	var partials []decimal.Decimal
	for _, rec := range recs {
		switch rec.Kind {
		case fxtypes.EventEntryExecuted:
			v, err := decimal.NewFromString(rec.EntryExecuted.Volume)
			if err != nil {
				t.Fatalf("parse entry volume: %v", err)
			}
			entryVolume = v
		case fxtypes.EventPartialClose:
			v, err := decimal.NewFromString(rec.PartialClose.ClosedVolume)
			if err != nil {
				t.Fatalf("parse partial close volume: %v", err)
			}
			partials = append(partials, v)
		}
	}
	if len(partials) != 2 {
		t.Fatalf("expected 2 partial close volumes, got %v", partials)
	}
	wantFirst := entryVolume.Mul(decimal.NewFromInt(30)).Div(decimal.NewFromInt(100))
	wantSecond := entryVolume.Mul(decimal.NewFromInt(40)).Div(decimal.NewFromInt(100))
	if !partials[0].Equal(wantFirst) {
		t.Errorf("expected first TP rung to close %s (30%% of original volume %s), got %s", wantFirst, entryVolume, partials[0])
	}
	if !partials[1].Equal(wantSecond) {
		t.Errorf("expected second TP rung to close %s (40%% of original volume %s), got %s", wantSecond, entryVolume, partials[1])
	}
	if n := countKind(recs, fxtypes.EventFullClose); n != 1 {
		t.Fatalf("expected 1 FullClose, got %d (%v)", n, eventKinds(recs))
	}
	if n := countKind(recs, fxtypes.EventEmergencyStop); n != 0 {
		t.Fatalf("expected no EmergencyStop, got %d", n)
	}
}

func TestEngineLayer1HardStopClosesWithoutEmergencyStop(t *testing.T) {
	gw := newFakeGateway(1_000_000)
	e := testEngine(t, gw)

	now := time.Date(2026, 7, 27, 10, 0, 0, 0, time.UTC)
	// Stop-loss stays at its normal 15-pip setting (sizePosition needs a
	// positive InitialPips to size the entry); the jump below moves 50
	// pips against the position in one tick, so runLayer1 closes it
	// before runExits ever gets a chance to evaluate the rule's own
	// stop-loss check for the same position.
	rule := baseTestRule(now.Add(24 * time.Hour))

	if !e.InstallRule(rule) {
		t.Fatal("expected rule to be accepted")
	}

	gw.setQuote(149.60, 1, now)
	half := decimal.NewFromFloat(0.005)
	open := decimal.NewFromFloat(149.60)
	e.onTick(context.Background(), fxtypes.Tick{Time: now, Bid: open.Sub(half), Ask: open.Add(half)})
	if gw.openCalls != 1 {
		t.Fatalf("expected entry to execute, openCalls=%d", gw.openCalls)
	}

	jump := now.Add(5 * time.Second)
	gw.setQuote(149.10, 1, jump)
	dropMid := decimal.NewFromFloat(149.10)
	e.onTick(context.Background(), fxtypes.Tick{Time: jump, Bid: dropMid.Sub(half), Ask: dropMid.Add(half)})

	if e.book.Count("USDJPY") != 0 {
		t.Fatal("expected position to be closed by Layer-1 hard stop")
	}

	recs := e.events(t)
	if n := countKind(recs, fxtypes.EventFullClose); n != 1 {
		t.Fatalf("expected 1 FullClose, got %d (%v)", n, eventKinds(recs))
	}
	if n := countKind(recs, fxtypes.EventEmergencyStop); n != 0 {
		t.Fatalf("hard-stop must not emit EmergencyStop, got %d", n)
	}
}

func TestEngineIdempotentTickProcessesOnce(t *testing.T) {
	gw := newFakeGateway(1_000_000)
	e := testEngine(t, gw)

	now := time.Date(2026, 7, 27, 10, 0, 0, 0, time.UTC)
	rule := baseTestRule(now.Add(24 * time.Hour))
	if !e.InstallRule(rule) {
		t.Fatal("expected rule to be accepted")
	}

	gw.setQuote(149.60, 1, now)
	half := decimal.NewFromFloat(0.005)
	open := decimal.NewFromFloat(149.60)
	tick := fxtypes.Tick{Time: now, Bid: open.Sub(half), Ask: open.Add(half)}

	e.onTick(context.Background(), tick)
	e.onTick(context.Background(), tick) // duplicate, byte-for-byte identical

	if gw.openCalls != 1 {
		t.Fatalf("expected exactly one market open across duplicate ticks, got %d", gw.openCalls)
	}
	recs := e.events(t)
	if n := countKind(recs, fxtypes.EventEntryExecuted); n != 1 {
		t.Fatalf("expected exactly one EntryExecuted, got %d", n)
	}
}

func TestEngineRuleExpiryBlocksNewEntries(t *testing.T) {
	gw := newFakeGateway(1_000_000)
	e := testEngine(t, gw)

	now := time.Date(2026, 7, 27, 10, 0, 0, 0, time.UTC)
	rule := baseTestRule(now) // validUntil == now
	if !e.InstallRule(rule) {
		t.Fatal("expected rule to be accepted")
	}

	after := now.Add(time.Second)
	gw.setQuote(149.60, 1, after)
	half := decimal.NewFromFloat(0.005)
	mid := decimal.NewFromFloat(149.60)
	e.onTick(context.Background(), fxtypes.Tick{Time: after, Bid: mid.Sub(half), Ask: mid.Add(half)})

	if gw.openCalls != 0 {
		t.Fatalf("expected no entries once the rule has expired, got %d", gw.openCalls)
	}
}

