package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/atlas-desktop/fxengine/internal/api"
	"github.com/atlas-desktop/fxengine/internal/broker"
	"github.com/atlas-desktop/fxengine/internal/clock"
	"github.com/atlas-desktop/fxengine/internal/engine"
	"github.com/atlas-desktop/fxengine/internal/metrics"
	"github.com/atlas-desktop/fxengine/internal/sink"
	"github.com/atlas-desktop/fxengine/pkg/fxtypes"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type stubGateway struct{}

func (stubGateway) MarketOpen(ctx context.Context, order broker.OrderIntent) (broker.FillResult, error) {
	return broker.FillResult{}, nil
}
func (stubGateway) Close(ctx context.Context, c broker.CloseIntent) (broker.FillResult, error) {
	return broker.FillResult{}, nil
}
func (stubGateway) ModifyStop(ctx context.Context, positionID string, newStopPrice decimal.Decimal) error {
	return nil
}
func (stubGateway) AccountInfo(ctx context.Context) (broker.AccountInfo, error) {
	return broker.AccountInfo{Equity: decimal.NewFromInt(1_000_000)}, nil
}
func (stubGateway) SymbolInfo(ctx context.Context, symbol string) (broker.SymbolInfo, error) {
	return broker.SymbolInfo{PipScale: 100}, nil
}

func newTestServer(t *testing.T) (*api.Server, *httptest.Server) {
	t.Helper()
	cfg := engine.DefaultConfig()
	cfg.Symbol = "USDJPY"
	cfg.ClockMode = clock.ModeSimulated

	ring := sink.NewRingWriter(64)
	sk := sink.New(zap.NewNop(), sink.DefaultConfig(), ring)
	t.Cleanup(func() { sk.Stop(context.Background()) })

	eng := engine.New(zap.NewNop(), cfg, stubGateway{}, nil, sk, metrics.New())

	srv := api.NewServer(zap.NewNop(), api.DefaultServerConfig(), eng, ring, metrics.New())
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return srv, ts
}

func TestHandleHealth(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/v1/health")
	if err != nil {
		t.Fatalf("GET /api/v1/health: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var body map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "healthy" {
		t.Fatalf("expected status=healthy, got %v", body["status"])
	}
}

func TestHandleStatusReportsRuleExpiredRegime(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/v1/status")
	if err != nil {
		t.Fatalf("GET /api/v1/status: %v", err)
	}
	defer resp.Body.Close()

	var status engine.Status
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if status.RegimeActive {
		t.Fatal("expected rule-expired regime with no rule installed")
	}
	if status.Symbol != "USDJPY" {
		t.Fatalf("expected symbol USDJPY, got %q", status.Symbol)
	}
}

func TestHandlePositionsEmpty(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/v1/positions")
	if err != nil {
		t.Fatalf("GET /api/v1/positions: %v", err)
	}
	defer resp.Body.Close()

	var body struct {
		Open   []fxtypes.Position `json:"open"`
		Closed []fxtypes.Position `json:"closed"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Open) != 0 || len(body.Closed) != 0 {
		t.Fatalf("expected no positions, got open=%d closed=%d", len(body.Open), len(body.Closed))
	}
}

func TestHandleRulesNoActiveRuleBeforeInstall(t *testing.T) {
	srv, ts := newTestServer(t)
	_ = srv

	resp, err := http.Get(ts.URL + "/api/v1/rules/current")
	if err != nil {
		t.Fatalf("GET /api/v1/rules/current: %v", err)
	}
	defer resp.Body.Close()

	var body map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if active, _ := body["active"].(bool); active {
		t.Fatal("expected no active rule before install")
	}
}

func TestHandleMetrics(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestHandleEventsEmpty(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/v1/events")
	if err != nil {
		t.Fatalf("GET /api/v1/events: %v", err)
	}
	defer resp.Body.Close()

	var body struct {
		Events []fxtypes.EventRecord `json:"events"`
		Count  int                   `json:"count"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Count != 0 {
		t.Fatalf("expected 0 events, got %d", body.Count)
	}
}
