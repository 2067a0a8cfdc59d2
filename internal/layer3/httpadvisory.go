package layer3

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/atlas-desktop/fxengine/pkg/fxtypes"
)

// HTTPAdvisory calls an out-of-process advisory oracle over HTTP: the
// oracle's reasoning is out of scope here, this is only the wire
// client. Grounded on signals.TechnicalSignalSource/PerplexitySignalSource's
// http.Client{Timeout}+http.NewRequestWithContext+json.Marshal idiom.
type HTTPAdvisory struct {
	client *http.Client
	url    string
	apiKey string
}

// NewHTTPAdvisory builds a client posting PositionSnapshots to url;
// apiKey, if non-empty, is sent as a Bearer token.
func NewHTTPAdvisory(url, apiKey string, timeout time.Duration) *HTTPAdvisory {
	return &HTTPAdvisory{
		client: &http.Client{Timeout: timeout},
		url:    url,
		apiKey: apiKey,
	}
}

type advisoryRequest struct {
	Kind     string                 `json:"kind"` // "periodic" or "emergency"
	Trigger  string                 `json:"trigger,omitempty"`
	Snapshot fxtypes.PositionSnapshot `json:"snapshot"`
}

func (a *HTTPAdvisory) call(ctx context.Context, req advisoryRequest) (fxtypes.Verdict, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return fxtypes.Verdict{}, fmt.Errorf("marshal advisory request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, bytes.NewReader(body))
	if err != nil {
		return fxtypes.Verdict{}, fmt.Errorf("build advisory request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if a.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+a.apiKey)
	}

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return fxtypes.Verdict{}, fmt.Errorf("advisory call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fxtypes.Verdict{}, fmt.Errorf("advisory call: status %d", resp.StatusCode)
	}

	var verdict fxtypes.Verdict
	if err := json.NewDecoder(resp.Body).Decode(&verdict); err != nil {
		return fxtypes.Verdict{}, fmt.Errorf("decode advisory verdict: %w", err)
	}
	return verdict, nil
}

// Periodic satisfies Advisory.
func (a *HTTPAdvisory) Periodic(ctx context.Context, snap fxtypes.PositionSnapshot) (fxtypes.Verdict, error) {
	return a.call(ctx, advisoryRequest{Kind: "periodic", Snapshot: snap})
}

// Emergency satisfies Advisory.
func (a *HTTPAdvisory) Emergency(ctx context.Context, snap fxtypes.PositionSnapshot, trigger string) (fxtypes.Verdict, error) {
	return a.call(ctx, advisoryRequest{Kind: "emergency", Trigger: trigger, Snapshot: snap})
}
