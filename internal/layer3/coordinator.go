// Package layer3 provides the Coordinator (spec §4.9): periodic (3a)
// and event-driven (3b) advisory-oracle re-evaluation, with safe-default
// fallback on timeout and 60s escalation coalescing. Grounded on the
// teacher's workers.Pool for bounded concurrent dispatch and
// golang.org/x/time/rate (sourced from the cryptorun pack repo) for
// throttling outbound advisory calls.
package layer3

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/atlas-desktop/fxengine/internal/workers"
	"github.com/atlas-desktop/fxengine/pkg/fxtypes"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Config tunes timeouts per spec §6's advisory_timeout_* keys.
type Config struct {
	TimeoutPeriodic  time.Duration
	TimeoutEmergency time.Duration
	CoalesceWindow   time.Duration
	RateLimit        rate.Limit
	RateBurst        int

	// PoolWorkers bounds how many positions' periodic advisory calls run
	// concurrently; PoolQueueSize bounds how many can be queued waiting
	// for a free worker before RunPeriodic blocks dispatching more.
	PoolWorkers   int
	PoolQueueSize int
}

// DefaultConfig mirrors the spec's stated defaults.
func DefaultConfig() Config {
	return Config{
		TimeoutPeriodic:  3 * time.Second,
		TimeoutEmergency: 10 * time.Second,
		CoalesceWindow:   60 * time.Second,
		RateLimit:        5,
		RateBurst:        5,
		PoolWorkers:      8,
		PoolQueueSize:    256,
	}
}

// AppliedVerdict is the Coordinator's outcome for a single position,
// ready for the engine to apply to the Position Book.
type AppliedVerdict struct {
	PositionID string
	Verdict    fxtypes.Verdict
	Periodic   bool
	SafeDefault bool // true when the oracle failed/timed out and a safe default was substituted
}

type triggerRecord struct {
	at       time.Time
	severity fxtypes.EscalationSeverity
}

var severityRank = map[fxtypes.EscalationSeverity]int{
	fxtypes.SeverityLow:      0,
	fxtypes.SeverityMedium:   1,
	fxtypes.SeverityHigh:     2,
	fxtypes.SeverityCritical: 3,
}

// Coordinator dispatches periodic and event-driven advisory calls.
type Coordinator struct {
	logger   *zap.Logger
	advisory Advisory
	cfg      Config
	limiter  *rate.Limiter
	pool     *workers.Pool

	mu       sync.Mutex
	coalesce map[string]triggerRecord // key: positionID + "|" + trigger
}

// New creates a Coordinator. advisory may be nil only in tests that
// never invoke RunPeriodic/HandleEscalation. The Coordinator owns a
// bounded worker pool (cfg.PoolWorkers) used by RunPeriodic to dispatch
// one position's advisory call concurrently with the others instead of
// one-at-a-time; Close stops it.
func New(logger *zap.Logger, advisory Advisory, cfg Config) *Coordinator {
	logger = logger.Named("layer3")

	poolCfg := workers.DefaultPoolConfig("layer3-periodic")
	poolCfg.NumWorkers = cfg.PoolWorkers
	poolCfg.QueueSize = cfg.PoolQueueSize
	poolCfg.TaskTimeout = cfg.TimeoutPeriodic + 2*time.Second // backstop above the per-call context deadline
	pool := workers.NewPool(logger, poolCfg)
	pool.Start()

	return &Coordinator{
		logger:   logger,
		advisory: advisory,
		cfg:      cfg,
		limiter:  rate.NewLimiter(cfg.RateLimit, cfg.RateBurst),
		pool:     pool,
		coalesce: make(map[string]triggerRecord),
	}
}

// Close stops the periodic-dispatch worker pool, waiting up to its
// configured shutdown timeout for in-flight calls to finish. Safe to
// call once during engine shutdown.
func (c *Coordinator) Close() error {
	return c.pool.Stop()
}

// RunPeriodic is Layer-3a (spec §4.9): calls Advisory::periodic for
// every snapshot, applying a safe default (`continue`) on timeout or
// error. Snapshots are dispatched across the Coordinator's bounded
// worker pool rather than one at a time, so one slow/timed-out oracle
// call does not hold up the rest of the book; the shared rate limiter
// still caps the actual outbound call rate regardless of how many
// dispatch concurrently.
func (c *Coordinator) RunPeriodic(ctx context.Context, snaps []fxtypes.PositionSnapshot) []AppliedVerdict {
	out := make([]AppliedVerdict, len(snaps))
	var wg sync.WaitGroup
	wg.Add(len(snaps))
	for i, snap := range snaps {
		i, snap := i, snap
		err := c.pool.Submit(workers.TaskFunc(func() error {
			defer wg.Done()
			out[i] = c.callPeriodic(ctx, snap)
			return nil
		}))
		if err != nil {
			// Queue full or pool stopped: fall back to a safe default
			// inline rather than dropping the position silently.
			wg.Done()
			c.logger.Warn("periodic dispatch rejected, applying safe default",
				zap.String("positionId", snap.PositionID), zap.Error(err))
			out[i] = c.safeDefaultPeriodic(snap.PositionID, "dispatch_rejected")
		}
	}
	wg.Wait()
	return out
}

func (c *Coordinator) callPeriodic(ctx context.Context, snap fxtypes.PositionSnapshot) AppliedVerdict {
	if err := c.limiter.Wait(ctx); err != nil {
		return c.safeDefaultPeriodic(snap.PositionID, "rate_limiter_cancelled")
	}

	cctx, cancel := context.WithTimeout(ctx, c.cfg.TimeoutPeriodic)
	defer cancel()

	verdict, err := c.advisory.Periodic(cctx, snap)
	if err != nil {
		c.logger.Warn("advisory periodic call failed", zap.String("positionId", snap.PositionID), zap.Error(err))
		return c.safeDefaultPeriodic(snap.PositionID, "advisory_timeout")
	}
	return AppliedVerdict{PositionID: snap.PositionID, Verdict: verdict, Periodic: true}
}

func (c *Coordinator) safeDefaultPeriodic(positionID, reason string) AppliedVerdict {
	return AppliedVerdict{
		PositionID:  positionID,
		Verdict:     fxtypes.Verdict{Action: fxtypes.VerdictContinue, Reason: reason},
		Periodic:    true,
		SafeDefault: true,
	}
}

// HandleEscalation is Layer-3b (spec §4.9): triggered by a Layer-2
// escalation or a Layer-3a `escalate` verdict. Identical consecutive
// triggers within the coalescing window are deduplicated; the safe
// default on failure is `close_all`.
func (c *Coordinator) HandleEscalation(ctx context.Context, esc fxtypes.Escalation, snap fxtypes.PositionSnapshot) (AppliedVerdict, bool) {
	if c.shouldCoalesce(esc) {
		return AppliedVerdict{}, false
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return c.safeDefaultEmergency(esc.PositionID, "rate_limiter_cancelled"), true
	}

	cctx, cancel := context.WithTimeout(ctx, c.cfg.TimeoutEmergency)
	defer cancel()

	verdict, err := c.advisory.Emergency(cctx, snap, esc.Trigger)
	if err != nil {
		c.logger.Warn("advisory emergency call failed",
			zap.String("positionId", esc.PositionID), zap.String("trigger", esc.Trigger), zap.Error(err))
		return c.safeDefaultEmergency(esc.PositionID, "advisory_timeout"), true
	}
	return AppliedVerdict{PositionID: esc.PositionID, Verdict: verdict, Periodic: false}, true
}

func (c *Coordinator) safeDefaultEmergency(positionID, reason string) AppliedVerdict {
	return AppliedVerdict{
		PositionID:  positionID,
		Verdict:     fxtypes.Verdict{Action: fxtypes.VerdictCloseAll, Reason: reason},
		Periodic:    false,
		SafeDefault: true,
	}
}

// shouldCoalesce reports whether esc is a duplicate of a trigger
// already handled for this position within the coalescing window, and
// records esc as the new high-water trigger when it is not (or is more
// severe than the recorded one).
func (c *Coordinator) shouldCoalesce(esc fxtypes.Escalation) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := fmt.Sprintf("%s|%s", esc.PositionID, esc.Trigger)
	prev, ok := c.coalesce[key]
	if ok && esc.At.Sub(prev.at) < c.cfg.CoalesceWindow && severityRank[esc.Severity] <= severityRank[prev.severity] {
		return true
	}
	c.coalesce[key] = triggerRecord{at: esc.At, severity: esc.Severity}
	return false
}
