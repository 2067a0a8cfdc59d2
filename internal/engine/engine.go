// Package engine wires the Clock, Market View, Rule Store, Rule
// Evaluator, Position Book, Broker Gateway, Layer-1/2/3 monitors, and
// Event Sink into the single cooperative decision loop of spec §5.
// Grounded on the teacher's orchestrator.TradingOrchestrator: a
// central struct holding every sub-component, a config struct with a
// Default...Config constructor, Start(ctx)/Stop() lifecycle, and
// goroutine loops driven by ticker/select — collapsed here into the
// spec's single `Run(ctx)` cooperative loop rather than N independent
// goroutines (spec §5 forbids that: "single-threaded cooperative event
// loop for the decision pipeline").
package engine

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/atlas-desktop/fxengine/internal/broker"
	"github.com/atlas-desktop/fxengine/internal/clock"
	"github.com/atlas-desktop/fxengine/internal/layer1"
	"github.com/atlas-desktop/fxengine/internal/layer2"
	"github.com/atlas-desktop/fxengine/internal/layer3"
	"github.com/atlas-desktop/fxengine/internal/market"
	"github.com/atlas-desktop/fxengine/internal/metrics"
	"github.com/atlas-desktop/fxengine/internal/position"
	"github.com/atlas-desktop/fxengine/internal/rules"
	"github.com/atlas-desktop/fxengine/internal/sink"
	"github.com/atlas-desktop/fxengine/pkg/fxtypes"
	"github.com/atlas-desktop/fxengine/pkg/pip"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Config tunes one Engine instance; values default from internal/config's
// §6-recognized keys.
type Config struct {
	Symbol   string
	PipScale pip.Scale
	Location *time.Location

	TickStalenessThreshold time.Duration
	GatewayTimeout         time.Duration

	Layer1Period time.Duration
	Layer2APeriod time.Duration
	Layer2BPeriod time.Duration
	Layer3APeriod time.Duration

	DailyCloseHHMM string
	WeekendStart   string // "FRI 23:00" broker-local
	WeekendEnd     string // "MON 07:00" broker-local

	TickQueueSize int

	// ClockMode defaults to clock.ModeReal; tests set clock.ModeSimulated
	// so the Clock advances with tick timestamps instead of the OS clock.
	ClockMode clock.Mode
}

// DefaultConfig carries internal/config.Defaults()' periods, thresholds
// and HH:MM values for standalone use (tests, examples) without a full
// config.Load round-trip. Unlike config.Defaults(), whose timezone is
// Asia/Tokyo, it sets Location to UTC.
func DefaultConfig() Config {
	loc, _ := time.LoadLocation("UTC")
	return Config{
		PipScale:               pip.DefaultJPYScale,
		Location:               loc,
		TickStalenessThreshold: 10 * time.Second,
		GatewayTimeout:         2 * time.Second,
		Layer1Period:           100 * time.Millisecond,
		Layer2APeriod:          60 * time.Second,
		Layer2BPeriod:          300 * time.Second,
		Layer3APeriod:          900 * time.Second,
		DailyCloseHHMM:         "23:00",
		WeekendStart:           "FRI 23:00",
		WeekendEnd:             "MON 07:00",
		TickQueueSize:          1,
	}
}

// Engine owns every sub-component and drives the single cooperative
// loop. MarketView, RuleStore, and PositionBook are only ever touched
// from the Run goroutine (spec §5: "accessed only from the loop
// thread; no locks are needed" — the components' own internal mutexes
// exist for the Snapshot/Get/Count read paths the API surface uses
// concurrently, not for loop-internal access).
type Engine struct {
	logger *zap.Logger
	cfg    Config

	clock     *clock.Clock
	scheduler *clock.Scheduler
	view      *market.View
	ruleStore *rules.Store
	book      *position.Book
	gateway   broker.Gateway
	layer1    *layer1.Monitor
	layer2    *layer2.Monitor
	layer3    *layer3.Coordinator
	sink      sink.Sink
	metrics   *metrics.Metrics

	sequence atomic.Int64

	// suppressEntries is set by a catastrophic close failure (spec
	// §4.6) and only cleared by operator acknowledgement.
	suppressEntries atomic.Bool

	lastTick     fxtypes.Tick
	haveLastTick bool

	tickCh chan fxtypes.Tick
	done   chan struct{}
}

// New wires every component into one Engine. advisory may be nil only
// if the caller never intends Layer-3 to fire (tests).
func New(logger *zap.Logger, cfg Config, gateway broker.Gateway, advisory layer3.Advisory, sk sink.Sink, m *metrics.Metrics) *Engine {
	logger = logger.Named("engine")
	start := time.Now().UTC()
	if cfg.ClockMode == clock.ModeSimulated {
		start = time.Time{}
	}
	c := clock.New(cfg.ClockMode, cfg.Location, start)
	view := market.New(cfg.TickStalenessThreshold, c.Now)

	e := &Engine{
		logger:    logger,
		cfg:       cfg,
		clock:     c,
		view:      view,
		ruleStore: rules.New(logger),
		book:      position.New(logger),
		gateway:   gateway,
		layer1:    layer1.New(logger, cfg.PipScale),
		layer2:    layer2.New(logger, cfg.PipScale),
		layer3:    layer3.New(logger, advisory, layer3.DefaultConfig()),
		sink:      sk,
		metrics:   m,
		tickCh:    make(chan fxtypes.Tick, cfg.TickQueueSize),
		done:      make(chan struct{}),
	}
	e.scheduler = clock.NewScheduler(c, logger, e.onJobError)
	e.registerJobs()
	return e
}

func (e *Engine) onJobError(job string, r any) {
	e.logger.Error("scheduled job panicked, continuing", zap.String("job", job), zap.Any("panic", r))
}

func (e *Engine) nextSequence() int64 {
	return e.sequence.Add(1)
}

// InstallRule installs a new StructuredRule (spec §4.3/§6's rule
// source `install(StructuredRule)`), emitting RuleActivated either way.
func (e *Engine) InstallRule(rule fxtypes.StructuredRule) bool {
	result := e.ruleStore.Install(rule)
	e.emitRuleActivated(rule, result.Accepted, result.Reason)
	if e.metrics != nil {
		e.metrics.RuleStoreSizeGauge.Set(float64(e.ruleStore.Len()))
	}
	return result.Accepted
}

// Submit pushes a tick into the engine's single-producer/single-consumer
// queue (spec §5). It blocks on backpressure — unlike the Event Sink,
// the tick ingress path has no non-drop escape hatch; the spec assigns
// blocking explicitly ("backpressure blocks the producer").
func (e *Engine) Submit(ctx context.Context, tick fxtypes.Tick) error {
	select {
	case e.tickCh <- tick:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// AcknowledgeCloseFailure clears the entry-suppression latched by a
// catastrophic close failure (spec §4.6), allowing new entries again.
func (e *Engine) AcknowledgeCloseFailure() {
	e.suppressEntries.Store(false)
}

// Book exposes a read-only handle for the API surface.
func (e *Engine) Book() *position.Book { return e.book }

// RuleStore exposes a read-only handle for the API surface.
func (e *Engine) RuleStore() *rules.Store { return e.ruleStore }

// MarketView exposes a read-only handle for the API surface.
func (e *Engine) MarketView() *market.View { return e.view }

// Run drives the cooperative loop until ctx is cancelled: dequeue a
// tick, process it (MarketView update, Layer-1, scheduled jobs), repeat.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("engine started", zap.String("symbol", e.cfg.Symbol))
	for {
		select {
		case <-ctx.Done():
			return e.shutdown()
		case tick := <-e.tickCh:
			e.onTick(ctx, tick)
		}
	}
}

// shutdown runs between ticks, so the step in progress has already
// completed. It stops the event sink with a 5s drain budget, then
// closes the Layer-3 coordinator (teacher precedent:
// orchestrator.Stop()'s reverse-order shutdown of workerPool then
// eventBus). Scheduled jobs that are not yet due are not run, and no
// separate wait for broker calls is made: broker calls run
// synchronously on the loop, so none is in flight here.
func (e *Engine) shutdown() error {
	e.logger.Info("engine shutting down")
	drainCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	e.sink.Stop(drainCtx)
	if err := e.layer3.Close(); err != nil {
		e.logger.Warn("layer3 coordinator shutdown timed out", zap.Error(err))
	}
	close(e.done)
	e.logger.Info("engine shutdown complete")
	return nil
}

// gatewayContext bounds a broker call at cfg.GatewayTimeout (spec §5:
// "Broker Gateway calls are synchronous but bounded (<=2s by
// contract); a timeout converts to a gateway failure").
func (e *Engine) gatewayContext(parent context.Context) (context.Context, context.CancelFunc) {
	timeout := e.cfg.GatewayTimeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return context.WithTimeout(parent, timeout)
}

func (e *Engine) accountEquity(ctx context.Context) (decimal.Decimal, error) {
	cctx, cancel := e.gatewayContext(ctx)
	defer cancel()
	info, err := e.gateway.AccountInfo(cctx)
	if err != nil {
		return decimal.Zero, fmt.Errorf("account info: %w", err)
	}
	return info.Equity, nil
}

// entriesSuppressed reports whether new entries must be refused this
// tick: a latched close failure, sink backpressure (spec §4.10), or
// the weekend trading window.
func (e *Engine) entriesSuppressed(now time.Time) (bool, string) {
	if e.suppressEntries.Load() {
		return true, "close_failure_suppression"
	}
	if e.sink.Degraded() {
		return true, "sink_degraded"
	}
	if inWeekend, reason := e.isWeekend(now); inWeekend {
		return true, reason
	}
	return false, ""
}
