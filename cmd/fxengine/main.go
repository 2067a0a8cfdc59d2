// Package main is the fx engine's entry point: loads configuration,
// wires Clock/MarketView/RuleStore/PositionBook/Layer-1-2-3/EventSink
// into one Engine, starts the optional read-only API surface, feeds
// ticks from stdin, and runs until a shutdown signal arrives.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/atlas-desktop/fxengine/internal/api"
	"github.com/atlas-desktop/fxengine/internal/broker"
	"github.com/atlas-desktop/fxengine/internal/clock"
	"github.com/atlas-desktop/fxengine/internal/config"
	"github.com/atlas-desktop/fxengine/internal/engine"
	"github.com/atlas-desktop/fxengine/internal/layer3"
	"github.com/atlas-desktop/fxengine/internal/metrics"
	"github.com/atlas-desktop/fxengine/internal/sink"
	"github.com/atlas-desktop/fxengine/pkg/fxtypes"
	"github.com/atlas-desktop/fxengine/pkg/pip"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Exit codes, spec §6.
const (
	exitOK               = 0
	exitConfigInvalid    = 1
	exitIrrecoverable    = 2
	exitDegradedShutdown = 3
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to YAML configuration file")
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	ticksPath := flag.String("ticks", "-", "Path to a newline-delimited JSON tick file, or - for stdin")
	ruleFile := flag.String("rule-file", "", "Optional path to a JSON StructuredRule to install at startup")
	startingEquity := flag.Float64("equity", 1_000_000, "Starting account equity for the simulated gateway")
	flag.Parse()

	logger := setupLogger(*logLevel)
	defer logger.Sync()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load configuration", zap.Error(err))
		os.Exit(exitConfigInvalid)
	}
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", zap.Error(err))
		os.Exit(exitConfigInvalid)
	}

	logger.Info("starting fx engine",
		zap.String("symbol", cfg.Symbol),
		zap.Int32("pipScale", cfg.PipScale),
		zap.String("config", *configPath),
	)

	engCfg := buildEngineConfig(*cfg)

	fileWriter, err := sink.NewFileWriter(cfg.SinkFilePath)
	if err != nil {
		logger.Error("failed to open event sink file", zap.Error(err))
		os.Exit(exitIrrecoverable)
	}

	m := metrics.New()
	ring := sink.NewRingWriter(4096)
	apiSrv := api.NewServer(logger, api.DefaultServerConfig(), nil, ring, m)

	sk := sink.New(logger, sink.Config{BufferSize: cfg.SinkBufferSize, DrainBudget: 5 * time.Second}, fileWriter, ring, apiSrv)

	// gateway is constructed before the Engine that owns the real
	// Market View; AttachView below binds it to the same view the
	// engine updates on every tick, the same construction-order
	// workaround api.Server.Attach uses for the engine reference.
	gateway := broker.NewSimulatedGateway(nil, broker.SimulatedConfig{
		PipScale: cfg.PipScale,
	}, decimal.NewFromFloat(*startingEquity), time.Now)

	// The HTTP client timeout is a backstop; the per-call deadline the
	// Coordinator actually enforces comes from the request context
	// (TimeoutPeriodic/TimeoutEmergency), both well under 15s.
	var advisory layer3.Advisory = layer3.NewHTTPAdvisory(cfg.AdvisoryURL, cfg.AdvisoryAPIKey, 15*time.Second)

	eng := engine.New(logger, engCfg, gateway, advisory, sk, m)
	apiSrv.Attach(eng)
	gateway.AttachView(eng.MarketView())

	if *ruleFile != "" {
		rule, err := loadRule(*ruleFile)
		if err != nil {
			logger.Error("failed to load rule file", zap.Error(err))
			os.Exit(exitConfigInvalid)
		}
		eng.InstallRule(rule)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	runDone := make(chan error, 1)
	go func() { runDone <- eng.Run(ctx) }()

	go func() {
		if err := apiSrv.Start(); err != nil {
			logger.Error("api server error", zap.Error(err))
		}
	}()

	feedDone := make(chan error, 1)
	go func() { feedDone <- feedTicks(ctx, eng, *ticksPath, logger) }()

	select {
	case <-sigCh:
		logger.Info("shutdown signal received")
	case err := <-feedDone:
		if err != nil && err != io.EOF {
			logger.Error("tick feed error", zap.Error(err))
		}
		logger.Info("tick source exhausted, shutting down")
	}

	cancel()
	<-runDone

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := apiSrv.Stop(shutdownCtx); err != nil {
		logger.Error("error during api server shutdown", zap.Error(err))
	}

	status := eng.Status()
	logger.Info("fx engine stopped",
		zap.Int("openPositions", status.OpenPositions),
		zap.Bool("sinkDegraded", status.SinkDegraded),
	)
	if status.SinkDegraded {
		os.Exit(exitDegradedShutdown)
	}
	os.Exit(exitOK)
}

// buildEngineConfig maps internal/config.Config onto engine.Config,
// the same shape engine.DefaultConfig starts from. cfg.Timezone has
// already been validated by Config.Validate.
func buildEngineConfig(cfg config.Config) engine.Config {
	loc, _ := time.LoadLocation(cfg.Timezone)

	ec := engine.DefaultConfig()
	ec.Symbol = cfg.Symbol
	ec.PipScale = pip.Scale(cfg.PipScale)
	ec.Location = loc
	ec.TickStalenessThreshold = time.Duration(cfg.TickStalenessThresholdMillis) * time.Millisecond
	ec.Layer1Period = time.Duration(cfg.Layer1PeriodMillis) * time.Millisecond
	ec.Layer2APeriod = time.Duration(cfg.Layer2APeriodSecs) * time.Second
	ec.Layer2BPeriod = time.Duration(cfg.Layer2BPeriodSecs) * time.Second
	ec.Layer3APeriod = time.Duration(cfg.Layer3APeriodSecs) * time.Second
	ec.DailyCloseHHMM = cfg.DailyCloseHHMM
	ec.WeekendStart = cfg.WeekendStart
	ec.WeekendEnd = cfg.WeekendEnd
	ec.TickQueueSize = 64
	ec.ClockMode = clock.ModeReal
	return ec
}

// loadRule parses a JSON-encoded StructuredRule from path.
func loadRule(path string) (fxtypes.StructuredRule, error) {
	f, err := os.Open(path)
	if err != nil {
		return fxtypes.StructuredRule{}, err
	}
	defer f.Close()

	var rule fxtypes.StructuredRule
	if err := json.NewDecoder(f).Decode(&rule); err != nil {
		return fxtypes.StructuredRule{}, fmt.Errorf("decode rule: %w", err)
	}
	return rule, nil
}

// feedTicks reads newline-delimited JSON Ticks from path ("-" for
// stdin) and submits each to eng until EOF or ctx is cancelled. This
// is a deliberately minimal tick source: real deployments sit a FIX
// session or broker REST bridge in front of Engine.Submit instead.
func feedTicks(ctx context.Context, eng *engine.Engine, path string, logger *zap.Logger) error {
	var r io.Reader = os.Stdin
	if path != "-" && path != "" {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("open tick source: %w", err)
		}
		defer f.Close()
		r = f
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var tick fxtypes.Tick
		if err := json.Unmarshal(line, &tick); err != nil {
			logger.Warn("malformed tick, skipping", zap.Error(err))
			continue
		}
		if !tick.Valid() {
			logger.Warn("invalid tick (ask < bid), skipping")
			continue
		}
		if err := eng.Submit(ctx, tick); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return io.EOF
}

func setupLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.Config{
		Level:       zap.NewAtomicLevelAt(zapLevel),
		Development: false,
		Encoding:    "console",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "time",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalColorLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.SecondsDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := cfg.Build()
	if err != nil {
		panic(err)
	}
	return logger
}
