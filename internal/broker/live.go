package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// Transport is the underlying wire connection to the broker (a FIX
// session, a REST bridge, a platform plugin — concretely out of scope
// here). LiveGateway adds retry and circuit-breaking on top of whatever
// Transport implementation is wired in at startup.
type Transport interface {
	MarketOpen(ctx context.Context, order OrderIntent) (FillResult, error)
	Close(ctx context.Context, close CloseIntent) (FillResult, error)
	ModifyStop(ctx context.Context, positionID string, newStopPrice decimal.Decimal) error
	AccountInfo(ctx context.Context) (AccountInfo, error)
	SymbolInfo(ctx context.Context, symbol string) (SymbolInfo, error)
}

// LiveConfig tunes LiveGateway's fault tolerance, mirroring the
// teacher's ExecutorConfig{RetryAttempts, RetryDelay}.
type LiveConfig struct {
	RetryAttempts int
	RetryDelay    time.Duration

	BreakerMaxRequests uint32
	BreakerInterval    time.Duration
	BreakerTimeout     time.Duration
	BreakerFailRatio   float64
}

// DefaultLiveConfig mirrors the spec's default retry/backoff policy:
// one initial call plus up to three retries, one second apart.
func DefaultLiveConfig() LiveConfig {
	return LiveConfig{
		RetryAttempts:      3,
		RetryDelay:         time.Second,
		BreakerMaxRequests: 1,
		BreakerInterval:    time.Minute,
		BreakerTimeout:     30 * time.Second,
		BreakerFailRatio:   0.5,
	}
}

// LiveGateway executes real broker orders through Transport, retrying
// transient failures and tripping a circuit breaker under sustained
// failure so the engine degrades instead of hammering a broken
// connection (spec §4.6: "close failures must not be retried silently
// forever — surface as EmergencyStop and degrade").
type LiveGateway struct {
	logger    *zap.Logger
	transport Transport
	cfg       LiveConfig
	breaker   *gobreaker.CircuitBreaker

	// onDegraded is invoked when the breaker opens; the engine wires this
	// to emit EmergencyStop and enter degraded mode.
	onDegraded func(reason string)
}

// NewLiveGateway wires a Transport behind retry + circuit-breaker logic.
func NewLiveGateway(logger *zap.Logger, transport Transport, cfg LiveConfig, onDegraded func(reason string)) *LiveGateway {
	l := &LiveGateway{
		logger:     logger.Named("broker-live"),
		transport:  transport,
		cfg:        cfg,
		onDegraded: onDegraded,
	}
	l.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "broker-live",
		MaxRequests: cfg.BreakerMaxRequests,
		Interval:    cfg.BreakerInterval,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 3 {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= cfg.BreakerFailRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			l.logger.Warn("circuit breaker state change", zap.String("from", from.String()), zap.String("to", to.String()))
			if to == gobreaker.StateOpen && l.onDegraded != nil {
				l.onDegraded("broker circuit breaker open")
			}
		},
	})
	return l
}

func (l *LiveGateway) withRetry(ctx context.Context, op string, fn func() (any, error)) (any, error) {
	result, err := l.breaker.Execute(func() (any, error) {
		var lastErr error
		for attempt := 0; attempt <= l.cfg.RetryAttempts; attempt++ {
			if attempt > 0 {
				select {
				case <-ctx.Done():
					return nil, ctx.Err()
				case <-time.After(l.cfg.RetryDelay):
				}
			}
			res, err := fn()
			if err == nil {
				return res, nil
			}
			lastErr = err
			l.logger.Warn("broker call failed, retrying",
				zap.String("op", op), zap.Int("attempt", attempt), zap.Error(err))
		}
		return nil, fmt.Errorf("%s: exhausted %d retries: %w", op, l.cfg.RetryAttempts, lastErr)
	})
	return result, err
}

// MarketOpen places a market order through the transport, with retry
// and circuit breaking.
func (l *LiveGateway) MarketOpen(ctx context.Context, order OrderIntent) (FillResult, error) {
	res, err := l.withRetry(ctx, "market_open", func() (any, error) {
		return l.transport.MarketOpen(ctx, order)
	})
	if err != nil {
		return FillResult{}, err
	}
	return res.(FillResult), nil
}

// Close closes (fully or partially) a live position. Close failures are
// the one call the spec singles out: exhausting retries here must
// degrade the engine rather than leave a position silently un-managed.
func (l *LiveGateway) Close(ctx context.Context, close CloseIntent) (FillResult, error) {
	res, err := l.withRetry(ctx, "close", func() (any, error) {
		return l.transport.Close(ctx, close)
	})
	if err != nil {
		if l.onDegraded != nil {
			l.onDegraded(fmt.Sprintf("close failed for position %s: %v", close.PositionID, err))
		}
		return FillResult{}, err
	}
	return res.(FillResult), nil
}

// ModifyStop updates the protective stop for a live position.
func (l *LiveGateway) ModifyStop(ctx context.Context, positionID string, newStopPrice decimal.Decimal) error {
	_, err := l.withRetry(ctx, "modify_stop", func() (any, error) {
		return struct{}{}, l.transport.ModifyStop(ctx, positionID, newStopPrice)
	})
	return err
}

// AccountInfo fetches the current account equity/balance/margin.
func (l *LiveGateway) AccountInfo(ctx context.Context) (AccountInfo, error) {
	res, err := l.withRetry(ctx, "account_info", func() (any, error) {
		return l.transport.AccountInfo(ctx)
	})
	if err != nil {
		return AccountInfo{}, err
	}
	return res.(AccountInfo), nil
}

// SymbolInfo fetches the current quote and pip scale for symbol.
func (l *LiveGateway) SymbolInfo(ctx context.Context, symbol string) (SymbolInfo, error) {
	res, err := l.withRetry(ctx, "symbol_info", func() (any, error) {
		return l.transport.SymbolInfo(ctx, symbol)
	})
	if err != nil {
		return SymbolInfo{}, err
	}
	return res.(SymbolInfo), nil
}
