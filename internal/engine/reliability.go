package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xela07ax/constraint-ledger/internal/domain"
	"github.com/xela07ax/constraint-ledger/internal/eventlog"
)

type ReliabilityConfig struct {
	RPS   float64 // 0 - без ограничения
	Burst int

	BreakerMaxRequests   uint32
	BreakerInterval      time.Duration
	BreakerTimeout       time.Duration // время, через которое CB попробует "закрыться"
	BreakerFailThreshold uint32        // подряд идущих ошибок до открытия
}

// ReliableLog - EventLog за лимитером и предохранителем.
// Конфликт версий и отмена контекста - нормальные исходы, предохранитель их не считает.
type ReliableLog struct {
	next    eventlog.EventLog
	cb      *gobreaker.CircuitBreaker
	limiter *rate.Limiter
}

var _ eventlog.EventLog = (*ReliableLog)(nil)

func NewReliableLog(next eventlog.EventLog, cfg ReliabilityConfig, metrics *Metrics, logger *zap.Logger) *ReliableLog {
	if cfg.BreakerMaxRequests == 0 {
		cfg.BreakerMaxRequests = 3
	}
	if cfg.BreakerInterval <= 0 {
		cfg.BreakerInterval = 5 * time.Second
	}
	if cfg.BreakerTimeout <= 0 {
		cfg.BreakerTimeout = 30 * time.Second
	}
	if cfg.BreakerFailThreshold == 0 {
		cfg.BreakerFailThreshold = 5
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	threshold := cfg.BreakerFailThreshold
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "eventlog",
		MaxRequests: cfg.BreakerMaxRequests,
		Interval:    cfg.BreakerInterval,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			var br *domain.BadRequest
			return err == nil ||
				errors.Is(err, eventlog.ErrConcurrencyConflict) ||
				errors.Is(err, eventlog.ErrEmptyID) ||
				errors.Is(err, context.Canceled) ||
				errors.As(err, &br)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.BreakerState.Set(float64(to))
			logger.Warn("circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})

	limit := rate.Inf
	if cfg.RPS > 0 {
		limit = rate.Limit(cfg.RPS)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	return &ReliableLog{
		next:    next,
		cb:      cb,
		limiter: rate.NewLimiter(limit, burst),
	}
}

func (l *ReliableLog) Load(ctx context.Context, id string) ([]eventlog.RecordedEvent, error) {
	return guarded(ctx, l, func() ([]eventlog.RecordedEvent, error) {
		return l.next.Load(ctx, id)
	})
}

func (l *ReliableLog) Append(ctx context.Context, id string, expectedVersion int64, events ...domain.Event) ([]eventlog.RecordedEvent, error) {
	return guarded(ctx, l, func() ([]eventlog.RecordedEvent, error) {
		return l.next.Append(ctx, id, expectedVersion, events...)
	})
}

func (l *ReliableLog) IDs(ctx context.Context) ([]string, error) {
	return guarded(ctx, l, func() ([]string, error) {
		return l.next.IDs(ctx)
	})
}

// State - текущее состояние предохранителя.
func (l *ReliableLog) State() gobreaker.State {
	return l.cb.State()
}

func guarded[T any](ctx context.Context, l *ReliableLog, fn func() (T, error)) (T, error) {
	var zero T

	// 1. Rate Limiter
	if err := l.limiter.Wait(ctx); err != nil {
		return zero, fmt.Errorf("eventlog: rate limit: %w", err)
	}

	// 2. Circuit Breaker
	res, err := l.cb.Execute(func() (interface{}, error) {
		return fn()
	})
	if err != nil {
		return zero, err
	}
	return res.(T), nil
}
