package engine

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/avast/retry-go/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xela07ax/constraint-ledger/internal/audit"
	"github.com/xela07ax/constraint-ledger/internal/domain"
	"github.com/xela07ax/constraint-ledger/internal/eventlog"
)

const tracerName = "github.com/xela07ax/constraint-ledger/internal/engine"

// Result - итог принятой команды.
type Result struct {
	State    domain.Constraint
	Recorded []eventlog.RecordedEvent
}

type DispatcherConfig struct {
	Basis           domain.ExpiryBasis
	ConflictRetries uint          // попыток при конфликте версий, минимум 1
	RetryDelay      time.Duration // пауза между попытками

	// PublishTimeout ограничивает доставку событий после записи.
	// Доставка идёт под замком id, поэтому медленный подписчик не должен держать его дольше.
	PublishTimeout time.Duration
}

const defaultPublishTimeout = 2 * time.Second

type Option func(*Dispatcher)

func WithPublisher(p Publisher) Option      { return func(d *Dispatcher) { d.publisher = p } }
func WithAuditor(a audit.Auditor) Option    { return func(d *Dispatcher) { d.auditor = a } }
func WithMetrics(m *Metrics) Option         { return func(d *Dispatcher) { d.metrics = m } }
func WithLogger(l *zap.Logger) Option       { return func(d *Dispatcher) { d.logger = l } }
func WithClock(now func() time.Time) Option { return func(d *Dispatcher) { d.now = now } }

// Dispatcher - шина команд агрегата Constraint.
//
// Цикл обработки: lock(id) -> Load -> Fold -> handler -> Append(expectedVersion) -> Apply
// -> Publish -> Audit. Внутри процесса на один id одновременно обрабатывается одна команда;
// между процессами гонку разрешает проверка версии в журнале и повтор.
type Dispatcher struct {
	log       eventlog.EventLog
	registry  *Registry
	cfg       DispatcherConfig
	locks     *keyedMutex
	publisher Publisher
	auditor   audit.Auditor
	metrics   *Metrics
	logger    *zap.Logger
	tracer    trace.Tracer
	now       func() time.Time
}

func NewDispatcher(log eventlog.EventLog, registry *Registry, cfg DispatcherConfig, opts ...Option) *Dispatcher {
	if cfg.ConflictRetries == 0 {
		cfg.ConflictRetries = 5
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 5 * time.Millisecond
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = defaultPublishTimeout
	}
	d := &Dispatcher{
		log:      log,
		registry: registry,
		cfg:      cfg,
		locks:    newKeyedMutex(),
		logger:   zap.NewNop(),
		tracer:   otel.Tracer(tracerName),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.metrics == nil {
		d.metrics = NewMetrics(nil)
	}
	d.logger = d.logger.Named("dispatcher")
	return d
}

// Applier - редьюсер с теми же часами и базой истечения, что у диспетчера.
func (d *Dispatcher) Applier() domain.Applier {
	return domain.Applier{Basis: d.cfg.Basis, Now: d.now}
}

// Now - часы диспетчера.
func (d *Dispatcher) Now() time.Time { return d.now() }

// Dispatch синхронно обрабатывает команду.
// Отказ бизнес-правила возвращается как *domain.BadRequest, в журнал ничего не пишется.
func (d *Dispatcher) Dispatch(ctx context.Context, cmd domain.Command) (Result, error) {
	if isNilCommand(cmd) {
		return Result{}, fmt.Errorf("%w: nil command", ErrUnknownCommand)
	}
	id, kind := cmd.ConstraintID(), cmd.Kind()

	ctx, span := d.tracer.Start(ctx, "constraint.dispatch", trace.WithAttributes(
		attribute.String("constraint.id", id),
		attribute.String("constraint.command", string(kind)),
	))
	defer span.End()

	start := d.now()

	handler, ok := d.registry.Lookup(kind)
	if !ok {
		err := fmt.Errorf("%w: %s", ErrUnknownCommand, kind)
		d.finish(ctx, span, cmd, start, Result{}, err)
		return Result{}, err
	}

	unlock, err := d.locks.Lock(ctx, id)
	if err != nil {
		err = fmt.Errorf("dispatch: wait lock %s: %w", id, err)
		d.finish(ctx, span, cmd, start, Result{}, err)
		return Result{}, err
	}
	defer unlock()

	var res Result
	err = retry.New(
		retry.Context(ctx),
		retry.Attempts(d.cfg.ConflictRetries),
		retry.Delay(d.cfg.RetryDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return errors.Is(err, eventlog.ErrConcurrencyConflict)
		}),
	).Do(func() error {
		r, attemptErr := d.attempt(ctx, handler, cmd)
		res = r
		return attemptErr
	})

	if err == nil {
		d.publish(ctx, res.Recorded)
	}
	d.finish(ctx, span, cmd, start, res, err)
	return res, err
}

// isNilCommand ловит и nil-интерфейс, и nil-указатель внутри него:
// методы команд объявлены на значениях, вызов на (*ClaimConstraint)(nil) паникует.
func isNilCommand(cmd domain.Command) bool {
	if cmd == nil {
		return true
	}
	v := reflect.ValueOf(cmd)
	return v.Kind() == reflect.Pointer && v.IsNil()
}

func (d *Dispatcher) attempt(ctx context.Context, handler HandlerFunc, cmd domain.Command) (Result, error) {
	id := cmd.ConstraintID()
	applier := d.Applier()

	history, err := d.log.Load(ctx, id)
	if err != nil {
		return Result{}, fmt.Errorf("dispatch: load %s: %w", id, err)
	}
	// create-if-missing: пустая история даёт Idle
	state := applier.Fold(id, eventlog.Events(history))

	evt, err := handler(state, cmd, d.now())
	if err != nil {
		return Result{State: state}, err
	}

	recorded, err := d.log.Append(ctx, id, eventlog.LastVersion(history), evt)
	if err != nil {
		if errors.Is(err, eventlog.ErrConcurrencyConflict) {
			d.metrics.Conflicts.Inc()
			d.logger.Debug("version conflict, retrying",
				zap.String("constraint_id", id),
				zap.Int64("expected_version", eventlog.LastVersion(history)))
		}
		return Result{}, fmt.Errorf("dispatch: append %s: %w", id, err)
	}

	for _, r := range recorded {
		state = applier.Apply(state, r.Event)
	}
	return Result{State: state, Recorded: recorded}, nil
}

// publish доставляет события best-effort. Событие уже в журнале, поэтому отмена
// запроса доставку не прерывает, а ограничивает её только PublishTimeout.
func (d *Dispatcher) publish(ctx context.Context, recorded []eventlog.RecordedEvent) {
	if d.publisher == nil || len(recorded) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.cfg.PublishTimeout)
	defer cancel()

	for _, r := range recorded {
		if err := d.publisher.Publish(ctx, r); err != nil {
			typ := "unknown"
			if r.Event != nil {
				typ = string(r.Event.Type())
			}
			d.metrics.PublishFailures.WithLabelValues(typ).Inc()
			d.logger.Warn("event delivery failed",
				zap.String("constraint_id", r.ConstraintID),
				zap.Int64("version", r.Version),
				zap.Error(err))
		}
	}
}

func (d *Dispatcher) finish(ctx context.Context, span trace.Span, cmd domain.Command, start time.Time, res Result, err error) {
	kind := string(cmd.Kind())
	elapsed := d.now().Sub(start)

	outcome := audit.OutcomeAccepted
	reason := ""
	var br *domain.BadRequest
	switch {
	case err == nil:
		d.logger.Debug("command accepted",
			zap.String("constraint_id", cmd.ConstraintID()),
			zap.String("command", kind),
			zap.Int64("version", res.State.Version))
	case errors.As(err, &br):
		outcome, reason = audit.OutcomeRejected, br.Message
		span.SetAttributes(attribute.String("constraint.rejection", br.Message))
		d.logger.Info("command rejected",
			zap.String("constraint_id", cmd.ConstraintID()),
			zap.String("command", kind),
			zap.String("reason", br.Message))
	default:
		outcome, reason = audit.OutcomeFailed, err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		d.logger.Error("command failed",
			zap.String("constraint_id", cmd.ConstraintID()),
			zap.String("command", kind),
			zap.Error(err))
	}

	d.metrics.Commands.WithLabelValues(kind, string(outcome)).Inc()
	d.metrics.CommandDuration.WithLabelValues(kind).Observe(elapsed.Seconds())

	if d.auditor != nil {
		d.auditor.Log(audit.CommandRecord{
			TraceID:      TraceID(ctx),
			ConstraintID: cmd.ConstraintID(),
			Command:      kind,
			Outcome:      outcome,
			Reason:       reason,
			Version:      res.State.Version,
			Timestamp:    start,
			DurationMs:   elapsed.Milliseconds(),
		})
	}
}
