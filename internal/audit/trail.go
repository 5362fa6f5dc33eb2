package audit

/*
Trail - асинхронный журнал аудита команд.

- Неблокирующая запись: Log никогда не ждёт БД, при переполнении буфера запись сбрасывается
  (load shedding) и уходит в логгер.
- Пакетная запись в хранилище по размеру пачки или по таймеру.
- Drain on Stop: после закрытия канала воркер вычитывает остаток и делает финальный flush.
*/

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Storage определяет, куда физически сохраняются записи.
type Storage interface {
	// WriteBatch сохраняет пачку записей за один раз
	WriteBatch(ctx context.Context, records []CommandRecord) error
}

type Auditor interface {
	Log(rec CommandRecord)
}

type Options struct {
	BufferSize    int
	BatchSize     int
	FlushInterval time.Duration
	BufferGauge   prometheus.Gauge
}

func (o Options) withDefaults() Options {
	if o.BufferSize <= 0 {
		o.BufferSize = 10000
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 100
	}
	if o.FlushInterval <= 0 {
		o.FlushInterval = 500 * time.Millisecond
	}
	return o
}

type Trail struct {
	ch     chan CommandRecord
	repo   Storage
	logger *zap.Logger
	opts   Options
	wg     sync.WaitGroup

	// closeMu защищает ch от записи после close
	closeMu sync.RWMutex
	closed  bool
}

func NewTrail(repo Storage, logger *zap.Logger, opts Options) *Trail {
	opts = opts.withDefaults()
	return &Trail{
		ch:     make(chan CommandRecord, opts.BufferSize),
		repo:   repo,
		logger: logger.With(zap.String("mod", "audit")),
		opts:   opts,
	}
}

func (t *Trail) Start() {
	t.wg.Add(1)
	go t.worker()
}

// Stop запирает вход и ждёт, пока воркер всё допишет.
func (t *Trail) Stop() {
	t.closeMu.Lock()
	if t.closed {
		t.closeMu.Unlock()
		return
	}
	t.closed = true
	t.logger.Info("stopping audit trail: closing channel and flushing buffer...")
	close(t.ch)
	t.closeMu.Unlock()

	t.wg.Wait()
	t.logger.Info("audit trail stopped gracefully")
}

func (t *Trail) Log(rec CommandRecord) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}

	t.closeMu.RLock()
	defer t.closeMu.RUnlock()
	if t.closed {
		t.logger.Warn("audit record dropped: trail is stopping", zap.String("id", rec.ID))
		return
	}

	select {
	case t.ch <- rec:
		if t.opts.BufferGauge != nil {
			t.opts.BufferGauge.Set(float64(len(t.ch)))
		}
	default:
		t.logger.Error("audit_buffer_overflow",
			zap.String("constraint_id", rec.ConstraintID),
			zap.String("command", rec.Command),
			zap.String("outcome", string(rec.Outcome)),
			zap.String("trace_id", rec.TraceID),
		)
	}
}

func (t *Trail) worker() {
	defer t.wg.Done()

	batch := make([]CommandRecord, 0, t.opts.BatchSize)
	ticker := time.NewTicker(t.opts.FlushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		// Background: контекст вызывающего к этому моменту может быть закрыт
		if err := t.repo.WriteBatch(context.Background(), batch); err != nil {
			t.logger.Error("audit flush failed", zap.Int("records", len(batch)), zap.Error(err))
		}
		batch = make([]CommandRecord, 0, t.opts.BatchSize)
		if t.opts.BufferGauge != nil {
			t.opts.BufferGauge.Set(float64(len(t.ch)))
		}
	}

	for {
		select {
		case rec, ok := <-t.ch:
			if !ok {
				flush()
				t.logger.Info("audit worker finished")
				return
			}
			batch = append(batch, rec)
			if len(batch) >= t.opts.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}
