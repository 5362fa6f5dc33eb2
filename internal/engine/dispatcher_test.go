package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/xela07ax/constraint-ledger/internal/audit"
	"github.com/xela07ax/constraint-ledger/internal/domain"
	"github.com/xela07ax/constraint-ledger/internal/eventlog"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type recordingAuditor struct {
	mu      sync.Mutex
	records []audit.CommandRecord
}

func (a *recordingAuditor) Log(r audit.CommandRecord) {
	a.mu.Lock()
	a.records = append(a.records, r)
	a.mu.Unlock()
}

func (a *recordingAuditor) outcomes() []audit.Outcome {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]audit.Outcome, 0, len(a.records))
	for _, r := range a.records {
		out = append(out, r.Outcome)
	}
	return out
}

type mockLog struct {
	mock.Mock
}

func (m *mockLog) Load(ctx context.Context, id string) ([]eventlog.RecordedEvent, error) {
	args := m.Called(ctx, id)
	history, _ := args.Get(0).([]eventlog.RecordedEvent)
	return history, args.Error(1)
}

func (m *mockLog) Append(ctx context.Context, id string, expectedVersion int64, events ...domain.Event) ([]eventlog.RecordedEvent, error) {
	args := m.Called(ctx, id, expectedVersion, events)
	recorded, _ := args.Get(0).([]eventlog.RecordedEvent)
	return recorded, args.Error(1)
}

func (m *mockLog) IDs(ctx context.Context) ([]string, error) {
	args := m.Called(ctx)
	ids, _ := args.Get(0).([]string)
	return ids, args.Error(1)
}

func newTestDispatcher(log eventlog.EventLog, clock *fakeClock, opts ...Option) *Dispatcher {
	opts = append([]Option{WithClock(clock.Now)}, opts...)
	return NewDispatcher(log, ConstraintRegistry(), DispatcherConfig{RetryDelay: time.Millisecond}, opts...)
}

func claim(clock *fakeClock, id string, d time.Duration) domain.Command {
	return domain.ClaimConstraint{ID: id, Duration: d, Timestamp: clock.Now()}
}

func validate(clock *fakeClock, id string) domain.Command {
	return domain.ValidateConstraint{ID: id, Timestamp: clock.Now()}
}

func release(clock *fakeClock, id string) domain.Command {
	return domain.ReleaseConstraint{ID: id, Timestamp: clock.Now()}
}

func TestDispatch_ScenarioC1(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	log := eventlog.NewMemory()
	auditor := &recordingAuditor{}
	d := newTestDispatcher(log, clock, WithAuditor(auditor))

	res, err := d.Dispatch(ctx, claim(clock, "c1", 10*time.Second))
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseClaimed, res.State.Phase())
	require.Len(t, res.Recorded, 1)
	assert.Equal(t, int64(1), res.Recorded[0].Version)

	_, err = d.Dispatch(ctx, validate(clock, "c1"))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrAlreadyClaimed)
	assert.Equal(t, "Could not claim an already claimed constraint", err.Error())

	res, err = d.Dispatch(ctx, release(clock, "c1"))
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseIdle, res.State.Phase())

	res, err = d.Dispatch(ctx, validate(clock, "c1"))
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseValidated, res.State.Phase())
	assert.Equal(t, int64(3), res.State.Version)

	history, err := log.Load(ctx, "c1")
	require.NoError(t, err)
	assert.Len(t, history, 3, "rejection must not reach the log")

	assert.Equal(t, []audit.Outcome{
		audit.OutcomeAccepted, audit.OutcomeRejected, audit.OutcomeAccepted, audit.OutcomeAccepted,
	}, auditor.outcomes())
}

func TestDispatch_ValidateAfterClaimExpires(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	d := newTestDispatcher(eventlog.NewMemory(), clock)

	_, err := d.Dispatch(ctx, claim(clock, "c1", 10*time.Second))
	require.NoError(t, err)

	clock.Advance(11 * time.Second)
	res, err := d.Dispatch(ctx, validate(clock, "c1"))
	require.NoError(t, err)
	assert.True(t, res.State.Validated)
	assert.Nil(t, res.State.ClaimedUntil)
}

func TestDispatch_ValidateTwice(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	d := newTestDispatcher(eventlog.NewMemory(), clock)

	_, err := d.Dispatch(ctx, validate(clock, "c1"))
	require.NoError(t, err)

	_, err = d.Dispatch(ctx, validate(clock, "c1"))
	assert.ErrorIs(t, err, domain.ErrAlreadyValidated)
}

func TestDispatch_ConcurrentValidateExactlyOneWins(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	d := newTestDispatcher(eventlog.NewMemory(), clock)

	_, err := d.Dispatch(ctx, release(clock, "c1"))
	require.NoError(t, err)

	const workers = 32
	var wins, rejected atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := d.Dispatch(ctx, validate(clock, "c1"))
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, domain.ErrAlreadyValidated):
				rejected.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, int32(workers-1), rejected.Load())
	assert.Equal(t, 0, d.locks.size(), "locks must be released")
}

func TestDispatch_TwoDispatchersShareLog(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	log := eventlog.NewMemory()

	cfg := DispatcherConfig{ConflictRetries: 100, RetryDelay: time.Microsecond}
	a := NewDispatcher(log, ConstraintRegistry(), cfg, WithClock(clock.Now))
	b := NewDispatcher(log, ConstraintRegistry(), cfg, WithClock(clock.Now))

	const perDispatcher = 20
	var wg sync.WaitGroup
	var failures atomic.Int32
	for _, d := range []*Dispatcher{a, b} {
		for i := 0; i < perDispatcher; i++ {
			wg.Add(1)
			go func(d *Dispatcher) {
				defer wg.Done()
				if _, err := d.Dispatch(ctx, claim(clock, "shared", time.Second)); err != nil {
					failures.Add(1)
				}
			}(d)
		}
	}
	wg.Wait()

	require.Zero(t, failures.Load())
	history, err := log.Load(ctx, "shared")
	require.NoError(t, err)
	require.Len(t, history, 2*perDispatcher)
	for i, r := range history {
		assert.Equal(t, int64(i+1), r.Version)
	}
}

func TestDispatch_RetriesOnConflict(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	metrics := NewMetrics(prometheus.NewRegistry())

	log := &mockLog{}
	log.On("Load", mock.Anything, "c1").Return([]eventlog.RecordedEvent(nil), nil).Once()
	log.On("Append", mock.Anything, "c1", int64(0), mock.Anything).
		Return(nil, eventlog.ErrConcurrencyConflict).Once()

	winner := eventlog.RecordedEvent{
		EventID: "e1", ConstraintID: "c1", Version: 1,
		Event: domain.ConstraintReleased{ID: "c1", Timestamp: clock.Now()},
	}
	log.On("Load", mock.Anything, "c1").Return([]eventlog.RecordedEvent{winner}, nil).Once()
	log.On("Append", mock.Anything, "c1", int64(1), mock.Anything).
		Return([]eventlog.RecordedEvent{{
			EventID: "e2", ConstraintID: "c1", Version: 2,
			Event: domain.ConstraintValidated{ID: "c1", Timestamp: clock.Now()},
		}}, nil).Once()

	d := newTestDispatcher(log, clock, WithMetrics(metrics))
	res, err := d.Dispatch(ctx, validate(clock, "c1"))
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.State.Version)
	assert.True(t, res.State.Validated)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Conflicts))
	log.AssertExpectations(t)
}

func TestDispatch_RejectionIsNotRetried(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()

	validated := eventlog.RecordedEvent{
		EventID: "e1", ConstraintID: "c1", Version: 1,
		Event: domain.ConstraintValidated{ID: "c1", Timestamp: clock.Now()},
	}
	log := &mockLog{}
	log.On("Load", mock.Anything, "c1").Return([]eventlog.RecordedEvent{validated}, nil).Once()

	d := newTestDispatcher(log, clock)
	_, err := d.Dispatch(ctx, validate(clock, "c1"))
	assert.ErrorIs(t, err, domain.ErrAlreadyValidated)
	log.AssertExpectations(t)
	log.AssertNotCalled(t, "Append", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestDispatch_InfrastructureFailure(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	boom := errors.New("connection refused")

	log := &mockLog{}
	log.On("Load", mock.Anything, "c1").Return(nil, boom).Once()

	auditor := &recordingAuditor{}
	metrics := NewMetrics(prometheus.NewRegistry())
	d := newTestDispatcher(log, clock, WithAuditor(auditor), WithMetrics(metrics))

	_, err := d.Dispatch(ctx, release(clock, "c1"))
	require.ErrorIs(t, err, boom)
	var br *domain.BadRequest
	assert.False(t, errors.As(err, &br))
	assert.Equal(t, []audit.Outcome{audit.OutcomeFailed}, auditor.outcomes())
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Commands.WithLabelValues("release", "FAILED")))
	log.AssertExpectations(t)
}

func TestDispatch_PublishFailureDoesNotFailCommand(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	metrics := NewMetrics(prometheus.NewRegistry())

	var delivered []eventlog.RecordedEvent
	pub := Publishers{
		PublisherFunc(func(_ context.Context, r eventlog.RecordedEvent) error {
			delivered = append(delivered, r)
			return nil
		}),
		PublisherFunc(func(context.Context, eventlog.RecordedEvent) error {
			return errors.New("bus down")
		}),
	}
	d := newTestDispatcher(eventlog.NewMemory(), clock, WithPublisher(pub), WithMetrics(metrics))

	_, err := d.Dispatch(ctx, claim(clock, "c1", time.Minute))
	require.NoError(t, err)
	require.Len(t, delivered, 1)
	assert.Equal(t, int64(1), delivered[0].Version)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.PublishFailures.WithLabelValues(string(domain.EventClaimed))))
}

func TestDispatch_TraceIDReachesAudit(t *testing.T) {
	clock := newFakeClock()
	auditor := &recordingAuditor{}
	d := newTestDispatcher(eventlog.NewMemory(), clock, WithAuditor(auditor))

	ctx := WithTraceID(context.Background(), "trace-42")
	_, err := d.Dispatch(ctx, release(clock, "c1"))
	require.NoError(t, err)

	require.Len(t, auditor.records, 1)
	rec := auditor.records[0]
	assert.Equal(t, "trace-42", rec.TraceID)
	assert.Equal(t, "c1", rec.ConstraintID)
	assert.Equal(t, "release", rec.Command)
	assert.Equal(t, int64(1), rec.Version)
}

type unknownCommand struct{}

func (unknownCommand) ConstraintID() string     { return "c1" }
func (unknownCommand) IssuedAt() time.Time      { return time.Time{} }
func (unknownCommand) Kind() domain.CommandKind { return "teleport" }

func TestDispatch_UnknownCommand(t *testing.T) {
	d := newTestDispatcher(eventlog.NewMemory(), newFakeClock())

	_, err := d.Dispatch(context.Background(), unknownCommand{})
	assert.ErrorIs(t, err, ErrUnknownCommand)

	_, err = d.Dispatch(context.Background(), nil)
	assert.ErrorIs(t, err, ErrUnknownCommand)

	var typedNil *domain.ClaimConstraint
	_, err = d.Dispatch(context.Background(), typedNil)
	assert.ErrorIs(t, err, ErrUnknownCommand)
}

func TestDispatch_PointerCommands(t *testing.T) {
	clock := newFakeClock()
	d := newTestDispatcher(eventlog.NewMemory(), clock)
	ctx := context.Background()

	res, err := d.Dispatch(ctx, &domain.ClaimConstraint{ID: "c1", Duration: 10 * time.Second, Timestamp: clock.Now()})
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.State.Version)

	_, err = d.Dispatch(ctx, &domain.ValidateConstraint{ID: "c1", Timestamp: clock.Now()})
	var br *domain.BadRequest
	require.ErrorAs(t, err, &br)

	res, err = d.Dispatch(ctx, &domain.ReleaseConstraint{ID: "c1", Timestamp: clock.Now()})
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.State.Version)
}

func TestDispatch_SlowPublisherDoesNotStallID(t *testing.T) {
	clock := newFakeClock()
	started := make(chan struct{}, 4)
	slow := PublisherFunc(func(ctx context.Context, _ eventlog.RecordedEvent) error {
		started <- struct{}{}
		<-ctx.Done()
		return ctx.Err()
	})
	metrics := NewMetrics(prometheus.NewRegistry())
	d := NewDispatcher(eventlog.NewMemory(), ConstraintRegistry(),
		DispatcherConfig{PublishTimeout: 100 * time.Millisecond},
		WithClock(clock.Now), WithPublisher(slow), WithMetrics(metrics))

	first := make(chan error, 1)
	go func() {
		_, err := d.Dispatch(context.Background(), claim(clock, "c1", time.Minute))
		first <- err
	}()
	<-started // первая команда держит замок c1 и висит в доставке

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	res, err := d.Dispatch(ctx, release(clock, "c1"))
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.State.Version)

	select {
	case err := <-first:
		require.NoError(t, err, "event is durable, delivery timeout must not fail the command")
	case <-time.After(time.Second):
		t.Fatal("first dispatch still blocked in publish")
	}
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.PublishFailures.WithLabelValues(string(domain.EventClaimed))))
	assert.Equal(t, 0, d.locks.size())
}

func TestDispatch_LockWaitHonoursContext(t *testing.T) {
	clock := newFakeClock()
	gate := make(chan struct{})
	started := make(chan struct{}, 1)
	stuck := PublisherFunc(func(ctx context.Context, _ eventlog.RecordedEvent) error {
		select {
		case started <- struct{}{}:
		default:
		}
		<-gate
		return nil
	})
	auditor := &recordingAuditor{}
	d := NewDispatcher(eventlog.NewMemory(), ConstraintRegistry(),
		DispatcherConfig{PublishTimeout: time.Minute},
		WithClock(clock.Now), WithPublisher(stuck), WithAuditor(auditor))

	first := make(chan error, 1)
	go func() {
		_, err := d.Dispatch(context.Background(), claim(clock, "c1", time.Minute))
		first <- err
	}()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	begin := time.Now()
	_, err := d.Dispatch(ctx, release(clock, "c1"))
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(begin), time.Second)

	close(gate)
	require.NoError(t, <-first)

	outcomes := auditor.outcomes()
	assert.ElementsMatch(t, []audit.Outcome{audit.OutcomeFailed, audit.OutcomeAccepted}, outcomes)
}
