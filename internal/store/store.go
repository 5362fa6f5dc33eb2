// Package store - фасад над агрегатом Constraint: команда на вход, Status на выход.
package store

import (
	"context"
	"time"

	"github.com/xela07ax/constraint-ledger/internal/domain"
	"github.com/xela07ax/constraint-ledger/internal/engine"
	"github.com/xela07ax/constraint-ledger/internal/eventlog"
)

// ConstraintStore - внешний контракт. Отказ и сбой возвращаются значением, не паникой.
type ConstraintStore interface {
	Claim(ctx context.Context, id string, d time.Duration) domain.Status[domain.Unit]
	Validate(ctx context.Context, id string) domain.Status[domain.Unit]
	Release(ctx context.Context, id string) domain.Status[domain.Unit]
}

// AggregateConstraintStore отправляет команды через Dispatcher синхронно.
// Сам входные данные не проверяет: пустой id или отрицательная длительность
// уходят в агрегат как есть.
type AggregateConstraintStore struct {
	dispatcher *engine.Dispatcher
	log        eventlog.EventLog
}

var (
	_ ConstraintStore          = (*AggregateConstraintStore)(nil)
	_ engine.ConstraintService = (*AggregateConstraintStore)(nil)
)

func NewAggregateConstraintStore(d *engine.Dispatcher, log eventlog.EventLog) *AggregateConstraintStore {
	return &AggregateConstraintStore{dispatcher: d, log: log}
}

func (s *AggregateConstraintStore) Claim(ctx context.Context, id string, d time.Duration) domain.Status[domain.Unit] {
	return s.send(ctx, domain.ClaimConstraint{ID: id, Duration: d, Timestamp: s.dispatcher.Now()})
}

func (s *AggregateConstraintStore) Validate(ctx context.Context, id string) domain.Status[domain.Unit] {
	return s.send(ctx, domain.ValidateConstraint{ID: id, Timestamp: s.dispatcher.Now()})
}

func (s *AggregateConstraintStore) Release(ctx context.Context, id string) domain.Status[domain.Unit] {
	return s.send(ctx, domain.ReleaseConstraint{ID: id, Timestamp: s.dispatcher.Now()})
}

func (s *AggregateConstraintStore) send(ctx context.Context, cmd domain.Command) domain.Status[domain.Unit] {
	return domain.StatusOf(func() (domain.Unit, error) {
		_, err := s.dispatcher.Dispatch(ctx, cmd)
		return domain.Unit{}, err
	})
}

// Get восстанавливает текущее состояние из журнала. Неизвестный id - Idle с Version 0.
func (s *AggregateConstraintStore) Get(ctx context.Context, id string) (domain.Constraint, error) {
	history, err := s.log.Load(ctx, id)
	if err != nil {
		return domain.Constraint{}, err
	}
	return s.dispatcher.Applier().Fold(id, eventlog.Events(history)), nil
}

// History - записанные события id по возрастанию версии.
func (s *AggregateConstraintStore) History(ctx context.Context, id string) ([]eventlog.RecordedEvent, error) {
	return s.log.Load(ctx, id)
}
