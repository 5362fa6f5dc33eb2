package engine

import (
	"errors"
	"fmt"
	"time"

	"github.com/xela07ax/constraint-ledger/internal/domain"
)

var (
	ErrUnknownCommand = errors.New("engine: no handler registered for command")
	// ErrCommandType - обработчик найден по Kind, но значение команды другого типа.
	ErrCommandType = errors.New("engine: command type does not match handler")
)

// HandlerFunc - обработчик команды над восстановленным состоянием агрегата.
// Возвращает событие для записи или отказ (*domain.BadRequest).
type HandlerFunc func(state domain.Constraint, cmd domain.Command, now time.Time) (domain.Event, error)

// Registry - явная таблица "тип команды -> обработчик".
type Registry struct {
	handlers map[domain.CommandKind]HandlerFunc
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[domain.CommandKind]HandlerFunc)}
}

// Register добавляет типизированный обработчик. Повторная регистрация заменяет прежний.
// Команду принимает и по значению, и по указателю (&domain.ClaimConstraint{}).
func Register[C domain.Command](r *Registry, kind domain.CommandKind, h func(domain.Constraint, C, time.Time) (domain.Event, error)) {
	r.handlers[kind] = func(state domain.Constraint, cmd domain.Command, now time.Time) (domain.Event, error) {
		typed, ok := cmd.(C)
		if !ok {
			if p, isPtr := any(cmd).(*C); isPtr && p != nil {
				typed, ok = *p, true
			}
		}
		if !ok {
			return nil, fmt.Errorf("%w: %s handler got %T", ErrCommandType, kind, cmd)
		}
		return h(state, typed, now)
	}
}

func (r *Registry) Lookup(kind domain.CommandKind) (HandlerFunc, bool) {
	h, ok := r.handlers[kind]
	return h, ok
}

// ConstraintRegistry - обработчики агрегата Constraint.
func ConstraintRegistry() *Registry {
	r := NewRegistry()
	Register(r, domain.CommandClaim, domain.HandleClaim)
	Register(r, domain.CommandValidate, domain.HandleValidate)
	Register(r, domain.CommandRelease, domain.HandleRelease)
	return r
}
