package domain

import (
	"fmt"
	"strings"
	"time"
)

// ExpiryBasis - от какого момента отсчитывается срок захвата при применении события.
type ExpiryBasis int

const (
	// ExpiryFromEventTime: claimedUntil = event.Timestamp + duration.
	// Детерминированно, повторное проигрывание истории даёт тот же результат.
	ExpiryFromEventTime ExpiryBasis = iota

	// ExpiryFromApplyTime: claimedUntil = now() + duration в момент применения.
	// Историческое поведение: при проигрывании истории позже окно захвата сдвигается.
	ExpiryFromApplyTime
)

func (b ExpiryBasis) String() string {
	if b == ExpiryFromApplyTime {
		return "apply"
	}
	return "event"
}

// ParseExpiryBasis разбирает значение из конфига ("event" | "apply").
func ParseExpiryBasis(s string) (ExpiryBasis, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "event":
		return ExpiryFromEventTime, nil
	case "apply":
		return ExpiryFromApplyTime, nil
	default:
		return ExpiryFromEventTime, fmt.Errorf("unknown claim expiry basis %q", s)
	}
}

// Applier - редьюсер событий: Apply(state, event) -> state.
// Без побочных эффектов, кроме чтения часов в режиме ExpiryFromApplyTime.
type Applier struct {
	Basis ExpiryBasis
	Now   func() time.Time
}

func (a Applier) now() time.Time {
	if a.Now == nil {
		return time.Now()
	}
	return a.Now()
}

func (a Applier) Apply(state Constraint, evt Event) Constraint {
	switch e := evt.(type) {
	case ConstraintClaimed:
		base := e.Timestamp
		if a.Basis == ExpiryFromApplyTime {
			base = a.now()
		}
		until := base.Add(e.Duration)
		state.ClaimedUntil = &until
		state.Validated = false
	case ConstraintValidated:
		state.ClaimedUntil = nil
		state.Validated = true
	case ConstraintReleased:
		state.ClaimedUntil = nil
		state.Validated = false
	default:
		return state
	}
	state.ID = evt.ConstraintID()
	state.Version++
	return state
}

// Fold восстанавливает состояние агрегата из истории.
// Пустая история даёт Idle с заданным id.
func (a Applier) Fold(id string, history []Event) Constraint {
	state := Constraint{ID: id}
	for _, evt := range history {
		state = a.Apply(state, evt)
	}
	return state
}
