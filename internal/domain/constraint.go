package domain

import "time"

// Phase - производное состояние ограничения для API и проекций.
type Phase string

const (
	PhaseIdle      Phase = "IDLE"
	PhaseClaimed   Phase = "CLAIMED"
	PhaseValidated Phase = "VALIDATED"
)

// Constraint - агрегат. Состояние восстанавливается только из истории событий.
// Нулевое значение - Idle (политика create-if-missing).
type Constraint struct {
	ID           string     `json:"id"`
	ClaimedUntil *time.Time `json:"claimed_until,omitempty"`
	Validated    bool       `json:"validated"`
	Version      int64      `json:"version"` // кол-во применённых событий
}

// Phase возвращает фазу без учёта истечения захвата.
func (c Constraint) Phase() Phase {
	switch {
	case c.Validated:
		return PhaseValidated
	case c.ClaimedUntil != nil:
		return PhaseClaimed
	default:
		return PhaseIdle
	}
}

// ClaimActive - есть ли незавершённый захват на момент now.
func (c Constraint) ClaimActive(now time.Time) bool {
	return c.ClaimedUntil != nil && c.ClaimedUntil.After(now)
}

// Exists - было ли у агрегата хотя бы одно событие.
func (c Constraint) Exists() bool {
	return c.Version > 0
}
