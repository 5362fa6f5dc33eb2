package domain

import "time"

// Обработчики команд. Проверяют состояние и возвращают событие,
// которое нужно записать в журнал. Состояние сами не меняют.

// HandleClaim - захват принимается всегда, повторный захват перезаписывает срок.
func HandleClaim(_ Constraint, cmd ClaimConstraint, _ time.Time) (Event, error) {
	return ConstraintClaimed{
		ID:        cmd.ID,
		Duration:  cmd.Duration,
		Timestamp: cmd.Timestamp,
	}, nil
}

// HandleValidate отклоняет повторную валидацию и валидацию при активном захвате.
func HandleValidate(state Constraint, cmd ValidateConstraint, now time.Time) (Event, error) {
	switch {
	case state.Validated:
		return nil, alreadyValidated()
	case state.ClaimActive(now):
		return nil, alreadyClaimed()
	}
	return ConstraintValidated{ID: cmd.ID, Timestamp: cmd.Timestamp}, nil
}

// HandleRelease - освобождение принимается всегда и возвращает в Idle.
func HandleRelease(_ Constraint, cmd ReleaseConstraint, _ time.Time) (Event, error) {
	return ConstraintReleased{ID: cmd.ID, Timestamp: cmd.Timestamp}, nil
}
