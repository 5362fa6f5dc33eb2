package audit

import "time"

type Outcome string

const (
	OutcomeAccepted Outcome = "ACCEPTED" // событие записано
	OutcomeRejected Outcome = "REJECTED" // отказ бизнес-правила
	OutcomeFailed   Outcome = "FAILED"   // инфраструктурная ошибка
)

// CommandRecord - след одной обработанной команды.
type CommandRecord struct {
	ID           string    `json:"id"`            // UUID записи
	TraceID      string    `json:"trace_id"`      // Сквозной ID запроса
	ConstraintID string    `json:"constraint_id"` // Над чем
	Command      string    `json:"command"`       // claim / validate / release
	Outcome      Outcome   `json:"outcome"`
	Reason       string    `json:"reason,omitempty"`
	Version      int64     `json:"version"` // версия агрегата после команды
	Timestamp    time.Time `json:"timestamp"`
	DurationMs   int64     `json:"duration_ms"`
}
