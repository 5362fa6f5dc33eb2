// Package eventlog описывает append-only журнал событий агрегатов.
// Журнал упорядочен внутри одного id; версии начинаются с 1 и идут без пропусков.
package eventlog

import (
	"context"
	"errors"
	"time"

	"github.com/xela07ax/constraint-ledger/internal/domain"
)

var (
	// ErrConcurrencyConflict - ожидаемая версия не совпала с текущей (оптимистичная блокировка).
	ErrConcurrencyConflict = errors.New("eventlog: concurrency conflict")

	ErrEmptyID = errors.New("eventlog: constraint id is required")
)

// RecordedEvent - событие, получившее место в журнале.
type RecordedEvent struct {
	EventID      string       `json:"event_id"`
	ConstraintID string       `json:"constraint_id"`
	Version      int64        `json:"version"`
	Event        domain.Event `json:"-"`
	RecordedAt   time.Time    `json:"recorded_at"`
}

// EventLog - хранилище истории агрегатов.
type EventLog interface {
	// Load возвращает всю историю id по возрастанию версии. Неизвестный id - пустой срез.
	Load(ctx context.Context, id string) ([]RecordedEvent, error)

	// Append дописывает события, если текущая версия потока равна expectedVersion.
	// Иначе ErrConcurrencyConflict и ничего не записывается.
	Append(ctx context.Context, id string, expectedVersion int64, events ...domain.Event) ([]RecordedEvent, error)

	// IDs - все известные id, для прогрева проекций.
	IDs(ctx context.Context) ([]string, error)
}

// Events отбрасывает метаданные журнала.
func Events(history []RecordedEvent) []domain.Event {
	out := make([]domain.Event, 0, len(history))
	for _, r := range history {
		out = append(out, r.Event)
	}
	return out
}

// LastVersion - версия потока после применения history.
func LastVersion(history []RecordedEvent) int64 {
	if len(history) == 0 {
		return 0
	}
	return history[len(history)-1].Version
}
