package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType - стабильное имя события в журнале и на шине.
type EventType string

const (
	EventClaimed   EventType = "constraint.claimed"
	EventValidated EventType = "constraint.validated"
	EventReleased  EventType = "constraint.released"
)

// Event - неизменяемый факт. Единственный способ изменить состояние агрегата.
type Event interface {
	ConstraintID() string
	OccurredAt() time.Time
	Type() EventType
}

type ConstraintClaimed struct {
	ID        string        `json:"id"`
	Duration  time.Duration `json:"duration"`
	Timestamp time.Time     `json:"timestamp"`
}

func (e ConstraintClaimed) ConstraintID() string  { return e.ID }
func (e ConstraintClaimed) OccurredAt() time.Time { return e.Timestamp }
func (e ConstraintClaimed) Type() EventType       { return EventClaimed }

type ConstraintValidated struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
}

func (e ConstraintValidated) ConstraintID() string  { return e.ID }
func (e ConstraintValidated) OccurredAt() time.Time { return e.Timestamp }
func (e ConstraintValidated) Type() EventType       { return EventValidated }

type ConstraintReleased struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
}

func (e ConstraintReleased) ConstraintID() string  { return e.ID }
func (e ConstraintReleased) OccurredAt() time.Time { return e.Timestamp }
func (e ConstraintReleased) Type() EventType       { return EventReleased }

// EncodeEvent сериализует событие в (тип, JSON) для хранилищ и шины.
func EncodeEvent(e Event) (EventType, []byte, error) {
	if e == nil {
		return "", nil, fmt.Errorf("encode event: nil event")
	}
	data, err := json.Marshal(e)
	if err != nil {
		return "", nil, fmt.Errorf("encode %s: %w", e.Type(), err)
	}
	return e.Type(), data, nil
}

// DecodeEvent восстанавливает событие по имени типа.
func DecodeEvent(t EventType, data []byte) (Event, error) {
	switch t {
	case EventClaimed:
		var e ConstraintClaimed
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, fmt.Errorf("decode %s: %w", t, err)
		}
		return e, nil
	case EventValidated:
		var e ConstraintValidated
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, fmt.Errorf("decode %s: %w", t, err)
		}
		return e, nil
	case EventReleased:
		var e ConstraintReleased
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, fmt.Errorf("decode %s: %w", t, err)
		}
		return e, nil
	default:
		return nil, fmt.Errorf("decode event: unknown type %q", t)
	}
}
