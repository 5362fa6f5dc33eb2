package eventlog

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/xela07ax/constraint-ledger/internal/domain"
)

// Envelope - формат записанного события на шине и во внешних API.
type Envelope struct {
	EventID      string           `json:"event_id"`
	ConstraintID string           `json:"constraint_id"`
	Version      int64            `json:"version"`
	Type         domain.EventType `json:"type"`
	Payload      json.RawMessage  `json:"payload"`
	RecordedAt   time.Time        `json:"recorded_at"`
}

func ToEnvelope(r RecordedEvent) (Envelope, error) {
	typ, payload, err := domain.EncodeEvent(r.Event)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		EventID:      r.EventID,
		ConstraintID: r.ConstraintID,
		Version:      r.Version,
		Type:         typ,
		Payload:      payload,
		RecordedAt:   r.RecordedAt,
	}, nil
}

func (e Envelope) Record() (RecordedEvent, error) {
	evt, err := domain.DecodeEvent(e.Type, e.Payload)
	if err != nil {
		return RecordedEvent{}, err
	}
	return RecordedEvent{
		EventID:      e.EventID,
		ConstraintID: e.ConstraintID,
		Version:      e.Version,
		Event:        evt,
		RecordedAt:   e.RecordedAt,
	}, nil
}

// Marshal кодирует событие в JSON-конверт.
func Marshal(r RecordedEvent) ([]byte, error) {
	env, err := ToEnvelope(r)
	if err != nil {
		return nil, err
	}
	return json.Marshal(env)
}

// Unmarshal разбирает JSON-конверт обратно в RecordedEvent.
func Unmarshal(data []byte) (RecordedEvent, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return RecordedEvent{}, fmt.Errorf("eventlog: bad envelope: %w", err)
	}
	return env.Record()
}
