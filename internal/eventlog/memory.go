package eventlog

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/xela07ax/constraint-ledger/internal/domain"
)

// Memory - журнал в памяти процесса. Используется по умолчанию и в тестах.
type Memory struct {
	mu      sync.RWMutex
	streams map[string][]RecordedEvent
	now     func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		streams: make(map[string][]RecordedEvent),
		now:     time.Now,
	}
}

func (m *Memory) Load(ctx context.Context, id string) ([]RecordedEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	stream := m.streams[id]
	out := make([]RecordedEvent, len(stream))
	copy(out, stream)
	return out, nil
}

func (m *Memory) Append(ctx context.Context, id string, expectedVersion int64, events ...domain.Event) ([]RecordedEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if id == "" {
		return nil, ErrEmptyID
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	stream := m.streams[id]
	if int64(len(stream)) != expectedVersion {
		return nil, ErrConcurrencyConflict
	}

	recorded := make([]RecordedEvent, 0, len(events))
	for i, evt := range events {
		recorded = append(recorded, RecordedEvent{
			EventID:      uuid.NewString(),
			ConstraintID: id,
			Version:      expectedVersion + int64(i) + 1,
			Event:        evt,
			RecordedAt:   m.now().UTC(),
		})
	}
	m.streams[id] = append(stream, recorded...)
	return recorded, nil
}

func (m *Memory) IDs(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.streams))
	for id := range m.streams {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}
