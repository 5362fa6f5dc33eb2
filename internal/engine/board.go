package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xela07ax/constraint-ledger/internal/domain"
	"github.com/xela07ax/constraint-ledger/internal/eventlog"
)

// BoardEntry - строка табло: последнее известное состояние ограничения.
type BoardEntry struct {
	ID           string       `json:"id"`
	Phase        domain.Phase `json:"phase"`
	ClaimedUntil *time.Time   `json:"claimed_until,omitempty"`
	Validated    bool         `json:"validated"`
	Version      int64        `json:"version"`
}

// Board - read-model поверх журнала. Источник истины всегда журнал,
// табло может отставать, но никогда не откатывается на старую версию.
type Board struct {
	mu      sync.RWMutex
	state   map[string]domain.Constraint
	applier domain.Applier
	log     eventlog.EventLog
	logger  *zap.Logger
}

var _ Publisher = (*Board)(nil)

func NewBoard(log eventlog.EventLog, applier domain.Applier, logger *zap.Logger) *Board {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Board{
		state:   make(map[string]domain.Constraint),
		applier: applier,
		log:     log,
		logger:  logger.Named("board"),
	}
}

// Init перечитывает все потоки журнала (прогрев и ресинк после переподключения).
func (b *Board) Init(ctx context.Context) error {
	ids, err := b.log.IDs(ctx)
	if err != nil {
		return fmt.Errorf("board: list ids: %w", err)
	}

	fresh := make(map[string]domain.Constraint, len(ids))
	for _, id := range ids {
		history, err := b.log.Load(ctx, id)
		if err != nil {
			return fmt.Errorf("board: load %s: %w", id, err)
		}
		fresh[id] = b.applier.Fold(id, eventlog.Events(history))
	}

	b.mu.Lock()
	for id, c := range fresh {
		if cur, ok := b.state[id]; !ok || c.Version > cur.Version {
			b.state[id] = c
		}
	}
	b.mu.Unlock()

	b.logger.Info("board warmed up", zap.Int("constraints", len(fresh)))
	return nil
}

// Publish применяет событие, если оно ровно следующее по версии.
// Устаревшие события игнорируются; при разрыве поток перечитывается из журнала.
func (b *Board) Publish(ctx context.Context, r eventlog.RecordedEvent) error {
	b.mu.Lock()
	cur := b.state[r.ConstraintID]
	switch {
	case r.Version <= cur.Version:
		b.mu.Unlock()
		return nil
	case r.Version == cur.Version+1 && r.Event != nil:
		next := b.applier.Apply(cur, r.Event)
		next.ID = r.ConstraintID
		next.Version = r.Version
		b.state[r.ConstraintID] = next
		b.mu.Unlock()
		return nil
	}
	b.mu.Unlock()

	// пропуск версий: догоняем из журнала
	return b.Refresh(ctx, r.ConstraintID)
}

// Refresh перечитывает один поток.
func (b *Board) Refresh(ctx context.Context, id string) error {
	history, err := b.log.Load(ctx, id)
	if err != nil {
		return fmt.Errorf("board: refresh %s: %w", id, err)
	}
	c := b.applier.Fold(id, eventlog.Events(history))
	if !c.Exists() {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if c.Version > b.state[id].Version {
		b.state[id] = c
	}
	return nil
}

func (b *Board) Get(id string) (BoardEntry, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	c, ok := b.state[id]
	if !ok {
		return BoardEntry{}, false
	}
	return toEntry(c), true
}

// List - снимок табло, отсортированный по id.
func (b *Board) List() []BoardEntry {
	b.mu.RLock()
	out := make([]BoardEntry, 0, len(b.state))
	for _, c := range b.state {
		out = append(out, toEntry(c))
	}
	b.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func toEntry(c domain.Constraint) BoardEntry {
	return BoardEntry{
		ID:           c.ID,
		Phase:        c.Phase(),
		ClaimedUntil: c.ClaimedUntil,
		Validated:    c.Validated,
		Version:      c.Version,
	}
}
