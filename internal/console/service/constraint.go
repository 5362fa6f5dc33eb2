package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/xela07ax/constraint-ledger/internal/domain"
	"github.com/xela07ax/constraint-ledger/internal/engine"
	"github.com/xela07ax/constraint-ledger/internal/eventlog"
)

var ErrEmptyID = errors.New("constraint id is required")

// Store - то, что HTTP-слою нужно от фасада агрегата.
type Store interface {
	engine.ConstraintService
	History(ctx context.Context, id string) ([]eventlog.RecordedEvent, error)
}

// BoardReader - read-model для списка ограничений.
type BoardReader interface {
	List() []engine.BoardEntry
}

// ConstraintView - состояние ограничения в ответе API.
type ConstraintView struct {
	ID           string       `json:"id"`
	Phase        domain.Phase `json:"phase"`
	ClaimedUntil *time.Time   `json:"claimed_until,omitempty"`
	Validated    bool         `json:"validated"`
	Version      int64        `json:"version"`
}

type ConstraintService struct {
	store Store
	board BoardReader
}

func NewConstraintService(store Store, board BoardReader) *ConstraintService {
	return &ConstraintService{store: store, board: board}
}

func (s *ConstraintService) Claim(ctx context.Context, id string, d time.Duration) domain.Status[domain.Unit] {
	return s.store.Claim(ctx, id, d)
}

func (s *ConstraintService) Validate(ctx context.Context, id string) domain.Status[domain.Unit] {
	return s.store.Validate(ctx, id)
}

func (s *ConstraintService) Release(ctx context.Context, id string) domain.Status[domain.Unit] {
	return s.store.Release(ctx, id)
}

// Get читает состояние из журнала, а не с табло: табло может отставать.
func (s *ConstraintService) Get(ctx context.Context, id string) (ConstraintView, error) {
	if strings.TrimSpace(id) == "" {
		return ConstraintView{}, ErrEmptyID
	}
	c, err := s.store.Get(ctx, id)
	if err != nil {
		return ConstraintView{}, fmt.Errorf("constraint_service: get %s: %w", id, err)
	}
	return ConstraintView{
		ID:           id,
		Phase:        c.Phase(),
		ClaimedUntil: c.ClaimedUntil,
		Validated:    c.Validated,
		Version:      c.Version,
	}, nil
}

// Events - история ограничения в формате шины.
func (s *ConstraintService) Events(ctx context.Context, id string) ([]eventlog.Envelope, error) {
	if strings.TrimSpace(id) == "" {
		return nil, ErrEmptyID
	}
	history, err := s.store.History(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("constraint_service: history %s: %w", id, err)
	}
	out := make([]eventlog.Envelope, 0, len(history))
	for _, r := range history {
		env, err := eventlog.ToEnvelope(r)
		if err != nil {
			return nil, fmt.Errorf("constraint_service: encode %s v%d: %w", id, r.Version, err)
		}
		out = append(out, env)
	}
	return out, nil
}

func (s *ConstraintService) Board() []engine.BoardEntry {
	if s.board == nil {
		return []engine.BoardEntry{}
	}
	return s.board.List()
}
