package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xela07ax/constraint-ledger/internal/domain"
	"github.com/xela07ax/constraint-ledger/internal/eventlog"
)

const uniqueViolation = "23505"

// EventRepo - журнал событий в таблице constraint_events.
// Гонку писателей разрешает UNIQUE(constraint_id, version).
type EventRepo struct {
	pool *pgxpool.Pool
}

var _ eventlog.EventLog = (*EventRepo)(nil)

func NewEventRepo(pool *pgxpool.Pool) *EventRepo {
	return &EventRepo{pool: pool}
}

func (r *EventRepo) Load(ctx context.Context, id string) ([]eventlog.RecordedEvent, error) {
	query := `SELECT event_id::text, version, type, payload, recorded_at
	          FROM constraint_events WHERE constraint_id = $1 ORDER BY version`

	rows, err := r.pool.Query(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query events: %w", err)
	}
	defer rows.Close()

	history := make([]eventlog.RecordedEvent, 0)
	for rows.Next() {
		var (
			eventID    string
			version    int64
			typ        string
			payload    []byte
			recordedAt time.Time
		)
		if err := rows.Scan(&eventID, &version, &typ, &payload, &recordedAt); err != nil {
			return nil, fmt.Errorf("postgres: failed to scan event: %w", err)
		}
		evt, err := domain.DecodeEvent(domain.EventType(typ), payload)
		if err != nil {
			return nil, fmt.Errorf("postgres: event %s v%d: %w", id, version, err)
		}
		history = append(history, eventlog.RecordedEvent{
			EventID:      eventID,
			ConstraintID: id,
			Version:      version,
			Event:        evt,
			RecordedAt:   recordedAt.UTC(),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: failed to read events: %w", err)
	}
	return history, nil
}

// Append пишет события одной транзакцией. Текущая версия сверяется внутри транзакции,
// а параллельного писателя, успевшего между проверкой и вставкой, отсекает уникальный индекс.
func (r *EventRepo) Append(ctx context.Context, id string, expectedVersion int64, events ...domain.Event) ([]eventlog.RecordedEvent, error) {
	if id == "" {
		return nil, eventlog.ErrEmptyID
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var current int64
	err = tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM constraint_events WHERE constraint_id = $1`, id,
	).Scan(&current)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to read version: %w", err)
	}
	if current != expectedVersion {
		return nil, eventlog.ErrConcurrencyConflict
	}

	insert := `INSERT INTO constraint_events (event_id, constraint_id, version, type, payload)
	           VALUES ($1, $2, $3, $4, $5) RETURNING recorded_at`

	recorded := make([]eventlog.RecordedEvent, 0, len(events))
	for i, evt := range events {
		typ, payload, err := domain.EncodeEvent(evt)
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}

		eventID := uuid.New()
		rec := eventlog.RecordedEvent{
			EventID:      eventID.String(),
			ConstraintID: id,
			Version:      expectedVersion + int64(i) + 1,
			Event:        evt,
		}
		err = tx.QueryRow(ctx, insert, eventID, id, rec.Version, string(typ), payload).Scan(&rec.RecordedAt)
		if err != nil {
			if isUniqueViolation(err) {
				return nil, eventlog.ErrConcurrencyConflict
			}
			return nil, fmt.Errorf("postgres: failed to insert event: %w", err)
		}
		rec.RecordedAt = rec.RecordedAt.UTC()
		recorded = append(recorded, rec)
	}

	if err := tx.Commit(ctx); err != nil {
		if isUniqueViolation(err) {
			return nil, eventlog.ErrConcurrencyConflict
		}
		return nil, fmt.Errorf("postgres: failed to commit events: %w", err)
	}
	return recorded, nil
}

func (r *EventRepo) IDs(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT DISTINCT constraint_id FROM constraint_events ORDER BY constraint_id`)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to list constraints: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to scan constraint ids: %w", err)
	}
	return ids, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
