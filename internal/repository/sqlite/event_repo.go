// Package sqlite - журнал событий в одном файле SQLite, для одиночного инстанса без Postgres.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/xela07ax/constraint-ledger/internal/domain"
	"github.com/xela07ax/constraint-ledger/internal/eventlog"
)

//go:embed schema.sql
var schema string

type EventRepo struct {
	db  *sql.DB
	now func() time.Time
}

var _ eventlog.EventLog = (*EventRepo)(nil)

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open открывает (или создаёт) файл журнала и применяет схему.
func Open(path string) (*EventRepo, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite: storage path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_txlock=immediate"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	// один писатель: проверка версии и вставка не перемешиваются
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: ping: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: migrate: %w", err)
	}
	return &EventRepo{db: db, now: time.Now}, nil
}

func (r *EventRepo) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

func (r *EventRepo) Load(ctx context.Context, id string) ([]eventlog.RecordedEvent, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT event_id, version, type, payload, recorded_at
		 FROM constraint_events WHERE constraint_id = ? ORDER BY version`, id)
	if err != nil {
		return nil, fmt.Errorf("sqlite: query events: %w", err)
	}
	defer rows.Close()

	history := make([]eventlog.RecordedEvent, 0)
	for rows.Next() {
		var (
			rec        eventlog.RecordedEvent
			typ        string
			payload    []byte
			recordedAt int64
		)
		if err := rows.Scan(&rec.EventID, &rec.Version, &typ, &payload, &recordedAt); err != nil {
			return nil, fmt.Errorf("sqlite: scan event: %w", err)
		}
		rec.Event, err = domain.DecodeEvent(domain.EventType(typ), payload)
		if err != nil {
			return nil, fmt.Errorf("sqlite: event %s v%d: %w", id, rec.Version, err)
		}
		rec.ConstraintID = id
		rec.RecordedAt = fromMillis(recordedAt)
		history = append(history, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: read events: %w", err)
	}
	return history, nil
}

func (r *EventRepo) Append(ctx context.Context, id string, expectedVersion int64, events ...domain.Event) ([]eventlog.RecordedEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if id == "" {
		return nil, eventlog.ErrEmptyID
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("sqlite: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var current int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM constraint_events WHERE constraint_id = ?`, id,
	).Scan(&current); err != nil {
		return nil, fmt.Errorf("sqlite: read version: %w", err)
	}
	if current != expectedVersion {
		return nil, eventlog.ErrConcurrencyConflict
	}

	recordedAt := fromMillis(toMillis(r.now()))
	recorded := make([]eventlog.RecordedEvent, 0, len(events))
	for i, evt := range events {
		typ, payload, err := domain.EncodeEvent(evt)
		if err != nil {
			return nil, fmt.Errorf("sqlite: %w", err)
		}
		rec := eventlog.RecordedEvent{
			EventID:      uuid.NewString(),
			ConstraintID: id,
			Version:      expectedVersion + int64(i) + 1,
			Event:        evt,
			RecordedAt:   recordedAt,
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO constraint_events (event_id, constraint_id, version, type, payload, recorded_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			rec.EventID, id, rec.Version, string(typ), payload, toMillis(recordedAt))
		if err != nil {
			if isUniqueViolation(err) {
				return nil, eventlog.ErrConcurrencyConflict
			}
			return nil, fmt.Errorf("sqlite: insert event: %w", err)
		}
		recorded = append(recorded, rec)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("sqlite: commit: %w", err)
	}
	return recorded, nil
}

func (r *EventRepo) IDs(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT DISTINCT constraint_id FROM constraint_events ORDER BY constraint_id`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list constraints: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("sqlite: scan constraint id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func isUniqueViolation(err error) bool {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return false
}
