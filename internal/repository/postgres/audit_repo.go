package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xela07ax/constraint-ledger/internal/audit"
)

type AuditRepo struct {
	pool *pgxpool.Pool
}

var _ audit.Storage = (*AuditRepo)(nil)

func NewAuditRepo(pool *pgxpool.Pool) *AuditRepo {
	return &AuditRepo{pool: pool}
}

func (r *AuditRepo) WriteBatch(ctx context.Context, records []audit.CommandRecord) error {
	if len(records) == 0 {
		return nil
	}

	// Количество колонок в таблице audit_commands
	const numFields = 9
	var placeholders strings.Builder
	vals := make([]interface{}, 0, len(records)*numFields)

	// Динамически строим запрос для пакетной вставки
	for i, rec := range records {
		p := i * numFields
		if i > 0 {
			placeholders.WriteByte(',')
		}
		fmt.Fprintf(&placeholders, "($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			p+1, p+2, p+3, p+4, p+5, p+6, p+7, p+8, p+9)

		vals = append(vals,
			rec.ID, rec.TraceID, rec.ConstraintID, rec.Command,
			string(rec.Outcome), rec.Reason, rec.Version, rec.DurationMs, rec.Timestamp,
		)
	}

	query := "INSERT INTO audit_commands (id, trace_id, constraint_id, command, outcome, reason, version, duration_ms, timestamp) VALUES " +
		placeholders.String()

	if _, err := r.pool.Exec(ctx, query, vals...); err != nil {
		return fmt.Errorf("postgres: failed to write audit batch: %w", err)
	}
	return nil
}

// ByConstraint - последние записи аудита для одного ограничения.
func (r *AuditRepo) ByConstraint(ctx context.Context, id string, limit int) ([]audit.CommandRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query := `SELECT id, trace_id, constraint_id, command, outcome, reason, version, duration_ms, timestamp
	          FROM audit_commands WHERE constraint_id = $1 ORDER BY timestamp DESC LIMIT $2`

	rows, err := r.pool.Query(ctx, query, id, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query audit: %w", err)
	}
	defer rows.Close()

	// Инициализируем пустой слайс, чтобы в JSON был [] вместо null
	out := make([]audit.CommandRecord, 0)
	for rows.Next() {
		var rec audit.CommandRecord
		var outcome string
		if err := rows.Scan(&rec.ID, &rec.TraceID, &rec.ConstraintID, &rec.Command,
			&outcome, &rec.Reason, &rec.Version, &rec.DurationMs, &rec.Timestamp); err != nil {
			return nil, fmt.Errorf("postgres: failed to scan audit record: %w", err)
		}
		rec.Outcome = audit.Outcome(outcome)
		out = append(out, rec)
	}
	return out, rows.Err()
}
