package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// auditRepo implements AuditRepo for PostgreSQL.
type auditRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewAuditRepo creates a PostgreSQL audit repository.
func NewAuditRepo(db *sqlx.DB, timeout time.Duration) AuditRepo {
	return &auditRepo{db: db, timeout: timeout}
}

func (r *auditRepo) Insert(ctx context.Context, record AuditRecord) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var dataJSON []byte
	if record.Data != nil {
		encoded, err := json.Marshal(record.Data)
		if err != nil {
			return fmt.Errorf("marshal audit data: %w", err)
		}
		dataJSON = encoded
	}

	query := `
		INSERT INTO oracle_audit_events (id, event_type, asset, actor, occurred_at, data)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING`

	if _, err := r.db.ExecContext(ctx, query,
		record.ID, record.Type, record.Asset, record.Actor, record.At, dataJSON); err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

func (r *auditRepo) ListByAsset(ctx context.Context, asset string, limit int) ([]AuditRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, event_type, asset, actor, occurred_at, data
		FROM oracle_audit_events
		WHERE asset = $1
		ORDER BY occurred_at DESC
		LIMIT $2`

	rows, err := r.db.QueryxContext(ctx, query, asset, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	var records []AuditRecord
	for rows.Next() {
		var rec AuditRecord
		var dataJSON sql.NullString
		if err := rows.Scan(&rec.ID, &rec.Type, &rec.Asset, &rec.Actor, &rec.At, &dataJSON); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		if dataJSON.Valid && dataJSON.String != "" {
			if err := json.Unmarshal([]byte(dataJSON.String), &rec.Data); err != nil {
				return nil, fmt.Errorf("unmarshal audit data: %w", err)
			}
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
