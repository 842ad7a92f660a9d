// Package persistence defines the optional durable store for oracle audit
// events. The core never reads from it on the price path; it exists so
// operators can reconstruct who changed what, and when.
package persistence

import (
	"context"
	"time"
)

// AuditRecord is one persisted state mutation.
type AuditRecord struct {
	ID    string         `db:"id" json:"id"`
	Type  string         `db:"event_type" json:"type"`
	Asset string         `db:"asset" json:"asset"`
	Actor string         `db:"actor" json:"actor"`
	At    time.Time      `db:"occurred_at" json:"at"`
	Data  map[string]any `db:"-" json:"data,omitempty"`
}

// AuditRepo stores and queries audit records.
type AuditRepo interface {
	Insert(ctx context.Context, record AuditRecord) error
	ListByAsset(ctx context.Context, asset string, limit int) ([]AuditRecord, error)
}

// Repository bundles the repos behind one handle.
type Repository struct {
	Audit AuditRepo
}
