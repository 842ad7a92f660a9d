package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/rs/zerolog"
)

// Config holds database connection configuration.
type Config struct {
	Enabled         bool
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	QueryTimeout    time.Duration
}

// DefaultConfig returns reasonable defaults. Disabled until an operator
// supplies a DSN.
func DefaultConfig() Config {
	return Config{
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 30 * time.Minute,
		QueryTimeout:    30 * time.Second,
	}
}

// Manager owns the database connection and repository instances.
type Manager struct {
	db     *sqlx.DB
	config Config
	repos  *Repository
	log    zerolog.Logger
}

// NewManager connects, verifies, and prepares the schema. A disabled config
// yields a manager whose Repos() returns nil.
func NewManager(ctx context.Context, cfg Config, log zerolog.Logger) (*Manager, error) {
	if !cfg.Enabled {
		return &Manager{config: cfg, log: log}, nil
	}
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database enabled but DSN is empty")
	}

	db, err := sqlx.ConnectContext(ctx, "postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	m := &Manager{
		db:     db,
		config: cfg,
		repos: &Repository{
			Audit: NewAuditRepo(db, cfg.QueryTimeout),
		},
		log: log,
	}

	if err := m.ensureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	log.Info().Int("max_open_conns", cfg.MaxOpenConns).Msg("audit store connected")
	return m, nil
}

// Enabled reports whether a live store is behind this manager.
func (m *Manager) Enabled() bool { return m.db != nil }

// Repos returns the repository bundle, or nil when disabled.
func (m *Manager) Repos() *Repository { return m.repos }

// Close releases the connection pool.
func (m *Manager) Close() error {
	if m.db == nil {
		return nil
	}
	return m.db.Close()
}

// Health pings the database within the query timeout.
func (m *Manager) Health(ctx context.Context) error {
	if m.db == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, m.config.QueryTimeout)
	defer cancel()
	return m.db.PingContext(ctx)
}

func (m *Manager) ensureSchema(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, m.config.QueryTimeout)
	defer cancel()

	schema := `
		CREATE TABLE IF NOT EXISTS oracle_audit_events (
			id          UUID PRIMARY KEY,
			event_type  TEXT NOT NULL,
			asset       TEXT NOT NULL DEFAULT '',
			actor       TEXT NOT NULL DEFAULT '',
			occurred_at TIMESTAMPTZ NOT NULL,
			data        JSONB
		);
		CREATE INDEX IF NOT EXISTS idx_oracle_audit_asset_time
			ON oracle_audit_events (asset, occurred_at DESC);`

	if _, err := m.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("ensure audit schema: %w", err)
	}
	return nil
}
