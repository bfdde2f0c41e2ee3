// Package postgres opens the relational catalog store on lib/pq.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"go.uber.org/zap"

	"github.com/ZaineBoulbahaim/Streamevents/internal/db"
)

// Config holds connection pool settings.
type Config struct {
	DSN          string
	MaxOpenConns int
}

// DB wraps the sql.DB connection pool.
type DB struct {
	*sql.DB
	logger *zap.Logger
}

// Open creates a connection pool. The connection is verified lazily; call WaitForReady.
func Open(cfg Config, logger *zap.Logger) (*DB, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("dsn is required")
	}
	sqlDB, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
		sqlDB.SetMaxIdleConns(cfg.MaxOpenConns)
	}
	sqlDB.SetConnMaxLifetime(30 * time.Minute)
	return New(sqlDB, logger), nil
}

// New wraps an existing pool (sqlmock in tests).
func New(sqlDB *sql.DB, logger *zap.Logger) *DB {
	return &DB{DB: sqlDB, logger: logger}
}

// Ping checks connectivity.
func (d *DB) Ping(ctx context.Context) error {
	if err := d.PingContext(ctx); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	return nil
}

// WaitForReady polls Ping until the database responds or timeout expires.
func (d *DB) WaitForReady(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for {
		if err := d.Ping(ctx); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("timeout waiting for database: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

// Close closes the pool.
func (d *DB) Close() {
	if err := d.DB.Close(); err != nil {
		d.logger.Warn("Failed to close database", zap.Error(err))
	}
}

const schema = `
CREATE TABLE IF NOT EXISTS events (
	id                   BIGINT PRIMARY KEY,
	title                VARCHAR(200) NOT NULL,
	description          TEXT NOT NULL DEFAULT '',
	category             VARCHAR(100) NOT NULL DEFAULT '',
	tags                 TEXT NOT NULL DEFAULT '',
	scheduled_at         TIMESTAMPTZ,
	embedding            REAL[],
	embedding_model      VARCHAR(200) NOT NULL DEFAULT '',
	embedding_updated_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_events_scheduled_at ON events(scheduled_at);
`

// Migrate creates the catalog schema if it does not exist.
func (d *DB) Migrate(ctx context.Context) error {
	if _, err := d.ExecContext(ctx, schema); err != nil {
		return &db.Error{Op: db.OpMigrate, Err: err}
	}
	d.logger.Info("Catalog schema ready")
	return nil
}
