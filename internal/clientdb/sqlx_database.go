package clientdb

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	// lib/pq registers the "postgres" driver used by sqlx.Connect below.
	_ "github.com/lib/pq"
)

// SQLXDatabase runs migration mutations against a real PostgreSQL backend,
// the way internal/database.Connect does in the teacher's sqlx-based
// backend, but scoped to a single project's connection.
type SQLXDatabase struct {
	db *sqlx.DB
}

// SQLXConfig configures connection pooling for a project's target database.
type SQLXConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DefaultSQLXConfig returns sane pool defaults for a single project's worker.
func DefaultSQLXConfig(dsn string) SQLXConfig {
	return SQLXConfig{
		DSN:             dsn,
		MaxOpenConns:    10,
		MaxIdleConns:    2,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

// NewSQLXDatabase opens and verifies a PostgreSQL connection.
func NewSQLXDatabase(cfg SQLXConfig) (*SQLXDatabase, error) {
	db, err := sqlx.Connect("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("clientdb: failed to connect: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("clientdb: failed to ping: %w", err)
	}

	return &SQLXDatabase{db: db}, nil
}

// Run executes every statement inside one transaction, so a partially
// applied mutation is never observable — matching the specification's
// "submits it to the client DB as one executable unit".
func (s *SQLXDatabase) Run(ctx context.Context, statements []string) error {
	if len(statements) == 0 {
		return nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("clientdb: begin tx: %w", err)
	}

	for _, stmt := range statements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				return fmt.Errorf("clientdb: exec failed (%v) and rollback failed: %w", err, rbErr)
			}
			return fmt.Errorf("clientdb: exec failed: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("clientdb: commit: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *SQLXDatabase) Close() error {
	return s.db.Close()
}
