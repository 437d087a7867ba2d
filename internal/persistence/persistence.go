// Package persistence durably stores Migration records keyed by project and
// revision, and enforces at the storage layer that a project never has more
// than one Pending migration recorded at a time.
package persistence

import (
	"context"
	"errors"

	"github.com/artemis/schema-migrate/internal/migration"
)

// ErrPersistence wraps unexpected storage-layer failures; callers match on
// it with errors.Is rather than inspecting the underlying driver error.
var ErrPersistence = errors.New("persistence: storage operation failed")

// ErrNotFound is returned by GetLastMigration/GetMigration when no record
// exists for the given key.
var ErrNotFound = errors.New("persistence: migration not found")

// Store is the durable record of every migration ever scheduled for every
// project. Implementations must enforce "at most one Pending migration per
// project" atomically — Create is the single admission-control choke point.
type Store interface {
	// GetLastMigration returns the most recently created migration for a
	// project, or ErrNotFound if the project has no migrations at all.
	GetLastMigration(ctx context.Context, projectID string) (migration.Migration, error)

	// GetMigration returns one migration by its revision.
	GetMigration(ctx context.Context, projectID string, revision int64) (migration.Migration, error)

	// Create atomically inserts a new migration record, failing with
	// migration.ErrDeploymentInProgress if the project already has a
	// Pending migration recorded.
	Create(ctx context.Context, mig migration.Migration) error

	// UpdateStatus transitions a migration to a terminal status. The
	// caller (the worker) is the only writer of any transition out of
	// Pending.
	UpdateStatus(ctx context.Context, projectID string, revision int64, status migration.Status) error

	// ScanPending returns every migration across every project still
	// recorded as Pending, for crash-recovery reconciliation.
	ScanPending(ctx context.Context) ([]migration.Migration, error)

	Close() error
}
