// Package migration implements the step applier and the forward/rollback
// engine that together apply (or undo) one Migration against a project's
// client database. It is the hard middle of the deployment worker: the
// worker decides *when* to run a migration, this package decides *how*.
package migration

import (
	"errors"
	"time"

	"github.com/artemis/schema-migrate/internal/schemamodel"
)

// Status is the tagged migration lifecycle variant. Pending is the only
// non-terminal status; the worker is the only writer of any transition.
type Status string

const (
	StatusPending          Status = "pending"
	StatusSuccess          Status = "success"
	StatusRollbackSuccess  Status = "rollback_success"
	StatusRollbackFailure  Status = "rollback_failure"
)

// IsTerminal reports whether a status can no longer change.
func (s Status) IsTerminal() bool {
	return s != StatusPending
}

// Migration is one unit of schema change for a project: the schema it
// moves to, the ordered steps that get there, its place in the project's
// monotonic revision sequence, and its current status.
type Migration struct {
	ProjectID string                      `json:"projectId"`
	Revision  int64                       `json:"revision"`
	Schema    schemamodel.Schema          `json:"schema"`
	Steps     []schemamodel.MigrationStep `json:"steps"`
	Status    Status                      `json:"status"`
	CreatedAt time.Time                   `json:"createdAt"`
}

// ErrDeploymentInProgress is returned by admission control (and may be
// surfaced by persistence.Create) when a project already has a Pending
// migration.
var ErrDeploymentInProgress = errors.New("migration: a deployment is already in progress for this project")
