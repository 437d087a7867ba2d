package migration

import (
	"context"
	"fmt"

	"github.com/artemis/schema-migrate/internal/clientdb"
	"github.com/artemis/schema-migrate/internal/schemamodel"
	"github.com/artemis/schema-migrate/internal/stepmapper"
)

// StepApplier runs one step's mapped mutation — forward or reverse —
// against the client database. Both operations are no-ops when the step
// mapper has nothing for that step (some steps are metadata-only).
type StepApplier struct {
	mapper stepmapper.Mapper
	db     clientdb.DB
}

// NewStepApplier wires a step mapper and a client database together.
func NewStepApplier(mapper stepmapper.Mapper, db clientdb.DB) *StepApplier {
	return &StepApplier{mapper: mapper, db: db}
}

// ApplyStep runs the forward mutation for step, if the mapper produced one.
func (a *StepApplier) ApplyStep(ctx context.Context, prev, next schemamodel.Schema, step schemamodel.MigrationStep) error {
	mutaction, err := a.mapper.MutactionFor(prev, next, step)
	if err != nil {
		return fmt.Errorf("migration: mapping step %q: %w", step.Kind, err)
	}
	if mutaction == nil {
		return nil
	}
	return a.db.Run(ctx, mutaction.Statements())
}

// UnapplyStep runs the reverse mutation for step. If the mapper produced a
// forward mutation with no rollback counterpart, that is a programming
// error per the specification and is surfaced as ErrMissingRollback rather
// than swallowed — the engine decides whether to swallow it during the
// rollback recursion.
func (a *StepApplier) UnapplyStep(ctx context.Context, prev, next schemamodel.Schema, step schemamodel.MigrationStep) error {
	mutaction, err := a.mapper.MutactionFor(prev, next, step)
	if err != nil {
		return fmt.Errorf("migration: mapping step %q: %w", step.Kind, err)
	}
	if mutaction == nil {
		return nil
	}
	statements, ok := mutaction.RollbackStatements()
	if !ok {
		return fmt.Errorf("migration: step %q: %w", step.Kind, stepmapper.ErrMissingRollback)
	}
	return a.db.Run(ctx, statements)
}
