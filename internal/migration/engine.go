package migration

import (
	"context"
	"errors"

	"github.com/artemis/schema-migrate/internal/schemamodel"
	"github.com/artemis/schema-migrate/internal/stepmapper"
	"go.uber.org/zap"
)

// ApplierResult is the outcome the engine reports back to its caller (the
// worker). Succeeded is true only for a fully-completed forward run; a
// rollback run — whether every reverse step succeeded or not — always
// reports false, because the migration did not take effect either way.
type ApplierResult struct {
	Succeeded bool
	// RollbackRanClean is true when every reverse-applied step completed
	// without a swallowed runtime error, and false the moment any reverse
	// step failed (or was aborted by a missing rollback mutation). Per the
	// design decision recorded in DESIGN.md, the worker persists
	// RollbackFailure for any forward failure regardless of this flag —
	// it is kept for logging only, preserving the source's literal
	// (possibly unintentional) behavior.
	RollbackRanClean bool
}

// Engine orchestrates the forward/rollback recursion over a Migration's
// steps, issuing at most one mutation to the client database at a time.
type Engine struct {
	applier *StepApplier
	logger  *zap.Logger
}

// NewEngine wires a step applier into a migration engine.
func NewEngine(applier *StepApplier, logger *zap.Logger) *Engine {
	return &Engine{applier: applier, logger: logger}
}

// Run applies migration's steps against previousSchema -> migration.Schema,
// in order, switching to reverse-order rollback on the first failure.
func (e *Engine) Run(ctx context.Context, previousSchema schemamodel.Schema, mig Migration) ApplierResult {
	progress := NewProgress(mig.Steps)
	rollbackClean := true

	for {
		if progress.IsRollingBack() {
			if len(progress.AppliedSteps()) == 0 {
				return ApplierResult{Succeeded: false, RollbackRanClean: rollbackClean}
			}

			var step schemamodel.MigrationStep
			step, progress = progress.PopApplied()

			err := e.applier.UnapplyStep(ctx, previousSchema, mig.Schema, step)
			if err == nil {
				continue
			}

			if errors.Is(err, stepmapper.ErrMissingRollback) {
				e.logger.Error("rollback aborted: missing rollback mutation",
					zap.String("project_id", mig.ProjectID),
					zap.Int64("revision", mig.Revision),
					zap.String("step_kind", string(step.Kind)),
					zap.Error(err),
				)
				return ApplierResult{Succeeded: false, RollbackRanClean: false}
			}

			rollbackClean = false
			e.logger.Warn("reverse step failed, continuing rollback",
				zap.String("project_id", mig.ProjectID),
				zap.Int64("revision", mig.Revision),
				zap.String("step_kind", string(step.Kind)),
				zap.Error(err),
			)
			continue
		}

		if len(progress.PendingSteps()) == 0 {
			return ApplierResult{Succeeded: true}
		}

		var step schemamodel.MigrationStep
		step, progress = progress.PopPending()

		if err := e.applier.ApplyStep(ctx, previousSchema, mig.Schema, step); err != nil {
			e.logger.Warn("step apply failed, entering rollback",
				zap.String("project_id", mig.ProjectID),
				zap.Int64("revision", mig.Revision),
				zap.String("step_kind", string(step.Kind)),
				zap.Error(err),
			)
			progress = progress.MarkForRollback()
		}
	}
}
