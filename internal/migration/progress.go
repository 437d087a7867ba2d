package migration

import "github.com/artemis/schema-migrate/internal/schemamodel"

// Progress is an immutable snapshot of a migration run in flight: the
// steps already applied, the steps still pending, and whether the run has
// switched to rollback mode. Every mutator returns a new value; nothing in
// this type is ever mutated in place.
//
// Invariant: in forward mode, appliedSteps ++ pendingSteps equals the
// migration's original step sequence. In rollback mode PopApplied removes
// steps from appliedSteps without returning them to pendingSteps.
type Progress struct {
	appliedSteps  []schemamodel.MigrationStep
	pendingSteps  []schemamodel.MigrationStep
	isRollingBack bool
}

// NewProgress builds the initial forward-mode progress for a fresh run
// over the given ordered steps.
func NewProgress(steps []schemamodel.MigrationStep) Progress {
	pending := make([]schemamodel.MigrationStep, len(steps))
	copy(pending, steps)
	return Progress{pendingSteps: pending}
}

// AppliedSteps returns the steps applied so far, in application order.
func (p Progress) AppliedSteps() []schemamodel.MigrationStep {
	return p.appliedSteps
}

// PendingSteps returns the steps not yet applied, in forward order.
func (p Progress) PendingSteps() []schemamodel.MigrationStep {
	return p.pendingSteps
}

// IsRollingBack reports whether this run has switched to rollback mode.
// Monotonic: once true for a Progress value, every value derived from it
// (via PopApplied) is also true.
func (p Progress) IsRollingBack() bool {
	return p.isRollingBack
}

// PopPending removes the head of pendingSteps and appends it to
// appliedSteps, returning the popped step and the new progress. Precondition:
// pendingSteps is non-empty; callers (the engine) only call this after
// checking PendingSteps() is non-empty.
func (p Progress) PopPending() (schemamodel.MigrationStep, Progress) {
	head := p.pendingSteps[0]

	applied := make([]schemamodel.MigrationStep, len(p.appliedSteps)+1)
	copy(applied, p.appliedSteps)
	applied[len(p.appliedSteps)] = head

	pending := make([]schemamodel.MigrationStep, len(p.pendingSteps)-1)
	copy(pending, p.pendingSteps[1:])

	return head, Progress{
		appliedSteps:  applied,
		pendingSteps:  pending,
		isRollingBack: p.isRollingBack,
	}
}

// PopApplied removes the last of appliedSteps — the next step to reverse —
// and returns it along with the new progress. pendingSteps is left
// unchanged. Precondition: appliedSteps is non-empty.
func (p Progress) PopApplied() (schemamodel.MigrationStep, Progress) {
	last := p.appliedSteps[len(p.appliedSteps)-1]

	applied := make([]schemamodel.MigrationStep, len(p.appliedSteps)-1)
	copy(applied, p.appliedSteps[:len(p.appliedSteps)-1])

	return last, Progress{
		appliedSteps:  applied,
		pendingSteps:  p.pendingSteps,
		isRollingBack: p.isRollingBack,
	}
}

// MarkForRollback returns a copy of this progress with isRollingBack set.
// Once set it never reverts within one run.
func (p Progress) MarkForRollback() Progress {
	return Progress{
		appliedSteps:  p.appliedSteps,
		pendingSteps:  p.pendingSteps,
		isRollingBack: true,
	}
}
