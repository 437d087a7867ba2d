package worker

import (
	"context"

	"github.com/artemis/schema-migrate/internal/migration"
	"github.com/artemis/schema-migrate/internal/schemamodel"
)

// ScheduleRequest is the caller-supplied payload for a Schedule message: the
// schema the project should move to and the ordered steps that get there.
type ScheduleRequest struct {
	Schema schemamodel.Schema
	Steps  []schemamodel.MigrationStep
}

// ScheduleResult is the reply to a Schedule message: the persisted Pending
// migration on admission, or an error (migration.ErrDeploymentInProgress or
// a wrapped persistence error).
type ScheduleResult struct {
	Migration migration.Migration
	Err       error
}

// envelope is the sum type flowing through a worker's mailbox. Exactly one
// of its fields is populated per instance.
type envelope struct {
	schedule *scheduleEnvelope
	deploy   *deployEnvelope
	complete *completeEnvelope
	resume   *resumeEnvelope
}

type scheduleEnvelope struct {
	ctx   context.Context
	req   ScheduleRequest
	reply chan<- ScheduleResult
}

// deployEnvelope kicks off an asynchronous engine run for mig, which must
// already be persisted with status Pending. The engine run always uses the
// worker's own run-scope context, never a per-message one.
type deployEnvelope struct {
	mig migration.Migration
}

// completeEnvelope is self-posted by the goroutine running the engine, once
// it has a result to record.
type completeEnvelope struct {
	mig    migration.Migration
	result migration.ApplierResult
}

// resumeEnvelope is self-posted once a Deploy's completion has been
// recorded, to drain the entire stash in arrival order.
type resumeEnvelope struct{}
