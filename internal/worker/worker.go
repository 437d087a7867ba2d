// Package worker implements the per-project DeploymentWorker: a state
// machine actor that admits at most one concurrent migration per project,
// drives the migration engine, and keeps a cached activeSchema advancing
// only on success.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/artemis/schema-migrate/internal/migration"
	"github.com/artemis/schema-migrate/internal/persistence"
	"github.com/artemis/schema-migrate/internal/schemamodel"
	"go.uber.org/zap"
)

// State is the worker's lifecycle state.
type State int

const (
	StateInitializing State = iota
	StateReady
	StateBusy
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateBusy:
		return "busy"
	default:
		return "unknown"
	}
}

// DeploymentWorker owns exactly one project's migration lifecycle. It is a
// single goroutine reading a FIFO mailbox; every other method enqueues a
// message and, where applicable, waits for a reply. Nothing outside the
// mailbox loop touches state, stash, activeSchema, or current directly.
type DeploymentWorker struct {
	projectID string
	store     persistence.Store
	engine    *migration.Engine
	logger    *zap.Logger

	mailbox chan envelope
	stopped chan struct{}

	state        State
	stash        []envelope
	activeSchema schemamodel.Schema
	current      migration.Migration
}

// New constructs a worker for projectID. Call Run to start its mailbox loop.
func New(projectID string, store persistence.Store, engine *migration.Engine, logger *zap.Logger) *DeploymentWorker {
	return &DeploymentWorker{
		projectID: projectID,
		store:     store,
		engine:    engine,
		logger:    logger.With(zap.String("project_id", projectID)),
		mailbox:   make(chan envelope, 32),
		stopped:   make(chan struct{}),
	}
}

// Run executes the initialization algorithm and, if it succeeds, the
// mailbox loop, blocking until ctx is cancelled or initialization shuts the
// worker down. Run is meant to be called from its own goroutine.
func (w *DeploymentWorker) Run(ctx context.Context) {
	defer close(w.stopped)

	if !w.initialize(ctx) {
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case env := <-w.mailbox:
			w.handle(ctx, env)
		}
	}
}

// Stopped returns a channel closed once Run has returned.
func (w *DeploymentWorker) Stopped() <-chan struct{} {
	return w.stopped
}

// initialize runs spec.md §4.1's init algorithm: look up the last
// migration (shut down if none — the project must be bootstrapped
// externally), cache activeSchema, then check for a Pending migration left
// over from a prior run and self-kick Deploy if one exists.
func (w *DeploymentWorker) initialize(ctx context.Context) bool {
	last, err := w.store.GetLastMigration(ctx, w.projectID)
	if errors.Is(err, persistence.ErrNotFound) {
		w.logger.Warn("no prior migration found, shutting down uninitialized worker")
		return false
	}
	if err != nil {
		w.logger.Error("persistence error during init, shutting down", zap.Error(err))
		return false
	}

	w.activeSchema = last.Schema
	w.current = last

	if last.Status != migration.StatusPending {
		w.state = StateReady
		w.logger.Info("worker initialized", zap.Int64("last_revision", last.Revision))
		return true
	}

	w.logger.Info("resuming pending migration found at startup", zap.Int64("revision", last.Revision))
	w.state = StateReady
	w.mailbox <- envelope{deploy: &deployEnvelope{mig: last}}
	return true
}

// Schedule submits a new migration request and waits for admission.
func (w *DeploymentWorker) Schedule(ctx context.Context, req ScheduleRequest) (migration.Migration, error) {
	reply := make(chan ScheduleResult, 1)
	env := envelope{schedule: &scheduleEnvelope{ctx: ctx, req: req, reply: reply}}

	select {
	case w.mailbox <- env:
	case <-ctx.Done():
		return migration.Migration{}, ctx.Err()
	case <-w.stopped:
		return migration.Migration{}, fmt.Errorf("worker: project %q is not running", w.projectID)
	}

	select {
	case result := <-reply:
		return result.Migration, result.Err
	case <-ctx.Done():
		return migration.Migration{}, ctx.Err()
	case <-w.stopped:
		select {
		case result := <-reply:
			return result.Migration, result.Err
		default:
		}
		return migration.Migration{}, fmt.Errorf("worker: project %q is not running", w.projectID)
	}
}

// Deploy is accepted externally as a kick, matching spec.md's note that
// Deploy is "also accepted externally". Blocks until the mailbox accepts
// the message or the worker has stopped; a kick to a stopped worker is
// dropped.
func (w *DeploymentWorker) Deploy(mig migration.Migration) {
	select {
	case w.mailbox <- envelope{deploy: &deployEnvelope{mig: mig}}:
	case <-w.stopped:
	}
}

func (w *DeploymentWorker) handle(ctx context.Context, env envelope) {
	switch {
	case env.schedule != nil:
		w.handleSchedule(ctx, env)
	case env.deploy != nil:
		w.handleDeploy(ctx, env.deploy)
	case env.complete != nil:
		w.handleComplete(ctx, env.complete)
	case env.resume != nil:
		w.handleResume(ctx)
	}
}

// handleSchedule implements admission: Ready admits (or rejects via
// persistence's own check), Busy rejects immediately with
// DeploymentInProgress, Initializing stashes for delivery once the
// worker's state is known. ctx is the worker's own run-scope context,
// used for the asynchronous Deploy that follows admission — not the
// caller's request context, which may be cancelled the moment Schedule
// returns its reply.
func (w *DeploymentWorker) handleSchedule(ctx context.Context, env envelope) {
	if w.state == StateBusy {
		env.schedule.reply <- ScheduleResult{Err: migration.ErrDeploymentInProgress}
		return
	}

	if w.state != StateReady {
		w.logger.Debug("stashing schedule request", zap.String("state", w.state.String()))
		w.stash = append(w.stash, env)
		return
	}

	se := env.schedule
	next := migration.Migration{
		ProjectID: w.projectID,
		Revision:  w.current.Revision + 1,
		Schema:    se.req.Schema,
		Steps:     se.req.Steps,
		Status:    migration.StatusPending,
		CreatedAt: time.Now(),
	}

	if err := w.store.Create(se.ctx, next); err != nil {
		se.reply <- ScheduleResult{Err: err}
		return
	}

	w.state = StateBusy
	w.current = next
	se.reply <- ScheduleResult{Migration: next}

	w.mailbox <- envelope{deploy: &deployEnvelope{mig: next}}
}

// handleDeploy is idempotent per spec.md §4.1: a Deploy with no Pending
// migration behind it logs a warning and returns without effect. It spawns
// the engine run asynchronously and returns immediately so the mailbox loop
// keeps draining.
func (w *DeploymentWorker) handleDeploy(ctx context.Context, env *deployEnvelope) {
	if env.mig.Status != migration.StatusPending {
		w.logger.Warn("deploy kick with no pending migration, ignoring", zap.Int64("revision", env.mig.Revision))
		return
	}

	w.state = StateBusy
	w.current = env.mig
	previousSchema := w.activeSchema
	mig := env.mig

	go func() {
		result := w.engine.Run(ctx, previousSchema, mig)
		w.mailbox <- envelope{complete: &completeEnvelope{mig: mig, result: result}}
	}()
}

// handleComplete persists the terminal status decided by the engine's
// result, advances activeSchema on success, and returns the worker to
// Ready before draining the stash.
func (w *DeploymentWorker) handleComplete(ctx context.Context, env *completeEnvelope) {
	status := migration.StatusRollbackFailure
	if env.result.Succeeded {
		status = migration.StatusSuccess
	}

	if err := w.store.UpdateStatus(ctx, env.mig.ProjectID, env.mig.Revision, status); err != nil {
		w.logger.Error("failed to persist terminal migration status",
			zap.Int64("revision", env.mig.Revision),
			zap.String("status", string(status)),
			zap.Error(err),
		)
	}

	env.mig.Status = status
	w.current = env.mig

	if status == migration.StatusSuccess {
		w.activeSchema = env.mig.Schema
	}

	w.logger.Info("migration run complete",
		zap.Int64("revision", env.mig.Revision),
		zap.String("status", string(status)),
		zap.Bool("rollback_ran_clean", env.result.RollbackRanClean),
	)

	w.state = StateReady
	w.mailbox <- envelope{resume: &resumeEnvelope{}}
}

// handleResume drains the entire stash, in arrival order, restoring
// mailbox FIFO semantics across the Busy→Ready transition. Processing
// every message by index, rather than one per Resume, means a drained
// message with no effect (e.g. a Deploy kick for an already-terminal
// migration, which posts no follow-up Resume) can never strand the
// messages behind it.
func (w *DeploymentWorker) handleResume(ctx context.Context) {
	if len(w.stash) == 0 {
		return
	}

	pending := w.stash
	w.stash = nil
	for _, next := range pending {
		w.handle(ctx, next)
	}
}
