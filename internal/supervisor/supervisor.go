// Package supervisor stands in for the external process supervisor that
// spec.md places out of scope: something has to spawn exactly one
// DeploymentWorker per project, on demand, and route requests to it.
package supervisor

import (
	"context"
	"fmt"
	"sync"

	"github.com/artemis/schema-migrate/internal/clientdb"
	"github.com/artemis/schema-migrate/internal/migration"
	"github.com/artemis/schema-migrate/internal/persistence"
	"github.com/artemis/schema-migrate/internal/schemamodel"
	"github.com/artemis/schema-migrate/internal/stepmapper"
	"github.com/artemis/schema-migrate/internal/worker"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// entry pairs a running worker with the cancel func that stops it, so
// Shutdown can tear every project down without reaching into worker
// internals.
type entry struct {
	w      *worker.DeploymentWorker
	cancel context.CancelFunc
}

// Supervisor lazily constructs and routes to one DeploymentWorker per
// project. It never coordinates between workers for the same project —
// that remains a non-goal — it only decides which single worker owns a
// given projectID and keeps it running.
type Supervisor struct {
	store         persistence.Store
	db            clientdb.DB
	mapper        stepmapper.Mapper
	logger        *zap.Logger
	mailboxBuffer int

	mu       sync.RWMutex
	workers  map[string]*entry
	rootCtx  context.Context
}

// New constructs a Supervisor. rootCtx is the parent context for every
// worker goroutine it spawns; cancelling it stops every worker.
func New(rootCtx context.Context, store persistence.Store, db clientdb.DB, mapper stepmapper.Mapper, logger *zap.Logger, mailboxBuffer int) *Supervisor {
	return &Supervisor{
		store:         store,
		db:            db,
		mapper:        mapper,
		logger:        logger,
		mailboxBuffer: mailboxBuffer,
		workers:       make(map[string]*entry),
		rootCtx:       rootCtx,
	}
}

// Bootstrap persists a revision-0 Success migration for projectID with no
// steps, standing in for the external provisioner spec.md §9 assumes runs
// before a worker is ever started. It is not idempotent: persistence.Create
// only rejects a record when the project already has a Pending migration,
// so a second Bootstrap for the same project is accepted and writes
// another revision-0 record.
func (s *Supervisor) Bootstrap(ctx context.Context, projectID string, zeroSchema schemamodel.Schema) error {
	return s.store.Create(ctx, migration.Migration{
		ProjectID: projectID,
		Revision:  0,
		Schema:    zeroSchema,
		Status:    migration.StatusSuccess,
	})
}

// workerFor returns the running worker for projectID, constructing and
// starting one if this is the first request this process has seen for
// it. A newly-constructed worker that shuts itself down immediately
// (because the project was never bootstrapped) is still returned to the
// caller — its first operation will surface the resulting error.
func (s *Supervisor) workerFor(projectID string) *worker.DeploymentWorker {
	s.mu.RLock()
	if e, ok := s.workers[projectID]; ok {
		s.mu.RUnlock()
		return e.w
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.workers[projectID]; ok {
		return e.w
	}

	applier := migration.NewStepApplier(s.mapper, s.db)
	engine := migration.NewEngine(applier, s.logger)
	w := worker.New(projectID, s.store, engine, s.logger)

	ctx, cancel := context.WithCancel(s.rootCtx)
	s.workers[projectID] = &entry{w: w, cancel: cancel}
	go w.Run(ctx)

	return w
}

// Schedule routes a schedule request to projectID's worker, constructing
// the worker if this is the first time this process has seen the
// project. requestID is a uuid correlation id threaded through logging so
// a single Schedule call can be traced across the worker's asynchronous
// mailbox handling.
func (s *Supervisor) Schedule(ctx context.Context, projectID string, req worker.ScheduleRequest) (migration.Migration, error) {
	requestID := uuid.NewString()
	log := s.logger.With(zap.String("project_id", projectID), zap.String("request_id", requestID))

	log.Info("routing schedule request")
	w := s.workerFor(projectID)

	mig, err := w.Schedule(ctx, req)
	if err != nil {
		log.Warn("schedule request rejected", zap.Error(err))
		return migration.Migration{}, fmt.Errorf("supervisor: project %q: %w", projectID, err)
	}

	log.Info("schedule request admitted", zap.Int64("revision", mig.Revision))
	return mig, nil
}

// Kick re-delivers mig to its project's worker as a Deploy message,
// without going through admission control. Used by the reconciliation
// loop to resume migrations left Pending by a crash.
func (s *Supervisor) Kick(ctx context.Context, projectID string, mig migration.Migration) {
	w := s.workerFor(projectID)
	w.Deploy(mig)
}

// Shutdown cancels every running worker's context and waits for each to
// report stopped, fanning the wait out across projects with errgroup
// rather than sequentially.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.RLock()
	entries := make([]*entry, 0, len(s.workers))
	for _, e := range s.workers {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, e := range entries {
		e := e
		e.cancel()
		g.Go(func() error {
			select {
			case <-e.w.Stopped():
				return nil
			case <-gctx.Done():
				return gctx.Err()
			}
		})
	}
	return g.Wait()
}

// ProjectCount returns the number of projects this process currently has
// a running worker for, for use by the active-workers gauge.
func (s *Supervisor) ProjectCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.workers)
}
