package worker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/artemis/schema-migrate/internal/clientdb"
	"github.com/artemis/schema-migrate/internal/migration"
	"github.com/artemis/schema-migrate/internal/persistence"
	"github.com/artemis/schema-migrate/internal/schemamodel"
	"github.com/artemis/schema-migrate/internal/stepmapper"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func mustSchema(t *testing.T, doc string) schemamodel.Schema {
	t.Helper()
	s, err := schemamodel.NewSchema([]byte(doc))
	require.NoError(t, err)
	return s
}

func bootstrap(t *testing.T, store persistence.Store, projectID string) {
	t.Helper()
	require.NoError(t, store.Create(context.Background(), migration.Migration{
		ProjectID: projectID,
		Revision:  0,
		Schema:    mustSchema(t, `{}`),
		Status:    migration.StatusSuccess,
	}))
}

func newTestWorker(t *testing.T, projectID string, store persistence.Store, fake *clientdb.Fake) *DeploymentWorker {
	t.Helper()
	applier := migration.NewStepApplier(stepmapper.NewSQLMapper(), fake)
	engine := migration.NewEngine(applier, zap.NewNop())
	return New(projectID, store, engine, zap.NewNop())
}

func waitForTerminal(t *testing.T, store persistence.Store, projectID string, revision int64) migration.Migration {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mig, err := store.GetMigration(context.Background(), projectID, revision)
		require.NoError(t, err)
		if mig.Status.IsTerminal() {
			return mig
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("migration %d never reached a terminal status", revision)
	return migration.Migration{}
}

// S1: happy path — all steps succeed, status Success, activeSchema advances.
func TestWorker_HappyPath(t *testing.T) {
	store := persistence.NewMemory()
	bootstrap(t, store, "proj-1")
	fake := clientdb.NewFake()
	w := newTestWorker(t, "proj-1", store, fake)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	next := mustSchema(t, `{"models":["Post"]}`)
	mig, err := w.Schedule(context.Background(), ScheduleRequest{
		Schema: next,
		Steps: []schemamodel.MigrationStep{
			{Kind: schemamodel.StepCreateModel, Payload: mustJSON(t, schemamodel.CreateModelPayload{Model: "Post"})},
		},
	})
	require.NoError(t, err)
	require.Equal(t, migration.StatusPending, mig.Status)

	final := waitForTerminal(t, store, "proj-1", mig.Revision)
	require.Equal(t, migration.StatusSuccess, final.Status)
}

// S4: admission rejection — a Pending migration already exists.
func TestWorker_AdmissionRejectsSecondSchedule(t *testing.T) {
	store := persistence.NewMemory()
	bootstrap(t, store, "proj-1")
	require.NoError(t, store.Create(context.Background(), migration.Migration{
		ProjectID: "proj-1", Revision: 1, Status: migration.StatusPending,
	}))

	fake := clientdb.NewFake()
	fake.FailWhen = func(statements []string) error {
		// always succeeds; the rejection comes from the Pending revision 1
		// seeded above, which has no steps and so never reaches the fake.
		return nil
	}
	w := newTestWorker(t, "proj-1", store, fake)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	_, err := w.Schedule(context.Background(), ScheduleRequest{Schema: mustSchema(t, `{}`)})
	require.Error(t, err)
	require.True(t, errors.Is(err, migration.ErrDeploymentInProgress))
}

// S5: restart with a pending migration left behind resumes automatically.
func TestWorker_ResumesPendingMigrationOnStartup(t *testing.T) {
	store := persistence.NewMemory()
	bootstrap(t, store, "proj-1")

	steps := []schemamodel.MigrationStep{
		{Kind: schemamodel.StepCreateModel, Payload: mustJSON(t, schemamodel.CreateModelPayload{Model: "Post"})},
	}
	require.NoError(t, store.Create(context.Background(), migration.Migration{
		ProjectID: "proj-1", Revision: 1, Schema: mustSchema(t, `{"models":["Post"]}`), Steps: steps, Status: migration.StatusPending,
	}))

	fake := clientdb.NewFake()
	w := newTestWorker(t, "proj-1", store, fake)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	final := waitForTerminal(t, store, "proj-1", 1)
	require.Equal(t, migration.StatusSuccess, final.Status)
}

// Invariant 5/8: a Schedule submitted while Busy is rejected immediately
// with DeploymentInProgress rather than queued behind the in-flight
// migration; a Schedule submitted after that migration completes is
// admitted as the next revision.
func TestWorker_ScheduleWhileBusyIsRejectedImmediately(t *testing.T) {
	store := persistence.NewMemory()
	bootstrap(t, store, "proj-1")

	release := make(chan struct{})
	fake := clientdb.NewFake()
	fake.FailWhen = func(statements []string) error {
		<-release
		return nil
	}
	w := newTestWorker(t, "proj-1", store, fake)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	firstDone := make(chan migration.Migration, 1)
	go func() {
		mig, err := w.Schedule(context.Background(), ScheduleRequest{
			Schema: mustSchema(t, `{"models":["Post"]}`),
			Steps: []schemamodel.MigrationStep{
				{Kind: schemamodel.StepCreateModel, Payload: mustJSON(t, schemamodel.CreateModelPayload{Model: "Post"})},
			},
		})
		require.NoError(t, err)
		firstDone <- mig
	}()

	first := <-firstDone
	require.Equal(t, int64(1), first.Revision)

	// give the worker a moment to actually transition to Busy before the
	// second schedule call arrives.
	time.Sleep(20 * time.Millisecond)

	_, err := w.Schedule(context.Background(), ScheduleRequest{
		Schema: mustSchema(t, `{"models":["Post","Comment"]}`),
		Steps: []schemamodel.MigrationStep{
			{Kind: schemamodel.StepCreateModel, Payload: mustJSON(t, schemamodel.CreateModelPayload{Model: "Comment"})},
		},
	})
	require.Error(t, err)
	require.True(t, errors.Is(err, migration.ErrDeploymentInProgress))

	close(release)
	waitForTerminal(t, store, "proj-1", 1)

	third, err := w.Schedule(context.Background(), ScheduleRequest{
		Schema: mustSchema(t, `{"models":["Post","Comment"]}`),
		Steps: []schemamodel.MigrationStep{
			{Kind: schemamodel.StepCreateModel, Payload: mustJSON(t, schemamodel.CreateModelPayload{Model: "Comment"})},
		},
	})
	require.NoError(t, err)
	require.Equal(t, int64(2), third.Revision)
}

// Invariant 8: handleResume drains every stashed message in order, even
// when an earlier one has no effect and posts no follow-up Resume (a
// Deploy kick for a migration that is no longer Pending, same as the
// reconciliation loop's Kick would deliver for a migration that already
// finished). A single Resume must still reach a schedule stashed behind it.
func TestWorker_ResumeDrainsEntireStashPastANoopDeploy(t *testing.T) {
	store := persistence.NewMemory()
	bootstrap(t, store, "proj-1")
	fake := clientdb.NewFake()
	w := newTestWorker(t, "proj-1", store, fake)

	w.state = StateReady
	w.current = migration.Migration{ProjectID: "proj-1", Revision: 0, Status: migration.StatusSuccess}

	reply := make(chan ScheduleResult, 1)
	w.stash = []envelope{
		{deploy: &deployEnvelope{mig: migration.Migration{ProjectID: "proj-1", Revision: 1, Status: migration.StatusSuccess}}},
		{schedule: &scheduleEnvelope{
			ctx: context.Background(),
			req: ScheduleRequest{
				Schema: mustSchema(t, `{"models":["Post"]}`),
				Steps: []schemamodel.MigrationStep{
					{Kind: schemamodel.StepCreateModel, Payload: mustJSON(t, schemamodel.CreateModelPayload{Model: "Post"})},
				},
			},
			reply: reply,
		}},
	}

	w.handleResume(context.Background())

	select {
	case result := <-reply:
		require.NoError(t, result.Err)
		require.Equal(t, int64(1), result.Migration.Revision)
	default:
		t.Fatal("stashed schedule was never delivered past the no-op deploy ahead of it")
	}
	require.Empty(t, w.stash)
}

func mustJSON(t *testing.T, v interface{}) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}
