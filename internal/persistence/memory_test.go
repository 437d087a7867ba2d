package persistence

import (
	"context"
	"errors"
	"testing"

	"github.com/artemis/schema-migrate/internal/migration"
	"github.com/artemis/schema-migrate/internal/schemamodel"
	"github.com/stretchr/testify/require"
)

func TestMemory_CreateRejectsSecondPending(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()

	first := migration.Migration{ProjectID: "p1", Revision: 1, Status: migration.StatusPending}
	require.NoError(t, store.Create(ctx, first))

	second := migration.Migration{ProjectID: "p1", Revision: 2, Status: migration.StatusPending}
	err := store.Create(ctx, second)
	require.Error(t, err)
	require.True(t, errors.Is(err, migration.ErrDeploymentInProgress))
}

func TestMemory_CreateAllowsPendingAfterPriorTerminal(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()

	first := migration.Migration{ProjectID: "p1", Revision: 1, Status: migration.StatusSuccess}
	require.NoError(t, store.Create(ctx, first))

	second := migration.Migration{ProjectID: "p1", Revision: 2, Status: migration.StatusPending}
	require.NoError(t, store.Create(ctx, second))
}

func TestMemory_GetLastMigrationReturnsMostRecentlyCreated(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()

	schema, err := schemamodel.NewSchema([]byte(`{"v":1}`))
	require.NoError(t, err)

	require.NoError(t, store.Create(ctx, migration.Migration{ProjectID: "p1", Revision: 1, Schema: schema, Status: migration.StatusSuccess}))
	require.NoError(t, store.Create(ctx, migration.Migration{ProjectID: "p1", Revision: 2, Schema: schema, Status: migration.StatusSuccess}))

	last, err := store.GetLastMigration(ctx, "p1")
	require.NoError(t, err)
	require.Equal(t, int64(2), last.Revision)
}

func TestMemory_GetLastMigrationNotFoundForUnknownProject(t *testing.T) {
	store := NewMemory()
	_, err := store.GetLastMigration(context.Background(), "missing")
	require.True(t, errors.Is(err, ErrNotFound))
}

func TestMemory_UpdateStatusTransitionsOutOfPending(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, migration.Migration{ProjectID: "p1", Revision: 1, Status: migration.StatusPending}))
	require.NoError(t, store.UpdateStatus(ctx, "p1", 1, migration.StatusSuccess))

	mig, err := store.GetMigration(ctx, "p1", 1)
	require.NoError(t, err)
	require.Equal(t, migration.StatusSuccess, mig.Status)

	// Pending slot is free again.
	require.NoError(t, store.Create(ctx, migration.Migration{ProjectID: "p1", Revision: 2, Status: migration.StatusPending}))
}

func TestMemory_ScanPendingAcrossProjects(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, migration.Migration{ProjectID: "p1", Revision: 1, Status: migration.StatusPending}))
	require.NoError(t, store.Create(ctx, migration.Migration{ProjectID: "p2", Revision: 1, Status: migration.StatusSuccess}))

	pending, err := store.ScanPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, "p1", pending[0].ProjectID)
}
