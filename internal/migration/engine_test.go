package migration

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/artemis/schema-migrate/internal/clientdb"
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

func rawPayload(t *testing.T, v interface{}) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func newTestEngine(fake *clientdb.Fake) *Engine {
	applier := NewStepApplier(stepmapper.NewSQLMapper(), fake)
	return NewEngine(applier, zap.NewNop())
}

// S1: every step succeeds -> Succeeded true, all forward statements run in
// order, no reverse statements run.
func TestEngineRun_AllStepsSucceed(t *testing.T) {
	fake := clientdb.NewFake()
	engine := newTestEngine(fake)

	mig := Migration{
		ProjectID: "proj-1",
		Revision:  1,
		Schema:    mustSchema(t, `{"models":["Post"]}`),
		Steps: []schemamodel.MigrationStep{
			{Kind: schemamodel.StepCreateModel, Payload: rawPayload(t, schemamodel.CreateModelPayload{Model: "Post"})},
			{Kind: schemamodel.StepCreateField, Payload: rawPayload(t, schemamodel.CreateFieldPayload{Model: "Post", Field: "title", DataType: "text"})},
		},
	}

	result := engine.Run(context.Background(), schemamodel.Schema{}, mig)

	require.True(t, result.Succeeded)
	require.Len(t, fake.Batches, 2)
	require.Contains(t, fake.Batches[0][0], "CREATE TABLE")
	require.Contains(t, fake.Batches[1][0], "ADD COLUMN")
}

// S2/S3: a mid-run failure triggers rollback of every already-applied step,
// in reverse order, and the run reports Succeeded=false.
func TestEngineRun_MidRunFailureRollsBackInReverseOrder(t *testing.T) {
	fake := clientdb.NewFake()
	callCount := 0
	fake.FailWhen = func(statements []string) error {
		callCount++
		// Fail the third forward statement (the rename), succeed on
		// everything else including all three reverse statements.
		if callCount == 3 {
			return errors.New("boom: simulated client db failure")
		}
		return nil
	}
	engine := newTestEngine(fake)

	mig := Migration{
		ProjectID: "proj-1",
		Revision:  2,
		Schema:    mustSchema(t, `{"models":["Post"]}`),
		Steps: []schemamodel.MigrationStep{
			{Kind: schemamodel.StepCreateModel, Payload: rawPayload(t, schemamodel.CreateModelPayload{Model: "Post"})},
			{Kind: schemamodel.StepCreateField, Payload: rawPayload(t, schemamodel.CreateFieldPayload{Model: "Post", Field: "title", DataType: "text"})},
			{Kind: schemamodel.StepRenameField, Payload: rawPayload(t, schemamodel.RenameFieldPayload{Model: "Post", OldName: "title", NewName: "headline"})},
		},
	}

	result := engine.Run(context.Background(), schemamodel.Schema{}, mig)

	require.False(t, result.Succeeded)
	require.True(t, result.RollbackRanClean)
	// 2 forward steps succeeded, the 3rd forward failed, then 3 reverse
	// steps ran (the failing rename counts as applied and is reversed too):
	// create_model, create_field, rename(fails), reverse(rename), reverse(create_field), reverse(create_model)
	require.Len(t, fake.Batches, 6)
	require.Contains(t, fake.Batches[3][0], "RENAME COLUMN")
	require.Contains(t, fake.Batches[4][0], "DROP COLUMN")
	require.Contains(t, fake.Batches[5][0], "DROP TABLE")
}

// A reverse step with no rollback mutation (drop_model, drop_field) aborts
// rollback immediately instead of being swallowed.
func TestEngineRun_MissingRollbackAbortsRollback(t *testing.T) {
	fake := clientdb.NewFake()
	callCount := 0
	fake.FailWhen = func(statements []string) error {
		callCount++
		if callCount == 2 {
			return errors.New("boom: second forward step fails")
		}
		return nil
	}
	engine := newTestEngine(fake)

	mig := Migration{
		ProjectID: "proj-1",
		Revision:  3,
		Schema:    mustSchema(t, `{"models":["Post"]}`),
		Steps: []schemamodel.MigrationStep{
			{Kind: schemamodel.StepDropModel, Payload: rawPayload(t, schemamodel.DropModelPayload{Model: "Legacy"})},
			{Kind: schemamodel.StepCreateField, Payload: rawPayload(t, schemamodel.CreateFieldPayload{Model: "Post", Field: "title", DataType: "text"})},
		},
	}

	result := engine.Run(context.Background(), schemamodel.Schema{}, mig)

	require.False(t, result.Succeeded)
	require.False(t, result.RollbackRanClean)
	// forward drop_model, forward create_field (fails), reverse
	// create_field (which does exist) runs, then drop_model — the remaining
	// applied step — has no rollback, so rollback aborts with no further
	// batch.
	require.Len(t, fake.Batches, 3)
	require.Contains(t, fake.Batches[0][0], "DROP TABLE")
	require.Contains(t, fake.Batches[2][0], "DROP COLUMN")
}

// S6: a metadata-only comment step never touches the client database.
func TestEngineRun_CommentStepIsNoOp(t *testing.T) {
	fake := clientdb.NewFake()
	engine := newTestEngine(fake)

	mig := Migration{
		ProjectID: "proj-1",
		Revision:  4,
		Schema:    mustSchema(t, `{}`),
		Steps: []schemamodel.MigrationStep{
			{Kind: schemamodel.StepComment, Payload: rawPayload(t, map[string]string{"text": "no-op marker"})},
		},
	}

	result := engine.Run(context.Background(), schemamodel.Schema{}, mig)

	require.True(t, result.Succeeded)
	require.Empty(t, fake.Batches)
}

// A swallowed runtime error during rollback still allows rollback to
// proceed through every remaining applied step.
func TestEngineRun_RuntimeRollbackErrorIsSwallowed(t *testing.T) {
	fake := clientdb.NewFake()
	callCount := 0
	fake.FailWhen = func(statements []string) error {
		callCount++
		switch callCount {
		case 2:
			return errors.New("boom: second forward step fails")
		case 3:
			return errors.New("boom: reverse of second create_field fails")
		}
		return nil
	}
	engine := newTestEngine(fake)

	mig := Migration{
		ProjectID: "proj-1",
		Revision:  5,
		Schema:    mustSchema(t, `{"models":["Post"]}`),
		Steps: []schemamodel.MigrationStep{
			{Kind: schemamodel.StepCreateField, Payload: rawPayload(t, schemamodel.CreateFieldPayload{Model: "Post", Field: "a", DataType: "text"})},
			{Kind: schemamodel.StepCreateField, Payload: rawPayload(t, schemamodel.CreateFieldPayload{Model: "Post", Field: "b", DataType: "text"})},
		},
	}

	result := engine.Run(context.Background(), schemamodel.Schema{}, mig)

	require.False(t, result.Succeeded)
	require.False(t, result.RollbackRanClean)
	// forward a, forward b (fails), reverse b (fails but swallowed), reverse a
	require.Len(t, fake.Batches, 4)
	require.Contains(t, fake.Batches[3][0], `"a"`)
}
