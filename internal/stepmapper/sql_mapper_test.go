package stepmapper

import (
	"encoding/json"
	"testing"

	"github.com/artemis/schema-migrate/internal/schemamodel"
	"github.com/stretchr/testify/require"
)

func payload(t *testing.T, v interface{}) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func TestMutactionFor_CreateModelHasRollback(t *testing.T) {
	m := NewSQLMapper()
	step := schemamodel.MigrationStep{
		Kind:    schemamodel.StepCreateModel,
		Payload: payload(t, schemamodel.CreateModelPayload{Model: "Post"}),
	}

	mutaction, err := m.MutactionFor(schemamodel.Schema{}, schemamodel.Schema{}, step)
	require.NoError(t, err)
	require.Len(t, mutaction.Statements(), 1)

	reverse, ok := mutaction.RollbackStatements()
	require.True(t, ok)
	require.Len(t, reverse, 1)
}

func TestMutactionFor_DropModelHasNoRollback(t *testing.T) {
	m := NewSQLMapper()
	step := schemamodel.MigrationStep{
		Kind:    schemamodel.StepDropModel,
		Payload: payload(t, schemamodel.DropModelPayload{Model: "Legacy"}),
	}

	mutaction, err := m.MutactionFor(schemamodel.Schema{}, schemamodel.Schema{}, step)
	require.NoError(t, err)

	_, ok := mutaction.RollbackStatements()
	require.False(t, ok)
}

func TestMutactionFor_RenameFieldIsSymmetric(t *testing.T) {
	m := NewSQLMapper()
	step := schemamodel.MigrationStep{
		Kind: schemamodel.StepRenameField,
		Payload: payload(t, schemamodel.RenameFieldPayload{
			Model: "Post", OldName: "title", NewName: "headline",
		}),
	}

	mutaction, err := m.MutactionFor(schemamodel.Schema{}, schemamodel.Schema{}, step)
	require.NoError(t, err)

	forward := mutaction.Statements()
	reverse, ok := mutaction.RollbackStatements()
	require.True(t, ok)

	require.Contains(t, forward[0], `"title" TO "headline"`)
	require.Contains(t, reverse[0], `"headline" TO "title"`)
}

func TestMutactionFor_CommentStepProducesNothing(t *testing.T) {
	m := NewSQLMapper()
	step := schemamodel.MigrationStep{Kind: schemamodel.StepComment}

	mutaction, err := m.MutactionFor(schemamodel.Schema{}, schemamodel.Schema{}, step)
	require.NoError(t, err)
	require.Nil(t, mutaction)
}

func TestMutactionFor_UnknownKindErrors(t *testing.T) {
	m := NewSQLMapper()
	step := schemamodel.MigrationStep{Kind: schemamodel.StepKind("not_a_real_kind")}

	_, err := m.MutactionFor(schemamodel.Schema{}, schemamodel.Schema{}, step)
	require.Error(t, err)
}

func TestMutactionFor_CreateIndexAndDropIndexAreInverses(t *testing.T) {
	m := NewSQLMapper()
	idx := schemamodel.IndexPayload{Model: "Post", Name: "post_title_idx", Fields: []string{"title"}, Unique: true}

	create, err := m.MutactionFor(schemamodel.Schema{}, schemamodel.Schema{}, schemamodel.MigrationStep{
		Kind: schemamodel.StepCreateIndex, Payload: payload(t, idx),
	})
	require.NoError(t, err)
	require.Contains(t, create.Statements()[0], "CREATE UNIQUE INDEX")

	drop, err := m.MutactionFor(schemamodel.Schema{}, schemamodel.Schema{}, schemamodel.MigrationStep{
		Kind: schemamodel.StepDropIndex, Payload: payload(t, idx),
	})
	require.NoError(t, err)
	require.Contains(t, drop.Statements()[0], "DROP INDEX")

	reverse, ok := drop.RollbackStatements()
	require.True(t, ok)
	require.Contains(t, reverse[0], "CREATE UNIQUE INDEX")
}
