package stepmapper

import (
	"encoding/json"
	"fmt"

	"github.com/artemis/schema-migrate/internal/schemamodel"
)

// SQLMapper is the concrete MigrationStepMapper for PostgreSQL-flavored DDL.
// It mirrors the teacher's per-resource-kind dispatch (one function per
// container/volume/network/image) but dispatches on StepKind instead, since
// here the "resource" being migrated is a schema element rather than a
// Docker object.
type SQLMapper struct{}

// NewSQLMapper constructs the default DDL step mapper.
func NewSQLMapper() *SQLMapper {
	return &SQLMapper{}
}

// MutactionFor is pure: it never touches prev/next beyond reading their
// bytes, and it performs no I/O.
func (m *SQLMapper) MutactionFor(prev, next schemamodel.Schema, step schemamodel.MigrationStep) (ClientSqlMutaction, error) {
	switch step.Kind {
	case schemamodel.StepCreateModel:
		return m.mapCreateModel(step)
	case schemamodel.StepDropModel:
		return m.mapDropModel(step)
	case schemamodel.StepCreateField:
		return m.mapCreateField(step)
	case schemamodel.StepDropField:
		return m.mapDropField(step)
	case schemamodel.StepRenameField:
		return m.mapRenameField(step)
	case schemamodel.StepCreateIndex:
		return m.mapCreateIndex(step)
	case schemamodel.StepDropIndex:
		return m.mapDropIndex(step)
	case schemamodel.StepComment:
		// Metadata-only step: no database effect (spec.md §3, §8 S6).
		return nil, nil
	default:
		return nil, fmt.Errorf("stepmapper: unknown step kind %q", step.Kind)
	}
}

func (m *SQLMapper) mapCreateModel(step schemamodel.MigrationStep) (ClientSqlMutaction, error) {
	var p schemamodel.CreateModelPayload
	if err := json.Unmarshal(step.Payload, &p); err != nil {
		return nil, fmt.Errorf("stepmapper: create_model payload: %w", err)
	}
	return sqlMutaction{
		forward: []string{fmt.Sprintf(`CREATE TABLE %q (id SERIAL PRIMARY KEY)`, p.Model)},
		reverse: []string{fmt.Sprintf(`DROP TABLE %q`, p.Model)},
		hasRB:   true,
	}, nil
}

func (m *SQLMapper) mapDropModel(step schemamodel.MigrationStep) (ClientSqlMutaction, error) {
	var p schemamodel.DropModelPayload
	if err := json.Unmarshal(step.Payload, &p); err != nil {
		return nil, fmt.Errorf("stepmapper: drop_model payload: %w", err)
	}
	// Dropping a table cannot, in general, be reversed without the prior
	// schema's full column/index definitions. The mapper deliberately
	// leaves this without a rollback so the engine's fatal-on-rollback
	// path (spec.md §4.3, §7 MissingRollbackMutation) is exercised by a
	// realistic step kind rather than only by test doubles.
	return sqlMutaction{
		forward: []string{fmt.Sprintf(`DROP TABLE %q`, p.Model)},
		hasRB:   false,
	}, nil
}

func (m *SQLMapper) mapCreateField(step schemamodel.MigrationStep) (ClientSqlMutaction, error) {
	var p schemamodel.CreateFieldPayload
	if err := json.Unmarshal(step.Payload, &p); err != nil {
		return nil, fmt.Errorf("stepmapper: create_field payload: %w", err)
	}
	nullClause := "NOT NULL"
	if p.Nullable {
		nullClause = "NULL"
	}
	forward := fmt.Sprintf(`ALTER TABLE %q ADD COLUMN %q %s %s`, p.Model, p.Field, p.DataType, nullClause)
	if p.Default != "" {
		forward = fmt.Sprintf(`%s DEFAULT %s`, forward, p.Default)
	}
	return sqlMutaction{
		forward: []string{forward},
		reverse: []string{fmt.Sprintf(`ALTER TABLE %q DROP COLUMN %q`, p.Model, p.Field)},
		hasRB:   true,
	}, nil
}

func (m *SQLMapper) mapDropField(step schemamodel.MigrationStep) (ClientSqlMutaction, error) {
	var p schemamodel.DropFieldPayload
	if err := json.Unmarshal(step.Payload, &p); err != nil {
		return nil, fmt.Errorf("stepmapper: drop_field payload: %w", err)
	}
	return sqlMutaction{
		forward: []string{fmt.Sprintf(`ALTER TABLE %q DROP COLUMN %q`, p.Model, p.Field)},
		hasRB:   false,
	}, nil
}

func (m *SQLMapper) mapRenameField(step schemamodel.MigrationStep) (ClientSqlMutaction, error) {
	var p schemamodel.RenameFieldPayload
	if err := json.Unmarshal(step.Payload, &p); err != nil {
		return nil, fmt.Errorf("stepmapper: rename_field payload: %w", err)
	}
	return sqlMutaction{
		forward: []string{fmt.Sprintf(`ALTER TABLE %q RENAME COLUMN %q TO %q`, p.Model, p.OldName, p.NewName)},
		reverse: []string{fmt.Sprintf(`ALTER TABLE %q RENAME COLUMN %q TO %q`, p.Model, p.NewName, p.OldName)},
		hasRB:   true,
	}, nil
}

func (m *SQLMapper) mapCreateIndex(step schemamodel.MigrationStep) (ClientSqlMutaction, error) {
	var p schemamodel.IndexPayload
	if err := json.Unmarshal(step.Payload, &p); err != nil {
		return nil, fmt.Errorf("stepmapper: create_index payload: %w", err)
	}
	uniqueClause := ""
	if p.Unique {
		uniqueClause = "UNIQUE "
	}
	return sqlMutaction{
		forward: []string{fmt.Sprintf(`CREATE %sINDEX %q ON %q (%s)`, uniqueClause, p.Name, p.Model, joinFields(p.Fields))},
		reverse: []string{fmt.Sprintf(`DROP INDEX %q`, p.Name)},
		hasRB:   true,
	}, nil
}

func (m *SQLMapper) mapDropIndex(step schemamodel.MigrationStep) (ClientSqlMutaction, error) {
	var p schemamodel.IndexPayload
	if err := json.Unmarshal(step.Payload, &p); err != nil {
		return nil, fmt.Errorf("stepmapper: drop_index payload: %w", err)
	}
	uniqueClause := ""
	if p.Unique {
		uniqueClause = "UNIQUE "
	}
	return sqlMutaction{
		forward: []string{fmt.Sprintf(`DROP INDEX %q`, p.Name)},
		reverse: []string{fmt.Sprintf(`CREATE %sINDEX %q ON %q (%s)`, uniqueClause, p.Name, p.Model, joinFields(p.Fields))},
		hasRB:   true,
	}, nil
}

func joinFields(fields []string) string {
	out := ""
	for i, f := range fields {
		if i > 0 {
			out += ", "
		}
		out += fmt.Sprintf("%q", f)
	}
	return out
}
