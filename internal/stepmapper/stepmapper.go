// Package stepmapper translates a logical MigrationStep, together with the
// schema it moves from and to, into zero or one concrete database mutation.
// Mapping is pure: no I/O, no mutation of its arguments. The migration
// engine is the only consumer, via StepApplier.
package stepmapper

import (
	"errors"

	"github.com/artemis/schema-migrate/internal/schemamodel"
)

// ErrMissingRollback is returned by StepApplier.UnapplyStep for a step
// whose ClientSqlMutaction has a forward mutation but reports no reverse
// (RollbackStatements returns false). Per the
// specification this is a programming error surfaced as a fatal condition
// during rollback, distinct from a swallowed runtime rollback failure.
var ErrMissingRollback = errors.New("stepmapper: mutation has no rollback statements")

// ClientSqlMutaction is the concrete database operation produced by mapping
// one step against its before/after schemas. A reverse is required to exist
// whenever a forward mutation exists; RollbackStatements' second return
// value reports whether one was actually supplied.
type ClientSqlMutaction interface {
	// Statements returns the forward SQL to execute.
	Statements() []string
	// RollbackStatements returns the reverse SQL and whether it is present.
	RollbackStatements() ([]string, bool)
}

// Mapper is the pure function contract consumed by StepApplier.
// mutactionFor(prev, next, step) -> Option<ClientSqlMutaction>.
type Mapper interface {
	MutactionFor(prev, next schemamodel.Schema, step schemamodel.MigrationStep) (ClientSqlMutaction, error)
}

// sqlMutaction is the concrete, immutable ClientSqlMutaction implementation
// produced by SQLMapper.
type sqlMutaction struct {
	forward  []string
	reverse  []string
	hasRB    bool
}

func (m sqlMutaction) Statements() []string { return m.forward }

func (m sqlMutaction) RollbackStatements() ([]string, bool) { return m.reverse, m.hasRB }
