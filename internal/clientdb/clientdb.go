// Package clientdb talks to the target SQL backend that a migration's
// mutations are applied against. It is the "client database" of the
// specification: the core migration engine never constructs SQL itself, it
// only asks this package to run whatever the step mapper produced.
package clientdb

import "context"

// DB executes a set of statements as a single unit against the project's
// target database. Implementations decide what "single unit" means
// (typically one SQL transaction); the engine never issues concurrent
// calls to the same DB within one migration run.
type DB interface {
	Run(ctx context.Context, statements []string) error
	Close() error
}
