package clientdb

import (
	"context"
	"sync"
)

// Fake is an in-memory stand-in for DB used by engine and worker tests. It
// records every statement batch it is asked to run, in order, so tests can
// assert the forward/rollback ordering guarantees in spec.md §8 without a
// live Postgres instance.
type Fake struct {
	mu       sync.Mutex
	Batches  [][]string
	FailWhen func(statements []string) error
	closed   bool
}

// NewFake returns a Fake with no failure injection configured.
func NewFake() *Fake {
	return &Fake{}
}

// Run records the batch and, if FailWhen is set and returns an error for
// these statements, propagates that error instead of "succeeding".
func (f *Fake) Run(_ context.Context, statements []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	batch := append([]string(nil), statements...)
	f.Batches = append(f.Batches, batch)

	if f.FailWhen != nil {
		return f.FailWhen(batch)
	}
	return nil
}

// Close marks the fake closed; a closed Fake still lets tests inspect Batches.
func (f *Fake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// Closed reports whether Close has been called.
func (f *Fake) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}
