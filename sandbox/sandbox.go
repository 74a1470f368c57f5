// Package sandbox provides the isolated execution environment maintenance
// procedures run in. Entering the sandbox is a scoped acquisition: the caller
// blocks until a slot is free, gets a transaction context bound to the target
// database, and the prior occupant of the execution unit's context slot is
// restored on every exit path.
//
// The transaction context contract itself is engine-agnostic; this package is
// only consumed by orchestration code (see the upgrade package).
package sandbox

import (
	"context"
	"fmt"
	"sync"

	"github.com/vellumdb/vellum"
	"github.com/vellumdb/vellum/database"
	"github.com/vellumdb/vellum/transaction"
)

// Outcome is the out-of-band status signal of one procedure invocation,
// distinguishing "never started" from "started and failed".
type Outcome int

const (
	// OutcomeNotStarted means a precondition check stopped the procedure before
	// it did any work.
	OutcomeNotStarted Outcome = iota
	// OutcomeStartedFailed means the procedure started and failed midway.
	OutcomeStartedFailed
	// OutcomeStartedSucceeded means the procedure ran to completion.
	OutcomeStartedSucceeded
)

// Procedure is a maintenance procedure runnable inside the sandbox. One
// occupancy may run the procedure many times, once per target database.
type Procedure interface {
	// Name identifies the procedure in logs.
	Name() string
	// Run executes against db, reading injected variables from the handle.
	// A non-nil error with OutcomeNotStarted means the engine itself failed
	// before the procedure could run.
	Run(ctx context.Context, h *Handle, db *database.Database) (Outcome, error)
}

// Sandbox is a pool of execution slots for maintenance procedures.
type Sandbox struct {
	size int

	// acquireMu serializes slot acquisition, making an exclusive Enter
	// all-or-nothing: two exclusive entrants can never hold partial slot sets
	// waiting on each other. Exit does not take it, so draining always makes
	// progress.
	acquireMu sync.Mutex
	sem       chan struct{}
}

// New creates a sandbox with the given number of slots.
func New(size int) *Sandbox {
	if size < 1 {
		size = 1
	}
	return &Sandbox{
		size: size,
		sem:  make(chan struct{}, size),
	}
}

// Handle is one sandbox occupancy. It owns the scoped transaction context for
// the run and the restore obligation for the execution unit's context slot.
type Handle struct {
	sb        *Sandbox
	exclusive bool
	tctx      *transaction.ScopedContext
	leave     func()
	vars      map[string]any
	exited    bool
}

// Enter blocks until a sandbox slot is available (all slots when exclusive),
// then enters a scoped transaction context bound to db on the given scope.
// Callers must pair every successful Enter with Exit, normally via defer, so
// the prior slot occupant is restored even on error paths.
func (s *Sandbox) Enter(ctx context.Context, scope *transaction.Scope, db *database.Database, embeddable bool, exclusive bool) (*Handle, error) {
	n := 1
	if exclusive {
		n = s.size
	}
	s.acquireMu.Lock()
	for i := 0; i < n; i++ {
		select {
		case s.sem <- struct{}{}:
		case <-ctx.Done():
			// Give back what was acquired so far.
			for j := 0; j < i; j++ {
				<-s.sem
			}
			s.acquireMu.Unlock()
			return nil, ctx.Err()
		}
	}
	s.acquireMu.Unlock()
	tctx, leave := scope.Enter(db, embeddable)
	return &Handle{
		sb:        s,
		exclusive: exclusive,
		tctx:      tctx,
		leave:     leave,
		vars:      make(map[string]any),
	}, nil
}

// Exit releases the handle's slot(s) and restores the prior occupant of the
// execution unit's context slot. Idempotent.
func (s *Sandbox) Exit(h *Handle) {
	if h == nil || h.exited {
		return
	}
	h.exited = true
	h.leave()
	n := 1
	if h.exclusive {
		n = s.size
	}
	for i := 0; i < n; i++ {
		<-s.sem
	}
}

// Context returns the scoped transaction context of this run.
func (h *Handle) Context() *transaction.ScopedContext {
	return h.tctx
}

// SetVariable injects a named variable into the run's scope, visible to the
// procedure (e.g. the "upgrade" flag).
func (h *Handle) SetVariable(name string, value any) {
	h.vars[name] = value
}

// Variables returns the injected variables.
func (h *Handle) Variables() map[string]any {
	return h.vars
}

// Run executes the procedure against db inside this sandbox occupancy.
func (h *Handle) Run(ctx context.Context, p Procedure, db *database.Database) (Outcome, error) {
	if h.exited {
		return OutcomeNotStarted, vellum.Error{
			Code: vellum.SandboxFailure,
			Err:  fmt.Errorf("sandbox handle already exited"),
		}
	}
	return p.Run(ctx, h, db)
}
