package transaction

import (
	"github.com/vellumdb/vellum"
	"github.com/vellumdb/vellum/database"
)

// Scope is an execution unit's single-slot register of the currently entered
// scoped context. Request threads, maintenance runs and bootstrap sweeps each
// own one Scope; it is the generalization of a thread-local slot and is never
// shared for concurrent mutation.
type Scope struct {
	current *ScopedContext
}

// NewScope returns an empty scope.
func NewScope() *Scope {
	return &Scope{}
}

// Current returns the scoped context occupying the slot, or nil.
func (s *Scope) Current() *ScopedContext {
	return s.current
}

// Enter creates a scoped context bound to db and places it in the slot, saving
// the prior occupant. The returned leave func restores the prior occupant and
// must run on every exit path, including errors:
//
//	c, leave := scope.Enter(db, false)
//	defer leave()
//
// Entering re-entrantly links the new context to the enclosing one so that
// IsEmbedded still reports the enclosing registered transaction.
func (s *Scope) Enter(db *database.Database, embeddable bool) (*ScopedContext, func()) {
	prev := s.current
	c := &ScopedContext{
		BaseContext: BaseContext{
			db:         db,
			embeddable: embeddable,
		},
		slot:      s,
		mainScope: prev,
	}
	s.current = c
	left := false
	leave := func() {
		if left {
			return
		}
		left = true
		s.current = prev
	}
	return c, leave
}

// IsEmbedded reports whether this execution unit currently has any context with
// a registered transaction that nested operations could join. It sees through
// re-entrant sandbox entries via the contexts' enclosing-scope links.
func (s *Scope) IsEmbedded() bool {
	for c := s.current; c != nil; c = c.mainScope {
		if c.BaseContext.ParentTransaction() != nil {
			return c.IsEmbeddable()
		}
	}
	return false
}

// ScopedContext is the context variant bound to a maintenance sandbox run
// rather than an ordinary request. It additionally tracks the slot it occupies
// and the enclosing scoped context when entered re-entrantly; both links are
// non-owning, used purely for lookup.
type ScopedContext struct {
	BaseContext

	slot      *Scope
	mainScope *ScopedContext

	global bool
}

var _ Context = (*ScopedContext)(nil)

// ParentTransaction returns the registered transaction, consulting the
// enclosing scoped context when this one has none. Nested operations that
// crossed the sandbox boundary still observe the enclosing transaction.
func (c *ScopedContext) ParentTransaction() vellum.Transaction {
	if tx := c.BaseContext.ParentTransaction(); tx != nil {
		return tx
	}
	if c.mainScope != nil {
		return c.mainScope.ParentTransaction()
	}
	return nil
}

// IsEmbeddable reports whether nested operations may join the current
// transaction. A global context overrides non-embeddability: bootstrap sweeps
// run many operations back to back against the one context they entered.
func (c *ScopedContext) IsEmbeddable() bool {
	return c.embeddable || c.global
}

// MakeGlobal promotes the context to a global one, shared across a sequence of
// otherwise-independent operations in a single sweep. One-way; there is no
// demotion. Intended only for bootstrap/maintenance contexts, never for
// per-request ones.
func (c *ScopedContext) MakeGlobal() {
	c.global = true
}

// IsGlobal reports whether the context has been promoted to a global one.
func (c *ScopedContext) IsGlobal() bool {
	return c.global
}
