// Package transaction implements the per-execution-unit transaction contexts of
// the Vellum document database. A context tracks which transaction is currently
// active for one request, maintenance run or bootstrap sweep, decides whether
// nested operations may join it, and caches the per-transaction services (name
// resolver, custom type handler) for the context's lifetime.
package transaction

import (
	"fmt"

	"github.com/vellumdb/vellum"
	"github.com/vellumdb/vellum/database"
	"github.com/vellumdb/vellum/encoding"
)

// Context is the transaction context contract. A context is owned by exactly
// one execution unit at a time and is never mutated concurrently, which is why
// none of the operations below take locks.
type Context interface {
	// Database returns the database this context operates against.
	Database() *database.Database
	// RegisterTransaction associates tx as the context's current transaction.
	// Fails with a vellum.ContextState error if one is already registered; the
	// registered transaction is not overwritten in that case.
	RegisterTransaction(tx vellum.Transaction) error
	// UnregisterTransaction clears the association. Calling it on a context with
	// no registered transaction is a safe no-op, so cleanup/unwind paths can
	// always call it unconditionally.
	UnregisterTransaction()
	// ParentTransaction returns the currently registered transaction, or nil.
	// Nested operations use it to decide whether to join the transaction.
	ParentTransaction() vellum.Transaction
	// IsEmbeddable reports whether nested operations may join the current
	// transaction rather than starting an independent one.
	IsEmbeddable() bool
	// OrderCustomTypeHandler returns the context's custom type handler,
	// constructing it on first call. Repeated calls return the same instance.
	OrderCustomTypeHandler() encoding.CustomTypeHandler
	// Resolver returns the context's name resolver, constructing it on first
	// call. Repeated calls return the same instance.
	Resolver() *database.NameResolver
}

// BaseContext is the default Context implementation, created once per request.
type BaseContext struct {
	db         *database.Database
	current    vellum.Transaction
	embeddable bool

	// Built once, reused for the remainder of the context's life.
	typeHandler encoding.CustomTypeHandler
	resolver    *database.NameResolver
}

var _ Context = (*BaseContext)(nil)

// NewContext creates a context bound to db. embeddable governs whether a second
// logical operation may reuse the registered transaction; it is fixed for the
// lifetime of the context.
func NewContext(db *database.Database, embeddable bool) *BaseContext {
	return &BaseContext{
		db:         db,
		embeddable: embeddable,
	}
}

// Database returns the database this context operates against.
func (c *BaseContext) Database() *database.Database {
	return c.db
}

// RegisterTransaction associates tx as the current transaction.
func (c *BaseContext) RegisterTransaction(tx vellum.Transaction) error {
	if c.current != nil {
		return vellum.Error{
			Code: vellum.ContextState,
			Err:  fmt.Errorf("transaction already registered with this context"),
		}
	}
	c.current = tx
	return nil
}

// UnregisterTransaction clears the current transaction. Safe to call on an
// already-empty context.
func (c *BaseContext) UnregisterTransaction() {
	c.current = nil
}

// ParentTransaction returns the currently registered transaction, or nil.
func (c *BaseContext) ParentTransaction() vellum.Transaction {
	return c.current
}

// IsEmbeddable reports whether nested operations may join the current transaction.
func (c *BaseContext) IsEmbeddable() bool {
	return c.embeddable
}

// OrderCustomTypeHandler returns the cached handler, building it on first call.
func (c *BaseContext) OrderCustomTypeHandler() encoding.CustomTypeHandler {
	if c.typeHandler == nil {
		c.typeHandler = encoding.NewCustomTypeHandler(c.Resolver())
	}
	return c.typeHandler
}

// Resolver returns the cached name resolver, building it on first call.
func (c *BaseContext) Resolver() *database.NameResolver {
	if c.resolver == nil {
		c.resolver = c.db.NewResolver()
	}
	return c.resolver
}
