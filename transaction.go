package vellum

import "context"

// TransactionMode enumerates the supported transaction behaviors.
type TransactionMode int

const (
	// ForReading disallows modifications; read-only.
	ForReading TransactionMode = iota
	// ForWriting allows modifications to collections within the transaction.
	ForWriting
)

// Transaction is the transaction state object as seen by the rest of the engine.
// A transaction context references the current transaction but never owns it; the
// code that began the transaction controls its lifetime.
type Transaction interface {
	// ID returns the transaction ID.
	ID() UUID
	// Mode returns the configured TransactionMode.
	Mode() TransactionMode
	// HasBegun reports whether the transaction has started.
	HasBegun() bool
	// Begin starts the transaction.
	Begin(ctx context.Context) error
	// Commit finalizes the transaction.
	Commit(ctx context.Context) error
	// Rollback aborts the transaction.
	Rollback(ctx context.Context) error
}
