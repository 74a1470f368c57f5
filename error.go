package vellum

import "fmt"

type ErrorCode int

const (
	Unknown ErrorCode = iota
	// ContextState signals a transaction context contract violation, e.g. registering a
	// transaction on a context that already has one. A programming error, never retryable.
	ContextState
	// ConfigurationConflict signals mutually exclusive startup options.
	ConfigurationConflict
	// RecoveryFailure signals the write ahead log could not be opened/recovered.
	RecoveryFailure
	// ProcedureFailure signals a maintenance procedure ran on a database and failed.
	ProcedureFailure
	// PreconditionFailure signals a maintenance procedure determined it was needed but
	// was not requested, e.g. upgrade needed without --database.upgrade.
	PreconditionFailure
	// SandboxFailure signals the procedure execution engine errored before the
	// procedure could run at all.
	SandboxFailure
)

// Vellum custom error.
type Error struct {
	Code ErrorCode
	Err  error
}

func (e Error) Error() string {
	return fmt.Sprintf("error code: %d, details: %v", e.Code, e.Err)
}

func (e Error) Unwrap() error {
	return e.Err
}
