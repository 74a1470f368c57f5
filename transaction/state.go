package transaction

import (
	"context"
	"fmt"

	"github.com/vellumdb/vellum"
	"github.com/vellumdb/vellum/wal"
)

// State is the transaction state object. It carries identity and lifecycle
// markers only; execution semantics (locking, commit algorithms) live in the
// storage engine, not here. Lifecycle markers are journaled through the write
// ahead log when one is attached.
type State struct {
	id    vellum.UUID
	mode  vellum.TransactionMode
	begun bool
	log   *wal.Manager
}

var _ vellum.Transaction = (*State)(nil)

// NewState creates a transaction state. log may be nil, e.g. for read-only
// transactions that need no journaling.
func NewState(mode vellum.TransactionMode, log *wal.Manager) *State {
	return &State{
		id:   vellum.NewUUID(),
		mode: mode,
		log:  log,
	}
}

// ID returns the transaction ID.
func (s *State) ID() vellum.UUID {
	return s.id
}

// Mode returns the configured TransactionMode.
func (s *State) Mode() vellum.TransactionMode {
	return s.mode
}

// HasBegun reports whether the transaction has started.
func (s *State) HasBegun() bool {
	return s.begun
}

// Begin starts the transaction, journaling a begin marker.
func (s *State) Begin(ctx context.Context) error {
	if s.begun {
		return vellum.Error{
			Code: vellum.ContextState,
			Err:  fmt.Errorf("transaction %s has already begun", s.id.String()),
		}
	}
	if err := s.journal(ctx, wal.RecordBegin); err != nil {
		return err
	}
	s.begun = true
	return nil
}

// Commit finalizes the transaction, journaling a commit marker.
func (s *State) Commit(ctx context.Context) error {
	if !s.begun {
		return vellum.Error{
			Code: vellum.ContextState,
			Err:  fmt.Errorf("transaction %s has not begun", s.id.String()),
		}
	}
	if err := s.journal(ctx, wal.RecordCommit); err != nil {
		return err
	}
	s.begun = false
	return nil
}

// Rollback aborts the transaction, journaling a rollback marker.
func (s *State) Rollback(ctx context.Context) error {
	if !s.begun {
		return vellum.Error{
			Code: vellum.ContextState,
			Err:  fmt.Errorf("transaction %s has not begun", s.id.String()),
		}
	}
	if err := s.journal(ctx, wal.RecordRollback); err != nil {
		return err
	}
	s.begun = false
	return nil
}

func (s *State) journal(ctx context.Context, rt wal.RecordType) error {
	if s.log == nil || s.mode == vellum.ForReading {
		return nil
	}
	return s.log.Append(ctx, wal.Record{
		Type:  rt,
		TxnID: s.id,
	})
}

// Start is the scoped acquisition used by operations running against a context.
// When the context already has a registered transaction and is embeddable, the
// operation joins it and the returned done func is a no-op; the transaction
// stays registered for its real owner. Otherwise a new transaction is begun
// and registered, and done unregisters it. done never fails and is safe on
// unwind paths.
func Start(ctx context.Context, c Context, mode vellum.TransactionMode, log *wal.Manager) (vellum.Transaction, func(), error) {
	if tx := c.ParentTransaction(); tx != nil {
		if c.IsEmbeddable() {
			return tx, func() {}, nil
		}
		// Non-embeddable context: the nested operation runs an independent
		// transaction, not registered with the context.
		tx := NewState(mode, log)
		if err := tx.Begin(ctx); err != nil {
			return nil, nil, err
		}
		return tx, func() {}, nil
	}
	tx := NewState(mode, log)
	if err := tx.Begin(ctx); err != nil {
		return nil, nil, err
	}
	if err := c.RegisterTransaction(tx); err != nil {
		return nil, nil, err
	}
	return tx, c.UnregisterTransaction, nil
}
