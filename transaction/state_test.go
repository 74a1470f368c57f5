package transaction

import (
	"errors"
	"testing"

	"github.com/vellumdb/vellum"
)

func TestStateLifecycle(t *testing.T) {
	tx := NewState(vellum.ForWriting, nil)
	if tx.ID().IsNil() {
		t.Fatalf("transaction should get an ID")
	}
	if tx.Mode() != vellum.ForWriting {
		t.Fatalf("wrong mode")
	}
	if tx.HasBegun() {
		t.Fatalf("fresh transaction should not have begun")
	}

	if err := tx.Begin(ctx); err != nil {
		t.Fatal(err)
	}
	if !tx.HasBegun() {
		t.Fatalf("transaction should have begun")
	}

	err := tx.Begin(ctx)
	var verr vellum.Error
	if !errors.As(err, &verr) || verr.Code != vellum.ContextState {
		t.Fatalf("double begin should fail with ContextState, got: %v", err)
	}

	if err := tx.Commit(ctx); err != nil {
		t.Fatal(err)
	}
	if tx.HasBegun() {
		t.Fatalf("committed transaction should not report begun")
	}
	if err := tx.Rollback(ctx); err == nil {
		t.Fatalf("rollback after commit should fail")
	}
}

func TestStartJoinsEmbeddableParent(t *testing.T) {
	db := newTestDatabase(t, "db1")
	c := NewContext(db, true)

	parent := NewState(vellum.ForWriting, nil)
	if err := parent.Begin(ctx); err != nil {
		t.Fatal(err)
	}
	if err := c.RegisterTransaction(parent); err != nil {
		t.Fatal(err)
	}

	tx, done, err := Start(ctx, c, vellum.ForWriting, nil)
	if err != nil {
		t.Fatal(err)
	}
	if tx != parent {
		t.Fatalf("operation should join the parent transaction")
	}
	done()
	// done is a no-op for joined transactions; the parent stays registered.
	if c.ParentTransaction() != parent {
		t.Fatalf("joined done() must not unregister the parent")
	}
}

func TestStartIndependentOnNonEmbeddableParent(t *testing.T) {
	db := newTestDatabase(t, "db1")
	c := NewContext(db, false)

	parent := NewState(vellum.ForWriting, nil)
	if err := c.RegisterTransaction(parent); err != nil {
		t.Fatal(err)
	}

	tx, done, err := Start(ctx, c, vellum.ForWriting, nil)
	if err != nil {
		t.Fatal(err)
	}
	if tx == parent {
		t.Fatalf("operation should not join a non-embeddable parent")
	}
	if !tx.HasBegun() {
		t.Fatalf("independent transaction should have begun")
	}
	done()
	if c.ParentTransaction() != parent {
		t.Fatalf("independent done() must not touch the registered parent")
	}
}

func TestStartRegistersNewTransaction(t *testing.T) {
	db := newTestDatabase(t, "db1")
	c := NewContext(db, true)

	tx, done, err := Start(ctx, c, vellum.ForWriting, nil)
	if err != nil {
		t.Fatal(err)
	}
	if c.ParentTransaction() != tx {
		t.Fatalf("started transaction should be registered with the context")
	}
	done()
	if c.ParentTransaction() != nil {
		t.Fatalf("done() should unregister the started transaction")
	}
}
