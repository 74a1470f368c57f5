package transaction

import (
	"context"
	"errors"
	"testing"

	"github.com/vellumdb/vellum"
	"github.com/vellumdb/vellum/database"
	"github.com/vellumdb/vellum/mocks"
)

var ctx = context.Background()

func newTestDatabase(t *testing.T, name string) *database.Database {
	t.Helper()
	r := database.NewRegistry(mocks.NewCatalog(), nil)
	if err := r.Load(ctx); err != nil {
		t.Fatalf("registry load failed: %v", err)
	}
	if name == database.SystemDatabaseName {
		db, err := r.SystemDatabase()
		if err != nil {
			t.Fatal(err)
		}
		return db
	}
	db, err := r.Create(ctx, name)
	if err != nil {
		t.Fatal(err)
	}
	return db
}

func TestRegisterTransaction(t *testing.T) {
	db := newTestDatabase(t, "db1")
	c := NewContext(db, true)

	if c.ParentTransaction() != nil {
		t.Fatalf("fresh context should have no parent transaction")
	}

	tx := NewState(vellum.ForWriting, nil)
	if err := c.RegisterTransaction(tx); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if c.ParentTransaction() != tx {
		t.Fatalf("parent transaction should be the registered one")
	}
}

func TestRegisterTransactionTwiceFails(t *testing.T) {
	db := newTestDatabase(t, "db1")
	c := NewContext(db, true)

	tx := NewState(vellum.ForWriting, nil)
	if err := c.RegisterTransaction(tx); err != nil {
		t.Fatal(err)
	}

	tx2 := NewState(vellum.ForWriting, nil)
	err := c.RegisterTransaction(tx2)
	if err == nil {
		t.Fatalf("second register should fail")
	}
	var verr vellum.Error
	if !errors.As(err, &verr) || verr.Code != vellum.ContextState {
		t.Fatalf("expected ContextState error, got: %v", err)
	}
	// The first registered transaction must not be overwritten.
	if c.ParentTransaction() != tx {
		t.Fatalf("failed register overwrote the registered transaction")
	}
}

func TestUnregisterTransactionIsIdempotent(t *testing.T) {
	db := newTestDatabase(t, "db1")
	c := NewContext(db, true)

	// Unregister on an empty context is a safe no-op.
	c.UnregisterTransaction()

	tx := NewState(vellum.ForWriting, nil)
	if err := c.RegisterTransaction(tx); err != nil {
		t.Fatal(err)
	}
	c.UnregisterTransaction()
	if c.ParentTransaction() != nil {
		t.Fatalf("unregister should clear the transaction")
	}
	c.UnregisterTransaction()

	// A new transaction can be registered after unregistering.
	if err := c.RegisterTransaction(NewState(vellum.ForWriting, nil)); err != nil {
		t.Fatalf("register after unregister failed: %v", err)
	}
}

func TestOrderCustomTypeHandlerIsStable(t *testing.T) {
	db := newTestDatabase(t, "db1")
	c := NewContext(db, true)

	h1 := c.OrderCustomTypeHandler()
	h2 := c.OrderCustomTypeHandler()
	if h1 == nil {
		t.Fatalf("handler should not be nil")
	}
	if h1 != h2 {
		t.Fatalf("repeated calls should return the same handler instance")
	}
}

func TestResolverIsStable(t *testing.T) {
	db := newTestDatabase(t, "db1")
	c := NewContext(db, true)

	r1 := c.Resolver()
	r2 := c.Resolver()
	if r1 == nil {
		t.Fatalf("resolver should not be nil")
	}
	if r1 != r2 {
		t.Fatalf("repeated calls should return the same resolver instance")
	}
}

func TestIsEmbeddableIsFixed(t *testing.T) {
	db := newTestDatabase(t, "db1")
	if c := NewContext(db, true); !c.IsEmbeddable() {
		t.Fatalf("embeddable context reported non-embeddable")
	}
	if c := NewContext(db, false); c.IsEmbeddable() {
		t.Fatalf("non-embeddable context reported embeddable")
	}
}
