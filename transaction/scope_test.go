package transaction

import (
	"testing"

	"github.com/vellumdb/vellum"
)

func TestScopeEnterLeave(t *testing.T) {
	db := newTestDatabase(t, "db1")
	s := NewScope()

	if s.Current() != nil {
		t.Fatalf("fresh scope should be empty")
	}

	c, leave := s.Enter(db, false)
	if s.Current() != c {
		t.Fatalf("entered context should occupy the slot")
	}
	leave()
	if s.Current() != nil {
		t.Fatalf("leave should empty the slot")
	}
	// leave is idempotent.
	leave()
	if s.Current() != nil {
		t.Fatalf("second leave changed the slot")
	}
}

func TestScopeReentrantRestore(t *testing.T) {
	db := newTestDatabase(t, "db1")
	db2 := newTestDatabase(t, "db2")
	s := NewScope()

	outer, leaveOuter := s.Enter(db, false)
	inner, leaveInner := s.Enter(db2, true)
	if s.Current() != inner {
		t.Fatalf("inner context should occupy the slot")
	}
	leaveInner()
	if s.Current() != outer {
		t.Fatalf("leaving inner should restore outer, got %v", s.Current())
	}
	leaveOuter()
	if s.Current() != nil {
		t.Fatalf("leaving outer should empty the slot")
	}
}

func TestScopeRestoreOnUnwind(t *testing.T) {
	db := newTestDatabase(t, "db1")
	s := NewScope()

	outer, leaveOuter := s.Enter(db, false)
	defer leaveOuter()

	// Simulate an operation failing mid-way inside a nested entry; the
	// deferred leave must still restore the outer occupant.
	func() {
		_, leave := s.Enter(db, true)
		defer leave()
		panicGuard(t, func() {
			panic("operation failed")
		})
	}()
	if s.Current() != outer {
		t.Fatalf("unwind should restore the outer context")
	}
}

func panicGuard(t *testing.T, f func()) {
	t.Helper()
	defer func() {
		if r := recover(); r == nil {
			t.Fatalf("expected panic")
		}
	}()
	f()
}

func TestIsEmbeddedEmptyScope(t *testing.T) {
	s := NewScope()
	if s.IsEmbedded() {
		t.Fatalf("empty scope should not be embedded")
	}
}

func TestIsEmbeddedFollowsRegisteredTransaction(t *testing.T) {
	db := newTestDatabase(t, "db1")
	s := NewScope()

	c, leave := s.Enter(db, true)
	defer leave()

	if s.IsEmbedded() {
		t.Fatalf("no transaction registered yet, should not be embedded")
	}
	if err := c.RegisterTransaction(NewState(vellum.ForWriting, nil)); err != nil {
		t.Fatal(err)
	}
	if !s.IsEmbedded() {
		t.Fatalf("embeddable context with registered transaction should be embedded")
	}
	c.UnregisterTransaction()
	if s.IsEmbedded() {
		t.Fatalf("unregistering should clear embeddedness")
	}
}

func TestIsEmbeddedNonEmbeddableContext(t *testing.T) {
	db := newTestDatabase(t, "db1")
	s := NewScope()

	c, leave := s.Enter(db, false)
	defer leave()
	if err := c.RegisterTransaction(NewState(vellum.ForWriting, nil)); err != nil {
		t.Fatal(err)
	}
	// A registered transaction on a non-embeddable context is visible but not
	// joinable.
	if s.IsEmbedded() {
		t.Fatalf("non-embeddable context should not report embedded")
	}
}

func TestIsEmbeddedSeesThroughNestedEntry(t *testing.T) {
	db := newTestDatabase(t, "db1")
	s := NewScope()

	outer, leaveOuter := s.Enter(db, true)
	defer leaveOuter()
	if err := outer.RegisterTransaction(NewState(vellum.ForWriting, nil)); err != nil {
		t.Fatal(err)
	}

	// A nested sandbox entry with no transaction of its own still observes
	// the enclosing registered transaction.
	inner, leaveInner := s.Enter(db, true)
	defer leaveInner()
	if !s.IsEmbedded() {
		t.Fatalf("nested entry should see through to the enclosing transaction")
	}
	if inner.ParentTransaction() == nil {
		t.Fatalf("nested context should observe the enclosing transaction")
	}
}

func TestMakeGlobalOverridesEmbeddability(t *testing.T) {
	db := newTestDatabase(t, "db1")
	s := NewScope()

	c, leave := s.Enter(db, false)
	defer leave()

	if c.IsEmbeddable() {
		t.Fatalf("context entered non-embeddable")
	}
	if c.IsGlobal() {
		t.Fatalf("context should not be global before MakeGlobal")
	}
	c.MakeGlobal()
	if !c.IsGlobal() {
		t.Fatalf("MakeGlobal should mark the context global")
	}
	if !c.IsEmbeddable() {
		t.Fatalf("global context should report embeddable")
	}

	// With a registered transaction, the whole sweep joins it.
	if err := c.RegisterTransaction(NewState(vellum.ForWriting, nil)); err != nil {
		t.Fatal(err)
	}
	if !s.IsEmbedded() {
		t.Fatalf("global context with registered transaction should be embedded")
	}
}

func TestWithScopeContextPlumbing(t *testing.T) {
	db := newTestDatabase(t, "db1")
	s := NewScope()
	cctx := WithScope(ctx, s)

	if ScopeFromContext(ctx) != nil {
		t.Fatalf("plain context should carry no scope")
	}
	if ScopeFromContext(cctx) != s {
		t.Fatalf("scope not found in context")
	}
	if IsEmbedded(cctx) {
		t.Fatalf("empty scope should not be embedded")
	}

	c, leave := s.Enter(db, true)
	defer leave()
	if err := c.RegisterTransaction(NewState(vellum.ForWriting, nil)); err != nil {
		t.Fatal(err)
	}
	if !IsEmbedded(cctx) {
		t.Fatalf("IsEmbedded should reflect the scope's state")
	}
}
