package upgrade

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/vellumdb/vellum"
	"github.com/vellumdb/vellum/database"
	"github.com/vellumdb/vellum/mocks"
	"github.com/vellumdb/vellum/sandbox"
	"github.com/vellumdb/vellum/transaction"
)

func newProcedureFixture(t *testing.T) (*database.Registry, *sandbox.Handle, func()) {
	t.Helper()
	r := database.NewRegistry(mocks.NewCatalog(), nil)
	if err := r.Load(ctx); err != nil {
		t.Fatal(err)
	}
	systemDB, err := r.SystemDatabase()
	if err != nil {
		t.Fatal(err)
	}
	sb := sandbox.New(1)
	h, err := sb.Enter(ctx, transaction.NewScope(), systemDB, false, true)
	if err != nil {
		t.Fatal(err)
	}
	return r, h, func() { sb.Exit(h) }
}

func TestProcedureSkipsCurrentDatabase(t *testing.T) {
	r, h, exit := newProcedureFixture(t)
	defer exit()
	p, err := NewProcedure(r)
	if err != nil {
		t.Fatal(err)
	}

	db, _ := r.SystemDatabase()
	db.SetVersion(TargetVersion)
	h.SetVariable("upgrade", false)
	outcome, err := p.Run(ctx, h, db)
	if err != nil || outcome != sandbox.OutcomeStartedSucceeded {
		t.Fatalf("current database should pass the check: %v %v", outcome, err)
	}
}

func TestProcedureNotStartedWithoutUpgradeFlag(t *testing.T) {
	r, h, exit := newProcedureFixture(t)
	defer exit()
	p, err := NewProcedure(r)
	if err != nil {
		t.Fatal(err)
	}

	db, _ := r.SystemDatabase()
	db.SetVersion(1)
	h.SetVariable("upgrade", false)
	outcome, err := p.Run(ctx, h, db)
	if outcome != sandbox.OutcomeNotStarted {
		t.Fatalf("outdated database without the upgrade flag should not start")
	}
	if err != nil {
		t.Fatalf("not-started is a status, not an error: %v", err)
	}
	if db.Version() != 1 {
		t.Fatalf("database must not be touched")
	}
}

func TestProcedureUpgrades(t *testing.T) {
	r, h, exit := newProcedureFixture(t)
	defer exit()
	p, err := NewProcedure(r)
	if err != nil {
		t.Fatal(err)
	}

	db, _ := r.SystemDatabase()
	db.SetVersion(1)
	h.SetVariable("upgrade", true)
	outcome, err := p.Run(ctx, h, db)
	if err != nil || outcome != sandbox.OutcomeStartedSucceeded {
		t.Fatalf("upgrade run failed: %v %v", outcome, err)
	}
	if db.Version() != TargetVersion {
		t.Fatalf("version not bumped, got %d", db.Version())
	}
	for _, name := range []string{"_users", "_jobs", "_queues", "_apps"} {
		if _, ok := db.Collection(name); !ok {
			t.Fatalf("collection %s not created", name)
		}
	}
}

func TestProcedureTaskFailure(t *testing.T) {
	r, h, exit := newProcedureFixture(t)
	defer exit()
	p, err := NewProcedureWithTasks(r, []Task{
		{
			Name:      "explodes",
			Condition: "currentVersion < targetVersion",
			Run: func(ctx context.Context, db *database.Database) error {
				return fmt.Errorf("disk full")
			},
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	db, _ := r.SystemDatabase()
	db.SetVersion(1)
	h.SetVariable("upgrade", true)
	outcome, err := p.Run(ctx, h, db)
	if outcome != sandbox.OutcomeStartedFailed {
		t.Fatalf("task failure should report started-failed")
	}
	var verr vellum.Error
	if !errors.As(err, &verr) || verr.Code != vellum.ProcedureFailure {
		t.Fatalf("expected ProcedureFailure, got: %v", err)
	}
	if db.Version() == TargetVersion {
		t.Fatalf("failed upgrade must not bump the version")
	}
}

func TestProcedureRejectsInvalidCondition(t *testing.T) {
	r, _, exit := newProcedureFixture(t)
	defer exit()
	if _, err := NewProcedureWithTasks(r, []Task{
		{Name: "bad", Condition: "currentVersion <"},
	}); err == nil {
		t.Fatalf("invalid condition should be rejected at compile time")
	}
}

func TestProcedureConditionsFilterTasks(t *testing.T) {
	r, h, exit := newProcedureFixture(t)
	defer exit()

	ran := make(map[string]bool)
	record := func(name string) func(ctx context.Context, db *database.Database) error {
		return func(ctx context.Context, db *database.Database) error {
			ran[name] = true
			return nil
		}
	}
	p, err := NewProcedureWithTasks(r, []Task{
		{Name: "systemOnly", Condition: "isSystem", Run: record("systemOnly")},
		{Name: "userOnly", Condition: "!isSystem", Run: record("userOnly")},
	})
	if err != nil {
		t.Fatal(err)
	}

	db, _ := r.SystemDatabase()
	db.SetVersion(1)
	h.SetVariable("upgrade", true)
	if _, err := p.Run(ctx, h, db); err != nil {
		t.Fatal(err)
	}
	if !ran["systemOnly"] || ran["userOnly"] {
		t.Fatalf("conditions did not filter tasks: %v", ran)
	}
}
