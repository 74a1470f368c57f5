package upgrade

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/spf13/pflag"

	"github.com/vellumdb/vellum"
	"github.com/vellumdb/vellum/cluster"
	"github.com/vellumdb/vellum/database"
	"github.com/vellumdb/vellum/replication"
	"github.com/vellumdb/vellum/sandbox"
	"github.com/vellumdb/vellum/server"
	"github.com/vellumdb/vellum/transaction"
	"github.com/vellumdb/vellum/wal"
)

var ctx = context.Background()

type fixture struct {
	srv       *server.Server
	dbFeature *database.Feature
	walLog    *wal.Manager
	feature   *Feature
	flags     *pflag.FlagSet
}

// newFixture stands a server up to the point where the upgrade feature would
// start: database feature started, flags parsed, nothing else running.
func newFixture(t *testing.T, procedure sandbox.Procedure, args ...string) *fixture {
	t.Helper()

	srv := server.New()
	dbFeature := database.NewFeature(nil)
	walLog := wal.NewManager(t.TempDir(), nil)
	f := NewFeature(srv, dbFeature, walLog, sandbox.New(4), transaction.NewScope(), procedure)

	for _, feat := range []server.Feature{dbFeature, cluster.NewFeature(), replication.NewFeature(), f} {
		if err := srv.AddFeature(feat); err != nil {
			t.Fatal(err)
		}
	}
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	srv.CollectOptions(flags)
	args = append([]string{"--database.directory", t.TempDir()}, args...)
	if err := flags.Parse(args); err != nil {
		t.Fatal(err)
	}
	if err := dbFeature.Start(ctx); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { walLog.Close() })
	return &fixture{
		srv:       srv,
		dbFeature: dbFeature,
		walLog:    walLog,
		feature:   f,
		flags:     flags,
	}
}

func TestValidateRejectsUpgradeWithoutCheck(t *testing.T) {
	fx := newFixture(t, nil, "--database.upgrade", "--database.upgrade-check=false")

	err := fx.feature.ValidateOptions()
	if err == nil {
		t.Fatalf("upgrade with upgrade-check=false should be rejected")
	}
	var verr vellum.Error
	if !errors.As(err, &verr) || verr.Code != vellum.ConfigurationConflict {
		t.Fatalf("expected ConfigurationConflict, got: %v", err)
	}
	// Validation happens before anything is touched.
	if fx.walLog.IsOpen() {
		t.Fatalf("write ahead log must not be opened during validation")
	}
}

func TestValidateDisablesServerFeaturesForUpgrade(t *testing.T) {
	fx := newFixture(t, nil, "--database.upgrade")
	if err := fx.feature.ValidateOptions(); err != nil {
		t.Fatal(err)
	}
	if !fx.srv.IsDisabled(cluster.FeatureName) {
		t.Fatalf("cluster feature should be disabled on an upgrade run")
	}
	if !fx.srv.IsDisabled(replication.FeatureName) {
		t.Fatalf("replication feature should be disabled on an upgrade run")
	}

	// A plain check run keeps everything enabled.
	fx2 := newFixture(t, nil)
	if err := fx2.feature.ValidateOptions(); err != nil {
		t.Fatal(err)
	}
	if fx2.srv.IsDisabled(cluster.FeatureName) {
		t.Fatalf("check run should not disable the cluster feature")
	}
}

func TestFirstBootOnEmptyDirectory(t *testing.T) {
	// A fresh data directory with default flags must come up without an
	// upgrade run: the system database is born at the current version.
	fx := newFixture(t, nil)
	systemDB, err := fx.dbFeature.Registry().SystemDatabase()
	if err != nil {
		t.Fatal(err)
	}
	if systemDB.Version() != database.CurrentVersion {
		t.Fatalf("fresh system database at version %d, want %d", systemDB.Version(), database.CurrentVersion)
	}
	if err := fx.feature.ValidateOptions(); err != nil {
		t.Fatal(err)
	}
	if err := fx.feature.Start(ctx); err != nil {
		t.Fatalf("fresh server's first boot failed: %v", err)
	}
	if fx.srv.IsShutdownRequested() {
		t.Fatalf("first boot must not request shutdown")
	}
}

func TestCheckPassesWhenAllCurrent(t *testing.T) {
	fx := newFixture(t, nil)
	registry := fx.dbFeature.Registry()
	for _, name := range []string{"accounts", "metrics"} {
		if _, err := registry.Create(ctx, name); err != nil {
			t.Fatal(err)
		}
	}
	if err := fx.feature.ValidateOptions(); err != nil {
		t.Fatal(err)
	}
	if err := fx.feature.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if fx.srv.IsShutdownRequested() {
		t.Fatalf("a passing check run must not request shutdown")
	}
	if !fx.walLog.IsOpen() {
		t.Fatalf("write ahead log should be open after start")
	}
}

func TestCheckFailsWhenUpgradeNeeded(t *testing.T) {
	fx := newFixture(t, nil)
	// Simulate a data directory written by an older build.
	systemDB, err := fx.dbFeature.Registry().SystemDatabase()
	if err != nil {
		t.Fatal(err)
	}
	systemDB.SetVersion(1)
	if err := fx.feature.ValidateOptions(); err != nil {
		t.Fatal(err)
	}
	err = fx.feature.Start(ctx)
	if err == nil {
		t.Fatalf("check against an outdated database should fail")
	}
	var verr vellum.Error
	if !errors.As(err, &verr) || verr.Code != vellum.PreconditionFailure {
		t.Fatalf("expected PreconditionFailure, got: %v", err)
	}
	if !strings.Contains(err.Error(), "needs upgrade. Please start the server with the --database.upgrade option") {
		t.Fatalf("wrong operator message: %v", err)
	}
}

func TestUpgradeRunUpgradesAllDatabases(t *testing.T) {
	fx := newFixture(t, nil, "--database.upgrade")
	registry := fx.dbFeature.Registry()
	if _, err := registry.Create(ctx, "apps"); err != nil {
		t.Fatal(err)
	}
	if _, err := registry.Create(ctx, "orders"); err != nil {
		t.Fatal(err)
	}
	// Age every database back to an older format version.
	for _, db := range registry.Snapshot() {
		db.SetVersion(1)
	}

	if err := fx.feature.ValidateOptions(); err != nil {
		t.Fatal(err)
	}
	if err := fx.feature.Start(ctx); err != nil {
		t.Fatal(err)
	}

	for _, db := range registry.Snapshot() {
		if db.Version() != TargetVersion {
			t.Fatalf("database '%s' not upgraded, version %d", db.Name(), db.Version())
		}
	}
	systemDB, err := registry.SystemDatabase()
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := systemDB.Collection("_users"); !ok {
		t.Fatalf("system collections should be created during upgrade")
	}
	if !fx.srv.IsShutdownRequested() {
		t.Fatalf("a finished upgrade run requests shutdown")
	}
	if fx.srv.Result() != ExitSuccess {
		t.Fatalf("upgrade run should record the success result")
	}
}

func TestUpgradePersistsNewVersions(t *testing.T) {
	dir := t.TempDir()
	catalog, err := database.NewFileCatalog(dir)
	if err != nil {
		t.Fatal(err)
	}

	fx := newFixture(t, nil, "--database.upgrade")
	fx.dbFeature.SetCatalog(catalog)
	// Restart the database feature over the shared catalog.
	if err := fx.dbFeature.Start(ctx); err != nil {
		t.Fatal(err)
	}
	// Write an outdated version to the shared catalog.
	systemDB, err := fx.dbFeature.Registry().SystemDatabase()
	if err != nil {
		t.Fatal(err)
	}
	systemDB.SetVersion(1)
	if err := fx.dbFeature.Registry().Persist(ctx, systemDB); err != nil {
		t.Fatal(err)
	}
	if err := fx.feature.ValidateOptions(); err != nil {
		t.Fatal(err)
	}
	if err := fx.feature.Start(ctx); err != nil {
		t.Fatal(err)
	}

	// A second registry over the same catalog sees the bumped version.
	r2 := database.NewRegistry(catalog, nil)
	if err := r2.Load(ctx); err != nil {
		t.Fatal(err)
	}
	db, err := r2.SystemDatabase()
	if err != nil {
		t.Fatal(err)
	}
	if db.Version() != TargetVersion {
		t.Fatalf("upgraded version not persisted, got %d", db.Version())
	}
}

type failingProcedure struct {
	ran int
}

func (p *failingProcedure) Name() string { return "failing" }

func (p *failingProcedure) Run(ctx context.Context, h *sandbox.Handle, db *database.Database) (sandbox.Outcome, error) {
	p.ran++
	return sandbox.OutcomeStartedFailed, fmt.Errorf("disk full")
}

func TestUpgradeFailsFastOnFirstFailure(t *testing.T) {
	p := &failingProcedure{}
	fx := newFixture(t, p, "--database.upgrade")
	if _, err := fx.dbFeature.Registry().Create(ctx, "second"); err != nil {
		t.Fatal(err)
	}

	if err := fx.feature.ValidateOptions(); err != nil {
		t.Fatal(err)
	}
	err := fx.feature.Start(ctx)
	if err == nil {
		t.Fatalf("failing procedure should abort startup")
	}
	var verr vellum.Error
	if !errors.As(err, &verr) || verr.Code != vellum.ProcedureFailure {
		t.Fatalf("expected ProcedureFailure, got: %v", err)
	}
	if !strings.Contains(err.Error(), "upgrade failed. Please inspect the logs from the upgrade procedure") {
		t.Fatalf("wrong operator message: %v", err)
	}
	// Fail fast: remaining databases are not attempted.
	if p.ran != 1 {
		t.Fatalf("expected 1 procedure run before aborting, got %d", p.ran)
	}
	if fx.srv.IsShutdownRequested() {
		t.Fatalf("a failed upgrade run must not request graceful shutdown")
	}
}

type engineErrorProcedure struct{}

func (p *engineErrorProcedure) Name() string { return "broken" }

func (p *engineErrorProcedure) Run(ctx context.Context, h *sandbox.Handle, db *database.Database) (sandbox.Outcome, error) {
	return sandbox.OutcomeNotStarted, vellum.Error{
		Code: vellum.SandboxFailure,
		Err:  fmt.Errorf("script engine unavailable"),
	}
}

func TestEngineErrorSurfacesAsSandboxFailure(t *testing.T) {
	fx := newFixture(t, &engineErrorProcedure{}, "--database.upgrade")
	if err := fx.feature.ValidateOptions(); err != nil {
		t.Fatal(err)
	}
	err := fx.feature.Start(ctx)
	var verr vellum.Error
	if !errors.As(err, &verr) || verr.Code != vellum.SandboxFailure {
		t.Fatalf("expected SandboxFailure, got: %v", err)
	}
}

func TestSweepRunsInGlobalContext(t *testing.T) {
	// The procedure observes the context it runs under: global, non-embeddable
	// by construction but embeddable through the global promotion.
	var sawGlobal, sawEmbeddable bool
	p := &observingProcedure{func(h *sandbox.Handle) {
		sawGlobal = h.Context().IsGlobal()
		sawEmbeddable = h.Context().IsEmbeddable()
	}}
	fx := newFixture(t, p, "--database.upgrade")
	if err := fx.feature.ValidateOptions(); err != nil {
		t.Fatal(err)
	}
	if err := fx.feature.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if !sawGlobal {
		t.Fatalf("sweep should run in a global context")
	}
	if !sawEmbeddable {
		t.Fatalf("global context should report embeddable")
	}
}

type observingProcedure struct {
	observe func(h *sandbox.Handle)
}

func (p *observingProcedure) Name() string { return "observing" }

func (p *observingProcedure) Run(ctx context.Context, h *sandbox.Handle, db *database.Database) (sandbox.Outcome, error) {
	p.observe(h)
	return sandbox.OutcomeStartedSucceeded, nil
}
