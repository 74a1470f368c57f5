// Package upgrade implements the bootstrap maintenance sweep: after write
// ahead log recovery it visits every known database inside a single global
// sandbox context and runs the upgrade procedure, failing fast on the first
// database that can't be brought to the current on-disk format version.
package upgrade

import (
	"context"
	"errors"
	"fmt"
	log "log/slog"

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

// FeatureName is the name the feature registers under.
const FeatureName = "Upgrade"

// ExitSuccess is the result code recorded after a successful upgrade run.
const ExitSuccess = 0

// Feature drives the upgrade/upgrade-check sweep during startup.
type Feature struct {
	srv       *server.Server
	dbFeature *database.Feature
	walLog    *wal.Manager
	sb        *sandbox.Sandbox
	scope     *transaction.Scope
	procedure sandbox.Procedure

	// nonServerFeatures are kept down for the duration of an upgrade run.
	nonServerFeatures []string

	upgrade      bool
	upgradeCheck bool
}

// NewFeature wires the upgrade feature. procedure may be nil; the default
// upgrade procedure over the built-in task list is then used.
func NewFeature(srv *server.Server, dbFeature *database.Feature, walLog *wal.Manager,
	sb *sandbox.Sandbox, scope *transaction.Scope, procedure sandbox.Procedure) *Feature {
	return &Feature{
		srv:       srv,
		dbFeature: dbFeature,
		walLog:    walLog,
		sb:        sb,
		scope:     scope,
		procedure: procedure,
		nonServerFeatures: []string{
			cluster.FeatureName,
			replication.FeatureName,
		},
	}
}

func (f *Feature) Name() string {
	return FeatureName
}

func (f *Feature) StartsAfter() []string {
	return []string{database.FeatureName, cluster.FeatureName}
}

func (f *Feature) CollectOptions(flags *pflag.FlagSet) {
	flags.BoolVar(&f.upgrade, "database.upgrade", false,
		"perform a database upgrade if necessary")
	flags.BoolVar(&f.upgradeCheck, "database.upgrade-check", true,
		"skip the database upgrade check when false")
	flags.MarkHidden("database.upgrade-check")
}

// ValidateOptions rejects conflicting options and, for an upgrade run, keeps
// the non-server features down. Runs before anything is started or touched.
func (f *Feature) ValidateOptions() error {
	if f.upgrade && !f.upgradeCheck {
		return vellum.Error{
			Code: vellum.ConfigurationConflict,
			Err:  fmt.Errorf("cannot specify both '--database.upgrade true' and '--database.upgrade-check false'"),
		}
	}
	if !f.upgrade {
		log.Debug("executing upgrade check: not disabling server features")
		return nil
	}
	log.Debug("executing upgrade procedure: disabling server features")
	for _, name := range f.nonServerFeatures {
		f.srv.DisableFeature(name)
	}
	return nil
}

// Start opens the write ahead log for recovery, runs the sweep when requested
// and, in upgrade mode, records the success result and asks for shutdown.
// Every error returned here is unrecoverable; the server aborts startup and
// the process exits non-zero.
func (f *Feature) Start(ctx context.Context) error {
	if err := f.walLog.Open(ctx); err != nil {
		log.Error("unable to finish write ahead log recovery procedure")
		return err
	}

	if f.upgradeCheck {
		if err := f.upgradeDatabase(ctx); err != nil {
			return err
		}
	}

	if f.upgrade {
		f.srv.SetResult(ExitSuccess)
		log.Info("database upgrade passed")
		f.srv.BeginShutdown()
	}
	return nil
}

// upgradeDatabase is the sweep: one global, non-embeddable context on the
// system database, then the procedure once per known database, in sandbox
// isolation with the upgrade flag injected. Fail-fast: the first failing
// database aborts the sweep, remaining databases are not attempted.
func (f *Feature) upgradeDatabase(ctx context.Context) error {
	log.Debug("starting database init/upgrade")

	registry := f.dbFeature.Registry()
	systemDB, err := registry.SystemDatabase()
	if err != nil {
		return err
	}

	procedure := f.procedure
	if procedure == nil {
		procedure, err = NewProcedure(registry)
		if err != nil {
			return vellum.Error{
				Code: vellum.SandboxFailure,
				Err:  err,
			}
		}
	}

	h, err := f.sb.Enter(ctx, f.scope, systemDB, false, true)
	if err != nil {
		return vellum.Error{
			Code: vellum.SandboxFailure,
			Err:  err,
		}
	}
	defer f.sb.Exit(h)
	h.Context().MakeGlobal()
	h.SetVariable("upgrade", f.upgrade)

	for _, db := range registry.Snapshot() {
		outcome, err := h.Run(ctx, procedure, db)
		if outcome == sandbox.OutcomeStartedSucceeded {
			log.Debug(fmt.Sprintf("database '%s' init/upgrade done", db.Name()))
			continue
		}
		return f.fatalOutcome(db, outcome, err)
	}

	log.Debug("finished database init/upgrade")
	return nil
}

// fatalOutcome maps a failed procedure invocation to its fatal error shape and
// operator-facing message.
func (f *Feature) fatalOutcome(db *database.Database, outcome sandbox.Outcome, err error) error {
	var verr vellum.Error
	if errors.As(err, &verr) && verr.Code == vellum.SandboxFailure {
		log.Error(fmt.Sprintf("procedure engine error during server start, details: %v", err))
		return verr
	}

	switch outcome {
	case sandbox.OutcomeStartedFailed:
		var msg string
		if f.upgrade {
			msg = fmt.Sprintf("Database '%s' upgrade failed. Please inspect the logs from the upgrade procedure", db.Name())
		} else {
			msg = fmt.Sprintf("Database '%s' upgrade check failed. Please inspect the logs from the upgrade procedure", db.Name())
		}
		log.Error(msg)
		cause := errors.New(msg)
		if err != nil {
			cause = fmt.Errorf("%s, details: %w", msg, err)
		}
		return vellum.Error{
			Code: vellum.ProcedureFailure,
			Err:  cause,
		}
	default:
		// Never started: the procedure's precondition check stopped it.
		if !f.upgrade {
			msg := fmt.Sprintf("Database '%s' needs upgrade. Please start the server with the --database.upgrade option", db.Name())
			log.Error(msg)
			return vellum.Error{
				Code: vellum.PreconditionFailure,
				Err:  errors.New(msg),
			}
		}
		msg := fmt.Sprintf("Database '%s' upgrade failed", db.Name())
		log.Error(msg)
		return vellum.Error{
			Code: vellum.ProcedureFailure,
			Err:  errors.New(msg),
		}
	}
}

// IsUpgradeRequested reports whether --database.upgrade was set.
func (f *Feature) IsUpgradeRequested() bool {
	return f.upgrade
}
