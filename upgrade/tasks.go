package upgrade

import (
	"context"
	"fmt"
	log "log/slog"

	"github.com/vellumdb/vellum"
	"github.com/vellumdb/vellum/cel"
	"github.com/vellumdb/vellum/database"
	"github.com/vellumdb/vellum/sandbox"
)

// TargetVersion is the on-disk format version the sweep brings databases to.
// Databases at an older version need the upgrade tasks below before the server
// may serve them.
const TargetVersion = database.CurrentVersion

// Task is one upgrade step. Its CEL condition decides applicability per
// database, evaluated against the variables injected into the sandbox run.
type Task struct {
	Name      string
	Condition string
	Run       func(ctx context.Context, db *database.Database) error
}

// defaultTasks brings a database from any older format version to
// TargetVersion.
func defaultTasks() []Task {
	return []Task{
		{
			Name:      "setupSystemCollections",
			Condition: "isSystem && currentVersion < targetVersion",
			Run: func(ctx context.Context, db *database.Database) error {
				for _, name := range []string{"_users", "_jobs", "_queues"} {
					if _, ok := db.Collection(name); ok {
						continue
					}
					if _, err := db.AddCollection(name); err != nil {
						return err
					}
				}
				return nil
			},
		},
		{
			Name:      "createAppsCollection",
			Condition: "currentVersion < 2",
			Run: func(ctx context.Context, db *database.Database) error {
				if _, ok := db.Collection("_apps"); ok {
					return nil
				}
				_, err := db.AddCollection("_apps")
				return err
			},
		},
	}
}

type compiledTask struct {
	task      Task
	evaluator *cel.Evaluator
}

// Procedure is the default upgrade procedure: evaluate every task's condition,
// run the applicable ones, then bump and persist the database's version.
type Procedure struct {
	registry *database.Registry
	tasks    []compiledTask
}

var _ sandbox.Procedure = (*Procedure)(nil)

// NewProcedure compiles the built-in task list against the registry.
func NewProcedure(registry *database.Registry) (*Procedure, error) {
	return NewProcedureWithTasks(registry, defaultTasks())
}

// NewProcedureWithTasks compiles a custom task list.
func NewProcedureWithTasks(registry *database.Registry, tasks []Task) (*Procedure, error) {
	p := &Procedure{
		registry: registry,
	}
	for _, t := range tasks {
		e, err := cel.NewEvaluator(t.Name, t.Condition)
		if err != nil {
			return nil, fmt.Errorf("task '%s' has an invalid condition, details: %v", t.Name, err)
		}
		p.tasks = append(p.tasks, compiledTask{
			task:      t,
			evaluator: e,
		})
	}
	return p, nil
}

func (p *Procedure) Name() string {
	return "upgrade-database"
}

// Run checks whether db needs work, and does it when the run is an upgrade.
// Precondition: a database behind TargetVersion is only touched when the
// upgrade flag was injected; otherwise the procedure reports it never started.
func (p *Procedure) Run(ctx context.Context, h *sandbox.Handle, db *database.Database) (sandbox.Outcome, error) {
	vars := make(map[string]any, len(h.Variables())+4)
	for k, v := range h.Variables() {
		vars[k] = v
	}
	vars["database"] = db.Name()
	vars["isSystem"] = db.IsSystem()
	vars["currentVersion"] = db.Version()
	vars["targetVersion"] = TargetVersion

	upgradeRequested, _ := vars["upgrade"].(bool)

	if db.Version() >= TargetVersion {
		// Nothing to do; the check passes.
		return sandbox.OutcomeStartedSucceeded, nil
	}
	if !upgradeRequested {
		return sandbox.OutcomeNotStarted, nil
	}

	// Evaluate all conditions before touching the database, so an engine
	// failure surfaces as "never started".
	applicable := make([]Task, 0, len(p.tasks))
	for _, ct := range p.tasks {
		ok, err := ct.evaluator.Evaluate(vars)
		if err != nil {
			return sandbox.OutcomeNotStarted, vellum.Error{
				Code: vellum.SandboxFailure,
				Err:  fmt.Errorf("condition of task '%s' failed to evaluate, details: %v", ct.task.Name, err),
			}
		}
		if ok {
			applicable = append(applicable, ct.task)
		}
	}

	for _, t := range applicable {
		log.Debug(fmt.Sprintf("running upgrade task '%s' on database '%s'", t.Name, db.Name()))
		if err := t.Run(ctx, db); err != nil {
			return sandbox.OutcomeStartedFailed, vellum.Error{
				Code: vellum.ProcedureFailure,
				Err:  fmt.Errorf("task '%s' failed on database '%s', details: %w", t.Name, db.Name(), err),
			}
		}
	}

	db.SetVersion(TargetVersion)
	if err := p.registry.Persist(ctx, db); err != nil {
		return sandbox.OutcomeStartedFailed, vellum.Error{
			Code: vellum.ProcedureFailure,
			Err:  fmt.Errorf("persisting version of database '%s' failed, details: %w", db.Name(), err),
		}
	}
	return sandbox.OutcomeStartedSucceeded, nil
}
