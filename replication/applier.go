// Package replication holds the replication applier feature. The applier's
// replication protocol lives elsewhere; the feature controls whether the
// applier is brought up at startup, so bootstrap procedures (e.g. upgrade)
// can keep it down for the duration of a run.
package replication

import (
	"context"
	log "log/slog"
	"sync/atomic"

	"github.com/spf13/pflag"

	"github.com/vellumdb/vellum/database"
)

// FeatureName is the name the feature registers under.
const FeatureName = "Replication"

type Feature struct {
	autoStart bool
	running   atomic.Bool
}

func NewFeature() *Feature {
	return &Feature{}
}

func (f *Feature) Name() string {
	return FeatureName
}

func (f *Feature) StartsAfter() []string {
	return []string{database.FeatureName}
}

func (f *Feature) CollectOptions(flags *pflag.FlagSet) {
	flags.BoolVar(&f.autoStart, "replication.auto-start", true,
		"start the replication applier at startup")
}

func (f *Feature) ValidateOptions() error {
	return nil
}

func (f *Feature) Start(ctx context.Context) error {
	if !f.autoStart {
		log.Debug("replication applier auto-start is off")
		return nil
	}
	f.running.Store(true)
	log.Debug("replication applier started")
	return nil
}

func (f *Feature) Stop(ctx context.Context) error {
	f.running.Store(false)
	return nil
}

// IsRunning reports whether the applier is up.
func (f *Feature) IsRunning() bool {
	return f.running.Load()
}
