// Package cluster holds the cluster participation feature. Clustering itself
// is handled elsewhere; this feature only announces participation at startup
// and exists so bootstrap procedures (e.g. upgrade) can keep it down.
package cluster

import (
	"context"
	"fmt"
	log "log/slog"

	"github.com/spf13/pflag"

	"github.com/vellumdb/vellum/database"
)

// FeatureName is the name the feature registers under.
const FeatureName = "Cluster"

type Feature struct {
	endpoints []string
	active    bool
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
	flags.StringSliceVar(&f.endpoints, "cluster.endpoints", nil,
		"coordination endpoints; empty runs the server standalone")
}

func (f *Feature) ValidateOptions() error {
	return nil
}

func (f *Feature) Start(ctx context.Context) error {
	if len(f.endpoints) == 0 {
		log.Debug("no cluster endpoints configured, running standalone")
		return nil
	}
	f.active = true
	log.Info(fmt.Sprintf("joining cluster via %d endpoint(s)", len(f.endpoints)))
	return nil
}

// IsActive reports whether the server participates in a cluster.
func (f *Feature) IsActive() bool {
	return f.active
}
