package database

import (
	"context"
	"fmt"
	log "log/slog"
	"path/filepath"

	"github.com/spf13/pflag"

	"github.com/vellumdb/vellum"
)

// FeatureName is the name the database feature registers under.
const FeatureName = "Database"

// Feature opens the catalog and loads the database registry at startup.
type Feature struct {
	directory string
	cache     vellum.Cache
	catalog   Catalog
	registry  *Registry
}

// NewFeature creates the database feature. cache may be nil (no shared cache
// tier). A catalog may be injected via SetCatalog, e.g. the Cassandra one;
// otherwise a file catalog under the data directory is used.
func NewFeature(cache vellum.Cache) *Feature {
	return &Feature{
		cache: cache,
	}
}

// SetCatalog overrides the default file catalog. Call before Start.
func (f *Feature) SetCatalog(c Catalog) {
	f.catalog = c
}

func (f *Feature) Name() string {
	return FeatureName
}

func (f *Feature) StartsAfter() []string {
	return nil
}

func (f *Feature) CollectOptions(flags *pflag.FlagSet) {
	flags.StringVar(&f.directory, "database.directory", "./vellum-data",
		"directory holding the catalog and write ahead log")
}

func (f *Feature) ValidateOptions() error {
	if f.directory == "" {
		return fmt.Errorf("'--database.directory' can't be empty")
	}
	return nil
}

func (f *Feature) Start(ctx context.Context) error {
	if f.catalog == nil {
		c, err := NewFileCatalog(filepath.Join(f.directory, "catalog"))
		if err != nil {
			return err
		}
		f.catalog = c
	}
	f.registry = NewRegistry(f.catalog, f.cache)
	if err := f.registry.Load(ctx); err != nil {
		return err
	}
	log.Info(fmt.Sprintf("database registry loaded, %d database(s)", len(f.registry.Snapshot())))
	return nil
}

// Registry returns the loaded registry. Valid after Start.
func (f *Feature) Registry() *Registry {
	return f.registry
}

// Directory returns the configured data directory.
func (f *Feature) Directory() string {
	return f.directory
}
