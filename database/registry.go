package database

import (
	"context"
	"fmt"
	log "log/slog"
	"sync"

	"github.com/vellumdb/vellum"
)

// Registry is the set of databases known to the server. It guards enumeration
// against concurrent database creation/deletion: sweeps iterate over a stable
// Snapshot, never over live internal state.
type Registry struct {
	mu      sync.RWMutex
	byName  map[string]*Database
	catalog Catalog
	cache   vellum.Cache
}

// NewRegistry instantiates a registry over the given catalog and shared cache.
// cache may be nil; name resolution then skips the shared cache tier.
func NewRegistry(catalog Catalog, cache vellum.Cache) *Registry {
	return &Registry{
		byName:  make(map[string]*Database),
		catalog: catalog,
		cache:   cache,
	}
}

// Load reads all database records from the catalog, creating the system
// database record if the catalog has none yet.
func (r *Registry) Load(ctx context.Context) error {
	recs, err := r.catalog.Load(ctx)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	hasSystem := false
	for _, rec := range recs {
		r.byName[rec.Name] = newDatabase(r, rec)
		if rec.System {
			hasSystem = true
		}
	}
	if !hasSystem {
		// First boot on an empty catalog: the system database is born at the
		// current format version, so the startup check passes without an
		// upgrade run.
		rec := Record{
			ID:      vellum.NewUUID(),
			Name:    SystemDatabaseName,
			System:  true,
			Version: CurrentVersion,
		}
		if err := r.catalog.Save(ctx, rec); err != nil {
			return err
		}
		r.byName[rec.Name] = newDatabase(r, rec)
	}
	return nil
}

// Database looks up a database by name.
func (r *Registry) Database(name string) (*Database, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	db, ok := r.byName[name]
	return db, ok
}

// SystemDatabase returns the system database.
func (r *Registry) SystemDatabase() (*Database, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, db := range r.byName {
		if db.system {
			return db, nil
		}
	}
	return nil, fmt.Errorf("no system database registered, 'call Load first")
}

// Snapshot returns a stable list of the currently known databases. Callers
// iterate over the returned slice; databases created or dropped during the
// iteration don't affect it.
func (r *Registry) Snapshot() []*Database {
	r.mu.RLock()
	defer r.mu.RUnlock()
	dbs := make([]*Database, 0, len(r.byName))
	for _, db := range r.byName {
		dbs = append(dbs, db)
	}
	return dbs
}

// Create adds a new database and persists it to the catalog.
func (r *Registry) Create(ctx context.Context, name string) (*Database, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byName[name]; ok {
		return nil, fmt.Errorf("database '%s' already exists", name)
	}
	rec := Record{
		ID:      vellum.NewUUID(),
		Name:    name,
		Version: CurrentVersion,
	}
	if err := r.catalog.Save(ctx, rec); err != nil {
		return nil, err
	}
	db := newDatabase(r, rec)
	r.byName[name] = db
	return db, nil
}

// Drop removes a database from the registry and the catalog.
func (r *Registry) Drop(ctx context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	db, ok := r.byName[name]
	if !ok {
		return fmt.Errorf("database '%s' does not exist", name)
	}
	if db.system {
		return fmt.Errorf("can't drop the system database")
	}
	if err := r.catalog.Remove(ctx, name); err != nil {
		return err
	}
	delete(r.byName, name)
	return nil
}

// Persist writes a database's current state back to the catalog and drops any
// stale shared-cache entries for it. Cache failures are tolerated.
func (r *Registry) Persist(ctx context.Context, db *Database) error {
	if err := r.catalog.Save(ctx, db.record()); err != nil {
		return err
	}
	if r.cache != nil {
		if _, err := r.cache.Delete(ctx, []string{resolverCacheKey(db.id)}); err != nil {
			log.Error(fmt.Sprintf("registry persist (cache delete) failed, details: %v", err))
		}
	}
	return nil
}
