// Package database contains the database registry, the per-database collection
// catalog and name resolution for the Vellum document database.
package database

import (
	"fmt"
	"sync"

	"github.com/vellumdb/vellum"
)

// SystemDatabaseName is the name of the system database every server owns.
const SystemDatabaseName = "_system"

// CurrentVersion is the on-disk format version this build writes. Databases
// created by this build are born at CurrentVersion; only records loaded from an
// older installation sit behind it and need the upgrade procedure.
const CurrentVersion = 3

// Collection describes one collection of a database.
type Collection struct {
	// ID is the internal handle of the collection.
	ID vellum.UUID `json:"id"`
	// Name is the collection name, unique within its database.
	Name string `json:"name"`
}

// Database is one database hosted by the server. Transaction contexts reference
// a database but never own it; the registry controls database lifetime.
type Database struct {
	id     vellum.UUID
	name   string
	system bool

	// version is the on-disk format version, bumped by upgrade tasks.
	version int

	mu          sync.RWMutex
	collections map[string]Collection

	registry *Registry
}

func newDatabase(r *Registry, rec Record) *Database {
	db := &Database{
		id:          rec.ID,
		name:        rec.Name,
		system:      rec.System,
		version:     rec.Version,
		collections: make(map[string]Collection, len(rec.Collections)),
		registry:    r,
	}
	for _, c := range rec.Collections {
		db.collections[c.Name] = c
	}
	return db
}

// ID returns the database's internal handle.
func (db *Database) ID() vellum.UUID {
	return db.id
}

// Name returns the database name.
func (db *Database) Name() string {
	return db.name
}

// IsSystem reports whether this is the system database.
func (db *Database) IsSystem() bool {
	return db.system
}

// Version returns the database's on-disk format version.
func (db *Database) Version() int {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.version
}

// SetVersion records a new on-disk format version. Persisting the new version
// to the catalog is the caller's job (see Registry.Persist).
func (db *Database) SetVersion(version int) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.version = version
}

// Collection looks up a collection by name.
func (db *Database) Collection(name string) (Collection, bool) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	c, ok := db.collections[name]
	return c, ok
}

// AddCollection registers a new collection. Fails if the name is taken.
func (db *Database) AddCollection(name string) (Collection, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if _, ok := db.collections[name]; ok {
		return Collection{}, fmt.Errorf("collection '%s' already exists in database '%s'", name, db.name)
	}
	c := Collection{
		ID:   vellum.NewUUID(),
		Name: name,
	}
	db.collections[name] = c
	return c, nil
}

// record snapshots the database into its catalog representation.
func (db *Database) record() Record {
	db.mu.RLock()
	defer db.mu.RUnlock()
	rec := Record{
		ID:      db.id,
		Name:    db.name,
		System:  db.system,
		Version: db.version,
	}
	rec.Collections = make([]Collection, 0, len(db.collections))
	for _, c := range db.collections {
		rec.Collections = append(rec.Collections, c)
	}
	return rec
}

// NewResolver returns a name resolver bound to this database, backed by the
// registry's shared cache. Each transaction context orders its own resolver
// and caches it for the context's lifetime.
func (db *Database) NewResolver() *NameResolver {
	var l2 vellum.Cache
	if db.registry != nil {
		l2 = db.registry.cache
	}
	return newNameResolver(db, l2)
}
