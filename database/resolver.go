package database

import (
	"context"
	"fmt"
	log "log/slog"
	"time"

	"github.com/vellumdb/vellum"
)

var resolverCacheDuration = time.Duration(1 * time.Hour)

// SetResolverCacheDuration allows the shared-cache TTL for resolved collection
// sets to get set globally.
func SetResolverCacheDuration(duration time.Duration) {
	if duration < time.Minute {
		duration = time.Duration(1 * time.Hour)
	}
	resolverCacheDuration = duration
}

func resolverCacheKey(dbID vellum.UUID) string {
	return "vlm_nr_" + dbID.String()
}

// NameResolver maps collection names to internal handles (and back) for one
// database. A transaction context orders one resolver and keeps it for the
// context's lifetime. A resolver is owned by exactly one execution unit at a
// time, so its memo maps need no locking.
type NameResolver struct {
	db     *Database
	l2     vellum.Cache
	byName map[string]Collection
	byID   map[vellum.UUID]string
}

func newNameResolver(db *Database, l2 vellum.Cache) *NameResolver {
	return &NameResolver{
		db:     db,
		l2:     l2,
		byName: make(map[string]Collection),
		byID:   make(map[vellum.UUID]string),
	}
}

// Database returns the database this resolver is bound to.
func (r *NameResolver) Database() *Database {
	return r.db
}

// ResolveCollection maps a collection name to its handle, consulting the memo,
// then the shared cache, then the database itself.
func (r *NameResolver) ResolveCollection(ctx context.Context, name string) (Collection, error) {
	if c, ok := r.byName[name]; ok {
		return c, nil
	}
	if c, ok := r.fromSharedCache(ctx, name); ok {
		r.memoize(c)
		return c, nil
	}
	c, ok := r.db.Collection(name)
	if !ok {
		return Collection{}, fmt.Errorf("collection '%s' not found in database '%s'", name, r.db.Name())
	}
	r.memoize(c)
	r.seedSharedCache(ctx)
	return c, nil
}

// CollectionNameByID maps a collection handle back to its name. Used by the
// custom type handler to render document IDs.
func (r *NameResolver) CollectionNameByID(ctx context.Context, id vellum.UUID) (string, error) {
	if name, ok := r.byID[id]; ok {
		return name, nil
	}
	rec := r.db.record()
	for _, c := range rec.Collections {
		if c.ID.Compare(id) == 0 {
			r.memoize(c)
			return c.Name, nil
		}
	}
	return "", fmt.Errorf("collection with handle %s not found in database '%s'", id.String(), r.db.Name())
}

func (r *NameResolver) memoize(c Collection) {
	r.byName[c.Name] = c
	r.byID[c.ID] = c.Name
}

// fromSharedCache consults the L2 cache for the database's collection set.
// Cache failures are tolerated; the resolver just falls through to the database.
func (r *NameResolver) fromSharedCache(ctx context.Context, name string) (Collection, bool) {
	if r.l2 == nil {
		return Collection{}, false
	}
	var rec Record
	found, err := r.l2.GetStruct(ctx, resolverCacheKey(r.db.ID()), &rec)
	if err != nil {
		log.Error(fmt.Sprintf("name resolver (cache getstruct) failed, details: %v", err))
		return Collection{}, false
	}
	if !found {
		return Collection{}, false
	}
	for _, c := range rec.Collections {
		if c.Name == name {
			return c, true
		}
	}
	return Collection{}, false
}

func (r *NameResolver) seedSharedCache(ctx context.Context) {
	if r.l2 == nil {
		return
	}
	if err := r.l2.SetStruct(ctx, resolverCacheKey(r.db.ID()), r.db.record(), resolverCacheDuration); err != nil {
		log.Error(fmt.Sprintf("name resolver (cache setstruct) failed, details: %v", err))
	}
}
