package cassandra

import (
	"context"
	"fmt"
	log "log/slog"
	"time"

	"github.com/gocql/gocql"

	"github.com/vellumdb/vellum"
	"github.com/vellumdb/vellum/database"
	"github.com/vellumdb/vellum/encoding"
)

// catalogCacheDuration bounds how long a cached catalog record stays valid.
const catalogCacheDuration = time.Duration(10 * time.Minute)

type catalog struct {
	cache vellum.Cache
}

// NewCatalog manages database records in the Cassandra catalog table. Passing
// in nil for the cache skips the best-effort record caching.
func NewCatalog(cache vellum.Cache) database.Catalog {
	return &catalog{
		cache: cache,
	}
}

// Load reads all database records from the catalog table.
func (c *catalog) Load(ctx context.Context) ([]database.Record, error) {
	if connection == nil {
		return nil, fmt.Errorf("cassandra connection is closed; call OpenConnection(config) to open it")
	}
	selectStatement := fmt.Sprintf("SELECT name, id, is_sys, ver, colls FROM %s.catalog;", connection.Config.Keyspace)
	qry := connection.Session.Query(selectStatement).WithContext(ctx)
	if connection.Config.ConsistencyBook.CatalogLoad > gocql.Any {
		qry.Consistency(connection.Config.ConsistencyBook.CatalogLoad)
	}

	var recs []database.Record
	iter := qry.Iter()
	var (
		name  string
		id    gocql.UUID
		isSys bool
		ver   int
		colls []byte
	)
	for iter.Scan(&name, &id, &isSys, &ver, &colls) {
		rec := database.Record{
			ID:      vellum.UUID(id),
			Name:    name,
			System:  isSys,
			Version: ver,
		}
		if len(colls) > 0 {
			if err := encoding.DefaultMarshaler.Unmarshal(colls, &rec.Collections); err != nil {
				return nil, fmt.Errorf("catalog record '%s' is corrupt, details: %v", name, err)
			}
		}
		recs = append(recs, rec)
	}
	if err := iter.Close(); err != nil {
		return nil, err
	}
	return recs, nil
}

// Save upserts one database record. The record is also written to the cache
// for faster subsequent reads (best-effort cache update).
func (c *catalog) Save(ctx context.Context, rec database.Record) error {
	if connection == nil {
		return fmt.Errorf("cassandra connection is closed; call OpenConnection(config) to open it")
	}
	colls, err := encoding.DefaultMarshaler.Marshal(rec.Collections)
	if err != nil {
		return err
	}
	insertStatement := fmt.Sprintf("INSERT INTO %s.catalog (name, id, is_sys, ver, colls) VALUES(?,?,?,?,?);", connection.Config.Keyspace)
	qry := connection.Session.Query(insertStatement, rec.Name, gocql.UUID(rec.ID), rec.System, rec.Version, colls).WithContext(ctx)
	if connection.Config.ConsistencyBook.CatalogSave > gocql.Any {
		qry.Consistency(connection.Config.ConsistencyBook.CatalogSave)
	}
	if err := qry.Exec(); err != nil {
		return err
	}
	// Tolerate error in cache update.
	if c.cache != nil {
		if err := c.cache.SetStruct(ctx, rec.Name, &rec, catalogCacheDuration); err != nil {
			log.Warn(fmt.Sprintf("Catalog Save failed (cache setstruct), details: %v", err))
		}
	}
	return nil
}

// Remove deletes one database record by name.
func (c *catalog) Remove(ctx context.Context, name string) error {
	if connection == nil {
		return fmt.Errorf("cassandra connection is closed; call OpenConnection(config) to open it")
	}
	deleteStatement := fmt.Sprintf("DELETE FROM %s.catalog WHERE name = ?;", connection.Config.Keyspace)
	qry := connection.Session.Query(deleteStatement, name).WithContext(ctx)
	if connection.Config.ConsistencyBook.CatalogRemove > gocql.Any {
		qry.Consistency(connection.Config.ConsistencyBook.CatalogRemove)
	}
	if err := qry.Exec(); err != nil {
		return err
	}
	if c.cache != nil {
		if found, err := c.cache.Delete(ctx, []string{name}); !found || err != nil {
			log.Warn(fmt.Sprintf("Catalog Remove failed (cache delete), details: %v", err))
		}
	}
	return nil
}
