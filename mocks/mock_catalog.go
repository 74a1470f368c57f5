package mocks

import (
	"context"
	"sync"

	"github.com/vellumdb/vellum/database"
)

type mockCatalog struct {
	mu      sync.Mutex
	records map[string]database.Record
}

// NewCatalog returns an in-memory database catalog.
func NewCatalog() database.Catalog {
	return &mockCatalog{
		records: make(map[string]database.Record),
	}
}

func (c *mockCatalog) Load(ctx context.Context) ([]database.Record, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	recs := make([]database.Record, 0, len(c.records))
	for _, rec := range c.records {
		recs = append(recs, rec)
	}
	return recs, nil
}

func (c *mockCatalog) Save(ctx context.Context, rec database.Record) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records[rec.Name] = rec
	return nil
}

func (c *mockCatalog) Remove(ctx context.Context, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.records, name)
	return nil
}
