package database

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/vellumdb/vellum"
	"github.com/vellumdb/vellum/encoding"
)

// Record describes one database as persisted in the catalog.
type Record struct {
	ID          vellum.UUID  `json:"id"`
	Name        string       `json:"name"`
	System      bool         `json:"system"`
	Version     int          `json:"version"`
	Collections []Collection `json:"collections,omitempty"`
}

// Catalog persists the set of databases known to the server. The filesystem
// implementation below suits standalone deployments; the cassandra package
// provides the clustered one.
type Catalog interface {
	// Load returns all database records in the catalog.
	Load(ctx context.Context) ([]Record, error)
	// Save adds or overwrites one database record.
	Save(ctx context.Context, rec Record) error
	// Remove deletes one database record by name.
	Remove(ctx context.Context, name string) error
}

type fileCatalog struct {
	folder string
}

// NewFileCatalog returns a Catalog that stores one JSON file per database
// under the given folder, creating the folder if needed.
func NewFileCatalog(folder string) (Catalog, error) {
	if folder == "" {
		return nil, fmt.Errorf("folder can't be empty string")
	}
	if err := os.MkdirAll(folder, 0o755); err != nil {
		return nil, err
	}
	return &fileCatalog{
		folder: folder,
	}, nil
}

func (c *fileCatalog) Load(ctx context.Context) ([]Record, error) {
	entries, err := os.ReadDir(c.folder)
	if err != nil {
		return nil, err
	}
	var recs []Record
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		ba, err := os.ReadFile(filepath.Join(c.folder, e.Name()))
		if err != nil {
			return nil, err
		}
		var rec Record
		if err := encoding.DefaultMarshaler.Unmarshal(ba, &rec); err != nil {
			return nil, fmt.Errorf("catalog file %s is corrupt, details: %v", e.Name(), err)
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

func (c *fileCatalog) Save(ctx context.Context, rec Record) error {
	ba, err := encoding.DefaultMarshaler.Marshal(rec)
	if err != nil {
		return err
	}
	fn := filepath.Join(c.folder, rec.Name+".json")
	// Write to a temp file then rename so a crashed write can't corrupt the record.
	tmp := fn + ".tmp"
	if err := os.WriteFile(tmp, ba, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, fn)
}

func (c *fileCatalog) Remove(ctx context.Context, name string) error {
	return os.Remove(filepath.Join(c.folder, name+".json"))
}
