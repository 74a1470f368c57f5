package vellum

import (
	"context"
	"time"
)

// Cache is the shared (L2) cache interface used for caching catalog and name
// resolution lookups across processes. The redis sub-package provides the
// clustered implementation, mocks provides an in-memory one for tests.
type Cache interface {
	// Set stores a string value under key with the given expiration.
	Set(ctx context.Context, key string, value string, expiration time.Duration) error
	// Get fetches a string value; first result is false when the key is not found.
	Get(ctx context.Context, key string) (bool, string, error)
	// SetStruct marshals value and stores it under key.
	SetStruct(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	// GetStruct fetches and unmarshals into target; first result is false when not found.
	GetStruct(ctx context.Context, key string, target interface{}) (bool, error)
	// Delete removes the given keys. Returns false if none of the keys were found.
	Delete(ctx context.Context, keys []string) (bool, error)
	// Ping tests connectivity to the cache backend.
	Ping(ctx context.Context) error
}
