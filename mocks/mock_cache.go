// Package mocks contains in-memory fakes usable in tests, keeping unit tests
// free of Redis and Cassandra servers.
package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/vellumdb/vellum"
	"github.com/vellumdb/vellum/encoding"
)

type mockCache struct {
	mu     sync.Mutex
	lookup map[string][]byte
}

// NewCache returns an in-memory cache. Expirations are ignored.
func NewCache() vellum.Cache {
	return &mockCache{
		lookup: make(map[string][]byte),
	}
}

func (m *mockCache) Set(ctx context.Context, key string, value string, expiration time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lookup[key] = []byte(value)
	return nil
}

func (m *mockCache) Get(ctx context.Context, key string) (bool, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ba, ok := m.lookup[key]
	if !ok {
		return false, "", nil
	}
	return true, string(ba), nil
}

func (m *mockCache) SetStruct(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	ba, err := encoding.DefaultMarshaler.Marshal(value)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lookup[key] = ba
	return nil
}

func (m *mockCache) GetStruct(ctx context.Context, key string, target interface{}) (bool, error) {
	m.mu.Lock()
	ba, ok := m.lookup[key]
	m.mu.Unlock()
	if !ok {
		return false, nil
	}
	if err := encoding.DefaultMarshaler.Unmarshal(ba, target); err != nil {
		return false, err
	}
	return true, nil
}

func (m *mockCache) Delete(ctx context.Context, keys []string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	found := false
	for _, k := range keys {
		if _, ok := m.lookup[k]; ok {
			found = true
			delete(m.lookup, k)
		}
	}
	return found, nil
}

func (m *mockCache) Ping(ctx context.Context) error {
	return nil
}
