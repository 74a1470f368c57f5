package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vellumdb/vellum"
	"github.com/vellumdb/vellum/encoding"
)

type client struct {
	conn *Connection
}

// NewClient returns a cache over the singleton connection. OpenConnection has
// to be called beforehand, otherwise every cache call fails.
func NewClient() vellum.Cache {
	return &client{
		conn: connection,
	}
}

// keyNotFound detects whether error signifies key not found by Redis.
func (c client) keyNotFound(err error) bool {
	return err == redis.Nil
}

// Ping tests connectivity (PONG should come back).
func (c client) Ping(ctx context.Context) error {
	if c.conn == nil {
		return fmt.Errorf("Redis connection is not open, can't ping")
	}
	return c.conn.Client.Ping(ctx).Err()
}

// Set executes the redis Set command.
func (c client) Set(ctx context.Context, key string, value string, expiration time.Duration) error {
	if c.conn == nil {
		return fmt.Errorf("Redis connection is not open, can't create new client")
	}
	// No caching if expiration < 0.
	if expiration < 0 {
		return nil
	}
	return c.conn.Client.Set(ctx, key, value, expiration).Err()
}

// Get executes the redis Get command.
func (c client) Get(ctx context.Context, key string) (bool, string, error) {
	if c.conn == nil {
		return false, "", fmt.Errorf("Redis connection is not open, can't create new client")
	}
	s, err := c.conn.Client.Get(ctx, key).Result()
	// Convert key not found into returning false and nil err.
	r := err == nil
	if c.keyNotFound(err) {
		err = nil
	}
	return r, s, err
}

// SetStruct marshals value then executes the redis Set command.
func (c client) SetStruct(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	if c.conn == nil {
		return fmt.Errorf("Redis connection is not open, can't create new client")
	}
	if expiration < 0 {
		return nil
	}
	ba, err := encoding.DefaultMarshaler.Marshal(value)
	if err != nil {
		return err
	}
	return c.conn.Client.Set(ctx, key, ba, expiration).Err()
}

// GetStruct executes the redis Get command and unmarshals into target.
func (c client) GetStruct(ctx context.Context, key string, target interface{}) (bool, error) {
	if c.conn == nil {
		return false, fmt.Errorf("Redis connection is not open, can't create new client")
	}
	if target == nil {
		return false, fmt.Errorf("target can't be nil")
	}
	ba, err := c.conn.Client.Get(ctx, key).Bytes()
	if err == nil {
		err = encoding.DefaultMarshaler.Unmarshal(ba, target)
	}
	r := err == nil
	if c.keyNotFound(err) {
		err = nil
	}
	return r, err
}

// Delete executes the redis Del command.
func (c client) Delete(ctx context.Context, keys []string) (bool, error) {
	if c.conn == nil {
		return false, fmt.Errorf("Redis connection is not open, can't create new client")
	}
	err := c.conn.Client.Del(ctx, keys...).Err()
	r := err == nil
	if c.keyNotFound(err) {
		err = nil
	}
	return r, err
}
