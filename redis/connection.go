// Package redis provides the clustered L2 cache backend used by the catalog
// and the name resolvers.
package redis

import (
	"crypto/tls"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Options configure the Redis connection.
type Options struct {
	// Address of the Redis server or cluster.
	Address string
	// Password required when connecting.
	Password string
	// DB number to select.
	DB int
	// Optional TLS config.
	TLSConfig *tls.Config
}

// Connection wraps the Redis client together with the Options it was opened with.
type Connection struct {
	Client  *redis.Client
	Options Options
}

func DefaultOptions() Options {
	return Options{
		Address: "localhost:6379",
		DB:      0,
	}
}

var connection *Connection
var mux sync.Mutex

// IsConnectionInstantiated returns true if the singleton connection is open.
func IsConnectionInstantiated() bool {
	return connection != nil
}

// OpenConnection creates the process-wide singleton connection, or returns the
// already open one.
func OpenConnection(options Options) (*Connection, error) {
	if connection != nil {
		return connection, nil
	}
	mux.Lock()
	defer mux.Unlock()

	if connection != nil {
		return connection, nil
	}

	client := redis.NewClient(&redis.Options{
		TLSConfig: options.TLSConfig,
		Addr:      options.Address,
		Password:  options.Password,
		DB:        options.DB,
	})
	connection = &Connection{
		Client:  client,
		Options: options,
	}
	return connection, nil
}

// CloseConnection closes the singleton connection if open.
func CloseConnection() error {
	if connection == nil {
		return nil
	}
	mux.Lock()
	defer mux.Unlock()
	if connection == nil {
		return nil
	}
	err := connection.Client.Close()
	connection = nil
	return err
}
