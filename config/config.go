// Package config holds the server's TOML configuration file support. Command
// line options override whatever the file sets.
package config

import (
	"github.com/BurntSushi/toml"
)

// Config is the top level structure of the vellumd TOML config file.
type Config struct {
	LogLevel string `toml:"log-level"`

	Database  DatabaseConfig  `toml:"database"`
	HTTP      HTTPConfig      `toml:"http"`
	Redis     RedisConfig     `toml:"redis"`
	Cassandra CassandraConfig `toml:"cassandra"`
	WAL       WALConfig       `toml:"wal"`
	S3        S3Config        `toml:"s3"`
}

type DatabaseConfig struct {
	Directory string `toml:"directory"`
}

type HTTPConfig struct {
	Endpoint string `toml:"endpoint"`
}

type RedisConfig struct {
	// Enabled turns the shared L2 cache tier on.
	Enabled  bool   `toml:"enabled"`
	Address  string `toml:"address"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
}

type CassandraConfig struct {
	// Enabled switches the catalog from the filesystem to Cassandra.
	Enabled      bool     `toml:"enabled"`
	ClusterHosts []string `toml:"cluster-hosts"`
	Keyspace     string   `toml:"keyspace"`
}

type WALConfig struct {
	// SegmentMaxSize caps an active segment's size in bytes before rotation.
	SegmentMaxSize int `toml:"segment-max-size"`
	// ArchiveFolders are the erasure shard folders, ideally across drives.
	// Empty means closed segments are not archived.
	ArchiveFolders []string `toml:"archive-folders"`
	// DataShardsCount is the erasure data shard count; parity is
	// len(ArchiveFolders) minus this.
	DataShardsCount int `toml:"data-shards-count"`
}

type S3Config struct {
	// Enabled switches segment archival from erasure folders to S3.
	Enabled         bool   `toml:"enabled"`
	HostEndpointUrl string `toml:"host-endpoint-url"`
	Region          string `toml:"region"`
	Username        string `toml:"username"`
	Password        string `toml:"password"`
	Bucket          string `toml:"bucket"`
}

// Default returns the configuration used when no config file is given.
func Default() Config {
	return Config{
		LogLevel: "info",
		Database: DatabaseConfig{
			Directory: "./vellum-data",
		},
		HTTP: HTTPConfig{
			Endpoint: "localhost:8080",
		},
		Redis: RedisConfig{
			Address: "localhost:6379",
		},
		Cassandra: CassandraConfig{
			Keyspace: "vellum",
		},
	}
}

// LoadFile decodes a TOML config file over the defaults.
func LoadFile(path string) (Config, error) {
	c := Default()
	if path == "" {
		return c, nil
	}
	if _, err := toml.DecodeFile(path, &c); err != nil {
		return c, err
	}
	return c, nil
}
