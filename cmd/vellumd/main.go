// vellumd is the Vellum document database server.
package main

import (
	"context"
	"fmt"
	log "log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/vellumdb/vellum"
	"github.com/vellumdb/vellum/aws_s3"
	"github.com/vellumdb/vellum/cassandra"
	"github.com/vellumdb/vellum/cluster"
	"github.com/vellumdb/vellum/config"
	"github.com/vellumdb/vellum/database"
	"github.com/vellumdb/vellum/redis"
	"github.com/vellumdb/vellum/replication"
	"github.com/vellumdb/vellum/restapi"
	"github.com/vellumdb/vellum/sandbox"
	"github.com/vellumdb/vellum/server"
	"github.com/vellumdb/vellum/transaction"
	"github.com/vellumdb/vellum/upgrade"
	"github.com/vellumdb/vellum/wal"
)

func main() {
	vellum.ConfigureLogging()
	if err := run(); err != nil {
		log.Error(err.Error())
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadFile(configPathArg())
	if err != nil {
		return fmt.Errorf("can't read config file, details: %w", err)
	}
	applyLogLevel(cfg.LogLevel)

	var cache vellum.Cache
	if cfg.Redis.Enabled {
		if _, err := redis.OpenConnection(redis.Options{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}); err != nil {
			return err
		}
		defer redis.CloseConnection()
		cache = redis.NewClient()
	}

	dbFeature := database.NewFeature(cache)
	if cfg.Cassandra.Enabled {
		if _, err := cassandra.OpenConnection(cassandra.Config{
			ClusterHosts: cfg.Cassandra.ClusterHosts,
			Keyspace:     cfg.Cassandra.Keyspace,
		}); err != nil {
			return err
		}
		defer cassandra.CloseConnection()
		dbFeature.SetCatalog(cassandra.NewCatalog(cache))
	}

	archiver, err := newArchiver(cfg)
	if err != nil {
		return err
	}
	walLog := wal.NewManager("", archiver)
	if cfg.WAL.SegmentMaxSize > 0 {
		walLog.SetSegmentMaxSize(int64(cfg.WAL.SegmentMaxSize))
	}

	srv := server.New()
	scope := transaction.NewScope()
	sb := sandbox.New(8)
	upgradeFeature := upgrade.NewFeature(srv, dbFeature, walLog, sb, scope, nil)
	features := []server.Feature{
		dbFeature,
		cluster.NewFeature(),
		replication.NewFeature(),
		upgradeFeature,
		restapi.NewFeature(srv, dbFeature, upgradeFeature),
	}
	for _, f := range features {
		if err := srv.AddFeature(f); err != nil {
			return err
		}
	}

	flags := pflag.NewFlagSet("vellumd", pflag.ContinueOnError)
	flags.String("config", "", "TOML config file path")
	srv.CollectOptions(flags)
	if err := flags.Parse(os.Args[1:]); err != nil {
		return err
	}
	applyConfigDefaults(flags, cfg)
	walLog.SetFolder(filepath.Join(stringFlag(flags, "database.directory"), "wal"))

	if err := srv.ValidateOptions(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := srv.Start(ctx); err != nil {
		srv.Stop(ctx)
		return err
	}
	defer walLog.Close()

	if srv.IsShutdownRequested() {
		// E.g. an upgrade run: work is done, exit with the recorded result.
		srv.Stop(ctx)
		os.Exit(srv.Result())
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("shutting down")

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer stopCancel()
	return srv.Stop(stopCtx)
}

// configPathArg peeks at --config ahead of the real flag parse, so file values
// can become flag defaults before the features validate anything.
func configPathArg() string {
	args := os.Args[1:]
	for i, arg := range args {
		if arg == "--config" && i+1 < len(args) {
			return args[i+1]
		}
		if strings.HasPrefix(arg, "--config=") {
			return strings.TrimPrefix(arg, "--config=")
		}
	}
	return ""
}

// applyConfigDefaults writes config file values into flags the command line
// didn't set. Command line options win.
func applyConfigDefaults(flags *pflag.FlagSet, cfg config.Config) {
	set := func(name, value string) {
		if f := flags.Lookup(name); f != nil && !f.Changed && value != "" {
			flags.Set(name, value)
		}
	}
	set("database.directory", cfg.Database.Directory)
	set("http.endpoint", cfg.HTTP.Endpoint)
}

func applyLogLevel(level string) {
	switch strings.ToLower(level) {
	case "debug":
		vellum.SetLogLevel(log.LevelDebug)
	case "warn":
		vellum.SetLogLevel(log.LevelWarn)
	case "error":
		vellum.SetLogLevel(log.LevelError)
	}
}

// newArchiver picks the segment archiver per config: S3 when enabled, erasure
// folders when given, none otherwise.
func newArchiver(cfg config.Config) (wal.Archiver, error) {
	if cfg.S3.Enabled {
		client := aws_s3.Connect(aws_s3.Config{
			HostEndpointUrl: cfg.S3.HostEndpointUrl,
			Region:          cfg.S3.Region,
			Username:        cfg.S3.Username,
			Password:        cfg.S3.Password,
		})
		return aws_s3.NewArchiver(client, cfg.S3.Bucket, cfg.S3.Region)
	}
	if len(cfg.WAL.ArchiveFolders) > 0 {
		return wal.NewErasureArchiver(wal.ErasureArchiverConfig{
			DataShardsCount:             cfg.WAL.DataShardsCount,
			BaseFolderPathsAcrossDrives: cfg.WAL.ArchiveFolders,
		})
	}
	return nil, nil
}

func stringFlag(flags *pflag.FlagSet, name string) string {
	s, _ := flags.GetString(name)
	return s
}
