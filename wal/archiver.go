package wal

import (
	"context"
	"encoding/binary"
	"fmt"
	log "log/slog"
	"os"
	"path/filepath"

	"github.com/vellumdb/vellum"
)

// Archiver ships closed write ahead log segments to durable storage. The
// erasure-coded local implementation is below; the aws_s3 package provides an
// S3-backed one.
type Archiver interface {
	// Archive stores a closed segment under name.
	Archive(ctx context.Context, name string, data []byte) error
	// Retrieve fetches an archived segment back.
	Retrieve(ctx context.Context, name string) ([]byte, error)
}

// ErasureArchiverConfig configures the erasure-coded archiver. One folder per
// shard, ideally across drives; parity count is len(BaseFolderPaths) minus
// DataShardsCount.
type ErasureArchiverConfig struct {
	DataShardsCount             int
	BaseFolderPathsAcrossDrives []string
}

// Per-shard file header: 8 bytes original size, 16 bytes md5 of the shard payload.
const shardHeaderSize = 24

type erasureArchiver struct {
	config  ErasureArchiverConfig
	erasure *Erasure
}

// NewErasureArchiver returns an Archiver that fans each segment out as
// Reed-Solomon shards across the configured folders, tolerating loss or
// corruption of up to the parity shard count.
func NewErasureArchiver(config ErasureArchiverConfig) (Archiver, error) {
	parity := len(config.BaseFolderPathsAcrossDrives) - config.DataShardsCount
	e, err := NewErasure(config.DataShardsCount, parity)
	if err != nil {
		return nil, err
	}
	for _, folder := range config.BaseFolderPathsAcrossDrives {
		if err := os.MkdirAll(folder, 0o755); err != nil {
			return nil, err
		}
	}
	return &erasureArchiver{
		config:  config,
		erasure: e,
	}, nil
}

func (a *erasureArchiver) Archive(ctx context.Context, name string, data []byte) error {
	shards, checksums, err := a.erasure.Encode(data)
	if err != nil {
		return err
	}
	tr := vellum.NewTaskRunner(ctx, len(shards))
	for i := range shards {
		i := i
		tr.Go(func() error {
			ba := make([]byte, shardHeaderSize+len(shards[i]))
			binary.LittleEndian.PutUint64(ba[:8], uint64(len(data)))
			copy(ba[8:shardHeaderSize], checksums[i])
			copy(ba[shardHeaderSize:], shards[i])
			return os.WriteFile(a.shardPath(i, name), ba, 0o644)
		})
	}
	return tr.Wait()
}

func (a *erasureArchiver) Retrieve(ctx context.Context, name string) ([]byte, error) {
	count := a.erasure.ShardCount()
	shards := make([][]byte, count)
	checksums := make([][]byte, count)
	size := -1
	for i := 0; i < count; i++ {
		ba, err := os.ReadFile(a.shardPath(i, name))
		if err != nil || len(ba) < shardHeaderSize {
			// Missing or truncated shard; leave nil for reconstruction.
			if err != nil {
				log.Warn(fmt.Sprintf("shard %d of segment %s unreadable, details: %v", i, name, err))
			}
			continue
		}
		if size < 0 {
			size = int(binary.LittleEndian.Uint64(ba[:8]))
		}
		checksums[i] = ba[8:shardHeaderSize]
		shards[i] = ba[shardHeaderSize:]
	}
	if size < 0 {
		return nil, fmt.Errorf("no readable shards for segment %s", name)
	}
	data, reconstructed, err := a.erasure.Decode(shards, checksums, size)
	if err != nil {
		return nil, err
	}
	// Overwrite the shard copies that had to be reconstructed.
	for _, i := range reconstructed {
		ba := make([]byte, shardHeaderSize+len(shards[i]))
		binary.LittleEndian.PutUint64(ba[:8], uint64(size))
		sum := md5Sum(shards[i])
		copy(ba[8:shardHeaderSize], sum)
		copy(ba[shardHeaderSize:], shards[i])
		if err := os.WriteFile(a.shardPath(i, name), ba, 0o644); err != nil {
			log.Warn(fmt.Sprintf("repairing shard %d of segment %s failed, details: %v", i, name, err))
		}
	}
	return data, nil
}

func (a *erasureArchiver) shardPath(i int, name string) string {
	return filepath.Join(a.config.BaseFolderPathsAcrossDrives[i], name+fmt.Sprintf(".%d.shard", i))
}
