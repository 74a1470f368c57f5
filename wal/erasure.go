package wal

import (
	"bufio"
	"bytes"
	"crypto/md5"
	"fmt"

	"github.com/klauspost/reedsolomon"
)

func md5Sum(ba []byte) []byte {
	sum := md5.Sum(ba)
	return sum[:]
}

// Erasure Reed-Solomon encodes a byte payload into data+parity shards and back,
// adding per-shard checksums so corrupted shards are detected and reconstructed.
type Erasure struct {
	DataShardsCount   int
	ParityShardsCount int
	encoder           reedsolomon.Encoder
}

// NewErasure instantiates the codec for the given shard counts.
func NewErasure(dataShardsCount int, parityShardsCount int) (*Erasure, error) {
	if dataShardsCount < 1 || parityShardsCount < 1 {
		return nil, fmt.Errorf("data & parity shard counts need to be at least 1")
	}
	enc, err := reedsolomon.New(dataShardsCount, parityShardsCount)
	if err != nil {
		return nil, err
	}
	return &Erasure{
		DataShardsCount:   dataShardsCount,
		ParityShardsCount: parityShardsCount,
		encoder:           enc,
	}, nil
}

// ShardCount returns data + parity shards count.
func (e *Erasure) ShardCount() int {
	return e.DataShardsCount + e.ParityShardsCount
}

// Encode splits data into shards and computes the parity shards. The returned
// checksums (md5 per shard) are for the caller to persist next to each shard.
func (e *Erasure) Encode(data []byte) ([][]byte, [][]byte, error) {
	shards, err := e.encoder.Split(data)
	if err != nil {
		return nil, nil, err
	}
	if err := e.encoder.Encode(shards); err != nil {
		return nil, nil, err
	}
	checksums := make([][]byte, len(shards))
	for i := range shards {
		sum := md5.Sum(shards[i])
		checksums[i] = sum[:]
	}
	return shards, checksums, nil
}

// Decode reverses Encode. Missing shards are passed as nil; shards whose
// checksum does not match are nullified then reconstructed. Returns the
// original data (truncated to size) and the indices of shards that had to be
// reconstructed, useful for overwriting the bad copies.
func (e *Erasure) Decode(shards [][]byte, checksums [][]byte, size int) ([]byte, []int, error) {
	if len(shards) != e.ShardCount() {
		return nil, nil, fmt.Errorf("want %d shards, got %d", e.ShardCount(), len(shards))
	}
	reconstructed := make([]int, 0, e.ParityShardsCount)
	for i := range shards {
		if shards[i] == nil {
			reconstructed = append(reconstructed, i)
			continue
		}
		if i < len(checksums) && checksums[i] != nil {
			sum := md5.Sum(shards[i])
			if !bytes.Equal(sum[:], checksums[i]) {
				shards[i] = nil
				reconstructed = append(reconstructed, i)
			}
		}
	}
	if len(reconstructed) > 0 {
		if err := e.encoder.Reconstruct(shards); err != nil {
			return nil, nil, fmt.Errorf("reconstruct failed, error: %v", err)
		}
	}
	if ok, err := e.encoder.Verify(shards); !ok {
		return nil, nil, fmt.Errorf("shard verification failed, error: %v", err)
	}

	var b bytes.Buffer
	w := bufio.NewWriter(&b)
	if err := e.encoder.Join(w, shards, len(shards[0])*e.DataShardsCount); err != nil {
		return nil, nil, fmt.Errorf("encoder.Join failed, error: %v", err)
	}
	w.Flush()
	ba := b.Bytes()
	if size > len(ba) {
		return nil, nil, fmt.Errorf("decoded data shorter (%d) than recorded size (%d)", len(ba), size)
	}
	return ba[:size], reconstructed, nil
}
