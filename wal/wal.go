// Package wal implements the write ahead log of the Vellum document database:
// segment files journaling transaction lifecycle markers, crash recovery on
// open and archival of closed segments.
package wal

import (
	"context"
	"fmt"
	"hash/crc32"
	log "log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"encoding/binary"

	"github.com/google/uuid"

	"github.com/vellumdb/vellum"
)

// RecordType enumerates the journal record kinds.
type RecordType byte

const (
	RecordBegin RecordType = iota + 1
	RecordCommit
	RecordRollback
)

// Record is one fixed-size journal record: a lifecycle marker for one transaction.
type Record struct {
	Type  RecordType
	TxnID vellum.UUID
}

// On disk: 1 byte type, 16 bytes transaction UUID, 4 bytes CRC32 of the first 17.
const recordSize = 21

const segmentSuffix = ".wal"

// DefaultSegmentMaxSize is the size after which the active segment is rotated.
const DefaultSegmentMaxSize = int64(64 * 1024 * 1024)

// Manager owns the write ahead log folder. Open must succeed before the server
// touches any database; it replays the existing segments and reports
// transactions that began but never finished.
type Manager struct {
	folder         string
	archiver       Archiver
	segmentMaxSize int64

	mu         sync.Mutex
	active     *os.File
	activeName string
	activeSize int64
	opened     bool
	pending    []vellum.UUID
}

// NewManager instantiates a Manager over folder. archiver may be nil; closed
// segments are then kept in place and never shipped anywhere.
func NewManager(folder string, archiver Archiver) *Manager {
	return &Manager{
		folder:         folder,
		archiver:       archiver,
		segmentMaxSize: DefaultSegmentMaxSize,
	}
}

// SetFolder repoints the log folder. Only valid before Open, e.g. when the
// folder comes from an option parsed after the Manager was wired up.
func (m *Manager) SetFolder(folder string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.opened {
		m.folder = folder
	}
}

// SetSegmentMaxSize overrides the rotation threshold. Useful in tests.
func (m *Manager) SetSegmentMaxSize(size int64) {
	if size > 0 {
		m.segmentMaxSize = size
	}
}

// Open runs the recovery procedure and readies the log for appends. All errors
// are vellum.RecoveryFailure coded: the server must not proceed past a log it
// could not recover.
func (m *Manager) Open(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.opened {
		return nil
	}
	if err := os.MkdirAll(m.folder, 0o755); err != nil {
		return recoveryError(err)
	}
	names, err := m.segmentNames()
	if err != nil {
		return recoveryError(err)
	}

	begun := make(map[vellum.UUID]bool)
	for i, name := range names {
		isLast := i == len(names)-1
		if err := m.replaySegment(name, isLast, begun); err != nil {
			return recoveryError(err)
		}
	}
	m.pending = m.pending[:0]
	for id := range begun {
		m.pending = append(m.pending, id)
	}
	if len(m.pending) > 0 {
		log.Warn(fmt.Sprintf("write ahead log recovery found %d unfinished transaction(s), treating as rolled back", len(m.pending)))
	}

	if err := m.openActiveSegment(); err != nil {
		return recoveryError(err)
	}
	m.opened = true
	log.Info(fmt.Sprintf("write ahead log recovered, %d segment(s) replayed", len(names)))
	return nil
}

// Append journals one record, rotating the active segment when it is full.
func (m *Manager) Append(ctx context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.opened {
		return fmt.Errorf("write ahead log is not open, 'call Open first")
	}
	ba := encodeRecord(rec)
	if _, err := m.active.Write(ba); err != nil {
		return err
	}
	m.activeSize += int64(len(ba))
	if m.activeSize >= m.segmentMaxSize {
		return m.rotate(ctx)
	}
	return nil
}

// Pending returns the transactions recovery found begun but unfinished.
func (m *Manager) Pending() []vellum.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := make([]vellum.UUID, len(m.pending))
	copy(r, m.pending)
	return r
}

// IsOpen reports whether Open completed successfully.
func (m *Manager) IsOpen() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opened
}

// Close syncs and closes the active segment.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil {
		m.opened = false
		return nil
	}
	err := m.active.Sync()
	if err2 := m.active.Close(); err == nil {
		err = err2
	}
	m.active = nil
	m.opened = false
	return err
}

func (m *Manager) segmentNames() ([]string, error) {
	entries, err := os.ReadDir(m.folder)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), segmentSuffix) {
			continue
		}
		names = append(names, e.Name())
	}
	// Segment names are zero-padded creation timestamps; lexical order is
	// chronological order.
	sort.Strings(names)
	return names, nil
}

// replaySegment reads one segment's records, tracking begun-but-unfinished
// transactions. A torn tail is only tolerated (and truncated) on the last
// segment; anywhere else it means the log is corrupt.
func (m *Manager) replaySegment(name string, isLast bool, begun map[vellum.UUID]bool) error {
	fn := filepath.Join(m.folder, name)
	ba, err := os.ReadFile(fn)
	if err != nil {
		return err
	}
	good := 0
	for off := 0; off+recordSize <= len(ba); off += recordSize {
		rec, ok := decodeRecord(ba[off : off+recordSize])
		if !ok {
			break
		}
		good = off + recordSize
		switch rec.Type {
		case RecordBegin:
			begun[rec.TxnID] = true
		case RecordCommit, RecordRollback:
			delete(begun, rec.TxnID)
		}
	}
	if good != len(ba) {
		if !isLast {
			return fmt.Errorf("segment %s is corrupt at offset %d", name, good)
		}
		log.Warn(fmt.Sprintf("truncating torn tail of segment %s at offset %d", name, good))
		return os.Truncate(fn, int64(good))
	}
	return nil
}

func (m *Manager) openActiveSegment() error {
	name := fmt.Sprintf("%020d%s", time.Now().UnixNano(), segmentSuffix)
	f, err := os.OpenFile(filepath.Join(m.folder, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	m.active = f
	m.activeName = name
	m.activeSize = 0
	return nil
}

// rotate closes the active segment, hands it to the archiver when one is
// configured and opens a fresh segment. Archival failures are retried with
// backoff; giving up keeps the segment in place and only logs, rotation
// itself must not fail the append path.
func (m *Manager) rotate(ctx context.Context) error {
	if err := m.active.Sync(); err != nil {
		return err
	}
	if err := m.active.Close(); err != nil {
		return err
	}
	closedName := m.activeName
	if m.archiver != nil {
		fn := filepath.Join(m.folder, closedName)
		ba, err := os.ReadFile(fn)
		if err != nil {
			return err
		}
		vellum.Retry(ctx, func(ctx context.Context) error {
			return m.archiver.Archive(ctx, closedName, ba)
		}, func(ctx context.Context) {
			log.Error(fmt.Sprintf("archiving segment %s failed, keeping it in place", closedName))
		})
	}
	return m.openActiveSegment()
}

func encodeRecord(rec Record) []byte {
	ba := make([]byte, recordSize)
	ba[0] = byte(rec.Type)
	copy(ba[1:17], rec.TxnID[:])
	binary.LittleEndian.PutUint32(ba[17:], crc32.ChecksumIEEE(ba[:17]))
	return ba
}

func decodeRecord(ba []byte) (Record, bool) {
	if binary.LittleEndian.Uint32(ba[17:]) != crc32.ChecksumIEEE(ba[:17]) {
		return Record{}, false
	}
	t := RecordType(ba[0])
	if t < RecordBegin || t > RecordRollback {
		return Record{}, false
	}
	u, err := uuid.FromBytes(ba[1:17])
	if err != nil {
		return Record{}, false
	}
	return Record{
		Type:  t,
		TxnID: vellum.UUID(u),
	}, true
}

func recoveryError(err error) error {
	return vellum.Error{
		Code: vellum.RecoveryFailure,
		Err:  err,
	}
}
