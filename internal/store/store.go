// Package store implements the facade (C11): write lock, monotonic
// timestamp, WAL-then-memtable write path, merged read path, and clean
// shutdown. See spec §4.9.
package store

import (
	"os"
	"path/filepath"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/gofrs/flock"
	"github.com/pkg/errors"

	"github.com/kvforge/lsmkv/internal/compaction"
	"github.com/kvforge/lsmkv/internal/config"
	"github.com/kvforge/lsmkv/internal/entry"
	"github.com/kvforge/lsmkv/internal/logging"
	"github.com/kvforge/lsmkv/internal/manifest"
	"github.com/kvforge/lsmkv/internal/memtable"
	"github.com/kvforge/lsmkv/internal/wal"
)

// GetResult is the facade's response to Get.
type GetResult struct {
	Key   string
	Value string
	Found bool
}

// Store is the embeddable ordered key-value store facade.
type Store struct {
	writeMu sync.Mutex
	closed  bool

	tsMu          sync.Mutex
	lastTimestamp int64

	cfg     config.StoreConfig
	dataDir string
	walPath string
	sstDir  string

	w          *wal.WAL
	memMgr     *memtable.Manager
	compactMgr *compaction.Manager
	lock       *flock.Flock
	log        logging.Logger
}

// Open constructs (or reopens) a store at cfg.DataDir, replaying the WAL
// and discovering existing runs/manifests before accepting writes.
func Open(cfg config.StoreConfig, log logging.Logger) (*Store, error) {
	if log == nil {
		log = logging.Noop()
	}
	if cfg.DataDir == "" {
		cfg.DataDir = "."
	}
	if err := ensureDir(cfg.DataDir); err != nil {
		return nil, errors.Wrap(err, "store: creating data dir")
	}

	lock := flock.New(filepath.Join(cfg.DataDir, "LOCK"))
	ok, err := lock.TryLock()
	if err != nil {
		return nil, errors.Wrap(err, "store: acquiring data dir lock")
	}
	if !ok {
		return nil, errors.New("store: data dir already owned by another process")
	}

	sstDir := filepath.Join(cfg.DataDir, "sstables")
	manifestsDir := filepath.Join(cfg.DataDir, "manifests")
	walPath := filepath.Join(cfg.DataDir, "wal.log")

	compactMgr, err := compaction.NewManager(compaction.Config{
		BaseDir:          sstDir,
		ManifestsDir:     manifestsDir,
		LevelRatio:       cfg.LevelRatio,
		BaseLevelSizeMB:  cfg.BaseLevelSizeMB,
		BaseLevelEntries: cfg.BaseLevelEntries,
		MaxL0SSTables:    cfg.MaxL0SSTables,
		SoftLimitRatio:   cfg.SoftLimitRatio,
		BlockSize:        cfg.SparseIndexBlockSize,
		Log:              log,
	})
	if err != nil {
		_ = lock.Unlock()
		return nil, errors.Wrap(err, "store: opening compaction manager")
	}

	w, err := wal.Open(walPath, log)
	if err != nil {
		_ = lock.Unlock()
		return nil, errors.Wrap(err, "store: opening WAL")
	}

	s := &Store{
		cfg:        cfg,
		dataDir:    cfg.DataDir,
		walPath:    walPath,
		sstDir:     sstDir,
		w:          w,
		compactMgr: compactMgr,
		lock:       lock,
		log:        log,
	}

	s.memMgr = memtable.NewManager(memtable.Config{
		MaxEntries:     cfg.MemtableSize,
		MaxImmutable:   cfg.MaxImmutableMemtables,
		MaxMemoryBytes: int64(cfg.MaxMemoryMB) * (1 << 20),
		FlushWorkers:   cfg.FlushWorkers,
		OnFlush:        s.onBackgroundFlush,
		Log:            log,
	})

	if err := s.recover(); err != nil {
		_ = w.Close()
		_ = lock.Unlock()
		return nil, errors.Wrap(err, "store: recovering")
	}

	return s, nil
}

func ensureDir(dir string) error {
	return os.MkdirAll(dir, 0o755)
}

// recover seeds the monotonic timestamp counter past anything already on
// disk or in the WAL, then replays WAL records into the memtable manager in
// file order. See spec §4.9.
func (s *Store) recover() error {
	onDiskMax, err := s.compactMgr.MaxTimestamp()
	if err != nil {
		return err
	}

	records, err := s.w.ReadAll()
	if err != nil {
		return err
	}

	walMax := onDiskMax
	for _, r := range records {
		if r.Timestamp > walMax {
			walMax = r.Timestamp
		}
	}
	s.lastTimestamp = walMax

	for _, r := range records {
		switch r.Op {
		case wal.OpPut:
			s.memMgr.Put(entry.New(r.Key, r.Value, r.Timestamp))
		case wal.OpDelete:
			s.memMgr.Delete(entry.NewTombstone(r.Key, r.Timestamp))
		}
	}
	return nil
}

func (s *Store) nextTimestamp() int64 {
	s.tsMu.Lock()
	defer s.tsMu.Unlock()
	now := time.Now().UnixMicro()
	if now <= s.lastTimestamp {
		now = s.lastTimestamp + 1
	}
	s.lastTimestamp = now
	return now
}

func validateKey(key string) error {
	if len(key) == 0 {
		return errors.Wrap(ErrInvalidArgument, "empty key")
	}
	if len(key) > entry.MaxKeyBytes {
		return errors.Wrapf(ErrInvalidArgument, "key exceeds %d bytes", entry.MaxKeyBytes)
	}
	if !utf8.ValidString(key) {
		return errors.Wrap(ErrInvalidArgument, "key is not valid UTF-8")
	}
	return nil
}

func validateValue(value string) error {
	if len(value) > entry.MaxValueBytes {
		return errors.Wrapf(ErrInvalidArgument, "value exceeds %d bytes", entry.MaxValueBytes)
	}
	if !utf8.ValidString(value) {
		return errors.Wrap(ErrInvalidArgument, "value is not valid UTF-8")
	}
	return nil
}

// Put durably writes key=value. Ordering: validate, reject if closed,
// acquire write lock, obtain a timestamp, append to the WAL, insert into
// the memtable manager, release.
func (s *Store) Put(key, value string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	if err := validateValue(value); err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.closed {
		return ErrClosed
	}

	ts := s.nextTimestamp()
	if err := s.w.Append(wal.Record{Op: wal.OpPut, Key: key, Value: value, Timestamp: ts}); err != nil {
		return errors.Wrap(err, "store: WAL append failed")
	}
	s.memMgr.Put(entry.New(key, value, ts))
	return nil
}

// Delete writes a tombstone for key, same ordering as Put.
func (s *Store) Delete(key string) error {
	if err := validateKey(key); err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.closed {
		return ErrClosed
	}

	ts := s.nextTimestamp()
	if err := s.w.Append(wal.Record{Op: wal.OpDelete, Key: key, Timestamp: ts}); err != nil {
		return errors.Wrap(err, "store: WAL append failed")
	}
	s.memMgr.Delete(entry.NewTombstone(key, ts))
	return nil
}

// Get consults the memtable manager, then the SSTable manager. A tombstone
// at either layer is definitive absence.
func (s *Store) Get(key string) (GetResult, error) {
	if err := validateKey(key); err != nil {
		return GetResult{}, err
	}

	s.writeMu.Lock()
	closed := s.closed
	s.writeMu.Unlock()
	if closed {
		return GetResult{}, ErrClosed
	}

	if e, ok := s.memMgr.Get(key); ok {
		if e.IsDeleted {
			return GetResult{Key: key, Found: false}, nil
		}
		return GetResult{Key: key, Value: e.Value, Found: true}, nil
	}

	e, ok, err := s.compactMgr.Get(key)
	if err != nil {
		return GetResult{}, errors.Wrap(err, "store: run lookup failed")
	}
	if !ok {
		return GetResult{Key: key, Found: false}, nil
	}
	if e.IsDeleted {
		return GetResult{Key: key, Found: false}, nil
	}
	return GetResult{Key: key, Value: e.Value, Found: true}, nil
}

// onBackgroundFlush is the callback the memtable manager's worker pool
// invokes for automatically-triggered flushes.
func (s *Store) onBackgroundFlush(imm *memtable.Immutable) error {
	_, err := s.flushImmutable(imm)
	return err
}

// flushImmutable is the shared flush-callback body spec §4.9 names
// _flush_memtable_to_sstable: write the immutable's entries as an L0 run,
// then rewrite the WAL to drop the records it just made durable on disk.
func (s *Store) flushImmutable(imm *memtable.Immutable) (manifest.RunEntry, error) {
	entries := imm.Memtable.GetAllEntries()
	if len(entries) == 0 {
		return manifest.RunEntry{}, nil
	}
	meta, err := s.compactMgr.AddSSTable(entries, 0, true)
	if err != nil {
		return manifest.RunEntry{}, err
	}
	if err := s.clearWALForFlushedData(entries); err != nil {
		return manifest.RunEntry{}, err
	}
	return meta, nil
}

// clearWALForFlushedData keeps a WAL record if its key was not flushed, or
// if its timestamp exceeds the highest flushed timestamp for that key —
// the documented safety-over-compactness predicate from spec §4.9/§9.
func (s *Store) clearWALForFlushedData(flushed []entry.Entry) error {
	maxTS := make(map[string]int64, len(flushed))
	for _, e := range flushed {
		if cur, ok := maxTS[e.Key]; !ok || e.Timestamp > cur {
			maxTS[e.Key] = e.Timestamp
		}
	}
	return s.w.ReplaceWithFiltered(func(r wal.Record) bool {
		ts, ok := maxTS[r.Key]
		if !ok {
			return true
		}
		return r.Timestamp > ts
	})
}

// Flush synchronously rotates the active memtable into the immutable queue
// and flushes it, returning the published run's metadata. Errors if the
// active memtable is empty.
func (s *Store) Flush() (manifest.RunEntry, error) {
	s.writeMu.Lock()
	closed := s.closed
	s.writeMu.Unlock()
	if closed {
		return manifest.RunEntry{}, ErrClosed
	}

	imm := s.memMgr.RotateForFlush()
	if imm == nil {
		return manifest.RunEntry{}, ErrEmptyMemtable
	}
	meta, err := s.flushImmutable(imm)
	if err != nil {
		// Leave imm in the queue: it was never published, so Get must
		// keep finding it there until a retry succeeds.
		return manifest.RunEntry{}, err
	}
	s.memMgr.RemoveFlushedImmutable(imm)
	return meta, nil
}

// Compact waits for pending background compactions, then performs a full
// compaction across every level.
func (s *Store) Compact() (manifest.RunEntry, error) {
	s.compactMgr.WaitForCompaction(30 * time.Second)
	meta, err := s.compactMgr.Compact(nil)
	if err != nil {
		if errors.Is(err, compaction.ErrEmptyStore) {
			return manifest.RunEntry{}, err
		}
		return manifest.RunEntry{}, errors.Wrap(err, "store: compaction failed")
	}
	return meta, nil
}

// Close performs an idempotent clean shutdown: mark closed, drain the
// memtable manager through the flush callback, stop its workers, only then
// clear the WAL (any in-flight flush callback must have returned), shut the
// compaction manager down waiting for pending compactions, and close every
// run.
func (s *Store) Close() error {
	s.writeMu.Lock()
	if s.closed {
		s.writeMu.Unlock()
		return nil
	}
	s.closed = true
	s.writeMu.Unlock()

	flushErr := s.memMgr.ForceFlushAll()
	if flushErr != nil {
		s.log.Errorf("store: force flush during close failed: %v", flushErr)
	}
	s.memMgr.Close()

	// Only clear the WAL if every pending memtable made it to disk —
	// otherwise the records covering the failed flush are the only copy
	// of that data left, and the next Open must still replay them.
	if flushErr == nil {
		if err := s.w.Clear(); err != nil {
			s.log.Errorf("store: clearing WAL during close failed: %v", err)
		}
	}
	if err := s.w.Close(); err != nil {
		s.log.Errorf("store: closing WAL failed: %v", err)
	}

	if err := s.compactMgr.Shutdown(true, 30*time.Second); err != nil {
		s.log.Errorf("store: compaction shutdown failed: %v", err)
	}
	if err := s.compactMgr.CloseAllRuns(); err != nil {
		s.log.Errorf("store: closing runs failed: %v", err)
	}

	if s.lock != nil {
		_ = s.lock.Unlock()
	}
	return nil
}
