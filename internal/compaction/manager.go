// Package compaction implements the leveled SSTable manager (C10): level
// sizing, soft-limit triggering, snapshot-isolated background merging,
// bottommost-only tombstone removal, and crash-safe publish-then-delete.
// See spec §4.8.
package compaction

import (
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/kvforge/lsmkv/internal/entry"
	"github.com/kvforge/lsmkv/internal/logging"
	"github.com/kvforge/lsmkv/internal/manifest"
	"github.com/kvforge/lsmkv/internal/sstable"
)

// Config bundles the compactor's level-sizing and triggering parameters.
type Config struct {
	BaseDir          string // <data_dir>/sstables
	ManifestsDir     string // <data_dir>/manifests
	LevelRatio       float64
	BaseLevelSizeMB  float64
	BaseLevelEntries int
	MaxL0SSTables    int
	SoftLimitRatio   float64
	BlockSize        int
	Log              logging.Logger
}

const defaultSoftLimitRatio = 0.85

// Manager is the leveled compaction engine: C10 of the spec.
type Manager struct {
	mu     sync.Mutex
	levels map[int][]*sstable.LazyRun

	manifestMgr *manifest.Manager
	cfg         Config
	log         logging.Logger

	compactingMu  sync.Mutex
	compactingIDs map[uint64]bool

	compactJobs  chan func()
	compactWG    sync.WaitGroup
	reloadJobs   chan struct{}
	reloadWG     sync.WaitGroup
	reloadMu     sync.Mutex
	reloadQueued bool

	closed bool
}

// NewManager opens the manifest manager, discovers existing levels and
// lazily wraps every run listed there (unloaded — loaded only on first
// access), and starts the single-thread compaction and manifest-reload
// pools.
func NewManager(cfg Config) (*Manager, error) {
	log := cfg.Log
	if log == nil {
		log = logging.Noop()
	}
	if cfg.SoftLimitRatio <= 0 {
		cfg.SoftLimitRatio = defaultSoftLimitRatio
	}
	if err := os.MkdirAll(cfg.BaseDir, 0o755); err != nil {
		return nil, err
	}

	mm, err := manifest.Open(cfg.ManifestsDir, log)
	if err != nil {
		return nil, err
	}

	m := &Manager{
		levels:        make(map[int][]*sstable.LazyRun),
		manifestMgr:   mm,
		cfg:           cfg,
		log:           log,
		compactingIDs: make(map[uint64]bool),
		compactJobs:   make(chan func(), 64),
		reloadJobs:    make(chan struct{}, 1),
	}

	for _, level := range mm.Levels() {
		lm, err := mm.Level(level)
		if err != nil {
			return nil, err
		}
		for _, e := range lm.Entries() {
			meta := sstable.Metadata{
				SSTableID:  e.SSTableID,
				Dirname:    e.Dirname,
				NumEntries: e.NumEntries,
				MinKey:     e.MinKey,
				MaxKey:     e.MaxKey,
				Level:      e.Level,
			}
			m.levels[level] = append(m.levels[level], sstable.NewLazyRun(cfg.BaseDir, meta, log))
		}
	}

	m.compactWG.Add(1)
	go m.compactionWorker()
	m.reloadWG.Add(1)
	go m.reloadWorker()

	return m, nil
}

func (m *Manager) compactionWorker() {
	defer m.compactWG.Done()
	for job := range m.compactJobs {
		job()
	}
}

func (m *Manager) reloadWorker() {
	defer m.reloadWG.Done()
	for range m.reloadJobs {
		m.reloadMu.Lock()
		m.reloadQueued = false
		m.reloadMu.Unlock()
		// Re-reading manifest files keeps on-disk state and in-memory
		// bookkeeping demonstrably in sync; the in-memory levels map is
		// already authoritative for reads, so this is diagnostic upkeep.
		for _, level := range m.manifestMgr.Levels() {
			if _, err := manifest.OpenLevel(m.cfg.ManifestsDir, level); err != nil {
				m.log.Warnf("compaction: manifest reload for level %d failed: %v", level, err)
			}
		}
	}
}

func (m *Manager) requestManifestReload() {
	m.reloadMu.Lock()
	defer m.reloadMu.Unlock()
	if m.reloadQueued {
		return
	}
	m.reloadQueued = true
	select {
	case m.reloadJobs <- struct{}{}:
	default:
		m.reloadQueued = false
	}
}

// AddSSTable allocates a run-ID, writes it, publishes its manifest entry,
// and appends an already-loaded lazy wrapper to levels[level]. If
// autoCompact is set and any level is eligible once the lock is released,
// background compaction is triggered.
func (m *Manager) AddSSTable(entries []entry.Entry, level int, autoCompact bool) (manifest.RunEntry, error) {
	m.mu.Lock()
	id, err := m.manifestMgr.Global().GetNextID()
	if err != nil {
		m.mu.Unlock()
		return manifest.RunEntry{}, err
	}
	meta, err := sstable.Write(m.cfg.BaseDir, id, entries, m.cfg.BlockSize, m.log)
	if err != nil {
		m.mu.Unlock()
		return manifest.RunEntry{}, err
	}
	meta.Level = level

	runEntry := manifest.RunEntry{
		SSTableID:  meta.SSTableID,
		Dirname:    meta.Dirname,
		NumEntries: meta.NumEntries,
		MinKey:     meta.MinKey,
		MaxKey:     meta.MaxKey,
		Level:      level,
	}
	lm, err := m.manifestMgr.Level(level)
	if err != nil {
		m.mu.Unlock()
		return manifest.RunEntry{}, err
	}
	if err := lm.AddSSTable(runEntry); err != nil {
		m.mu.Unlock()
		return manifest.RunEntry{}, err
	}

	run, err := sstable.Open(m.cfg.BaseDir, meta, m.log)
	if err != nil {
		m.mu.Unlock()
		return manifest.RunEntry{}, err
	}
	lazy := sstable.NewLoadedLazyRun(m.cfg.BaseDir, run, m.log)
	m.levels[level] = append(m.levels[level], lazy)
	m.mu.Unlock()

	m.requestManifestReload()

	if autoCompact {
		m.autoCompact()
	}
	return runEntry, nil
}

// Get snapshots the levels map under the lock, then iterates levels
// ascending and, within a level, runs newest-to-oldest, returning the first
// entry found. Tombstones are returned as-is; the caller interprets them.
func (m *Manager) Get(key string) (entry.Entry, bool, error) {
	m.mu.Lock()
	levelNums := make([]int, 0, len(m.levels))
	snapshot := make(map[int][]*sstable.LazyRun, len(m.levels))
	for l, runs := range m.levels {
		levelNums = append(levelNums, l)
		cp := make([]*sstable.LazyRun, len(runs))
		copy(cp, runs)
		snapshot[l] = cp
	}
	m.mu.Unlock()

	sort.Ints(levelNums)
	for _, l := range levelNums {
		runs := snapshot[l]
		for i := len(runs) - 1; i >= 0; i-- {
			e, ok, err := runs[i].Get(key)
			if err != nil {
				return entry.Entry{}, false, err
			}
			if ok {
				return e, true, nil
			}
		}
	}
	return entry.Entry{}, false, nil
}

// maxEntriesForLevel and maxBytesForLevel implement spec §4.8's level
// sizing formulas.
func (m *Manager) maxEntriesForLevel(level int) float64 {
	return float64(m.cfg.BaseLevelEntries) * math.Pow(m.cfg.LevelRatio, float64(level))
}

func (m *Manager) maxBytesForLevel(level int) float64 {
	return m.cfg.BaseLevelSizeMB * (1 << 20) * math.Pow(m.cfg.LevelRatio, float64(level))
}

func (m *Manager) runDataFileSize(meta sstable.Metadata) int64 {
	st, err := os.Stat(filepath.Join(m.cfg.BaseDir, meta.Dirname, "data.db"))
	if err != nil {
		return 0
	}
	return st.Size()
}

// levelEligibleLocked reports whether level has reached
// SoftLimitRatio*hard-limit on any applicable dimension. The soft
// threshold on each dimension is truncated towards zero before comparing
// (int(maxL0*ratio), not a rounded or fractional value) so the default
// 4-run/0.85-ratio L0 config trips at 3 resident runs, not 4 — matching
// the original soft-limit behavior. Must be called with m.mu held.
func (m *Manager) levelEligibleLocked(level int) bool {
	runs := m.levels[level]
	if len(runs) == 0 {
		return false
	}
	var totalEntries int
	var totalBytes int64
	for _, r := range runs {
		meta := r.Metadata()
		totalEntries += meta.NumEntries
		totalBytes += m.runDataFileSize(meta)
	}
	ratio := m.cfg.SoftLimitRatio
	if totalEntries >= int(ratio*m.maxEntriesForLevel(level)) {
		return true
	}
	if totalBytes >= int64(ratio*m.maxBytesForLevel(level)) {
		return true
	}
	if level == 0 && m.cfg.MaxL0SSTables > 0 && len(runs) >= int(ratio*float64(m.cfg.MaxL0SSTables)) {
		return true
	}
	return false
}

// autoCompact submits a background compaction, in ascending level order,
// for every eligible level whose runs aren't already under compaction.
// Called outside the
// manager lock so the snapshot read/merge I/O never serializes with it.
func (m *Manager) autoCompact() {
	m.mu.Lock()
	levelNums := make([]int, 0, len(m.levels))
	for l := range m.levels {
		levelNums = append(levelNums, l)
	}
	sort.Ints(levelNums)

	var toSubmit []int
	for _, l := range levelNums {
		if !m.levelEligibleLocked(l) {
			continue
		}
		if m.anyCompactingLocked(l) {
			continue
		}
		toSubmit = append(toSubmit, l)
	}
	m.mu.Unlock()

	for _, l := range toSubmit {
		m.submitCompaction(l)
	}
}

func (m *Manager) anyCompactingLocked(level int) bool {
	m.compactingMu.Lock()
	defer m.compactingMu.Unlock()
	for _, r := range m.levels[level] {
		if m.compactingIDs[r.Metadata().SSTableID] {
			return true
		}
	}
	return false
}

func (m *Manager) submitCompaction(level int) {
	select {
	case m.compactJobs <- func() { m.compactLevel(level) }:
	default:
		go m.compactLevel(level)
	}
}

// WaitForCompaction polls the compacting-ID set until it is empty or the
// timeout elapses, returning whether it drained in time.
func (m *Manager) WaitForCompaction(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		m.compactingMu.Lock()
		empty := len(m.compactingIDs) == 0
		m.compactingMu.Unlock()
		if empty {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// Shutdown optionally waits for pending compactions, then shuts both
// background pools down.
func (m *Manager) Shutdown(wait bool, timeout time.Duration) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	if wait {
		m.WaitForCompaction(timeout)
	}
	close(m.compactJobs)
	m.compactWG.Wait()
	close(m.reloadJobs)
	m.reloadWG.Wait()
	return nil
}

// CloseAllRuns closes every loaded run across every level (fsync blooms,
// release mmaps), used during the store facade's clean shutdown.
func (m *Manager) CloseAllRuns() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var firstErr error
	for _, runs := range m.levels {
		for _, r := range runs {
			if err := r.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// LevelInfo is a diagnostic snapshot of one level's population.
type LevelInfo struct {
	Level      int
	NumRuns    int
	NumEntries int
	Bytes      int64
}

// LevelInfos returns a diagnostic snapshot of every level, ascending.
func (m *Manager) LevelInfos() []LevelInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	levelNums := make([]int, 0, len(m.levels))
	for l := range m.levels {
		levelNums = append(levelNums, l)
	}
	sort.Ints(levelNums)
	out := make([]LevelInfo, 0, len(levelNums))
	for _, l := range levelNums {
		info := LevelInfo{Level: l}
		for _, r := range m.levels[l] {
			meta := r.Metadata()
			info.NumRuns++
			info.NumEntries += meta.NumEntries
			info.Bytes += m.runDataFileSize(meta)
		}
		out = append(out, info)
	}
	return out
}
