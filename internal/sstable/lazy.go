package sstable

import (
	"sync"
	"sync/atomic"

	"github.com/kvforge/lsmkv/internal/entry"
	"github.com/kvforge/lsmkv/internal/logging"
)

// LazyRun holds a run's metadata and lazily materializes the underlying Run
// on first access. Loading is double-checked under mu so concurrent callers
// never observe a torn partial load. See spec §4.4.
type LazyRun struct {
	mu          sync.Mutex
	meta        Metadata
	baseDir     string
	log         logging.Logger
	run         *Run
	accessCount int64
}

// NewLazyRun wraps metadata without materializing the underlying run.
func NewLazyRun(baseDir string, meta Metadata, log logging.Logger) *LazyRun {
	if log == nil {
		log = logging.Noop()
	}
	return &LazyRun{meta: meta, baseDir: baseDir, log: log}
}

// NewLoadedLazyRun wraps an already-open Run, e.g. right after it was
// written by a flush or a compaction, so the caller doesn't pay to reopen
// it immediately.
func NewLoadedLazyRun(baseDir string, run *Run, log logging.Logger) *LazyRun {
	if log == nil {
		log = logging.Noop()
	}
	return &LazyRun{meta: run.Metadata(), baseDir: baseDir, log: log, run: run}
}

// Metadata returns the wrapper's metadata without triggering a load.
func (l *LazyRun) Metadata() Metadata {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.meta
}

func (l *LazyRun) ensureLoaded() (*Run, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.run != nil {
		return l.run, nil
	}
	run, err := Open(l.baseDir, l.meta, l.log)
	if err != nil {
		return nil, err
	}
	l.run = run
	return run, nil
}

// Get short-circuits via the metadata key range before loading anything.
func (l *LazyRun) Get(key string) (entry.Entry, bool, error) {
	l.mu.Lock()
	meta := l.meta
	l.mu.Unlock()
	if key < meta.MinKey || key > meta.MaxKey {
		return entry.Entry{}, false, nil
	}

	atomic.AddInt64(&l.accessCount, 1)
	run, err := l.ensureLoaded()
	if err != nil {
		return entry.Entry{}, false, err
	}
	return run.Get(key)
}

// ReadAll loads (if necessary) and returns every entry in the run.
func (l *LazyRun) ReadAll() ([]entry.Entry, error) {
	atomic.AddInt64(&l.accessCount, 1)
	run, err := l.ensureLoaded()
	if err != nil {
		return nil, err
	}
	return run.ReadAll()
}

// AccessCount reports how many times Get/ReadAll triggered an access,
// diagnostic only.
func (l *LazyRun) AccessCount() int64 {
	return atomic.LoadInt64(&l.accessCount)
}

// Unload drops the loaded run state but keeps metadata, so a later Get can
// re-materialize it from disk.
func (l *LazyRun) Unload() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.run == nil {
		return nil
	}
	err := l.run.Close()
	l.run = nil
	return err
}

// Close releases any loaded resources. It is the same as Unload: metadata
// is kept and a later Get or ReadAll reloads the run from disk.
func (l *LazyRun) Close() error {
	return l.Unload()
}

// Delete closes (if loaded) then removes the run's directory tree.
func (l *LazyRun) Delete() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.run != nil {
		err := l.run.Delete()
		l.run = nil
		return err
	}
	run, err := Open(l.baseDir, l.meta, l.log)
	if err != nil {
		return err
	}
	return run.Delete()
}
