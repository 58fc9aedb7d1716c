// Package sstable implements the on-disk sorted run (spec §4.3): a
// directory holding a key-sorted data file, a bloom filter and a sparse
// index, read through a bounded mmap scan so only the byte window the
// sparse index identifies is ever touched.
package sstable

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/kvforge/lsmkv/internal/bloom"
	"github.com/kvforge/lsmkv/internal/entry"
	"github.com/kvforge/lsmkv/internal/logging"
	"github.com/kvforge/lsmkv/internal/sparseindex"
)

const (
	dataFileName   = "data.db"
	bloomFileName  = "bloom_filter.bf"
	indexFileName  = "sparse_index.idx"
	dirNameFormat  = "sstable_%06d"
	falsePositive  = bloom.DefaultFalsePositiveRate
	defaultBlockSz = sparseindex.DefaultBlockSize
)

// Metadata describes a run without requiring its files to be open.
type Metadata struct {
	SSTableID  uint64
	Dirname    string
	NumEntries int
	MinKey     string
	MaxKey     string
	Level      int
}

// DirName formats the 6-digit zero-padded run directory name.
func DirName(id uint64) string {
	return fmt.Sprintf(dirNameFormat, id)
}

// Run is a fully-materialized, immutable on-disk sorted sequence of
// entries. Construct via Write (new run) or Open (existing run directory).
type Run struct {
	mu   sync.Mutex
	meta Metadata
	dir  string
	log  logging.Logger

	bloomPath string
	idxPath   string
	dataPath  string

	bf      *bloom.Filter
	idx     *sparseindex.Index
	dataMap []byte
	dataFH  *os.File
}

// Write creates run directory baseDir/sstable_<id>/ and writes entries
// (must already be sorted ascending by key) into it: data.db, the bloom
// filter sized for len(entries), and the sparse index at blockSize. Fails
// if entries is empty.
func Write(baseDir string, id uint64, entries []entry.Entry, blockSize int, log logging.Logger) (Metadata, error) {
	if log == nil {
		log = logging.Noop()
	}
	if len(entries) == 0 {
		return Metadata{}, fmt.Errorf("sstable: cannot write an empty run")
	}
	if blockSize <= 0 {
		blockSize = defaultBlockSz
	}

	dir := filepath.Join(baseDir, DirName(id))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Metadata{}, err
	}

	dataPath := filepath.Join(dir, dataFileName)
	f, err := os.OpenFile(dataPath, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0o644)
	if err != nil {
		return Metadata{}, err
	}

	bf := bloom.NewWithCapacity(len(entries), falsePositive)
	idx := sparseindex.New(blockSize)

	w := bufio.NewWriterSize(f, 64*1024)
	var offset uint64
	for i, e := range entries {
		if idx.ShouldIndex(i) {
			idx.Add(e.Key, offset)
		}
		bf.Add([]byte(e.Key))

		b, merr := json.Marshal(e)
		if merr != nil {
			_ = f.Close()
			return Metadata{}, merr
		}
		b = append(b, '\n')
		n, werr := w.Write(b)
		if werr != nil {
			_ = f.Close()
			return Metadata{}, werr
		}
		offset += uint64(n)
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return Metadata{}, err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return Metadata{}, err
	}
	if err := f.Close(); err != nil {
		return Metadata{}, err
	}

	bloomPath := filepath.Join(dir, bloomFileName)
	if err := bf.SaveToFile(bloomPath); err != nil {
		return Metadata{}, err
	}
	if err := bf.Close(); err != nil {
		return Metadata{}, err
	}

	idxPath := filepath.Join(dir, indexFileName)
	if err := idx.SaveToFile(idxPath); err != nil {
		return Metadata{}, err
	}

	meta := Metadata{
		SSTableID:  id,
		Dirname:    DirName(id),
		NumEntries: len(entries),
		MinKey:     entries[0].Key,
		MaxKey:     entries[len(entries)-1].Key,
	}
	log.Infof("sstable: wrote %s with %d entries (%s..%s)", meta.Dirname, meta.NumEntries, meta.MinKey, meta.MaxKey)
	return meta, nil
}

// Open opens an existing run directory. Bloom filter, sparse index and the
// data file mmap are all loaded lazily on first use by Get/ReadAll; Open
// itself only requires the directory and metadata to exist.
func Open(baseDir string, meta Metadata, log logging.Logger) (*Run, error) {
	if log == nil {
		log = logging.Noop()
	}
	dir := filepath.Join(baseDir, meta.Dirname)
	if _, err := os.Stat(dir); err != nil {
		return nil, err
	}
	return &Run{
		meta:      meta,
		dir:       dir,
		log:       log,
		bloomPath: filepath.Join(dir, bloomFileName),
		idxPath:   filepath.Join(dir, indexFileName),
		dataPath:  filepath.Join(dir, dataFileName),
	}, nil
}

// Metadata returns the run's metadata.
func (r *Run) Metadata() Metadata { return r.meta }

func (r *Run) ensureBloom() error {
	if r.bf != nil {
		return nil
	}
	bf, err := bloom.LoadFromFile(r.bloomPath)
	if err != nil {
		return err
	}
	r.bf = bf
	return nil
}

func (r *Run) ensureIndex() error {
	if r.idx != nil {
		return nil
	}
	idx, err := sparseindex.LoadFromFile(r.idxPath)
	if err != nil {
		return err
	}
	r.idx = idx
	return nil
}

func (r *Run) ensureMapped() error {
	if r.dataMap != nil {
		return nil
	}
	f, err := os.Open(r.dataPath)
	if err != nil {
		return err
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return err
	}
	if st.Size() == 0 {
		r.dataFH = f
		r.dataMap = []byte{}
		return nil
	}
	data, err := unix.Mmap(int(f.Fd()), 0, int(st.Size()), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		_ = f.Close()
		return err
	}
	r.dataFH = f
	r.dataMap = data
	return nil
}

// Get performs a point lookup: key-range short-circuit, then bloom, then
// sparse-index-bounded mmap scan, per spec §4.3.
func (r *Run) Get(key string) (entry.Entry, bool, error) {
	if key < r.meta.MinKey || key > r.meta.MaxKey {
		return entry.Entry{}, false, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.ensureBloom(); err != nil {
		return entry.Entry{}, false, err
	}
	if !r.bf.MightContain([]byte(key)) {
		r.log.Debugf("sstable: %s bloom negative for %q", r.meta.Dirname, key)
		return entry.Entry{}, false, nil
	}

	if err := r.ensureIndex(); err != nil {
		return entry.Entry{}, false, err
	}
	start, end, hasEnd := r.idx.GetScanRange(key)

	if err := r.ensureMapped(); err != nil {
		return entry.Entry{}, false, err
	}
	dataLen := uint64(len(r.dataMap))
	if start > dataLen {
		start = dataLen
	}
	if !hasEnd || end > dataLen {
		end = dataLen
	}
	if start >= end {
		return entry.Entry{}, false, nil
	}
	window := r.dataMap[start:end]

	for _, line := range bytes.Split(window, []byte{'\n'}) {
		if len(line) == 0 {
			continue
		}
		var e entry.Entry
		if err := json.Unmarshal(line, &e); err != nil {
			continue
		}
		if e.Key == key {
			return e, true, nil
		}
		if e.Key > key {
			// Entries are sorted; no further match is possible.
			break
		}
	}
	return entry.Entry{}, false, nil
}

// ReadAll memory-maps the data file and parses every line in order. Used by
// compaction, which needs the full sorted key space of each source run.
func (r *Run) ReadAll() ([]entry.Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.ensureMapped(); err != nil {
		return nil, err
	}
	out := make([]entry.Entry, 0, r.meta.NumEntries)
	for _, line := range bytes.Split(r.dataMap, []byte{'\n'}) {
		if len(line) == 0 {
			continue
		}
		var e entry.Entry
		if err := json.Unmarshal(line, &e); err != nil {
			r.log.Warnf("sstable: %s skipping corrupt line: %v", r.meta.Dirname, err)
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// Close releases the mmap, the data file handle and fsyncs the bloom
// filter if it is still file-backed and open.
func (r *Run) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closeLocked()
}

func (r *Run) closeLocked() error {
	var firstErr error
	if r.bf != nil {
		if err := r.bf.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if r.dataMap != nil && len(r.dataMap) > 0 {
		if err := unix.Munmap(r.dataMap); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	r.dataMap = nil
	if r.dataFH != nil {
		if err := r.dataFH.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		r.dataFH = nil
	}
	return firstErr
}

// Delete closes the run then removes its directory tree.
func (r *Run) Delete() error {
	r.mu.Lock()
	if err := r.closeLocked(); err != nil {
		r.mu.Unlock()
		return err
	}
	dir := r.dir
	r.mu.Unlock()
	return os.RemoveAll(dir)
}
