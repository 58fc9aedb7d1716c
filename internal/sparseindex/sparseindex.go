// Package sparseindex implements the every-Nth-key (key -> byte offset)
// index that lets a run's point lookup bound its scan to a single block
// instead of the whole data file. See spec §4.2.
package sparseindex

import (
	"bufio"
	"encoding/binary"
	"io"
	"os"
	"sort"
)

const DefaultBlockSize = 4

type entry struct {
	key    string
	offset uint64
}

// Index is an ordered, binary-searchable (key, offset) vector.
type Index struct {
	blockSize uint32
	entries   []entry
}

// New starts an empty index with the given block size (every Nth key
// written to the data file gets an entry).
func New(blockSize int) *Index {
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}
	return &Index{blockSize: uint32(blockSize)}
}

// BlockSize reports the configured block size.
func (idx *Index) BlockSize() int { return int(idx.blockSize) }

// ShouldIndex reports whether the entry at position i (0-based, in the
// run's sorted entry order) should get a sparse-index entry.
func (idx *Index) ShouldIndex(i int) bool {
	return i%int(idx.blockSize) == 0
}

// Add records that key begins at byte offset in the data file. Callers must
// add keys in ascending order.
func (idx *Index) Add(key string, offset uint64) {
	idx.entries = append(idx.entries, entry{key: key, offset: offset})
}

// FindBlockOffset returns the largest indexed offset whose key <= target
// (a floor lookup), or 0 if target precedes all indexed keys.
func (idx *Index) FindBlockOffset(target string) uint64 {
	n := len(idx.entries)
	// bisect_right semantics: first index with key > target.
	i := sort.Search(n, func(i int) bool { return idx.entries[i].key > target })
	if i == 0 {
		return 0
	}
	return idx.entries[i-1].offset
}

// FindCeilOffset returns the smallest indexed offset whose key >= target,
// and whether such an entry exists.
func (idx *Index) FindCeilOffset(target string) (uint64, bool) {
	n := len(idx.entries)
	// bisect_left semantics: first index with key >= target.
	i := sort.Search(n, func(i int) bool { return idx.entries[i].key >= target })
	if i == n {
		return 0, false
	}
	return idx.entries[i].offset, true
}

// GetScanRange returns (start, end, hasEnd) for a point lookup of key:
// start = floor(key); end is the indexed offset strictly greater than key's
// block if one exists, otherwise hasEnd is false and the caller should scan
// to EOF.
func (idx *Index) GetScanRange(target string) (start uint64, end uint64, hasEnd bool) {
	start = idx.FindBlockOffset(target)
	n := len(idx.entries)
	i := sort.Search(n, func(i int) bool { return idx.entries[i].key > target })
	if i < n {
		return start, idx.entries[i].offset, true
	}
	return start, 0, false
}

// Serialize writes the binary little-endian framing from spec §4.2:
// [block_size u32][num_entries u32][entry...] where each entry is
// [key_len u32][key bytes][offset u64].
func (idx *Index) Serialize(w io.Writer) error {
	bw := bufio.NewWriter(w)
	var hdr [8]byte
	binary.LittleEndian.PutUint32(hdr[0:4], idx.blockSize)
	binary.LittleEndian.PutUint32(hdr[4:8], uint32(len(idx.entries)))
	if _, err := bw.Write(hdr[:]); err != nil {
		return err
	}
	for _, e := range idx.entries {
		var klenBuf [4]byte
		binary.LittleEndian.PutUint32(klenBuf[:], uint32(len(e.key)))
		if _, err := bw.Write(klenBuf[:]); err != nil {
			return err
		}
		if _, err := bw.Write([]byte(e.key)); err != nil {
			return err
		}
		var offBuf [8]byte
		binary.LittleEndian.PutUint64(offBuf[:], e.offset)
		if _, err := bw.Write(offBuf[:]); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// SaveToFile persists the index to path.
func (idx *Index) SaveToFile(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	if err := idx.Serialize(f); err != nil {
		return err
	}
	return f.Sync()
}

// Deserialize parses the binary framing written by Serialize.
func Deserialize(r io.Reader) (*Index, error) {
	br := bufio.NewReader(r)
	var hdr [8]byte
	if _, err := io.ReadFull(br, hdr[:]); err != nil {
		return nil, err
	}
	blockSize := binary.LittleEndian.Uint32(hdr[0:4])
	numEntries := binary.LittleEndian.Uint32(hdr[4:8])
	idx := &Index{blockSize: blockSize}
	idx.entries = make([]entry, 0, numEntries)
	for i := uint32(0); i < numEntries; i++ {
		var klenBuf [4]byte
		if _, err := io.ReadFull(br, klenBuf[:]); err != nil {
			return nil, err
		}
		klen := binary.LittleEndian.Uint32(klenBuf[:])
		kb := make([]byte, klen)
		if _, err := io.ReadFull(br, kb); err != nil {
			return nil, err
		}
		var offBuf [8]byte
		if _, err := io.ReadFull(br, offBuf[:]); err != nil {
			return nil, err
		}
		off := binary.LittleEndian.Uint64(offBuf[:])
		idx.entries = append(idx.entries, entry{key: string(kb), offset: off})
	}
	return idx, nil
}

// LoadFromFile reads an index previously written by SaveToFile.
func LoadFromFile(path string) (*Index, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	return Deserialize(f)
}
