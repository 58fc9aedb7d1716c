// Package bloom implements the per-run probabilistic set-membership filter
// described in spec §4.2: guarantees no false negatives, tolerates a
// configurable false-positive rate. Backed by bits-and-blooms/bitset for
// storage and twmb/murmur3 for the pair of hashes used in double hashing,
// the way the pack's from-scratch LSM implementations build their filters.
package bloom

import (
	"encoding/binary"
	"math"
	"os"

	"github.com/bits-and-blooms/bitset"
	"github.com/twmb/murmur3"
)

const DefaultFalsePositiveRate = 0.01

// Filter is a fixed-size Bloom filter. It may optionally be file-backed: a
// loaded-from-disk filter remembers its path so Close can fsync it.
type Filter struct {
	bits   *bitset.BitSet
	nBits  uint64
	k      uint32
	path   string
	loaded bool
}

// NewWithCapacity sizes a filter for n expected keys at false-positive rate
// p, using the standard m = -(n ln p) / (ln 2)^2 and k = (m/n) ln 2 formulas.
func NewWithCapacity(n int, p float64) *Filter {
	if n < 1 {
		n = 1
	}
	if p <= 0 || p >= 1 {
		p = DefaultFalsePositiveRate
	}
	m := uint64(math.Ceil(-float64(n) * math.Log(p) / (math.Ln2 * math.Ln2)))
	if m < 8 {
		m = 8
	}
	k := uint32(math.Round(float64(m) / float64(n) * math.Ln2))
	if k < 1 {
		k = 1
	}
	return &Filter{bits: bitset.New(uint(m)), nBits: m, k: k}
}

// hashPair returns the two independent hashes used for double hashing
// (h_i = h1 + i*h2), the standard Kirsch-Mitzenmacher construction.
func hashPair(key []byte) (uint64, uint64) {
	h1 := murmur3.SeedSum64(0, key)
	h2 := murmur3.SeedSum64(1, key)
	if h2 == 0 {
		h2 = 0x9e3779b97f4a7c15
	}
	return h1, h2
}

// Add inserts key into the filter.
func (f *Filter) Add(key []byte) {
	h1, h2 := hashPair(key)
	for i := uint32(0); i < f.k; i++ {
		idx := (h1 + uint64(i)*h2) % f.nBits
		f.bits.Set(uint(idx))
	}
}

// MightContain reports whether key may be in the set. False means
// definitely not present; true means maybe present.
func (f *Filter) MightContain(key []byte) bool {
	h1, h2 := hashPair(key)
	for i := uint32(0); i < f.k; i++ {
		idx := (h1 + uint64(i)*h2) % f.nBits
		if !f.bits.Test(uint(idx)) {
			return false
		}
	}
	return true
}

// encode serializes the filter as [k u32][nBits u64][bitset bytes...].
func (f *Filter) encode() ([]byte, error) {
	raw, err := f.bits.MarshalBinary()
	if err != nil {
		return nil, err
	}
	out := make([]byte, 4+8+len(raw))
	binary.LittleEndian.PutUint32(out[0:4], f.k)
	binary.LittleEndian.PutUint64(out[4:12], f.nBits)
	copy(out[12:], raw)
	return out, nil
}

func decode(b []byte) (*Filter, error) {
	if len(b) < 12 {
		return nil, os.ErrInvalid
	}
	k := binary.LittleEndian.Uint32(b[0:4])
	nBits := binary.LittleEndian.Uint64(b[4:12])
	bs := &bitset.BitSet{}
	if err := bs.UnmarshalBinary(b[12:]); err != nil {
		return nil, err
	}
	return &Filter{bits: bs, nBits: nBits, k: k}, nil
}

// SaveToFile writes the filter to path, becoming file-backed.
func (f *Filter) SaveToFile(path string) error {
	b, err := f.encode()
	if err != nil {
		return err
	}
	fh, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer func() { _ = fh.Close() }()
	if _, err := fh.Write(b); err != nil {
		return err
	}
	if err := fh.Sync(); err != nil {
		return err
	}
	f.path = path
	f.loaded = true
	return nil
}

// LoadFromFile lazily materializes a filter previously saved at path.
func LoadFromFile(path string) (*Filter, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	f, err := decode(b)
	if err != nil {
		return nil, err
	}
	f.path = path
	f.loaded = true
	return f, nil
}

// Close fsyncs the backing file, if any. A no-op for purely in-memory
// filters that were never saved.
func (f *Filter) Close() error {
	if !f.loaded || f.path == "" {
		return nil
	}
	fh, err := os.Open(f.path)
	if err != nil {
		return err
	}
	defer func() { _ = fh.Close() }()
	return fh.Sync()
}
