package sparseindex

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func buildIndex() *Index {
	idx := New(2)
	idx.Add("b", 0)
	idx.Add("d", 10)
	idx.Add("f", 20)
	return idx
}

func TestShouldIndex(t *testing.T) {
	idx := New(3)
	require.True(t, idx.ShouldIndex(0))
	require.False(t, idx.ShouldIndex(1))
	require.False(t, idx.ShouldIndex(2))
	require.True(t, idx.ShouldIndex(3))
}

func TestFindBlockOffsetFloor(t *testing.T) {
	idx := buildIndex()
	require.Equal(t, uint64(0), idx.FindBlockOffset("a"))
	require.Equal(t, uint64(0), idx.FindBlockOffset("b"))
	require.Equal(t, uint64(0), idx.FindBlockOffset("c"))
	require.Equal(t, uint64(10), idx.FindBlockOffset("e"))
	require.Equal(t, uint64(20), idx.FindBlockOffset("z"))
}

func TestFindCeilOffset(t *testing.T) {
	idx := buildIndex()
	off, ok := idx.FindCeilOffset("a")
	require.True(t, ok)
	require.Equal(t, uint64(0), off)

	off, ok = idx.FindCeilOffset("c")
	require.True(t, ok)
	require.Equal(t, uint64(10), off)

	_, ok = idx.FindCeilOffset("z")
	require.False(t, ok)
}

func TestGetScanRange(t *testing.T) {
	idx := buildIndex()

	start, end, hasEnd := idx.GetScanRange("c")
	require.Equal(t, uint64(0), start)
	require.True(t, hasEnd)
	require.Equal(t, uint64(10), end)

	start, _, hasEnd = idx.GetScanRange("z")
	require.Equal(t, uint64(20), start)
	require.False(t, hasEnd)
}

func TestSerializeDeserializeRoundTrip(t *testing.T) {
	idx := buildIndex()
	var buf bytes.Buffer
	require.NoError(t, idx.Serialize(&buf))

	got, err := Deserialize(&buf)
	require.NoError(t, err)
	require.Equal(t, idx.blockSize, got.blockSize)
	require.Equal(t, idx.entries, got.entries)
}

func TestSaveLoadFileRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "index.bin")

	idx := buildIndex()
	require.NoError(t, idx.SaveToFile(path))

	got, err := LoadFromFile(path)
	require.NoError(t, err)
	require.Equal(t, idx.entries, got.entries)
}
