package sstable

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kvforge/lsmkv/internal/logging"
)

func TestLazyRunDoesNotLoadUntilAccessed(t *testing.T) {
	dir := t.TempDir()
	meta, err := Write(dir, 1, sampleEntries(), 2, logging.Noop())
	require.NoError(t, err)

	lr := NewLazyRun(dir, meta, logging.Noop())
	require.Equal(t, int64(0), lr.AccessCount())

	e, ok, err := lr.Get("b")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "2", e.Value)
	require.Equal(t, int64(1), lr.AccessCount())
}

func TestLazyRunGetShortCircuitsWithoutLoading(t *testing.T) {
	dir := t.TempDir()
	meta, err := Write(dir, 1, sampleEntries(), 2, logging.Noop())
	require.NoError(t, err)

	lr := NewLazyRun(dir, meta, logging.Noop())
	_, ok, err := lr.Get("zzz")
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, int64(0), lr.AccessCount())
}

func TestLazyRunUnloadThenReload(t *testing.T) {
	dir := t.TempDir()
	meta, err := Write(dir, 1, sampleEntries(), 2, logging.Noop())
	require.NoError(t, err)

	lr := NewLazyRun(dir, meta, logging.Noop())
	_, _, err = lr.Get("a")
	require.NoError(t, err)

	require.NoError(t, lr.Unload())

	e, ok, err := lr.Get("c")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "3", e.Value)
}

func TestNewLoadedLazyRunSkipsInitialLoad(t *testing.T) {
	dir := t.TempDir()
	meta, err := Write(dir, 1, sampleEntries(), 2, logging.Noop())
	require.NoError(t, err)
	run, err := Open(dir, meta, logging.Noop())
	require.NoError(t, err)

	lr := NewLoadedLazyRun(dir, run, logging.Noop())
	e, ok, err := lr.Get("e")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "5", e.Value)
}

func TestLazyRunDelete(t *testing.T) {
	dir := t.TempDir()
	meta, err := Write(dir, 1, sampleEntries(), 2, logging.Noop())
	require.NoError(t, err)

	lr := NewLazyRun(dir, meta, logging.Noop())
	require.NoError(t, lr.Delete())

	_, ok, err := lr.Get("a")
	require.Error(t, err)
	require.False(t, ok)
}
