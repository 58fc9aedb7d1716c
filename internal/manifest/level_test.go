package manifest

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOpenLevelCreatesEmptyWhenMissing(t *testing.T) {
	dir := t.TempDir()
	lm, err := OpenLevel(dir, 0)
	require.NoError(t, err)
	require.Empty(t, lm.Entries())
}

func TestAddAndRemoveSSTable(t *testing.T) {
	dir := t.TempDir()
	lm, err := OpenLevel(dir, 0)
	require.NoError(t, err)

	require.NoError(t, lm.AddSSTable(RunEntry{SSTableID: 1, Dirname: "run_1", NumEntries: 10}))
	require.NoError(t, lm.AddSSTable(RunEntry{SSTableID: 2, Dirname: "run_2", NumEntries: 20}))
	require.Len(t, lm.Entries(), 2)

	require.NoError(t, lm.RemoveSSTables(map[uint64]bool{1: true}))
	entries := lm.Entries()
	require.Len(t, entries, 1)
	require.Equal(t, uint64(2), entries[0].SSTableID)
}

func TestLevelManifestPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	lm, err := OpenLevel(dir, 3)
	require.NoError(t, err)
	require.NoError(t, lm.AddSSTable(RunEntry{SSTableID: 5, Dirname: "run_5", Level: 3}))

	reopened, err := OpenLevel(dir, 3)
	require.NoError(t, err)
	require.Len(t, reopened.Entries(), 1)
	require.Equal(t, uint64(5), reopened.Entries()[0].SSTableID)
}

func TestClearRemovesAllEntries(t *testing.T) {
	dir := t.TempDir()
	lm, err := OpenLevel(dir, 0)
	require.NoError(t, err)
	require.NoError(t, lm.AddSSTable(RunEntry{SSTableID: 1}))
	require.NoError(t, lm.Clear())
	require.Empty(t, lm.Entries())
}

func TestAtomicWriteLeavesNoTempFileBehind(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "level_0.json")
	require.NoError(t, atomicWrite(path, []byte(`{"level":0}`)))

	_, err := os.Stat(path + ".tmp")
	require.True(t, os.IsNotExist(err))

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	var doc map[string]int
	require.NoError(t, json.Unmarshal(b, &doc))
	require.Equal(t, 0, doc["level"])
}
