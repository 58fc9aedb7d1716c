package manifest

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kvforge/lsmkv/internal/logging"
)

func TestManagerAddAndRemoveSSTable(t *testing.T) {
	dir := t.TempDir()
	mgr, err := Open(dir, logging.Noop())
	require.NoError(t, err)

	e, err := mgr.AddSSTable(0, RunEntry{Dirname: "run_1", NumEntries: 3})
	require.NoError(t, err)
	require.Equal(t, uint64(1), e.SSTableID)

	lm, err := mgr.Level(0)
	require.NoError(t, err)
	require.Len(t, lm.Entries(), 1)

	level := 0
	require.NoError(t, mgr.RemoveSSTables([]uint64{e.SSTableID}, &level))
	require.Empty(t, lm.Entries())
}

func TestManagerDiscoversExistingLevelsOnReopen(t *testing.T) {
	dir := t.TempDir()
	mgr, err := Open(dir, logging.Noop())
	require.NoError(t, err)
	_, err = mgr.AddSSTable(2, RunEntry{Dirname: "run_1"})
	require.NoError(t, err)

	reopened, err := Open(dir, logging.Noop())
	require.NoError(t, err)
	require.Contains(t, reopened.Levels(), 2)
}

func TestMigrateLegacyManifest(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(dir, 0o755))

	legacy := legacyDoc{
		NextSSTableID: 7,
		Entries: []RunEntry{
			{SSTableID: 1, Dirname: "run_1", Level: 0},
			{SSTableID: 2, Dirname: "run_2", Level: 1},
		},
	}
	b, err := json.Marshal(legacy)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "manifest.json"), b, 0o644))

	mgr, err := Open(dir, logging.Noop())
	require.NoError(t, err)

	lm0, err := mgr.Level(0)
	require.NoError(t, err)
	require.Len(t, lm0.Entries(), 1)

	lm1, err := mgr.Level(1)
	require.NoError(t, err)
	require.Len(t, lm1.Entries(), 1)

	id, err := mgr.Global().GetNextID()
	require.NoError(t, err)
	require.Equal(t, uint64(7), id)

	_, err = os.Stat(filepath.Join(dir, "manifest.json.backup"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "manifest.json"))
	require.True(t, os.IsNotExist(err))
}
