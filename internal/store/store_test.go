package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kvforge/lsmkv/internal/config"
	"github.com/kvforge/lsmkv/internal/logging"
)

func testConfig(t *testing.T) config.StoreConfig {
	t.Helper()
	cfg := config.Defaults()
	cfg.DataDir = filepath.Join(t.TempDir(), "data")
	cfg.MemtableSize = 3
	cfg.MaxImmutableMemtables = 1
	cfg.MaxL0SSTables = 100
	cfg.SoftLimitRatio = 1.0
	return cfg
}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(testConfig(t), logging.Noop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestPutGetDelete(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.Put("a", "1"))
	res, err := s.Get("a")
	require.NoError(t, err)
	require.True(t, res.Found)
	require.Equal(t, "1", res.Value)

	require.NoError(t, s.Delete("a"))
	res, err = s.Get("a")
	require.NoError(t, err)
	require.False(t, res.Found)
}

func TestGetOnMissingKey(t *testing.T) {
	s := openTestStore(t)
	res, err := s.Get("nope")
	require.NoError(t, err)
	require.False(t, res.Found)
}

func TestPutRejectsOversizedKey(t *testing.T) {
	s := openTestStore(t)
	big := make([]byte, 2000)
	err := s.Put(string(big), "v")
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestPutRejectsEmptyKey(t *testing.T) {
	s := openTestStore(t)
	err := s.Put("", "v")
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestFlushOnEmptyMemtableReturnsErr(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Flush()
	require.ErrorIs(t, err, ErrEmptyMemtable)
}

func TestFlushPublishesRunAndClearsWAL(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.Put("a", "1"))
	require.NoError(t, s.Put("b", "2"))

	meta, err := s.Flush()
	require.NoError(t, err)
	require.Equal(t, 2, meta.NumEntries)

	records, err := s.w.ReadAll()
	require.NoError(t, err)
	require.Empty(t, records, "records covered by the flushed run must be dropped from the WAL")

	res, err := s.Get("a")
	require.NoError(t, err)
	require.True(t, res.Found)
	require.Equal(t, "1", res.Value)
}

func TestAutoFlushOnMemtableFull(t *testing.T) {
	cfg := testConfig(t)
	s, err := Open(cfg, logging.Noop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	for i := 0; i < cfg.MemtableSize; i++ {
		require.NoError(t, s.Put(string(rune('a'+i)), "v"))
	}

	require.Eventually(t, func() bool {
		st := s.Stats()
		for _, l := range st.Levels {
			if l.NumRuns > 0 {
				return true
			}
		}
		return false
	}, time.Second, 10*time.Millisecond)
}

func TestOperationsFailAfterClose(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.Close())

	err := s.Put("a", "1")
	require.ErrorIs(t, err, ErrClosed)

	_, err = s.Get("a")
	require.ErrorIs(t, err, ErrClosed)
}

func TestRecoverReplaysWALAfterReopen(t *testing.T) {
	cfg := testConfig(t)
	s1, err := Open(cfg, logging.Noop())
	require.NoError(t, err)
	require.NoError(t, s1.Put("a", "1"))
	// Simulate a crash: release the WAL and the data dir lock without Close,
	// so nothing is flushed and the WAL holds the only copy of "a".
	require.NoError(t, s1.w.Close())
	require.NoError(t, s1.lock.Unlock())

	s2, err := Open(cfg, logging.Noop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s2.Close() })

	res, err := s2.Get("a")
	require.NoError(t, err)
	require.True(t, res.Found)
	require.Equal(t, "1", res.Value)
}

func TestCompactAfterFlushesDedupesAcrossLevels(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.Put("a", "1"))
	_, err := s.Flush()
	require.NoError(t, err)

	require.NoError(t, s.Put("a", "2"))
	_, err = s.Flush()
	require.NoError(t, err)

	_, err = s.Compact()
	require.NoError(t, err)

	res, err := s.Get("a")
	require.NoError(t, err)
	require.True(t, res.Found)
	require.Equal(t, "2", res.Value)
}

func TestStatsReflectsRotationsAndFlushes(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxImmutableMemtables = 100
	s, err := Open(cfg, logging.Noop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	for i := 0; i < cfg.MemtableSize+1; i++ {
		require.NoError(t, s.Put(string(rune('a'+i)), "v"))
	}

	st := s.Stats()
	require.Equal(t, 1, st.ActiveMemtableEntries)
	require.GreaterOrEqual(t, st.TotalMemtableRotations, 1)
	require.Equal(t, 0, st.TotalAsyncFlushes, "a queue below MaxImmutableMemtables submits no flush")
	require.Equal(t, cfg.MaxImmutableMemtables, st.MaxImmutableMemtables)
}

func TestOpenRejectsSecondOwnerOfSameDataDir(t *testing.T) {
	cfg := testConfig(t)
	s1, err := Open(cfg, logging.Noop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s1.Close() })

	_, err = Open(cfg, logging.Noop())
	require.Error(t, err)
}
