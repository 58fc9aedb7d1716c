package memtable

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kvforge/lsmkv/internal/entry"
	"github.com/kvforge/lsmkv/internal/logging"
)

type flushRecorder struct {
	mu   sync.Mutex
	imms []*Immutable
}

func (r *flushRecorder) callback(imm *Immutable) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.imms = append(r.imms, imm)
	return nil
}

func (r *flushRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.imms)
}

func TestManagerGetChecksActiveThenQueue(t *testing.T) {
	m := NewManager(Config{MaxEntries: 0, MaxImmutable: 100, Log: logging.Noop()})
	t.Cleanup(m.Close)

	m.Put(entry.New("a", "1", 1))
	e, ok := m.Get("a")
	require.True(t, ok)
	require.Equal(t, "1", e.Value)

	// Once rotated into the queue, "a" is still found there; a newer write
	// to the active memtable then takes precedence over the queued one.
	require.NotNil(t, m.RotateForFlush())
	e, ok = m.Get("a")
	require.True(t, ok)
	require.Equal(t, "1", e.Value)

	m.Put(entry.New("a", "2", 2))
	e, ok = m.Get("a")
	require.True(t, ok)
	require.Equal(t, "2", e.Value)
}

func TestManagerRotatesOnFullAndFlushes(t *testing.T) {
	rec := &flushRecorder{}
	m := NewManager(Config{MaxEntries: 2, MaxImmutable: 1, OnFlush: rec.callback, Log: logging.Noop()})
	t.Cleanup(m.Close)

	m.Put(entry.New("a", "1", 1))
	m.Put(entry.New("b", "2", 2)) // fills and rotates the active memtable

	require.Eventually(t, func() bool { return rec.count() == 1 }, time.Second, time.Millisecond)
}

func TestManagerRotateForFlushAndRemove(t *testing.T) {
	m := NewManager(Config{MaxEntries: 0, MaxImmutable: 100, Log: logging.Noop()})
	t.Cleanup(m.Close)

	m.Put(entry.New("a", "1", 1))
	imm := m.RotateForFlush()
	require.NotNil(t, imm)
	require.Equal(t, 1, m.QueueLen())

	// Data stays visible until the flush is acknowledged.
	e, ok := m.Get("a")
	require.True(t, ok)
	require.Equal(t, "1", e.Value)

	m.RemoveFlushedImmutable(imm)
	require.Equal(t, 0, m.QueueLen())
}

func TestManagerRotateForFlushOnEmptyReturnsNil(t *testing.T) {
	m := NewManager(Config{MaxEntries: 0, Log: logging.Noop()})
	t.Cleanup(m.Close)
	require.Nil(t, m.RotateForFlush())
}

func TestManagerTracksRotationAndFlushCounters(t *testing.T) {
	rec := &flushRecorder{}
	m := NewManager(Config{MaxEntries: 1, MaxImmutable: 1, OnFlush: rec.callback, Log: logging.Noop()})
	t.Cleanup(m.Close)

	require.Equal(t, 0, m.TotalRotations())
	require.Equal(t, 0, m.TotalAsyncFlushes())
	require.False(t, m.QueueFull())

	m.Put(entry.New("a", "1", 1)) // fills and rotates; queue now at MaxImmutable, triggers a flush submission

	require.Equal(t, 1, m.TotalRotations())
	require.Equal(t, 1, m.TotalAsyncFlushes())
	require.Eventually(t, func() bool { return rec.count() == 1 }, time.Second, time.Millisecond)
}

func TestManagerForceFlushAllDrainsEverything(t *testing.T) {
	rec := &flushRecorder{}
	m := NewManager(Config{MaxEntries: 0, OnFlush: rec.callback, Log: logging.Noop()})
	t.Cleanup(m.Close)

	m.Put(entry.New("a", "1", 1))
	require.NoError(t, m.ForceFlushAll())
	require.Equal(t, 1, rec.count())
	require.Equal(t, 0, m.ActiveLen())
}
