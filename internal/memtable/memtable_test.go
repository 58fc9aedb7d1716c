package memtable

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kvforge/lsmkv/internal/entry"
)

func TestPutAndGet(t *testing.T) {
	m := New(0)
	m.Put(entry.New("a", "1", 1))
	e, ok := m.Get("a", false)
	require.True(t, ok)
	require.Equal(t, "1", e.Value)

	_, ok = m.Get("missing", false)
	require.False(t, ok)
}

func TestDeleteHidesValueUnlessTombstonesIncluded(t *testing.T) {
	m := New(0)
	m.Put(entry.New("a", "1", 1))
	m.Delete(entry.NewTombstone("a", 2))

	_, ok := m.Get("a", false)
	require.False(t, ok)

	e, ok := m.Get("a", true)
	require.True(t, ok)
	require.True(t, e.IsDeleted)
}

func TestIsFull(t *testing.T) {
	m := New(2)
	require.False(t, m.IsFull())
	m.Put(entry.New("a", "1", 1))
	require.False(t, m.IsFull())
	m.Put(entry.New("b", "2", 2))
	require.True(t, m.IsFull())
}

func TestIsFullNeverTrueWhenMaxSizeZero(t *testing.T) {
	m := New(0)
	for i := 0; i < 100; i++ {
		m.Put(entry.New(string(rune('a'+i%26)), "v", int64(i)))
	}
	require.False(t, m.IsFull())
}

func TestGetAllEntriesSortedByKey(t *testing.T) {
	m := New(0)
	m.Put(entry.New("c", "3", 3))
	m.Put(entry.New("a", "1", 1))
	m.Put(entry.New("b", "2", 2))

	all := m.GetAllEntries()
	require.Len(t, all, 3)
	require.Equal(t, "a", all[0].Key)
	require.Equal(t, "b", all[1].Key)
	require.Equal(t, "c", all[2].Key)
}

func TestClear(t *testing.T) {
	m := New(0)
	m.Put(entry.New("a", "1", 1))
	m.Clear()
	require.Equal(t, 0, m.Len())
}
