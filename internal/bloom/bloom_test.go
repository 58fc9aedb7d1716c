package bloom

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAddAndMightContain(t *testing.T) {
	f := NewWithCapacity(100, 0.01)
	present := []string{"apple", "banana", "cherry"}
	for _, k := range present {
		f.Add([]byte(k))
	}
	for _, k := range present {
		require.True(t, f.MightContain([]byte(k)), "expected %q to be present", k)
	}
}

func TestMightContainHasNoFalseNegatives(t *testing.T) {
	f := NewWithCapacity(1000, 0.01)
	keys := make([]string, 500)
	for i := range keys {
		keys[i] = fmt.Sprintf("key-%d", i)
		f.Add([]byte(keys[i]))
	}
	for _, k := range keys {
		require.True(t, f.MightContain([]byte(k)))
	}
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "filter.bf")

	f := NewWithCapacity(50, 0.01)
	f.Add([]byte("hello"))
	f.Add([]byte("world"))
	require.NoError(t, f.SaveToFile(path))
	require.NoError(t, f.Close())

	loaded, err := LoadFromFile(path)
	require.NoError(t, err)
	require.True(t, loaded.MightContain([]byte("hello")))
	require.True(t, loaded.MightContain([]byte("world")))
}

func TestNewWithCapacityClampsDegenerateInputs(t *testing.T) {
	f := NewWithCapacity(0, 0)
	require.NotNil(t, f.bits)
	require.GreaterOrEqual(t, f.k, uint32(1))
}
