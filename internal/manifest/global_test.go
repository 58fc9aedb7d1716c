package manifest

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGetNextIDIsMonotonicAndPersists(t *testing.T) {
	dir := t.TempDir()
	gm, err := OpenGlobal(dir)
	require.NoError(t, err)

	id1, err := gm.GetNextID()
	require.NoError(t, err)
	id2, err := gm.GetNextID()
	require.NoError(t, err)
	require.Equal(t, id1+1, id2)

	reopened, err := OpenGlobal(dir)
	require.NoError(t, err)
	id3, err := reopened.GetNextID()
	require.NoError(t, err)
	require.Equal(t, id2+1, id3)
}

func TestSetNextIDNeverRegresses(t *testing.T) {
	dir := t.TempDir()
	gm, err := OpenGlobal(dir)
	require.NoError(t, err)

	_, err = gm.GetNextID() // 1
	require.NoError(t, err)
	_, err = gm.GetNextID() // 2, next is now 3
	require.NoError(t, err)

	require.NoError(t, gm.SetNextID(1)) // must not regress
	id, err := gm.GetNextID()
	require.NoError(t, err)
	require.Equal(t, uint64(3), id)

	require.NoError(t, gm.SetNextID(100))
	id, err = gm.GetNextID()
	require.NoError(t, err)
	require.Equal(t, uint64(100), id)
}

func TestSetAndGetMetadata(t *testing.T) {
	dir := t.TempDir()
	gm, err := OpenGlobal(dir)
	require.NoError(t, err)
	require.NoError(t, gm.SetMetadata("k", "v"))
	require.Equal(t, CurrentFormatVersion, gm.Version())
}
