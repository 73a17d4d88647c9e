package diskio

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCreateBufferedWritesOnClose(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.bin")

	f, err := CreateBuffered(path)
	require.NoError(t, err)
	_, err = f.Write([]byte("hello"))
	require.NoError(t, err)

	// buffered data isn't guaranteed on disk until Close flushes it.
	require.NoError(t, f.Close())

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "hello", string(got))
}

func TestCreateBufferedTempIsUnique(t *testing.T) {
	dir := t.TempDir()

	a, err := CreateBufferedTemp(dir, ".tmp-*")
	require.NoError(t, err)
	b, err := CreateBufferedTemp(dir, ".tmp-*")
	require.NoError(t, err)
	defer a.Close()
	defer b.Close()

	require.NotEqual(t, a.Name(), b.Name())
}
