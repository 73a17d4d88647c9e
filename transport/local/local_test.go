package local

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ngdp-go/casc/archive"
	"github.com/ngdp-go/casc/casckey"
	"github.com/ngdp-go/casc/transport"
)

// buildIdxFile assembles a minimal single-entry bucket file matching the
// idx package's on-disk layout: an 8-byte header followed by one record.
func buildIdxFile(t *testing.T, bucket uint8, key []byte, archiveID uint64, offset uint64, size uint32) []byte {
	t.Helper()
	const (
		keyFieldSize      = 9
		locationFieldSize = 5
		lengthFieldSize   = 4
		segmentBits       = 30
	)
	buf := []byte{1, bucket, keyFieldSize, locationFieldSize, lengthFieldSize, segmentBits, 0, 0}
	buf = append(buf, key...)

	// One file byte (the archive id's low bits), then a big-endian offset
	// field carrying the archive id's high bits above segmentBits of offset.
	loc := []byte{byte(archiveID)}
	combined := (archiveID>>8)<<segmentBits | offset
	for i := locationFieldSize - 2; i >= 0; i-- {
		loc = append(loc, byte(combined>>uint(8*i)))
	}
	buf = append(buf, loc...)

	length := make([]byte, lengthFieldSize)
	for i := 0; i < lengthFieldSize; i++ {
		length[i] = byte(size >> uint(8*i))
	}
	buf = append(buf, length...)
	return buf
}

func setupInstall(t *testing.T) (string, casckey.Key) {
	t.Helper()
	root := t.TempDir()
	indicesDir := filepath.Join(root, "indices")
	dataDir := filepath.Join(root, "data")
	require.NoError(t, os.MkdirAll(indicesDir, 0o755))
	require.NoError(t, os.MkdirAll(dataDir, 0o755))

	payload := []byte("hello, casc")
	require.NoError(t, os.WriteFile(filepath.Join(dataDir, "data.000"), append(make([]byte, 100), payload...), 0o644))

	keyBytes := make([]byte, 9)
	keyBytes[0] = 0x7a
	key, err := casckey.FromBytes(keyBytes)
	require.NoError(t, err)
	bucket := archive.BucketOf(key)

	idxData := buildIdxFile(t, bucket, keyBytes, 0, 100, uint32(len(payload)))
	require.NoError(t, os.WriteFile(filepath.Join(indicesDir, "0000000000"+hexDigit(bucket)+"0.idx"), idxData, 0o644))

	return root, key
}

func hexDigit(b uint8) string {
	const digits = "0123456789abcdef"
	return string(digits[b&0xF])
}

func TestOpenAndFetchBlob(t *testing.T) {
	root, key := setupInstall(t)
	tr, err := Open(filepath.Join(root, "indices"), filepath.Join(root, "data"), archive.ComputedHeaderSize)
	require.NoError(t, err)

	data, err := tr.FetchBlob(t.Context(), transport.KindData, key.String())
	require.NoError(t, err)
	require.Equal(t, "hello, casc", string(data))
}

func TestFetchRangeSlicesWithinLocation(t *testing.T) {
	root, key := setupInstall(t)
	tr, err := Open(filepath.Join(root, "indices"), filepath.Join(root, "data"), archive.ComputedHeaderSize)
	require.NoError(t, err)

	data, err := tr.FetchRange(t.Context(), transport.KindData, key.String(), transport.ByteRange{Start: 0, End: 4})
	require.NoError(t, err)
	require.Equal(t, "hello", string(data))
}

func TestFetchBlobUnknownKey(t *testing.T) {
	root, _ := setupInstall(t)
	tr, err := Open(filepath.Join(root, "indices"), filepath.Join(root, "data"), archive.ComputedHeaderSize)
	require.NoError(t, err)

	other := make([]byte, 9)
	other[0] = 0xff
	k, err := casckey.FromBytes(other)
	require.NoError(t, err)

	_, err = tr.FetchBlob(t.Context(), transport.KindData, k.String())
	require.ErrorIs(t, err, transport.ErrNotFound)
}
