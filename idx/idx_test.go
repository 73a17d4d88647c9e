package idx

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ngdp-go/casc/archive"
	"github.com/ngdp-go/casc/casckey"
)

// buildFile assembles a minimal bucket file: 8-byte header plus entries.
func buildFile(t *testing.T, keyFieldSize, locationFieldSize, lengthFieldSize, segmentBits int, bucket uint8, records []struct {
	key       []byte
	archiveID uint64
	offset    uint64
	size      uint32
}) []byte {
	t.Helper()
	buf := []byte{1, bucket, byte(keyFieldSize), byte(locationFieldSize), byte(lengthFieldSize), byte(segmentBits), 0, 0}
	offsetBytes := (segmentBits + 7) / 8
	fileBytes := locationFieldSize - offsetBytes
	for _, r := range records {
		buf = append(buf, r.key...)

		// Split archiveID into its low (file) and high (offset-field)
		// parts the same way the reader recombines them.
		filePart := r.archiveID & (uint64(1)<<uint(8*fileBytes) - 1)
		highBits := r.archiveID >> uint(8*fileBytes)

		file := make([]byte, fileBytes)
		for i := 0; i < fileBytes; i++ {
			file[i] = byte(filePart >> uint(8*i))
		}
		buf = append(buf, file...)

		combinedOffset := highBits<<uint(segmentBits) | r.offset
		offs := make([]byte, offsetBytes)
		for i := offsetBytes - 1; i >= 0; i-- {
			offs[i] = byte(combinedOffset)
			combinedOffset >>= 8
		}
		buf = append(buf, offs...)

		length := make([]byte, lengthFieldSize)
		for i := 0; i < lengthFieldSize; i++ {
			length[i] = byte(r.size >> uint(8*i))
		}
		buf = append(buf, length...)
	}
	return buf
}

func sampleKey(t *testing.T, first9 byte) []byte {
	t.Helper()
	k := make([]byte, 9)
	k[0] = first9
	return k
}

func TestParseAndLookup(t *testing.T) {
	key1 := sampleKey(t, 0x01)
	bucket := archive.BucketOf(mustKey(t, key1))

	records := []struct {
		key       []byte
		archiveID uint64
		offset    uint64
		size      uint32
	}{
		{key: key1, archiveID: 3, offset: 1024, size: 4096},
	}
	buf := buildFile(t, 9, 5, 4, 30, bucket, records)

	idx, err := Parse(buf, bucket)
	require.NoError(t, err)
	require.Len(t, idx.Entries, 1)

	loc, ok := idx.Lookup(mustKey(t, key1))
	require.True(t, ok)
	require.Equal(t, uint32(3), loc.ArchiveID)
	require.Equal(t, uint64(1024), loc.Offset)
	require.Equal(t, uint32(4096), loc.Size)
}

func TestParseRejectsBucketMismatch(t *testing.T) {
	key1 := sampleKey(t, 0x01)
	bucket := archive.BucketOf(mustKey(t, key1))
	wrongBucket := bucket ^ 0x01

	records := []struct {
		key       []byte
		archiveID uint64
		offset    uint64
		size      uint32
	}{
		{key: key1, archiveID: 0, offset: 0, size: 1},
	}
	buf := buildFile(t, 9, 5, 4, 30, wrongBucket, records)

	_, err := Parse(buf, wrongBucket)
	require.ErrorIs(t, err, ErrBucketMismatch)
}

func TestParseRejectsBadFieldWidth(t *testing.T) {
	buf := []byte{1, 0, 10, 5, 4, 30, 0, 0}
	_, err := Parse(buf, 0)
	require.ErrorIs(t, err, ErrBadFieldWidth)
}

func TestLookupMissReturnsFalse(t *testing.T) {
	key1 := sampleKey(t, 0x01)
	bucket := archive.BucketOf(mustKey(t, key1))
	records := []struct {
		key       []byte
		archiveID uint64
		offset    uint64
		size      uint32
	}{
		{key: key1, archiveID: 0, offset: 0, size: 1},
	}
	buf := buildFile(t, 9, 5, 4, 30, bucket, records)
	idx, err := Parse(buf, bucket)
	require.NoError(t, err)

	other := sampleKey(t, 0x02)
	_, ok := idx.Lookup(mustKey(t, other))
	require.False(t, ok)
}

// TestAssembleLocationSplitField pins down the exact split-field encoding
// with location_field_size=5, segment_bits=30 (not byte-aligned) and a
// nonzero archive id: 1 byte little-endian file part, 4 bytes big-endian
// offset part with the archive id's top 2 bits folded into its high end.
func TestAssembleLocationSplitField(t *testing.T) {
	field := []byte{0x00, 0xC0, 0x00, 0x04, 0x00}
	archiveID, offset := assembleLocation(field[:1], field[1:], 30)
	require.Equal(t, uint64(768), archiveID)
	require.Equal(t, uint64(1024), offset)
}

func mustKey(t *testing.T, b []byte) casckey.Key {
	t.Helper()
	k, err := casckey.FromBytes(b)
	require.NoError(t, err)
	return k
}
