package download

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeU16BE(buf *bytes.Buffer, v uint16) {
	buf.WriteByte(byte(v >> 8))
	buf.WriteByte(byte(v))
}

func writeU32BE(buf *bytes.Buffer, v uint32) {
	buf.WriteByte(byte(v >> 24))
	buf.WriteByte(byte(v >> 16))
	buf.WriteByte(byte(v >> 8))
	buf.WriteByte(byte(v))
}

func write40BE(buf *bytes.Buffer, v uint64) {
	var b [5]byte
	for i := 4; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
	buf.Write(b[:])
}

func buildManifest(t *testing.T, version byte, basePriority int8) []byte {
	t.Helper()
	buf := &bytes.Buffer{}
	buf.WriteString("DL")
	buf.WriteByte(version)
	buf.WriteByte(16) // ekey_size
	buf.WriteByte(1)  // has_checksum
	writeU32BE(buf, 2) // entry_count
	writeU16BE(buf, 0) // tag_count

	if version >= 2 {
		buf.WriteByte(2) // flag_size
	}
	if version >= 3 {
		buf.WriteByte(byte(basePriority))
		buf.Write(make([]byte, 3))
	}

	ekey1 := make([]byte, 16)
	ekey1[0] = 0x01

	// entry 1
	buf.Write(ekey1)
	write40BE(buf, 1000)
	buf.WriteByte(10) // priority
	writeU32BE(buf, 0xAABBCCDD)
	if version >= 2 {
		buf.Write([]byte{0x01, 0x02})
	}

	// entry 2
	ekey2 := make([]byte, 16)
	ekey2[0] = 0x02
	buf.Write(ekey2)
	write40BE(buf, 2000)
	buf.WriteByte(20) // priority
	writeU32BE(buf, 0x11223344)
	if version >= 2 {
		buf.Write([]byte{0x03, 0x04})
	}

	return buf.Bytes()
}

func TestParseDownloadV1(t *testing.T) {
	m, err := Parse(buildManifest(t, 1, 0))
	require.NoError(t, err)
	require.Equal(t, 1, m.Version)
	require.Len(t, m.Entries, 2)
	require.Equal(t, uint64(1000), m.Entries[0].CompressedSize)
	require.True(t, m.Entries[0].HasChecksum)
	require.Equal(t, int16(10), m.Entries[0].Priority)
}

func TestParseDownloadV3BasePriority(t *testing.T) {
	m, err := Parse(buildManifest(t, 3, 5))
	require.NoError(t, err)
	require.Equal(t, int16(5), m.Entries[0].Priority)  // 10 - 5
	require.Equal(t, int16(15), m.Entries[1].Priority) // 20 - 5
	require.Equal(t, []byte{0x01, 0x02}, m.Entries[0].Flags)
}

func TestSelectByPriority(t *testing.T) {
	m, err := Parse(buildManifest(t, 1, 0))
	require.NoError(t, err)
	selected := m.SelectByPriority(10)
	require.Equal(t, []int{0}, selected)
}

func TestParseRejectsOversizedFlagField(t *testing.T) {
	buf := &bytes.Buffer{}
	buf.WriteString("DL")
	buf.WriteByte(2)
	buf.WriteByte(16)
	buf.WriteByte(0)
	writeU32BE(buf, 0)
	writeU16BE(buf, 0)
	buf.WriteByte(255) // flag_size, way over the limit

	_, err := Parse(buf.Bytes())
	require.ErrorIs(t, err, ErrUnsupportedFlagSize)
}
