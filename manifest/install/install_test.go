package install

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

func buildManifest(t *testing.T) []byte {
	t.Helper()
	buf := &bytes.Buffer{}
	buf.WriteString("IN")
	buf.WriteByte(1)  // version
	buf.WriteByte(16) // ckey_length
	writeU16BE(buf, 1) // tag_count
	writeU32BE(buf, 3) // entry_count

	// tag "Windows", type 1, bitmask covering 3 entries -> 1 byte, bits
	// for entry 0 and entry 2 set (0b10100000).
	buf.WriteString("Windows")
	buf.WriteByte(0)
	writeU16BE(buf, 1)
	buf.WriteByte(0b10100000)

	entries := []struct {
		path string
		ckey byte
		size uint32
	}{
		{"file0.dat", 0x01, 100},
		{"file1.dat", 0x02, 200},
		{"file2.dat", 0x03, 300},
	}
	for _, e := range entries {
		buf.WriteString(e.path)
		buf.WriteByte(0)
		ckey := make([]byte, 16)
		ckey[0] = e.ckey
		buf.Write(ckey)
		writeU32BE(buf, e.size)
	}
	return buf.Bytes()
}

func TestParseInstallManifest(t *testing.T) {
	m, err := Parse(buildManifest(t))
	require.NoError(t, err)
	require.Len(t, m.Tags, 1)
	require.Equal(t, "Windows", m.Tags[0].Name)
	require.Len(t, m.Entries, 3)
	require.Equal(t, "file1.dat", m.Entries[1].Path)
	require.Equal(t, uint32(300), m.Entries[2].Size)
}

func TestSelectEntriesByTag(t *testing.T) {
	m, err := Parse(buildManifest(t))
	require.NoError(t, err)

	selected, err := m.SelectEntries([]string{"Windows"}, CombineOR)
	require.NoError(t, err)
	require.Equal(t, []int{0, 2}, selected)
}

func TestSelectEntriesUnknownTag(t *testing.T) {
	m, err := Parse(buildManifest(t))
	require.NoError(t, err)
	_, err = m.SelectEntries([]string{"Nope"}, CombineOR)
	require.Error(t, err)
}
