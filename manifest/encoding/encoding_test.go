package encoding

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ngdp-go/casc/casckey"
)

func write40BE(buf *bytes.Buffer, v uint64) {
	var b [5]byte
	for i := 4; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
	buf.Write(b[:])
}

func writeU32BE(buf *bytes.Buffer, v uint32) {
	buf.WriteByte(byte(v >> 24))
	buf.WriteByte(byte(v >> 16))
	buf.WriteByte(byte(v >> 8))
	buf.WriteByte(byte(v))
}

func writeU16BE(buf *bytes.Buffer, v uint16) {
	buf.WriteByte(byte(v >> 8))
	buf.WriteByte(byte(v))
}

func buildManifest(t *testing.T) ([]byte, casckey.Key, casckey.Key) {
	t.Helper()

	ckeyBytes := make([]byte, 16)
	ckeyBytes[0] = 0x11
	ckey, err := casckey.FromBytes(ckeyBytes)
	require.NoError(t, err)

	ekeyBytes := make([]byte, 16)
	ekeyBytes[0] = 0x22
	ekey, err := casckey.FromBytes(ekeyBytes)
	require.NoError(t, err)

	// Build the single CKey page: one entry with one EKey.
	ckeyPage := &bytes.Buffer{}
	ckeyPage.WriteByte(1) // key_count
	write40BE(ckeyPage, 12345)
	ckeyPage.Write(ckeyBytes)
	ckeyPage.Write(ekeyBytes)
	// terminator
	ckeyPage.WriteByte(0)
	for ckeyPage.Len() < 1024 {
		ckeyPage.WriteByte(0)
	}

	// Build the single EKey page: one entry.
	ekeyPage := &bytes.Buffer{}
	ekeyPage.Write(ekeyBytes)
	writeU32BE(ekeyPage, 0) // espec_index
	write40BE(ekeyPage, 6000)
	for ekeyPage.Len() < 1024 {
		ekeyPage.WriteByte(0)
	}

	buf := &bytes.Buffer{}
	buf.WriteString("EN")
	buf.WriteByte(1)  // version
	buf.WriteByte(16) // ckey_hash_size
	buf.WriteByte(16) // ekey_hash_size
	writeU16BE(buf, 1)       // ckey_page_size_kb
	writeU16BE(buf, 1)       // ekey_page_size_kb
	writeU32BE(buf, 1)       // ckey_page_count
	writeU32BE(buf, 1)       // ekey_page_count
	buf.WriteByte(0)         // unknown
	writeU32BE(buf, 0)       // espec_block_size (none)

	// page tables: one entry each, first_key + checksum
	buf.Write(ckeyBytes)
	buf.Write(make([]byte, 16)) // checksum
	buf.Write(ekeyBytes)
	buf.Write(make([]byte, 16)) // checksum

	buf.Write(ckeyPage.Bytes())
	buf.Write(ekeyPage.Bytes())

	return buf.Bytes(), ckey, ekey
}

func TestParseAndLookupByCKey(t *testing.T) {
	data, ckey, ekey := buildManifest(t)
	m, err := Parse(data)
	require.NoError(t, err)

	entry, ok := m.LookupByCKey(ckey)
	require.True(t, ok)
	require.Equal(t, uint64(12345), entry.FileSize)
	require.Len(t, entry.EKeys, 1)
	require.Equal(t, ekey, entry.EKeys[0])
}

func TestLookupCKeyByEKey(t *testing.T) {
	data, ckey, ekey := buildManifest(t)
	m, err := Parse(data)
	require.NoError(t, err)

	got, ok := m.LookupCKeyByEKey(ekey)
	require.True(t, ok)
	require.Equal(t, ckey, got)
}

func TestParseBadMagic(t *testing.T) {
	_, err := Parse([]byte("XX"))
	require.ErrorIs(t, err, ErrBadMagic)
}
