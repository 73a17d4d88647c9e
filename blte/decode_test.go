package blte

import (
	"bytes"
	"crypto/md5"
	"encoding/binary"
	"testing"

	"github.com/klauspost/compress/zlib"
	"github.com/stretchr/testify/require"
)

// singleChunkPayload builds a BLTE payload with header_size == 0: magic,
// zero header size, then one raw or compressed chunk body with its mode
// byte.
func singleChunkPayload(mode byte, body []byte) []byte {
	buf := &bytes.Buffer{}
	buf.Write(Magic[:])
	binary.Write(buf, binary.BigEndian, uint32(0))
	buf.WriteByte(mode)
	buf.Write(body)
	return buf.Bytes()
}

func zlibCompress(t *testing.T, data []byte) []byte {
	t.Helper()
	buf := &bytes.Buffer{}
	w := zlib.NewWriter(buf)
	_, err := w.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

type chunkSpec struct {
	mode byte
	raw  []byte // plaintext before the mode byte is attached
}

// multiChunkPayload builds a BLTE payload with header_size > 0 covering the
// given chunk bodies (each already compressed, without its mode byte
// prepended by the caller -- this helper prepends it).
func multiChunkPayload(chunks []chunkSpec) []byte {
	bodies := make([][]byte, len(chunks))
	for i, c := range chunks {
		bodies[i] = append([]byte{c.mode}, c.raw...)
	}

	header := &bytes.Buffer{}
	header.WriteByte(0x0f) // flags byte, ignored by readers
	count := len(chunks)
	header.WriteByte(byte(count >> 16))
	header.WriteByte(byte(count >> 8))
	header.WriteByte(byte(count))
	for _, b := range bodies {
		var entry [24]byte
		binary.BigEndian.PutUint32(entry[0:4], uint32(len(b)))
		binary.BigEndian.PutUint32(entry[4:8], uint32(len(b)))
		sum := md5.Sum(b)
		copy(entry[8:24], sum[:])
		header.Write(entry[:])
	}

	buf := &bytes.Buffer{}
	buf.Write(Magic[:])
	binary.Write(buf, binary.BigEndian, uint32(header.Len()))
	buf.Write(header.Bytes())
	for _, b := range bodies {
		buf.Write(b)
	}
	return buf.Bytes()
}

func TestDecodeSingleChunkRaw(t *testing.T) {
	payload := singleChunkPayload('N', []byte("Hello"))
	out, err := Decode(payload, Options{})
	require.NoError(t, err)
	require.Equal(t, []byte("Hello"), out)
}

func TestDecodeSingleChunkZlib(t *testing.T) {
	compressed := zlibCompress(t, []byte("Hello, BLTE!"))
	payload := singleChunkPayload('Z', compressed)
	out, err := Decode(payload, Options{})
	require.NoError(t, err)
	require.Equal(t, []byte("Hello, BLTE!"), out)
}

func TestDecodeNestedFrame(t *testing.T) {
	inner := singleChunkPayload('N', []byte("Inner content"))
	outer := singleChunkPayload('F', inner)
	out, err := Decode(outer, Options{})
	require.NoError(t, err)
	require.Equal(t, []byte("Inner content"), out)
}

func TestDecodeMultiChunkMixed(t *testing.T) {
	compressedBB := zlibCompress(t, []byte("BB"))
	payload := multiChunkPayload([]chunkSpec{
		{mode: 'N', raw: []byte("A")},
		{mode: 'Z', raw: compressedBB},
		{mode: 'N', raw: []byte("CCC")},
	})
	out, err := Decode(payload, Options{})
	require.NoError(t, err)
	require.Equal(t, []byte("ABBCCC"), out)
}

func TestDecodeChecksumMismatch(t *testing.T) {
	payload := multiChunkPayload([]chunkSpec{
		{mode: 'N', raw: []byte("A")},
	})
	// Corrupt the chunk body after the checksum was computed over the
	// original bytes.
	payload[len(payload)-1] = 'X'

	_, err := Decode(payload, Options{})
	require.Error(t, err)
	var chunkErr *ChunkError
	require.ErrorAs(t, err, &chunkErr)
	require.ErrorIs(t, err, ErrChecksumMismatch)
}

func TestDecodeRecursionTooDeep(t *testing.T) {
	payload := singleChunkPayload('N', []byte("leaf"))
	for i := 0; i < MaxRecursionDepth+2; i++ {
		payload = singleChunkPayload('F', payload)
	}
	_, err := Decode(payload, Options{})
	require.ErrorIs(t, err, ErrRecursionTooDeep)
}

func TestDecodeMissingKey(t *testing.T) {
	encBody := &bytes.Buffer{}
	encBody.WriteByte(8)
	encBody.Write([]byte("keyname1"))
	encBody.WriteByte(4)
	encBody.Write([]byte{1, 2, 3, 4})
	encBody.WriteByte('S')
	encBody.Write([]byte("ciphertext"))

	payload := singleChunkPayload('E', encBody.Bytes())
	_, err := Decode(payload, Options{})
	require.ErrorIs(t, err, ErrMissingKey)
}

type mapKeyService map[[8]byte][16]byte

func (m mapKeyService) LookupKey(name [8]byte) ([16]byte, bool) {
	k, ok := m[name]
	return k, ok
}

func TestDecodeEncryptedSalsa20RoundTrip(t *testing.T) {
	var keyName [8]byte
	copy(keyName[:], []byte("keyname1"))
	key := [16]byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16}
	iv := [4]byte{0xaa, 0xbb, 0xcc, 0xdd}

	plain := append([]byte{'N'}, []byte("secret payload")...)
	nonce := salsaNonce(iv, 0)
	cipher := make([]byte, len(plain))
	salsa20XOR(key, nonce, cipher, plain)

	encBody := &bytes.Buffer{}
	encBody.WriteByte(8)
	encBody.Write(keyName[:])
	encBody.WriteByte(4)
	encBody.Write(iv[:])
	encBody.WriteByte('S')
	encBody.Write(cipher)

	payload := singleChunkPayload('E', encBody.Bytes())
	ks := mapKeyService{keyName: key}
	out, err := Decode(payload, Options{KeyService: ks})
	require.NoError(t, err)
	require.Equal(t, []byte("secret payload"), out)
}

func TestDecodeBadMagic(t *testing.T) {
	_, err := Decode([]byte("NOPE0000"), Options{})
	require.ErrorIs(t, err, ErrBadMagic)
}

func TestDecodeUnknownMode(t *testing.T) {
	payload := singleChunkPayload('Q', []byte("whatever"))
	_, err := Decode(payload, Options{})
	var modeErr *UnknownModeError
	require.ErrorAs(t, err, &modeErr)
}
