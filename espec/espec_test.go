package espec

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseNone(t *testing.T) {
	s, err := Parse("n")
	require.NoError(t, err)
	require.Equal(t, KindNone, s.Kind)
	require.False(t, s.IsCompressed())
}

func TestParseZLibBare(t *testing.T) {
	s, err := Parse("z")
	require.NoError(t, err)
	require.Equal(t, KindZLib, s.Kind)
	require.False(t, s.HasLevel)
	require.True(t, s.IsCompressed())
}

func TestParseZLibWithLevel(t *testing.T) {
	s, err := Parse("z:6")
	require.NoError(t, err)
	require.True(t, s.HasLevel)
	require.Equal(t, 6, s.Level)
}

func TestParseZLibWithLevelAndNamedBits(t *testing.T) {
	s, err := Parse("z:{1,mpq}")
	require.NoError(t, err)
	require.Equal(t, 1, s.Level)
	require.NotNil(t, s.Bits)
	require.Equal(t, "mpq", s.Bits.Named)
}

func TestParseBlockTableSingle(t *testing.T) {
	s, err := Parse("b:z")
	require.NoError(t, err)
	require.Equal(t, KindBlockTable, s.Kind)
	require.Len(t, s.Chunks, 1)
	require.Nil(t, s.Chunks[0].SizeSpec)
	require.Equal(t, KindZLib, s.Chunks[0].Spec.Kind)
}

func TestParseBlockTableMultiChunk(t *testing.T) {
	s, err := Parse("b:{256K*8=n,*=z}")
	require.NoError(t, err)
	require.Equal(t, KindBlockTable, s.Kind)
	require.Len(t, s.Chunks, 2)
	require.NotNil(t, s.Chunks[0].SizeSpec)
	require.Equal(t, uint64(256*1024), s.Chunks[0].SizeSpec.Size)
	require.Equal(t, 8, s.Chunks[0].SizeSpec.Count)
	require.Nil(t, s.Chunks[1].SizeSpec)
}

func TestParseEncrypted(t *testing.T) {
	s, err := Parse("e:{a1b2c3d4e5f6a7b8,aabbccdd,n}")
	require.NoError(t, err)
	require.Equal(t, KindEncrypted, s.Kind)
	require.True(t, s.IsEncrypted())
	require.Equal(t, "a1b2c3d4e5f6a7b8", s.KeyName)
	require.Len(t, s.IV, 4)
	require.Equal(t, KindNone, s.Nested.Kind)
}

func TestParseBCPack(t *testing.T) {
	s, err := Parse("c:{1}")
	require.NoError(t, err)
	require.Equal(t, KindBCPack, s.Kind)
	require.Equal(t, 1, s.BCN)
}

func TestParseGDeflate(t *testing.T) {
	s, err := Parse("g:{9}")
	require.NoError(t, err)
	require.Equal(t, KindGDeflate, s.Kind)
	require.Equal(t, 9, s.GDeflateLevel)
}

func TestParseEmptyInput(t *testing.T) {
	_, err := Parse("")
	require.ErrorIs(t, err, ErrEmpty)
}

func TestParseUnknownType(t *testing.T) {
	_, err := Parse("q")
	require.ErrorIs(t, err, ErrUnknownType)
}
