package blte

import (
	"crypto/md5"
	"encoding/binary"
	"fmt"

	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("blte")

// Magic is the four-byte tag every BLTE payload starts with.
var Magic = [4]byte{'B', 'L', 'T', 'E'}

// MaxRecursionDepth bounds BLTE mode 'F' (frame-in-frame) nesting. The
// format has no documented limit; 4 is a practical ceiling against a
// maliciously or accidentally self-referential frame.
const MaxRecursionDepth = 4

// ChunkInfo describes one entry of a multi-chunk BLTE header.
type ChunkInfo struct {
	CompressedSize   uint32
	DecompressedSize uint32
	ChecksumMD5      [16]byte
}

// Frame is a parsed BLTE header: the chunk table plus where chunk bodies
// begin in the source buffer.
type Frame struct {
	Chunks     []ChunkInfo
	HeaderSize uint32
	BodyOffset int64 // offset of the first chunk body, relative to the start of the payload
}

// ParseFrame parses the 8-byte BLTE prefix and, for multi-chunk payloads,
// the chunk table that follows it.
func ParseFrame(buf []byte) (*Frame, error) {
	if len(buf) < 8 {
		return nil, fmt.Errorf("%w: payload shorter than 8-byte prefix", ErrTruncatedHeader)
	}
	if [4]byte(buf[:4]) != Magic {
		return nil, ErrBadMagic
	}
	headerSize := binary.BigEndian.Uint32(buf[4:8])

	if headerSize == 0 {
		// Single-chunk payload: the rest of the buffer is one chunk body,
		// with no declared compressed/decompressed sizes up front.
		return &Frame{
			HeaderSize: 0,
			BodyOffset: 8,
			Chunks: []ChunkInfo{{
				CompressedSize: uint32(len(buf) - 8),
			}},
		}, nil
	}

	if len(buf) < 8+int(headerSize) {
		return nil, fmt.Errorf("%w: declared header size %d exceeds buffer", ErrTruncatedHeader, headerSize)
	}
	header := buf[8 : 8+headerSize]
	if len(header) < 4 {
		return nil, fmt.Errorf("%w: multi-chunk header too short", ErrTruncatedHeader)
	}
	// header[0] is a flags byte; BLTE readers in the wild ignore it.
	chunkCount := int(header[1])<<16 | int(header[2])<<8 | int(header[3])
	const entrySize = 24
	want := 4 + chunkCount*entrySize
	if len(header) < want {
		return nil, fmt.Errorf("%w: chunk table truncated (want %d bytes, have %d)", ErrTruncatedHeader, want, len(header))
	}

	chunks := make([]ChunkInfo, chunkCount)
	off := 4
	for i := range chunks {
		entry := header[off : off+entrySize]
		chunks[i] = ChunkInfo{
			CompressedSize:   binary.BigEndian.Uint32(entry[0:4]),
			DecompressedSize: binary.BigEndian.Uint32(entry[4:8]),
			ChecksumMD5:      [16]byte(entry[8:24]),
		}
		off += entrySize
	}

	return &Frame{
		Chunks:     chunks,
		HeaderSize: headerSize,
		BodyOffset: int64(8 + headerSize),
	}, nil
}

// chunkByteRange returns the [start, end) byte range of chunk i's
// compressed body within buf, given a Frame parsed from buf.
func (f *Frame) chunkByteRange(i int) (start, end int64) {
	start = f.BodyOffset
	for j := 0; j < i; j++ {
		start += int64(f.Chunks[j].CompressedSize)
	}
	end = start + int64(f.Chunks[i].CompressedSize)
	return
}

// verifyChecksum checks the MD5 of a multi-chunk chunk's compressed bytes
// against its chunk-table entry. Single-chunk payloads carry no checksum
// and are never checked.
func verifyChecksum(multiChunk bool, want [16]byte, compressed []byte) error {
	if !multiChunk {
		return nil
	}
	got := md5.Sum(compressed)
	if got != want {
		return ErrChecksumMismatch
	}
	return nil
}
