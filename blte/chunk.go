package blte

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"
	"github.com/pierrec/lz4/v4"
)

// decodeChunkBody turns one chunk's compressed+tagged body into plaintext,
// dispatching on the leading mode byte: N raw, Z zlib, 4 LZ4 block, F
// nested BLTE frame, E encrypted.
func decodeChunkBody(body []byte, chunkIndex int, wantSize uint32, depth int, opts Options) ([]byte, error) {
	if len(body) < 1 {
		return nil, fmt.Errorf("%w: empty chunk body", ErrTruncatedChunk)
	}
	mode := body[0]
	payload := body[1:]

	switch mode {
	case 'N':
		out := make([]byte, len(payload))
		copy(out, payload)
		return out, nil

	case 'Z':
		r, err := zlib.NewReader(bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDecompressFailed, err)
		}
		defer r.Close()
		out, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDecompressFailed, err)
		}
		return out, nil

	case '4':
		if len(payload) < 4 {
			return nil, fmt.Errorf("%w: lz4 chunk missing size prefix", ErrTruncatedChunk)
		}
		uncompressedSize := readLE32(payload[:4])
		out := make([]byte, uncompressedSize)
		n, err := lz4.UncompressBlock(payload[4:], out)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDecompressFailed, err)
		}
		return out[:n], nil

	case 'F':
		if depth+1 >= MaxRecursionDepth {
			return nil, ErrRecursionTooDeep
		}
		return decode(payload, depth+1, opts)

	case 'E':
		plaintext, err := decryptChunk(payload, chunkIndex, opts.KeyService)
		if err != nil {
			return nil, err
		}
		if depth+1 >= MaxRecursionDepth {
			return nil, ErrRecursionTooDeep
		}
		return decodeChunkBody(plaintext, chunkIndex, wantSize, depth+1, opts)

	default:
		return nil, &UnknownModeError{Mode: mode}
	}
}
