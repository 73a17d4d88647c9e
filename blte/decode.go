package blte

import (
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ngdp-go/casc/internal/metrics"
)

// Options controls how Decode handles a payload.
type Options struct {
	// KeyService resolves mode 'E' key names to decryption keys. A nil
	// KeyService makes every encrypted chunk fail with ErrMissingKey.
	KeyService KeyService
	// SkipChecksum disables the per-chunk MD5 verification against the
	// chunk table; intended for recovery tooling (cmd/casc dump-blte),
	// never for normal resolution.
	SkipChecksum bool
}

// Decode parses and fully decodes a BLTE payload, returning the
// concatenated plaintext of every chunk in order.
func Decode(payload []byte, opts Options) ([]byte, error) {
	return decode(payload, 0, opts)
}

func decode(payload []byte, depth int, opts Options) ([]byte, error) {
	frame, err := ParseFrame(payload)
	if err != nil {
		return nil, err
	}
	multiChunk := frame.HeaderSize > 0
	results := make([][]byte, len(frame.Chunks))

	decodeOne := func(i int) error {
		start, end := frame.chunkByteRange(i)
		if end > int64(len(payload)) {
			return &ChunkError{Index: i, Offset: start, Err: fmt.Errorf("%w: chunk extends past payload", ErrTruncatedChunk)}
		}
		compressed := payload[start:end]
		if !opts.SkipChecksum {
			if err := verifyChecksum(multiChunk, frame.Chunks[i].ChecksumMD5, compressed); err != nil {
				return &ChunkError{Index: i, Offset: start, Err: err}
			}
		}
		var mode byte
		if len(compressed) > 0 {
			mode = compressed[0]
		}
		metrics.DecodeBytesTotal.WithLabelValues("compressed").Add(float64(len(compressed)))

		decodeStart := time.Now()
		out, err := decodeChunkBody(compressed, i, frame.Chunks[i].DecompressedSize, depth, opts)
		metrics.DecodeLatencyHistogram.WithLabelValues(string(mode)).Observe(time.Since(decodeStart).Seconds())
		if err != nil {
			return &ChunkError{Index: i, Offset: start, Mode: mode, Err: err}
		}
		metrics.DecodeBytesTotal.WithLabelValues("decompressed").Add(float64(len(out)))
		results[i] = out
		return nil
	}

	if len(frame.Chunks) <= 1 {
		for i := range frame.Chunks {
			if err := decodeOne(i); err != nil {
				return nil, err
			}
		}
	} else {
		// Chunk decode is CPU-bound (decompression, decryption) and
		// independent per chunk, so fan it out.
		g := new(errgroup.Group)
		for i := range frame.Chunks {
			i := i
			g.Go(func() error {
				return decodeOne(i)
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}

	total := 0
	for _, r := range results {
		total += len(r)
	}
	out := make([]byte, 0, total)
	for _, r := range results {
		out = append(out, r...)
	}
	return out, nil
}
