// Package local implements transport.Fetcher against a CASC installation's
// Data/ directory directly, bypassing the CDN entirely: bucket indices
// (idx) resolve an EKey to an (archive, offset, size) triple, and the
// bytes are read straight out of the matching "data.NNN" archive bundle.
package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	logging "github.com/ipfs/go-log/v2"

	"github.com/ngdp-go/casc/archive"
	"github.com/ngdp-go/casc/casckey"
	"github.com/ngdp-go/casc/idx"
	"github.com/ngdp-go/casc/transport"
)

var log = logging.Logger("transport/local")

// Transport reads blobs directly from a local CASC installation's Data/
// directory. FetchText is not meaningful for a local install and always
// returns an error; the resolver is expected to pair this transport with
// locally parsed manifests rather than fetched text endpoints.
type Transport struct {
	dataDir  string // <install>/Data/data
	strategy archive.OffsetStrategy

	mu       sync.RWMutex
	buckets  [256][]*idx.Index
	archives map[uint32]string // archive id -> "data.NNN" path
}

// Open loads every "<hex>.idx" bucket file under indicesDir and indexes
// the archive bundle files under dataDir ("data.000", "data.001", ...).
func Open(indicesDir, dataDir string, strategy archive.OffsetStrategy) (*Transport, error) {
	t := &Transport{
		dataDir:  dataDir,
		strategy: strategy,
		archives: make(map[uint32]string),
	}

	if err := t.loadArchives(dataDir); err != nil {
		return nil, err
	}
	if err := t.loadBuckets(indicesDir); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Transport) loadArchives(dataDir string) error {
	entries, err := os.ReadDir(dataDir)
	if err != nil {
		return fmt.Errorf("transport/local: read data dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		dot := strings.LastIndex(name, ".")
		if dot == -1 || !strings.HasPrefix(name, "data.") {
			continue
		}
		n, err := strconv.Atoi(name[dot+1:])
		if err != nil {
			continue
		}
		t.archives[uint32(n)] = filepath.Join(dataDir, name)
	}
	return nil
}

func (t *Transport) loadBuckets(indicesDir string) error {
	entries, err := os.ReadDir(indicesDir)
	if err != nil {
		return fmt.Errorf("transport/local: read indices dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".idx") {
			continue
		}
		bucket, ok := bucketFromFilename(e.Name())
		if !ok {
			log.Debugw("skipping unrecognized idx filename", "name", e.Name())
			continue
		}
		buf, err := os.ReadFile(filepath.Join(indicesDir, e.Name()))
		if err != nil {
			return fmt.Errorf("transport/local: read %s: %w", e.Name(), err)
		}
		parsed, err := idx.Parse(buf, bucket)
		if err != nil {
			return fmt.Errorf("transport/local: parse %s: %w", e.Name(), err)
		}
		t.buckets[bucket] = append(t.buckets[bucket], parsed)
	}
	return nil
}

// bucketFromFilename extracts the bucket number from a "<base><bucket
// hex digit><version hex digit>.idx" style filename, as produced by a
// real Blizzard agent install (e.g. "000000002b.idx" style names vary by
// client; we take the convention that the bucket is encoded in the
// filename's penultimate hex digit before ".idx").
func bucketFromFilename(name string) (uint8, bool) {
	base := strings.TrimSuffix(name, ".idx")
	if len(base) < 2 {
		return 0, false
	}
	digit := base[len(base)-2]
	v, err := strconv.ParseUint(string(digit), 16, 8)
	if err != nil {
		return 0, false
	}
	return uint8(v), true
}

func (t *Transport) locate(hexHash string) (archive.Location, error) {
	key, err := casckey.FromHex(hexHash)
	if err != nil {
		return archive.Location{}, err
	}
	bucket := archive.BucketOf(key)

	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, ix := range t.buckets[bucket] {
		if loc, ok := ix.Lookup(key); ok {
			return loc, nil
		}
	}
	return archive.Location{}, transport.ErrNotFound
}

func (t *Transport) readLocation(loc archive.Location) ([]byte, error) {
	t.mu.RLock()
	path, ok := t.archives[loc.ArchiveID]
	t.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("transport/local: unknown archive id %d", loc.ArchiveID)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("transport/local: open %s: %w", path, err)
	}
	defer f.Close()

	offset := int64(t.strategy.Apply(loc.Offset))
	buf := make([]byte, loc.Size)
	if _, err := f.ReadAt(buf, offset); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("transport/local: read %s at %d: %w", path, offset, err)
	}
	return buf, nil
}

func (t *Transport) FetchBlob(ctx context.Context, kind transport.Kind, hexHash string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	loc, err := t.locate(hexHash)
	if err != nil {
		return nil, err
	}
	return t.readLocation(loc)
}

func (t *Transport) FetchRange(ctx context.Context, kind transport.Kind, hexHash string, rng transport.ByteRange) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	loc, err := t.locate(hexHash)
	if err != nil {
		return nil, err
	}
	if rng.Start < 0 || rng.End >= int64(loc.Size) {
		return nil, transport.ErrRangeNotSatisfiable
	}
	full, err := t.readLocation(loc)
	if err != nil {
		return nil, err
	}
	return full[rng.Start : rng.End+1], nil
}

func (t *Transport) FetchText(ctx context.Context, endpointPath string) (string, error) {
	return "", fmt.Errorf("transport/local: no text endpoints in a local install")
}
