// Package combinedindex composes the 16 local bucket indices and any
// number of CDN archive indices behind one concurrent lookup(key) →
// location interface.
package combinedindex

import (
	"sync"

	"github.com/cespare/xxhash/v2"
	logging "github.com/ipfs/go-log/v2"

	"github.com/ngdp-go/casc/archive"
	"github.com/ngdp-go/casc/casckey"
)

var log = logging.Logger("combinedindex")

const numBuckets = 16

// BucketSource is anything that can resolve a key within one bucket:
// idx.Index and cdnindex.Index both satisfy it.
type BucketSource interface {
	Lookup(key casckey.Key) (archive.Location, bool)
}

// Index fans a key lookup out to the bucket its key belongs to, falling
// back to a key→bucket memo for entries whose on-disk bucket assignment
// has gone stale.
type Index struct {
	mu      sync.RWMutex
	buckets [numBuckets][]BucketSource
	memo    map[uint64]byte // xxhash(key) -> last bucket a lookup resolved it in
}

// New returns an empty combined index. Bucket sources are added with
// AddBucket as index files are opened.
func New() *Index {
	return &Index{
		memo: make(map[uint64]byte),
	}
}

func memoKey(key casckey.Key) uint64 {
	return xxhash.Sum64(key[:])
}

// AddBucket registers a bucket source under the given bucket id. Multiple
// sources may share a bucket (e.g. several archive-group indices); they
// are probed in registration order.
func (ix *Index) AddBucket(bucket byte, src BucketSource) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.buckets[bucket%numBuckets] = append(ix.buckets[bucket%numBuckets], src)
}

// Lookup resolves key to an archive location.
func (ix *Index) Lookup(key casckey.Key) (archive.Location, bool) {
	primary := archive.BucketOf(key)

	ix.mu.RLock()
	sources := ix.buckets[primary%numBuckets]
	ix.mu.RUnlock()

	if loc, ok := probeAll(sources, key); ok {
		ix.rememberBucket(key, primary)
		return loc, true
	}

	if memoBucket, ok := ix.memoizedBucket(key); ok && memoBucket != primary {
		ix.mu.RLock()
		memoSources := ix.buckets[memoBucket%numBuckets]
		ix.mu.RUnlock()
		if loc, ok := probeAll(memoSources, key); ok {
			log.Debugw("resolved via stale-bucket memo", "key", key.String(), "bucket", memoBucket)
			return loc, true
		}
	}

	return archive.Location{}, false
}

func probeAll(sources []BucketSource, key casckey.Key) (archive.Location, bool) {
	for _, src := range sources {
		if loc, ok := src.Lookup(key); ok {
			return loc, true
		}
	}
	return archive.Location{}, false
}

func (ix *Index) rememberBucket(key casckey.Key, bucket byte) {
	ix.mu.Lock()
	ix.memo[memoKey(key)] = bucket
	ix.mu.Unlock()
}

func (ix *Index) memoizedBucket(key casckey.Key) (byte, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	b, ok := ix.memo[memoKey(key)]
	return b, ok
}
