// Package resolver composes the manifest, index, transport and cache
// layers into the top-level name/FDID → decoded-bytes pipeline (spec
// §4.9). It is the entry point the CLI and any download service consumes.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	logging "github.com/ipfs/go-log/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/ngdp-go/casc/blte"
	"github.com/ngdp-go/casc/cache"
	"github.com/ngdp-go/casc/casckey"
	"github.com/ngdp-go/casc/combinedindex"
	"github.com/ngdp-go/casc/internal/fanout"
	"github.com/ngdp-go/casc/internal/metrics"
	"github.com/ngdp-go/casc/internal/telemetry"
	"github.com/ngdp-go/casc/manifest/download"
	"github.com/ngdp-go/casc/manifest/encoding"
	"github.com/ngdp-go/casc/manifest/install"
	"github.com/ngdp-go/casc/manifest/root"
	"github.com/ngdp-go/casc/transport"
)

var log = logging.Logger("resolver")

const (
	defaultMaxInFlight = 32
	defaultStreamChunk = 64 * 1024
	jenkins96InitValue = 0
)

var (
	ErrNoRoot         = errors.New("resolver: no root manifest loaded")
	ErrNoEncoding     = errors.New("resolver: no encoding manifest loaded")
	ErrNotFound       = errors.New("resolver: name or FDID not in root manifest")
	ErrNoEncodingKeys = errors.New("resolver: content key has no encoding keys")
	ErrSizeMismatch   = errors.New("resolver: decoded size does not match encoding manifest's file_size")
)

// CachePolicy controls which representations of a resolved blob get
// written back to the cache.
type CachePolicy int

const (
	CacheBoth CachePolicy = iota
	CacheEncodedOnly
	CacheDecodedOnly
	CacheNone
)

// InstallPolicy selects whether partial-install iteration is driven by
// the install manifest (exact paths) or the download manifest (priority
// bands). Explicit, never auto-guessed.
type InstallPolicy int

const (
	InstallDriven InstallPolicy = iota
	DownloadDriven
)

// Request parameterizes one resolve call.
type Request struct {
	// Exactly one of Name or FDID should be set; FDID takes precedence
	// when both are non-zero, matching root.Manifest's own lookup order.
	Name string
	FDID uint32

	LocaleMask  uint32
	ContentMask uint64
}

// Resolver composes manifests, the combined archive index, a transport
// and a cache into the resolve pipeline.
type Resolver struct {
	root     *root.Manifest
	encoding *encoding.Manifest
	install  *install.Manifest
	download *download.Manifest

	index     *combinedindex.Index
	transport transport.Fetcher
	cache     cache.Cache
	keys      blte.KeyService

	cachePolicy CachePolicy
	sem         *semaphore.Weighted
	streamChunk int

	mu sync.RWMutex
}

// Option configures a Resolver.
type Option func(*Resolver)

func WithCachePolicy(p CachePolicy) Option   { return func(r *Resolver) { r.cachePolicy = p } }
func WithMaxInFlight(n int64) Option         { return func(r *Resolver) { r.sem = semaphore.NewWeighted(n) } }
func WithKeyService(ks blte.KeyService) Option {
	return func(r *Resolver) { r.keys = ks }
}

// New builds a Resolver over already-parsed manifests, a populated
// combined index, a transport and a cache.
func New(root *root.Manifest, enc *encoding.Manifest, idx *combinedindex.Index, ft transport.Fetcher, c cache.Cache, opts ...Option) *Resolver {
	r := &Resolver{
		root:        root,
		encoding:    enc,
		index:       idx,
		transport:   ft,
		cache:       c,
		cachePolicy: CacheBoth,
		sem:         semaphore.NewWeighted(defaultMaxInFlight),
		streamChunk: defaultStreamChunk,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// SetInstallManifest attaches an install manifest for install-driven
// partial-install iteration.
func (r *Resolver) SetInstallManifest(m *install.Manifest) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.install = m
}

// SetDownloadManifest attaches a download manifest for download-driven
// priority-band iteration.
func (r *Resolver) SetDownloadManifest(m *download.Manifest) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.download = m
}

// Resolve runs the full pipeline for one request: root lookup, encoding
// lookup, archive location, transport read, BLTE decode.
func (r *Resolver) Resolve(ctx context.Context, req Request) ([]byte, error) {
	ctx, span := telemetry.StartSpan(ctx, "resolver.Resolve",
		attribute.String("request.name", req.Name),
		attribute.Int64("request.fdid", int64(req.FDID)),
	)
	defer span.End()
	start := time.Now()

	if r.root == nil {
		metrics.ResolveLatencyHistogram.WithLabelValues("no_root").Observe(time.Since(start).Seconds())
		return nil, ErrNoRoot
	}
	if r.encoding == nil {
		metrics.ResolveLatencyHistogram.WithLabelValues("no_encoding").Observe(time.Since(start).Seconds())
		return nil, ErrNoEncoding
	}

	ckey, err := r.lookupCKey(req)
	if err != nil {
		telemetry.RecordError(span, err)
		metrics.ResolveLatencyHistogram.WithLabelValues("not_found").Observe(time.Since(start).Seconds())
		return nil, err
	}

	decoded, err := r.resolveCKey(ctx, span, ckey)
	if err != nil {
		telemetry.RecordError(span, err)
		metrics.ResolveLatencyHistogram.WithLabelValues("error").Observe(time.Since(start).Seconds())
		return nil, err
	}
	metrics.ResolveLatencyHistogram.WithLabelValues("success").Observe(time.Since(start).Seconds())
	return decoded, nil
}

// ResolveCKey runs the pipeline directly against a known content key,
// skipping the root lookup. It is the entry point for partial-install
// fetching, where SelectPartial has already produced CKeys.
func (r *Resolver) ResolveCKey(ctx context.Context, ckey casckey.Key) ([]byte, error) {
	if r.encoding == nil {
		return nil, ErrNoEncoding
	}
	ctx, span := telemetry.StartSpan(ctx, "resolver.ResolveCKey", attribute.String("ckey", ckey.String()))
	defer span.End()

	decoded, err := r.resolveCKey(ctx, span, ckey)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	return decoded, nil
}

func (r *Resolver) resolveCKey(ctx context.Context, span trace.Span, ckey casckey.Key) ([]byte, error) {
	entry, ok := r.encoding.LookupByCKey(ckey)
	if !ok {
		return nil, fmt.Errorf("resolver: ckey %s not in encoding manifest", ckey)
	}
	if len(entry.EKeys) == 0 {
		return nil, ErrNoEncodingKeys
	}
	encoded, ekey, err := r.fetchEncodedAny(ctx, entry.EKeys)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("ekey", ekey.String()))

	_, decodeSpan := telemetry.StartSpan(ctx, "resolver.decode", attribute.Int("encoded.bytes", len(encoded)))
	decoded, err := blte.Decode(encoded, blte.Options{KeyService: r.keys})
	decodeSpan.End()
	if err != nil {
		return nil, fmt.Errorf("resolver: blte decode: %w", err)
	}
	if entry.FileSize != 0 && uint64(len(decoded)) != entry.FileSize {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrSizeMismatch, len(decoded), entry.FileSize)
	}

	if r.cachePolicy == CacheDecodedOnly || r.cachePolicy == CacheBoth {
		if err := r.cache.Put(ctx, cache.KindData, ekey.String()+".decoded", decoded); err != nil {
			log.Debugw("cache put (decoded) failed", "ekey", ekey, "err", err)
		}
	}

	return decoded, nil
}

func (r *Resolver) lookupCKey(req Request) (casckey.Key, error) {
	if req.FDID != 0 {
		ckey, ok := r.root.LookupByFDID(req.FDID, req.LocaleMask, req.ContentMask)
		if !ok {
			return casckey.Key{}, ErrNotFound
		}
		return ckey, nil
	}
	if req.Name != "" {
		nameHash := jenkins96Hash64(normalizePath(req.Name), jenkins96InitValue)
		ckey, ok := r.root.LookupByNameHash(nameHash, req.LocaleMask, req.ContentMask)
		if !ok {
			return casckey.Key{}, ErrNotFound
		}
		return ckey, nil
	}
	return casckey.Key{}, fmt.Errorf("resolver: request has neither Name nor FDID set")
}

// normalizePath applies CASC's path normalization before name hashing:
// uppercased, with forward slashes turned into backslashes.
func normalizePath(path string) []byte {
	upper := strings.ToUpper(strings.ReplaceAll(path, "/", "\\"))
	return []byte(upper)
}

// fetchEncoded resolves ekey through the combined index (or the
// standalone-object fallback) and reads its bytes, consulting the cache
// first and populating it on a cache miss.
func (r *Resolver) fetchEncoded(ctx context.Context, ekey casckey.Key) ([]byte, error) {
	ctx, span := telemetry.StartSpan(ctx, "resolver.fetchEncoded", attribute.String("ekey", ekey.String()))
	defer span.End()

	hexHash := ekey.String()

	if data, err := r.cache.Get(ctx, cache.KindData, hexHash); err == nil {
		span.SetAttributes(attribute.Bool("cache.hit", true))
		return data, nil
	}
	span.SetAttributes(attribute.Bool("cache.hit", false))

	if err := r.sem.Acquire(ctx, 1); err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	defer r.sem.Release(1)

	var data []byte
	if loc, ok := r.index.Lookup(ekey); ok {
		span.SetAttributes(attribute.Bool("archive.indexed", true))
		bytes, err := r.transport.FetchRange(ctx, transport.KindData, hexHash, transport.ByteRange{
			Start: int64(loc.Offset),
			End:   int64(loc.Offset) + int64(loc.Size) - 1,
		})
		if err != nil {
			err = fmt.Errorf("resolver: archive range fetch: %w", err)
			telemetry.RecordError(span, err)
			return nil, err
		}
		data = bytes
	} else {
		span.SetAttributes(attribute.Bool("archive.indexed", false))
		bytes, err := r.transport.FetchBlob(ctx, transport.KindData, hexHash)
		if err != nil {
			err = fmt.Errorf("resolver: standalone fetch: %w", err)
			telemetry.RecordError(span, err)
			return nil, err
		}
		data = bytes
	}

	if r.cachePolicy == CacheEncodedOnly || r.cachePolicy == CacheBoth {
		if err := r.cache.Put(ctx, cache.KindData, hexHash, data); err != nil {
			log.Debugw("cache put (encoded) failed", "ekey", ekey, "err", err)
		}
	}
	return data, nil
}

// ekeyFetch pairs a fetched blob with the EKey candidate that produced it,
// wrapped in a pointer so it satisfies fanout's comparable constraint.
type ekeyFetch struct {
	data []byte
	ekey casckey.Key
}

// fetchEncodedAny fetches the first EKey candidate to succeed. An encoding
// entry normally carries one EKey; when it carries more (the same content
// re-encoded, e.g. after a BLTE spec change), every candidate is raced with
// fanout.FirstSuccess rather than trying them one at a time.
func (r *Resolver) fetchEncodedAny(ctx context.Context, ekeys []casckey.Key) ([]byte, casckey.Key, error) {
	if len(ekeys) == 1 {
		data, err := r.fetchEncoded(ctx, ekeys[0])
		return data, ekeys[0], err
	}

	fns := make([]fanout.JobFunc[*ekeyFetch], len(ekeys))
	for i, ekey := range ekeys {
		ekey := ekey
		fns[i] = func(ctx context.Context) (*ekeyFetch, error) {
			data, err := r.fetchEncoded(ctx, ekey)
			if err != nil {
				return nil, err
			}
			return &ekeyFetch{data: data, ekey: ekey}, nil
		}
	}
	res, err := fanout.FirstSuccess(ctx, -1, fns...)
	if err != nil {
		return nil, casckey.Key{}, fmt.Errorf("resolver: all encoding-key candidates failed: %w", err)
	}
	return res.data, res.ekey, nil
}

// SelectPartial returns the CKeys to fetch for a "minimal install" under
// the given policy: install-driven mode selects by tag, download-driven
// mode selects by priority threshold.
func (r *Resolver) SelectPartial(policy InstallPolicy, tagNames []string, priorityThreshold int16) ([]casckey.Key, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	switch policy {
	case InstallDriven:
		if r.install == nil {
			return nil, fmt.Errorf("resolver: install-driven partial requested, no install manifest attached")
		}
		indices, err := r.install.SelectEntries(tagNames, install.CombineAND)
		if err != nil {
			return nil, err
		}
		keys := make([]casckey.Key, len(indices))
		for i, idx := range indices {
			keys[i] = r.install.Entries[idx].CKey
		}
		return keys, nil
	case DownloadDriven:
		if r.download == nil {
			return nil, fmt.Errorf("resolver: download-driven partial requested, no download manifest attached")
		}
		indices := r.download.SelectByPriority(priorityThreshold)
		keys := make([]casckey.Key, 0, len(indices))
		for _, idx := range indices {
			ekey := r.download.Entries[idx].EKey
			if ckey, ok := r.encoding.LookupCKeyByEKey(ekey); ok {
				keys = append(keys, ckey)
			}
		}
		return keys, nil
	default:
		return nil, fmt.Errorf("resolver: unknown install policy %d", policy)
	}
}
