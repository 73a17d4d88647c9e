// Package tact implements the TACT transport: CDN content served over
// HTTP(S), with exponential-backoff retry, redirect following and HTTP/2
// connection reuse.
package tact

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/klauspost/compress/gzhttp"

	logging "github.com/ipfs/go-log/v2"

	"github.com/ngdp-go/casc/internal/fanout"
	"github.com/ngdp-go/casc/internal/metrics"
	"github.com/ngdp-go/casc/rangecache"
	"github.com/ngdp-go/casc/transport"
)

var log = logging.Logger("transport/tact")

const (
	defaultMaxRetries  = 5
	defaultBaseBackoff = 500 * time.Millisecond

	// defaultMaxArchiveCaches bounds how many archives' range caches are
	// kept live at once; least-recently-opened archive is evicted first.
	defaultMaxArchiveCaches  = 8
	defaultArchiveCacheBytes = 8 << 20
)

// Transport fetches blobs from one or more CDN hosts over HTTP(S), cycling
// through host/path prefixes the way a real CDN config's "Hosts"/"Path"
// fields do.
type Transport struct {
	client      *http.Client
	hosts       []string
	pathPrefix  string // e.g. "tpr/wow"
	scheme      string
	maxRetries  int
	baseBackoff time.Duration

	rangeCachesMu    sync.Mutex
	rangeCaches      map[string]*rangecache.Cache
	rangeCacheOrder  []string
	maxArchiveCaches int
	archiveCacheSize int64
}

// Option configures a Transport.
type Option func(*Transport)

// WithMaxRetries overrides the default retry budget.
func WithMaxRetries(n int) Option {
	return func(t *Transport) { t.maxRetries = n }
}

// WithHTTPClient overrides the default client (e.g. for test doubles).
func WithHTTPClient(c *http.Client) Option {
	return func(t *Transport) { t.client = c }
}

// WithScheme overrides the default "https" scheme; only meant for tests
// that stand up a plain-HTTP httptest.Server.
func WithScheme(scheme string) Option {
	return func(t *Transport) { t.scheme = scheme }
}

// WithRangeCache overrides the archive-range cache's bounds. Passing
// maxArchives 0 disables range caching entirely.
func WithRangeCache(maxArchives int, bytesPerArchive int64) Option {
	return func(t *Transport) {
		t.maxArchiveCaches = maxArchives
		t.archiveCacheSize = bytesPerArchive
	}
}

// New returns a Transport that fetches from hosts under pathPrefix, e.g.
// New([]string{"level3.blizzard.com"}, "tpr/wow"). Blob and range fetches
// race every host concurrently; text fetches try the hosts in order.
func New(hosts []string, pathPrefix string, opts ...Option) *Transport {
	t := &Transport{
		hosts:      hosts,
		pathPrefix: pathPrefix,
		scheme:     "https",
		client: &http.Client{
			Transport: gzhttp.Transport(&http.Transport{
				ForceAttemptHTTP2:     true,
				IdleConnTimeout:       30 * time.Second,
				MaxIdleConns:          100,
				MaxIdleConnsPerHost:   100,
				ExpectContinueTimeout: 1 * time.Second,
			}),
		},
		maxRetries:       defaultMaxRetries,
		baseBackoff:      defaultBaseBackoff,
		rangeCaches:      make(map[string]*rangecache.Cache),
		maxArchiveCaches: defaultMaxArchiveCaches,
		archiveCacheSize: defaultArchiveCacheBytes,
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

func (t *Transport) blobURL(host string, kind transport.Kind, hexHash string) string {
	if len(hexHash) < 4 {
		return fmt.Sprintf("%s://%s/%s/%s/%s", t.scheme, host, t.pathPrefix, kind, hexHash)
	}
	return fmt.Sprintf("%s://%s/%s/%s/%s/%s/%s", t.scheme, host, t.pathPrefix, kind, hexHash[0:2], hexHash[2:4], hexHash)
}

func (t *Transport) FetchBlob(ctx context.Context, kind transport.Kind, hexHash string) ([]byte, error) {
	return t.doFetch(ctx, kind, hexHash, nil)
}

func (t *Transport) FetchRange(ctx context.Context, kind transport.Kind, hexHash string, rng transport.ByteRange) ([]byte, error) {
	if t.maxArchiveCaches == 0 {
		return t.doFetch(ctx, kind, hexHash, &rng)
	}
	rc := t.archiveRangeCache(kind, hexHash)
	return rc.Get(ctx, rng.Start, rng.Len())
}

// archiveRangeCache returns the range cache for one archive, creating it
// (and evicting the least-recently-opened archive's cache, if over
// maxArchiveCaches) on first use. The archive's true size is not known up
// front, so the cache is opened with an unbounded logical size; the CDN's
// HTTP range response is the real source of truth for out-of-range reads.
func (t *Transport) archiveRangeCache(kind transport.Kind, hexHash string) *rangecache.Cache {
	t.rangeCachesMu.Lock()
	defer t.rangeCachesMu.Unlock()

	if rc, ok := t.rangeCaches[hexHash]; ok {
		return rc
	}

	rc := rangecache.New(math.MaxInt64, hexHash, func(p []byte, off int64) (int, error) {
		body, err := t.doFetch(context.Background(), kind, hexHash, &transport.ByteRange{
			Start: off,
			End:   off + int64(len(p)) - 1,
		})
		if err != nil {
			return 0, err
		}
		if len(body) != len(p) {
			return 0, fmt.Errorf("transport/tact: short range read for %s: got %d, want %d", hexHash, len(body), len(p))
		}
		copy(p, body)
		return len(p), nil
	}, t.archiveCacheSize)

	t.rangeCaches[hexHash] = rc
	t.rangeCacheOrder = append(t.rangeCacheOrder, hexHash)
	if len(t.rangeCacheOrder) > t.maxArchiveCaches {
		evict := t.rangeCacheOrder[0]
		t.rangeCacheOrder = t.rangeCacheOrder[1:]
		delete(t.rangeCaches, evict)
	}
	return rc
}

func (t *Transport) FetchText(ctx context.Context, endpointPath string) (string, error) {
	var lastErr error
	for _, host := range t.hosts {
		url := fmt.Sprintf("%s://%s/%s", t.scheme, host, endpointPath)
		body, err := t.getWithRetry(ctx, url, nil)
		if err != nil {
			lastErr = err
			continue
		}
		return string(body), nil
	}
	return "", fmt.Errorf("transport/tact: all hosts failed: %w", lastErr)
}

// fetchResult wraps a body in a pointer so it satisfies fanout's comparable
// constraint on JobFunc's return type (a []byte alone isn't comparable).
type fetchResult struct{ body []byte }

// doFetch races the same request against every configured host with
// fanout.FirstSuccess, taking whichever host answers first and leaving the
// rest to finish in the background. If every host fails, the aggregated
// fanout.ErrorSlice is reported.
func (t *Transport) doFetch(ctx context.Context, kind transport.Kind, hexHash string, rng *transport.ByteRange) ([]byte, error) {
	metrics.InFlightFetches.Inc()
	defer metrics.InFlightFetches.Dec()

	start := time.Now()
	body, err := t.raceHosts(ctx, kind, hexHash, rng)
	metrics.FetchLatencyHistogram.WithLabelValues("tact", string(kind)).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.FetchErrorsTotal.WithLabelValues("tact", fetchFailureReason(err)).Inc()
	}
	return body, err
}

// fetchFailureReason classifies a doFetch error for the FetchErrorsTotal
// label: every host failing the same way is reported as that reason; a
// mixed bag of failures (or anything not wrapped in a fanout.ErrorSlice) is
// reported as "all_hosts_failed".
func fetchFailureReason(err error) string {
	var errs fanout.ErrorSlice
	if !errors.As(err, &errs) {
		return "all_hosts_failed"
	}
	if errs.All(func(e error) bool { return errors.Is(e, transport.ErrNotFound) }) {
		return "not_found"
	}
	if errs.All(func(e error) bool { return errors.Is(e, transport.ErrRangeNotSatisfiable) }) {
		return "range_not_satisfiable"
	}
	return "all_hosts_failed"
}

func (t *Transport) raceHosts(ctx context.Context, kind transport.Kind, hexHash string, rng *transport.ByteRange) ([]byte, error) {
	fns := make([]fanout.JobFunc[*fetchResult], len(t.hosts))
	for i, host := range t.hosts {
		host := host
		fns[i] = func(ctx context.Context) (*fetchResult, error) {
			url := t.blobURL(host, kind, hexHash)
			body, err := t.getWithRetry(ctx, url, rng)
			if err != nil {
				log.Debugw("host fetch failed", "host", host, "err", err)
				return nil, err
			}
			return &fetchResult{body: body}, nil
		}
	}

	res, err := fanout.FirstSuccess(ctx, -1, fns...)
	if err != nil {
		return nil, fmt.Errorf("transport/tact: all hosts failed: %w", err)
	}
	return res.body, nil
}

func (t *Transport) getWithRetry(ctx context.Context, url string, rng *transport.ByteRange) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt < t.maxRetries; attempt++ {
		if attempt > 0 {
			delay := t.baseBackoff * time.Duration(math.Pow(2, float64(attempt-1)))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		body, err := t.get(ctx, url, rng)
		if err == nil {
			return body, nil
		}
		if err == transport.ErrNotFound || err == transport.ErrRangeNotSatisfiable {
			return nil, err
		}
		lastErr = err
	}
	return nil, fmt.Errorf("transport/tact: failed after %d attempts: %w", t.maxRetries, lastErr)
}

func (t *Transport) get(ctx context.Context, url string, rng *transport.ByteRange) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	if rng != nil {
		req.Header.Set("Range", "bytes="+strconv.FormatInt(rng.Start, 10)+"-"+strconv.FormatInt(rng.End, 10))
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusPartialContent:
		return io.ReadAll(resp.Body)
	case http.StatusNotFound:
		return nil, transport.ErrNotFound
	case http.StatusRequestedRangeNotSatisfiable:
		return nil, transport.ErrRangeNotSatisfiable
	default:
		return nil, fmt.Errorf("unexpected status: %s", resp.Status)
	}
}
