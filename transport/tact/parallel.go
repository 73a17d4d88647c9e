package tact

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/ngdp-go/casc/transport"
)

const (
	defaultParallelChunkSize  = 4 << 20
	defaultParallelWorkers    = 10
	maxBufferedParallelChunks = 20
)

type parallelChunk struct {
	index int
	data  []byte
	err   error
}

type parallelJob struct {
	index      int
	start, end int64 // inclusive
}

// FetchBlobParallel streams a full blob from host using a worker pool of
// concurrent ranged GETs, reassembled in order. It is meant for large
// standalone objects (full config/data archives) where a single
// connection's throughput is the bottleneck; FetchBlob remains the
// buffered, single-request path for everything else.
func (t *Transport) FetchBlobParallel(ctx context.Context, kind transport.Kind, hexHash string) (io.ReadCloser, error) {
	url, size, err := t.headForSize(ctx, kind, hexHash)
	if err != nil {
		return nil, err
	}
	if size <= 0 {
		return io.NopCloser(bytes.NewReader(nil)), nil
	}

	d := &parallelDownload{
		transport:   t,
		url:         url,
		size:        size,
		chunkSize:   defaultParallelChunkSize,
		concurrency: defaultParallelWorkers,
		jobs:        make(chan parallelJob),
		results:     make(chan parallelChunk, maxBufferedParallelChunks),
	}
	d.ctx, d.cancel = context.WithCancel(ctx)
	return d.start(), nil
}

func (t *Transport) headForSize(ctx context.Context, kind transport.Kind, hexHash string) (string, int64, error) {
	var lastErr error
	for _, host := range t.hosts {
		url := t.blobURL(host, kind, hexHash)
		req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
		if err != nil {
			return "", 0, err
		}
		resp, err := t.client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			lastErr = fmt.Errorf("transport/tact: HEAD %s: %s", url, resp.Status)
			continue
		}
		return url, resp.ContentLength, nil
	}
	return "", 0, fmt.Errorf("transport/tact: all hosts failed HEAD: %w", lastErr)
}

type parallelDownload struct {
	transport   *Transport
	url         string
	size        int64
	chunkSize   int64
	concurrency int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	jobs    chan parallelJob
	results chan parallelChunk
}

func (d *parallelDownload) start() io.ReadCloser {
	pr, pw := io.Pipe()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer close(d.jobs)
		for offset := int64(0); offset < d.size; offset += d.chunkSize {
			end := offset + d.chunkSize - 1
			if end >= d.size {
				end = d.size - 1
			}
			select {
			case d.jobs <- parallelJob{index: int(offset / d.chunkSize), start: offset, end: end}:
			case <-d.ctx.Done():
				return
			}
		}
	}()

	var workers sync.WaitGroup
	for i := 0; i < d.concurrency; i++ {
		workers.Add(1)
		go d.worker(&workers)
	}
	go func() {
		workers.Wait()
		close(d.results)
	}()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer pw.Close()
		d.reorder(pw)
	}()

	return &parallelReader{d: d, pr: pr}
}

func (d *parallelDownload) worker(wg *sync.WaitGroup) {
	defer wg.Done()
	for {
		select {
		case <-d.ctx.Done():
			return
		case job, ok := <-d.jobs:
			if !ok {
				return
			}
			data, err := d.fetchChunk(job)
			select {
			case d.results <- parallelChunk{index: job.index, data: data, err: err}:
			case <-d.ctx.Done():
				return
			}
		}
	}
}

func (d *parallelDownload) fetchChunk(job parallelJob) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt < defaultMaxRetries; attempt++ {
		if attempt > 0 {
			delay := defaultBaseBackoff * time.Duration(math.Pow(2, float64(attempt-1)))
			select {
			case <-time.After(delay):
			case <-d.ctx.Done():
				return nil, d.ctx.Err()
			}
		}
		req, err := http.NewRequestWithContext(d.ctx, http.MethodGet, d.url, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", job.start, job.end))
		resp, err := d.transport.client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		if resp.StatusCode != http.StatusPartialContent {
			resp.Body.Close()
			lastErr = fmt.Errorf("unexpected status: %s", resp.Status)
			continue
		}
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = err
			continue
		}
		return body, nil
	}
	return nil, fmt.Errorf("transport/tact: chunk [%d,%d] failed after %d attempts: %w", job.start, job.end, defaultMaxRetries, lastErr)
}

func (d *parallelDownload) reorder(w io.Writer) {
	pending := make(map[int]parallelChunk)
	next := 0
	total := int((d.size + d.chunkSize - 1) / d.chunkSize)

	for received := 0; received < total; {
		select {
		case chunk, ok := <-d.results:
			if !ok {
				return
			}
			if chunk.err != nil {
				d.cancel()
				return
			}
			pending[chunk.index] = chunk
			received++
		case <-d.ctx.Done():
			return
		}
		for {
			chunk, ok := pending[next]
			if !ok {
				break
			}
			if _, err := w.Write(chunk.data); err != nil {
				d.cancel()
				return
			}
			delete(pending, next)
			next++
		}
	}
}

type parallelReader struct {
	d  *parallelDownload
	pr *io.PipeReader
}

func (r *parallelReader) Read(p []byte) (int, error) { return r.pr.Read(p) }

func (r *parallelReader) Close() error {
	r.d.cancel()
	r.d.wg.Wait()
	return r.pr.Close()
}
