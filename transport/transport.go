// Package transport defines the fetch contract the resolver uses to pull
// blobs and text manifests from a CDN, independent of whether the
// underlying protocol is TACT (HTTP), Ribbit (raw TCP) or a local CASC
// install directory.
package transport

import (
	"context"
	"errors"
)

// Kind discriminates the three product namespaces a CDN serves blobs
// under, mirroring cache.Kind so the two line up byte-for-byte.
type Kind string

const (
	KindConfig Kind = "config"
	KindData   Kind = "data"
	KindPatch  Kind = "patch"
)

// ByteRange is an inclusive [Start, End] byte range, as sent in an HTTP
// Range header or sliced directly out of a local archive file.
type ByteRange struct {
	Start int64
	End   int64 // inclusive
}

// Len reports the number of bytes the range covers.
func (r ByteRange) Len() int64 {
	return r.End - r.Start + 1
}

var (
	// ErrNotFound is returned when the remote has no object under the
	// requested hash/path (HTTP 404, or a local file that does not exist).
	ErrNotFound = errors.New("transport: not found")
	// ErrRangeNotSatisfiable mirrors HTTP 416: the requested range lies
	// outside the object's actual size.
	ErrRangeNotSatisfiable = errors.New("transport: range not satisfiable")
)

// Fetcher is the transport contract the resolver depends on.
// Implementations own their own retry/backoff and connection reuse;
// callers only see success or a terminal error.
type Fetcher interface {
	// FetchBlob retrieves an entire object by content hash.
	FetchBlob(ctx context.Context, kind Kind, hexHash string) ([]byte, error)
	// FetchRange retrieves a byte range of an object by content hash.
	FetchRange(ctx context.Context, kind Kind, hexHash string, rng ByteRange) ([]byte, error)
	// FetchText retrieves a manifest/BPSV endpoint as raw text.
	FetchText(ctx context.Context, endpointPath string) (string, error)
}
