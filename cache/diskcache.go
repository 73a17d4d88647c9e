// Package cache implements the content-addressed on-disk blob cache and a
// size-bounded in-memory cache sitting in front of it.
package cache

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	logging "github.com/ipfs/go-log/v2"

	"github.com/ngdp-go/casc/internal/diskio"
)

var log = logging.Logger("cache")

// Kind discriminates the three blob namespaces the cache contract names.
type Kind string

const (
	KindConfig Kind = "config"
	KindData   Kind = "data"
	KindPatch  Kind = "patch"
)

var ErrNotFound = errors.New("cache: not found")

// Cache is the suspending get/put/delete contract the resolver consumes.
type Cache interface {
	Get(ctx context.Context, kind Kind, hexHash string) ([]byte, error)
	Put(ctx context.Context, kind Kind, hexHash string, data []byte) error
	Delete(ctx context.Context, kind Kind, hexHash string) (bool, error)
}

// DiskCache stores blobs at cache_root/<kind>/<xx>/<yy>/<hex_hash>, where
// xx/yy are the first four hex characters of the hash split into two
// shard directories. Writes land in a sibling temp file and are
// atomically renamed into place so a reader never observes a partial
// write.
type DiskCache struct {
	root string
}

// NewDiskCache returns a DiskCache rooted at dir, creating it if absent.
func NewDiskCache(dir string) (*DiskCache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cache: create root: %w", err)
	}
	return &DiskCache{root: dir}, nil
}

func (c *DiskCache) path(kind Kind, hexHash string) (string, error) {
	if len(hexHash) < 4 {
		return "", fmt.Errorf("cache: hash %q too short to shard", hexHash)
	}
	xx, yy := hexHash[0:2], hexHash[2:4]
	return filepath.Join(string(c.root), string(kind), xx, yy, hexHash), nil
}

// Get reads a blob; a missing file is reported as ErrNotFound, never as a
// bare os.ErrNotExist, so callers can treat every cache miss uniformly.
func (c *DiskCache) Get(ctx context.Context, kind Kind, hexHash string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := c.path(kind, hexHash)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return data, nil
}

// Put writes data for hexHash, replacing any existing blob idempotently.
func (c *DiskCache) Put(ctx context.Context, kind Kind, hexHash string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p, err := c.path(kind, hexHash)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("cache: create shard dir: %w", err)
	}

	tmp, err := diskio.CreateBufferedTemp(filepath.Dir(p), ".tmp-*")
	if err != nil {
		return fmt.Errorf("cache: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("cache: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("cache: close temp file: %w", err)
	}
	if err := os.Rename(tmpName, p); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("cache: rename into place: %w", err)
	}
	log.Debugw("cached blob", "kind", kind, "hash", hexHash, "bytes", len(data))
	return nil
}

// Delete removes a blob, reporting whether it was present.
func (c *DiskCache) Delete(ctx context.Context, kind Kind, hexHash string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	p, err := c.path(kind, hexHash)
	if err != nil {
		return false, err
	}
	if err := os.Remove(p); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
