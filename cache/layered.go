package cache

import (
	"context"

	"github.com/ngdp-go/casc/internal/metrics"
)

// Layered fronts a DiskCache with a MemCache, satisfying the Cache
// contract with an in-process hot path ahead of the filesystem.
type Layered struct {
	mem  *MemCache
	disk *DiskCache
}

// NewLayered wires mem in front of disk.
func NewLayered(mem *MemCache, disk *DiskCache) *Layered {
	return &Layered{mem: mem, disk: disk}
}

func memKey(kind Kind, hexHash string) string {
	return string(kind) + ":" + hexHash
}

func (l *Layered) Get(ctx context.Context, kind Kind, hexHash string) ([]byte, error) {
	if data, ok := l.mem.Get(memKey(kind, hexHash)); ok {
		metrics.CacheRequestsTotal.WithLabelValues("mem", "hit").Inc()
		return data, nil
	}
	metrics.CacheRequestsTotal.WithLabelValues("mem", "miss").Inc()

	data, err := l.disk.Get(ctx, kind, hexHash)
	if err != nil {
		if err == ErrNotFound {
			metrics.CacheRequestsTotal.WithLabelValues("disk", "miss").Inc()
		}
		return nil, err
	}
	metrics.CacheRequestsTotal.WithLabelValues("disk", "hit").Inc()
	l.mem.Put(memKey(kind, hexHash), data)
	return data, nil
}

func (l *Layered) Put(ctx context.Context, kind Kind, hexHash string, data []byte) error {
	if err := l.disk.Put(ctx, kind, hexHash, data); err != nil {
		return err
	}
	l.mem.Put(memKey(kind, hexHash), data)
	return nil
}

func (l *Layered) Delete(ctx context.Context, kind Kind, hexHash string) (bool, error) {
	l.mem.Delete(memKey(kind, hexHash))
	return l.disk.Delete(ctx, kind, hexHash)
}
