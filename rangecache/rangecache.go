// Package rangecache coalesces overlapping or adjacent byte-range reads
// against one archive into a smaller set of cached, non-overlapping
// segments, so repeated resolver fetches into the same CDN archive don't
// re-request bytes the transport already has.
package rangecache

import (
	"container/list"
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("rangecache")

// Range is a half-open byte interval [start, end).
type Range [2]int64

func (r Range) contains(r2 Range) bool     { return r[0] <= r2[0] && r[1] >= r2[1] }
func (r Range) isValidFor(size int64) bool { return r[0] >= 0 && r[1] <= size && r[0] <= r[1] }
func (r Range) intersects(r2 Range) bool   { return r[0] < r2[1] && r[1] > r2[0] }
func (r Range) isAdjacent(r2 Range) bool   { return r[1] == r2[0] || r2[1] == r[0] }

type entry struct {
	value    []byte
	lastRead time.Time
}

// Cache holds cached byte ranges for one archive under an LRU eviction
// policy bounded by maxMemorySize. fetch is called on a miss and must
// fill p (len(p) bytes) starting at archive offset off.
type Cache struct {
	mu sync.RWMutex

	size          int64
	name          string
	maxMemorySize int64
	occupiedSpace int64
	fetch         func(p []byte, off int64) (int, error)

	cache   map[Range]entry
	lruList *list.List
	lruMap  map[Range]*list.Element

	fetching sync.Map // Range -> *sync.Cond
}

// New returns a Cache over an archive of the given size (archive size may
// be unknown up front; callers unaware of the true size pass
// math.MaxInt64 and rely on the transport's own range validation).
func New(size int64, name string, fetch func(p []byte, off int64) (int, error), maxMemorySize int64) *Cache {
	if fetch == nil {
		panic("rangecache: fetch must not be nil")
	}
	return &Cache{
		size:          size,
		name:          name,
		maxMemorySize: maxMemorySize,
		cache:         make(map[Range]entry),
		lruList:       list.New(),
		lruMap:        make(map[Range]*list.Element),
		fetch:         fetch,
	}
}

// OccupiedSpace returns the current memory occupied by the cache.
func (c *Cache) OccupiedSpace() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.occupiedSpace
}

func (c *Cache) addEntry(r Range, value []byte) error {
	if len(value) == 0 {
		return nil
	}
	if int64(len(value)) > c.maxMemorySize && c.maxMemorySize > 0 {
		return fmt.Errorf("rangecache: value length %d exceeds max memory size %d", len(value), c.maxMemorySize)
	}
	c.cache[r] = entry{value: value, lastRead: time.Now()}
	c.occupiedSpace += int64(len(value))
	c.lruMap[r] = c.lruList.PushFront(r)
	return nil
}

func (c *Cache) updateLRU(r Range) {
	if elem, ok := c.lruMap[r]; ok {
		c.lruList.MoveToFront(elem)
		e := c.cache[r]
		e.lastRead = time.Now()
		c.cache[r] = e
	}
}

func (c *Cache) removeLRU(r Range) {
	if elem, ok := c.lruMap[r]; ok {
		c.lruList.Remove(elem)
		delete(c.lruMap, r)
	}
}

func (c *Cache) evictLRU() {
	for c.occupiedSpace > c.maxMemorySize && c.lruList.Len() > 0 {
		elem := c.lruList.Back()
		r := elem.Value.(Range)
		if e, ok := c.cache[r]; ok {
			delete(c.cache, r)
			c.occupiedSpace -= int64(len(e.value))
		}
		c.lruList.Remove(elem)
		delete(c.lruMap, r)
		log.Debugw("evicted range", "archive", c.name, "range", r, "occupied", c.occupiedSpace)
	}
}

// setRange merges value into the consolidated segments covering
// [start, start+len(value)), assumes c.mu is locked.
func (c *Cache) setRange(ctx context.Context, start int64, value []byte) error {
	end := start + int64(len(value))
	newRange := Range{start, end}
	if !newRange.isValidFor(c.size) {
		return fmt.Errorf("rangecache: invalid range [%d, %d) for size %d", start, end, c.size)
	}

	merged := make(map[int64]byte, len(value))
	for i, b := range value {
		merged[start+int64(i)] = b
	}

	var toRemove []Range
	for r, e := range c.cache {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !r.intersects(newRange) && !r.isAdjacent(newRange) {
			continue
		}
		toRemove = append(toRemove, r)
		for i := r[0]; i < r[1]; i++ {
			if _, exists := merged[i]; !exists {
				merged[i] = e.value[i-r[0]]
			}
		}
	}
	for _, r := range toRemove {
		if e, ok := c.cache[r]; ok {
			delete(c.cache, r)
			c.occupiedSpace -= int64(len(e.value))
			c.removeLRU(r)
		}
	}

	if len(merged) == 0 {
		return nil
	}
	offsets := make([]int64, 0, len(merged))
	for off := range merged {
		offsets = append(offsets, off)
	}
	sort.Slice(offsets, func(i, j int) bool { return offsets[i] < offsets[j] })

	segStart, segEnd := offsets[0], offsets[0]+1
	segValue := []byte{merged[offsets[0]]}
	flush := func() error { return c.addEntry(Range{segStart, segEnd}, segValue) }
	for i := 1; i < len(offsets); i++ {
		off := offsets[i]
		if off == segEnd {
			segEnd++
			segValue = append(segValue, merged[off])
			continue
		}
		if err := flush(); err != nil {
			return err
		}
		segStart, segEnd = off, off+1
		segValue = []byte{merged[off]}
	}
	if err := flush(); err != nil {
		return err
	}

	c.evictLRU()
	return nil
}

// Get returns the ln bytes starting at start, serving from cache when
// possible and coordinating concurrent fetches of the same range so only
// one caller hits the network for it.
func (c *Cache) Get(ctx context.Context, start, ln int64) ([]byte, error) {
	end := start + ln
	want := Range{start, end}
	if !want.isValidFor(c.size) {
		return nil, fmt.Errorf("rangecache: invalid range [%d, %d) for size %d", start, end, c.size)
	}

	if v, ok := c.lookup(want); ok {
		c.mu.Lock()
		c.updateLRU(v.r)
		c.mu.Unlock()
		return v.data, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if v, ok := c.lookupLocked(want); ok {
		c.updateLRU(v.r)
		return v.data, nil
	}

	condIface, loaded := c.fetching.LoadOrStore(want, sync.NewCond(&c.mu))
	cond := condIface.(*sync.Cond)
	if loaded {
		cond.Wait()
		if v, ok := c.lookupLocked(want); ok {
			c.updateLRU(v.r)
			return v.data, nil
		}
	}

	log.Debugw("range cache miss", "archive", c.name, "start", start, "len", ln)
	c.mu.Unlock()
	buf := make([]byte, ln)
	n, fetchErr := c.fetch(buf, start)
	c.mu.Lock()

	c.fetching.Delete(want)
	cond.Broadcast()

	if fetchErr != nil {
		return nil, fetchErr
	}
	if int64(n) != ln {
		return nil, fmt.Errorf("rangecache: fetch returned %d bytes, want %d", n, ln)
	}
	if err := c.setRange(ctx, start, clone(buf)); err != nil {
		return nil, err
	}
	return buf, nil
}

type hit struct {
	r    Range
	data []byte
}

func (c *Cache) lookup(want Range) (hit, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lookupLocked(want)
}

func (c *Cache) lookupLocked(want Range) (hit, bool) {
	if e, ok := c.cache[want]; ok {
		return hit{r: want, data: clone(e.value)}, true
	}
	for r, e := range c.cache {
		if r.contains(want) {
			off := want[0] - r[0]
			return hit{r: r, data: clone(e.value[off : off+(want[1]-want[0])])}, true
		}
	}
	return hit{}, false
}

func clone(b []byte) []byte {
	c := make([]byte, len(b))
	copy(c, b)
	return c
}
