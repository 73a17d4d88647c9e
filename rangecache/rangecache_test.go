package rangecache

import (
	"bytes"
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCacheGetServesFromCacheOnSecondCall(t *testing.T) {
	full := []byte("hello world")
	rd := bytes.NewReader(full)
	var fetches int32
	c := New(int64(len(full)), "test", func(p []byte, off int64) (int, error) {
		atomic.AddInt32(&fetches, 1)
		return rd.ReadAt(p, off)
	}, int64(len(full)))

	got, err := c.Get(context.Background(), 1, 3)
	require.NoError(t, err)
	require.Equal(t, []byte("ell"), got)
	require.EqualValues(t, 1, atomic.LoadInt32(&fetches))

	got, err = c.Get(context.Background(), 1, 3)
	require.NoError(t, err)
	require.Equal(t, []byte("ell"), got)
	require.EqualValues(t, 1, atomic.LoadInt32(&fetches), "second read of the same range must not refetch")
}

func TestCacheGetMergesAdjacentRanges(t *testing.T) {
	full := []byte("hello world")
	rd := bytes.NewReader(full)
	c := New(int64(len(full)), "test", func(p []byte, off int64) (int, error) {
		return rd.ReadAt(p, off)
	}, int64(len(full)))

	_, err := c.Get(context.Background(), 0, 5)
	require.NoError(t, err)
	_, err = c.Get(context.Background(), 5, 6)
	require.NoError(t, err)

	got, err := c.Get(context.Background(), 1, 7)
	require.NoError(t, err)
	require.Equal(t, []byte("ello wo"), got)
}

func TestCacheGetDedupsConcurrentFetches(t *testing.T) {
	full := []byte("hello world")
	rd := bytes.NewReader(full)
	var fetches int32
	started := make(chan struct{})
	release := make(chan struct{})
	c := New(int64(len(full)), "test", func(p []byte, off int64) (int, error) {
		if atomic.AddInt32(&fetches, 1) == 1 {
			close(started)
			<-release
		}
		return rd.ReadAt(p, off)
	}, int64(len(full)))

	var wg sync.WaitGroup
	results := make([][]byte, 2)
	for i := 0; i < 2; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			data, err := c.Get(context.Background(), 0, 5)
			require.NoError(t, err)
			results[i] = data
		}()
	}

	<-started
	close(release)
	wg.Wait()

	require.Equal(t, []byte("hello"), results[0])
	require.Equal(t, []byte("hello"), results[1])
	require.EqualValues(t, 1, atomic.LoadInt32(&fetches), "concurrent fetches of the same range must be deduped")
}

func TestCacheEvictsUnderMemoryPressure(t *testing.T) {
	full := []byte("0123456789")
	rd := bytes.NewReader(full)
	c := New(int64(len(full)), "test", func(p []byte, off int64) (int, error) {
		return rd.ReadAt(p, off)
	}, 4) // only room for one 4-byte segment at a time

	_, err := c.Get(context.Background(), 0, 4)
	require.NoError(t, err)
	require.LessOrEqual(t, c.OccupiedSpace(), int64(4))

	_, err = c.Get(context.Background(), 6, 4)
	require.NoError(t, err)
	require.LessOrEqual(t, c.OccupiedSpace(), int64(4))
}
