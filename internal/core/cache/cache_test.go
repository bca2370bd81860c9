package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type item struct {
	Name string `json:"name"`
}

// Port 1 refuses connections, so every Redis call fails fast.
func unreachable(t *testing.T) *Cache {
	t.Helper()
	c := New("127.0.0.1:1", "", 0, "test:")
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestRedisDownFallsBackToLoader(t *testing.T) {
	c := unreachable(t)
	var calls atomic.Int32
	load := func(context.Context) (*item, error) {
		calls.Add(1)
		return &item{Name: "poll"}, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	got, err := GetOrLoadJSON(c, ctx, "poll:1", time.Minute, load)
	require.NoError(t, err)
	assert.Equal(t, "poll", got.Name)

	got, err = GetOrLoadJSON(c, ctx, "poll:1", time.Minute, load)
	require.NoError(t, err)
	assert.Equal(t, "poll", got.Name)
	assert.EqualValues(t, 2, calls.Load(), "nothing is cached while Redis is down")

	assert.Error(t, c.Del(ctx, "poll:1"))
}

func TestLoaderErrorIsReturned(t *testing.T) {
	c := unreachable(t)
	boom := errors.New("not found")
	_, err := GetOrLoadJSON(c, context.Background(), "poll:2", time.Minute,
		func(context.Context) (*item, error) { return nil, boom })
	assert.ErrorIs(t, err, boom)
}

func TestNilValueDecodesToNil(t *testing.T) {
	c := unreachable(t)
	got, err := GetOrLoadJSON(c, context.Background(), "poll:3", time.Minute,
		func(context.Context) (*item, error) { return nil, nil })
	require.NoError(t, err)
	assert.Nil(t, got)
}

func newMini(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c := NewWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "test:")
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

func TestLoadIsCachedUntilDel(t *testing.T) {
	c, mr := newMini(t)
	ctx := context.Background()
	var calls atomic.Int32
	load := func(context.Context) (*item, error) {
		calls.Add(1)
		return &item{Name: "v" + string(rune('0'+calls.Load()))}, nil
	}

	got, err := GetOrLoadJSON(c, ctx, "poll:1", time.Minute, load)
	require.NoError(t, err)
	assert.Equal(t, "v1", got.Name)
	assert.True(t, mr.Exists("test:poll:1"))

	got, err = GetOrLoadJSON(c, ctx, "poll:1", time.Minute, load)
	require.NoError(t, err)
	assert.Equal(t, "v1", got.Name)
	assert.EqualValues(t, 1, calls.Load())

	require.NoError(t, c.Del(ctx, "poll:1"))
	assert.False(t, mr.Exists("test:poll:1"))
	got, err = GetOrLoadJSON(c, ctx, "poll:1", time.Minute, load)
	require.NoError(t, err)
	assert.Equal(t, "v2", got.Name)
}

func TestInvalidationDuringLoadIsNotWrittenBack(t *testing.T) {
	c, mr := newMini(t)
	ctx := context.Background()
	entered := make(chan struct{})
	release := make(chan struct{})

	type result struct {
		v   *item
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := GetOrLoadJSON(c, ctx, "poll:7", time.Minute, func(context.Context) (*item, error) {
			close(entered)
			<-release
			return &item{Name: "before-vote"}, nil
		})
		done <- result{v, err}
	}()

	<-entered
	// a write commits and invalidates while the read is in flight
	require.NoError(t, c.Del(ctx, "poll:7"))
	close(release)

	r := <-done
	require.NoError(t, r.err)
	assert.Equal(t, "before-vote", r.v.Name)
	assert.False(t, mr.Exists("test:poll:7"), "stale value must not be cached")

	got, err := GetOrLoadJSON(c, ctx, "poll:7", time.Minute, func(context.Context) (*item, error) {
		return &item{Name: "after-vote"}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "after-vote", got.Name)
	assert.True(t, mr.Exists("test:poll:7"))
}

func TestConcurrentMissesShareOneLoad(t *testing.T) {
	c, _ := newMini(t)
	ctx := context.Background()
	var calls atomic.Int32
	release := make(chan struct{})
	load := func(context.Context) (*item, error) {
		calls.Add(1)
		<-release
		return &item{Name: "shared"}, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := GetOrLoadJSON(c, ctx, "poll:9", time.Minute, load)
			if assert.NoError(t, err) {
				assert.Equal(t, "shared", got.Name)
			}
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()
	assert.LessOrEqual(t, calls.Load(), int32(2))
}
