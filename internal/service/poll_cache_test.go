package service_test

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"opinion-poll/internal/core/cache"
	"opinion-poll/internal/domain"
	"opinion-poll/internal/repo"
	"opinion-poll/internal/service"
)

// cacheWatcher records whether the poll was still cached when each
// event was published.
type cacheWatcher struct {
	mr *miniredis.Miniredis

	mu       sync.Mutex
	cachedAt []bool
}

func (w *cacheWatcher) Publish(_ context.Context, ev domain.Event) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.cachedAt = append(w.cachedAt, w.mr.Exists("op:poll:"+strconv.FormatUint(ev.PollID, 10)))
}

func TestVoteInvalidatesCachedPollAfterPublish(t *testing.T) {
	f := newFixture(t, defaultOpts())
	mr := miniredis.RunT(t)
	c := cache.NewWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "op:")
	t.Cleanup(func() { _ = c.Close() })

	w := &cacheWatcher{mr: mr}
	polls := service.NewPollService(service.PollServiceDeps{
		Polls:    repo.NewPollRepo(f.db),
		Engine:   f.engine,
		Identity: f.ids,
		Hub:      w,
		Cache:    c,
		CacheTTL: time.Minute,
		Log:      zap.NewNop(),
	})
	ctx := context.Background()
	a := f.anon(t, "10.0.0.1")
	p, err := polls.Create(ctx, a, createInput("Q", "x", "y"))
	require.NoError(t, err)

	got, err := polls.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Zero(t, got.TotalVotes)
	require.True(t, mr.Exists("op:poll:"+strconv.FormatUint(p.ID, 10)))

	_, err = polls.Vote(ctx, a, p.ID, p.Options[1].ID)
	require.NoError(t, err)
	_, err = polls.Like(ctx, a, p.ID)
	require.NoError(t, err)

	w.mu.Lock()
	assert.Equal(t, []bool{false, true, false}, w.cachedAt, "create, vote (cached until after publish), like")
	w.mu.Unlock()

	got, err = polls.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, got.TotalVotes)
	assert.EqualValues(t, 1, got.TotalLikes)
}
