package entitycache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/d60-Lab/followgraph/internal/model"
	"github.com/d60-Lab/followgraph/internal/registry"
	"github.com/d60-Lab/followgraph/internal/testkit"
)

type countingResolver struct {
	calls [][]int64
	users map[int64]*model.User
}

func (c *countingResolver) Resolve(_ context.Context, ids []int64) (map[int64]any, error) {
	c.calls = append(c.calls, ids)
	out := map[int64]any{}
	for _, id := range ids {
		if u, ok := c.users[id]; ok {
			out[id] = u
		}
	}
	return out, nil
}

func TestReadThrough(t *testing.T) {
	ctx := context.Background()
	mr, rdb := testkit.Redis(t)
	next := &countingResolver{users: map[int64]*model.User{
		1: {ID: 1, Username: "alice"},
		2: {ID: 2, Username: "bob"},
	}}
	c := New[model.User](rdb, "test:entity:", "user", time.Minute, next)

	got, err := c.Resolve(ctx, []int64{1, 2, 3})
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Equal(t, "alice", got[1].(*model.User).Username)
	assert.True(t, mr.Exists("test:entity:user:1"))
	assert.False(t, mr.Exists("test:entity:user:3"))

	got, err = c.Resolve(ctx, []int64{1, 2})
	require.NoError(t, err)
	assert.Equal(t, "bob", got[2].(*model.User).Username)
	assert.Len(t, next.calls, 1)
	assert.Equal(t, Counters{Hits: 2, Misses: 3, Loads: 1}, c.Counters())

	mr.FastForward(2 * time.Minute)
	_, err = c.Resolve(ctx, []int64{1})
	require.NoError(t, err)
	assert.Len(t, next.calls, 2)
}

func TestInvalidate(t *testing.T) {
	ctx := context.Background()
	mr, rdb := testkit.Redis(t)
	next := &countingResolver{users: map[int64]*model.User{1: {ID: 1, Username: "alice"}}}
	c := New[model.User](rdb, "test:entity:", "user", time.Minute, next)

	_, err := c.Resolve(ctx, []int64{1})
	require.NoError(t, err)
	require.NoError(t, c.Invalidate(ctx, 1))
	assert.False(t, mr.Exists("test:entity:user:1"))

	c.Reset()
	_, err = c.Resolve(ctx, []int64{1})
	require.NoError(t, err)
	assert.Equal(t, int64(1), c.Counters().Loads)
}

func TestLoadError(t *testing.T) {
	_, rdb := testkit.Redis(t)
	boom := errors.New("db down")
	c := New[model.User](rdb, "test:entity:", "user", time.Minute,
		registry.ResolverFunc(func(context.Context, []int64) (map[int64]any, error) { return nil, boom }))
	_, err := c.Resolve(context.Background(), []int64{1})
	assert.ErrorIs(t, err, boom)
}

func TestCacheDownFallsThrough(t *testing.T) {
	mr, rdb := testkit.Redis(t)
	next := &countingResolver{users: map[int64]*model.User{1: {ID: 1, Username: "alice"}}}
	c := New[model.User](rdb, "test:entity:", "user", time.Minute, next)
	mr.Close()

	got, err := c.Resolve(context.Background(), []int64{1})
	require.NoError(t, err)
	assert.Len(t, got, 1)
}
