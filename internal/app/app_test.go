package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/d60-Lab/followgraph/config"
	"github.com/d60-Lab/followgraph/internal/model"
	"github.com/d60-Lab/followgraph/internal/registry"
	"github.com/d60-Lab/followgraph/internal/testkit"
	"github.com/d60-Lab/followgraph/internal/timeline"
)

func newApp(t *testing.T, mutate func(*config.Config)) *App {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	_, rdb := testkit.Redis(t)
	cfg := config.Default()
	cfg.Queue.Driver = "memory"
	if mutate != nil {
		mutate(cfg)
	}
	a, err := New(cfg, db, rdb)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close(context.Background()) })
	return a
}

func TestEndToEnd(t *testing.T) {
	ctx := context.Background()
	a := newApp(t, nil)
	require.NotNil(t, a.UserCache)

	author := &model.User{Username: "author"}
	fan := &model.User{Username: "fan"}
	require.NoError(t, a.Repos.Users.Create(ctx, author))
	require.NoError(t, a.Repos.Users.Create(ctx, fan))
	authorRef := registry.Ref{Kind: model.KindUser, ID: author.ID}
	fanRef := registry.Ref{Kind: model.KindUser, ID: fan.ID}

	require.NoError(t, a.Graph.Follow(ctx, fanRef, authorRef))
	act := timeline.NewAction(model.VerbLike, authorRef, nil, time.Now())
	require.NoError(t, timeline.For(a.Timeline, authorRef).Save(ctx, act))

	m := a.Manager("test")
	n, err := m.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n, "import on follow plus dispatch")

	priv, err := a.Timeline.PrivateCount(ctx, fanRef, timeline.Filter{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), priv)

	rep, err := a.Verifier().Run(ctx)
	require.NoError(t, err)
	assert.True(t, rep.OK(), "%+v", rep.Issues)

	items, err := timeline.For(a.Timeline, fanRef).Private(ctx, timeline.Filter{}, true)
	require.NoError(t, err)
	all, err := items.All(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "author", all[0].ActorEntity.(*model.User).Username)
	assert.Positive(t, a.UserCache.Counters().Loads)
}

func TestCacheDisabled(t *testing.T) {
	a := newApp(t, func(c *config.Config) { c.Cache.Enabled = false })
	assert.Nil(t, a.UserCache)
}

func TestUnknownDriver(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	_, rdb := testkit.Redis(t)
	cfg := config.Default()
	cfg.Queue.Driver = "nats"
	_, err = New(cfg, db, rdb)
	assert.Error(t, err)
}
