package fanout

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/d60-Lab/followgraph/config"
	"github.com/d60-Lab/followgraph/internal/events"
	"github.com/d60-Lab/followgraph/internal/graph"
	"github.com/d60-Lab/followgraph/internal/registry"
	"github.com/d60-Lab/followgraph/internal/tasks"
	"github.com/d60-Lab/followgraph/internal/testkit"
	"github.com/d60-Lab/followgraph/internal/timeline"
)

type fixture struct {
	store    *testkit.Store
	graph    graph.Index
	timeline timeline.Index
	producer *Producer
	broker   *tasks.MemoryBroker
	manager  *tasks.Manager
}

func setup(t *testing.T, mutate func(*config.Config)) *fixture {
	t.Helper()
	_, rdb := testkit.Redis(t)
	cfg := config.Default()
	if mutate != nil {
		mutate(cfg)
	}

	f := &fixture{store: testkit.NewStore(), broker: tasks.NewMemoryBroker(1000)}
	bus := events.NewBus()
	f.producer = NewProducer(f.broker)
	Subscribe(bus, f.producer, cfg.Timeline)

	g, err := graph.New(cfg.Graph, graph.Deps{Redis: rdb, Registry: f.store.Registry(t), Bus: bus})
	require.NoError(t, err)
	tl, err := timeline.New(cfg.Timeline, cfg.Graph.Separator, timeline.Deps{
		Redis: rdb, Graph: g, Bus: bus, Dispatcher: f.producer,
	})
	require.NoError(t, err)
	f.graph, f.timeline = g, tl

	mux := tasks.NewMux()
	NewConsumer(g, tl, cfg.Timeline, cfg.Fanout).Register(mux)
	f.manager = tasks.NewManager(f.broker, mux.Handle, tasks.ManagerConfig{Name: "test"})
	return f
}

func (f *fixture) drain(t *testing.T) int {
	t.Helper()
	n, err := f.manager.Drain(context.Background())
	require.NoError(t, err)
	return n
}

func (f *fixture) counts(t *testing.T, owner registry.Ref) (int64, int64) {
	t.Helper()
	ctx := context.Background()
	priv, err := f.timeline.PrivateCount(ctx, owner, timeline.Filter{})
	require.NoError(t, err)
	pub, err := f.timeline.PublicCount(ctx, owner, timeline.Filter{})
	require.NoError(t, err)
	return priv, pub
}

func TestDispatchToFollowers(t *testing.T) {
	ctx := context.Background()
	f := setup(t, nil)
	u := f.store.AddUser(1, "u")
	fan1 := f.store.AddUser(2, "fan1")
	fan2 := f.store.AddUser(3, "fan2")
	require.NoError(t, f.graph.Follow(ctx, fan1, u))
	require.NoError(t, f.graph.Follow(ctx, fan2, u))
	f.drain(t) // empty imports

	a := timeline.NewAction("create", u, nil, time.Unix(1000, 0))
	require.NoError(t, timeline.For(f.timeline, u).Save(ctx, a))
	assert.Equal(t, 1, f.drain(t))

	for _, fan := range []registry.Ref{fan1, fan2} {
		priv, pub := f.counts(t, fan)
		assert.Equal(t, int64(1), priv)
		assert.Equal(t, int64(0), pub)
	}
	priv, pub := f.counts(t, u)
	assert.Equal(t, int64(1), priv)
	assert.Equal(t, int64(1), pub)

	// redelivery does not double count
	require.NoError(t, f.producer.DispatchAction(ctx, a.UID, u))
	f.drain(t)
	priv, _ = f.counts(t, fan1)
	assert.Equal(t, int64(1), priv)
}

func TestImportAndRemoveOnFollow(t *testing.T) {
	ctx := context.Background()
	f := setup(t, nil)
	u := f.store.AddUser(1, "u")
	p := f.store.AddProject(1, "p")
	fan := f.store.AddUser(2, "fan")

	tl := timeline.For(f.timeline, u)
	require.NoError(t, tl.Save(ctx, timeline.NewAction("create", u, &p, time.Unix(100, 0))))
	require.NoError(t, tl.Save(ctx, timeline.NewAction("like", u, nil, time.Unix(200, 0))))
	// actions u merely received are not imported
	other := f.store.AddUser(3, "other")
	require.NoError(t, tl.Save(ctx, timeline.NewAction("like", other, nil, time.Unix(300, 0))))
	assert.Equal(t, 0, f.drain(t), "no followers yet")

	require.NoError(t, f.graph.Follow(ctx, fan, u))
	f.drain(t)

	priv, pub := f.counts(t, fan)
	assert.Equal(t, int64(2), priv)
	assert.Equal(t, int64(0), pub)
	n, err := f.timeline.PrivateCount(ctx, fan, timeline.Filter{TargetKind: "project"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	require.NoError(t, f.graph.Unfollow(ctx, fan, u))
	f.drain(t)
	priv, _ = f.counts(t, fan)
	assert.Equal(t, int64(0), priv)

	// a second removal is a no-op
	uids := f.graph.UIDs()
	uUID, _, err := uids.Lookup(ctx, u)
	require.NoError(t, err)
	fanUID, _, err := uids.Lookup(ctx, fan)
	require.NoError(t, err)
	require.NoError(t, f.producer.RemoveActions(ctx, uUID, fanUID))
	f.drain(t)
	priv, _ = f.counts(t, fan)
	assert.Equal(t, int64(0), priv)
}

func TestImportDisabled(t *testing.T) {
	ctx := context.Background()
	f := setup(t, func(c *config.Config) {
		c.Timeline.ImportOnFollow = false
		c.Timeline.RemoveOnUnfollow = false
	})
	u := f.store.AddUser(1, "u")
	fan := f.store.AddUser(2, "fan")
	require.NoError(t, timeline.For(f.timeline, u).Save(ctx, timeline.NewAction("create", u, nil, time.Unix(100, 0))))

	require.NoError(t, f.graph.Follow(ctx, fan, u))
	assert.Equal(t, 0, f.drain(t))
	priv, _ := f.counts(t, fan)
	assert.Equal(t, int64(0), priv)
}

func TestAsyncFollow(t *testing.T) {
	ctx := context.Background()
	f := setup(t, nil)
	a := f.store.AddUser(1, "a")
	b := f.store.AddUser(2, "b")

	require.NoError(t, f.producer.Follow(ctx, a, b, time.Unix(500, 0)))
	require.NoError(t, f.producer.Follow(ctx, a, b, time.Time{}))
	f.drain(t)

	ok, err := f.graph.IsFollowing(ctx, a, b)
	require.NoError(t, err)
	assert.True(t, ok)
	n, err := f.graph.Count(ctx, b, graph.Followers, "")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	require.NoError(t, f.producer.Unfollow(ctx, a, b))
	f.drain(t)
	ok, err = f.graph.IsFollowing(ctx, a, b)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDispatchSkipsDeletedActor(t *testing.T) {
	ctx := context.Background()
	f := setup(t, nil)
	u := f.store.AddUser(1, "u")
	fan := f.store.AddUser(2, "fan")
	require.NoError(t, f.graph.Follow(ctx, fan, u))
	f.drain(t)

	require.NoError(t, timeline.For(f.timeline, u).Save(ctx, timeline.NewAction("create", u, nil, time.Unix(100, 0))))
	f.store.DeleteUser(1)
	f.drain(t)

	priv, _ := f.counts(t, fan)
	assert.Equal(t, int64(0), priv)
}

func TestRateLimitedConsumer(t *testing.T) {
	ctx := context.Background()
	f := setup(t, func(c *config.Config) {
		c.Fanout.RateLimit = 1000
		c.Fanout.Burst = 1
	})
	u := f.store.AddUser(1, "u")
	for i := int64(2); i <= 4; i++ {
		require.NoError(t, f.graph.Follow(ctx, f.store.AddUser(i, "fan"), u))
	}
	f.drain(t)

	require.NoError(t, timeline.For(f.timeline, u).Save(ctx, timeline.NewAction("create", u, nil, time.Unix(100, 0))))
	f.drain(t)
	priv, _ := f.counts(t, registry.Ref{Kind: "user", ID: 4})
	assert.Equal(t, int64(1), priv)
}
