package verify

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/d60-Lab/followgraph/config"
	"github.com/d60-Lab/followgraph/internal/events"
	"github.com/d60-Lab/followgraph/internal/graph"
	"github.com/d60-Lab/followgraph/internal/keys"
	"github.com/d60-Lab/followgraph/internal/registry"
	"github.com/d60-Lab/followgraph/internal/testkit"
	"github.com/d60-Lab/followgraph/internal/timeline"
)

type fixture struct {
	rdb      *redis.Client
	store    *testkit.Store
	graph    graph.Index
	timeline timeline.Index
	verifier *Verifier
}

func setup(t *testing.T) *fixture {
	t.Helper()
	_, rdb := testkit.Redis(t)
	cfg := config.Default()
	store := testkit.NewStore()
	reg := store.Registry(t)
	bus := events.NewBus()

	g, err := graph.New(cfg.Graph, graph.Deps{Redis: rdb, Registry: reg, Bus: bus})
	require.NoError(t, err)
	tl, err := timeline.New(cfg.Timeline, cfg.Graph.Separator, timeline.Deps{Redis: rdb, Graph: g, Bus: bus})
	require.NoError(t, err)

	v := New(rdb,
		keys.New(cfg.Graph.Prefix, cfg.Graph.Separator),
		keys.New(cfg.Timeline.Prefix, cfg.Graph.Separator),
		reg, 2)
	return &fixture{rdb: rdb, store: store, graph: g, timeline: tl, verifier: v}
}

func TestCleanIndexes(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	a := f.store.AddUser(1, "a")
	b := f.store.AddUser(2, "b")
	p := f.store.AddProject(1, "p")

	require.NoError(t, f.graph.Follow(ctx, a, b))
	require.NoError(t, f.graph.Follow(ctx, b, a))
	require.NoError(t, f.graph.Follow(ctx, a, p))
	require.NoError(t, timeline.For(f.timeline, a).Save(ctx, timeline.NewAction("like", a, &p, time.Unix(100, 0))))

	rep, err := f.verifier.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), rep.Scanned)
	assert.True(t, rep.OK(), "%+v", rep.Issues)
}

func TestEmptyStore(t *testing.T) {
	rep, err := setup(t).verifier.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, rep.OK())
	assert.Zero(t, rep.Scanned)
}

func TestCounterDrift(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	a := f.store.AddUser(1, "a")
	b := f.store.AddUser(2, "b")
	require.NoError(t, f.graph.Follow(ctx, a, b))

	bUID, _, err := f.graph.UIDs().Lookup(ctx, b)
	require.NoError(t, err)
	key := "sequere:uid:" + itoa(bUID) + ":followers"
	require.NoError(t, f.rdb.Incr(ctx, key+":count").Err())

	rep, err := f.verifier.Run(ctx)
	require.NoError(t, err)
	require.Len(t, rep.Issues, 1)
	is := rep.Issues[0]
	assert.Equal(t, CounterMismatch, is.Type)
	assert.Equal(t, key, is.Key)
	assert.Equal(t, int64(2), is.Counter)
	assert.Equal(t, int64(1), is.Members)
	assert.Equal(t, b, is.Ref)
}

func TestDivergentUID(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	a := f.store.AddUser(1, "a")
	u, err := f.graph.UIDs().Ensure(ctx, a)
	require.NoError(t, err)

	// a racer allocated a second record that lost the mapping
	orphan := f.rdb.Incr(ctx, "sequere:global:uid").Val()
	require.NoError(t, f.rdb.HSet(ctx, "sequere:uid:"+itoa(orphan),
		"identifier", "user", "object_id", 1, "uid", orphan).Err())

	rep, err := f.verifier.Run(ctx)
	require.NoError(t, err)

	types := map[IssueType]Issue{}
	for _, is := range rep.Issues {
		types[is.Type] = is
	}
	require.Contains(t, types, OrphanUID)
	assert.Equal(t, orphan, types[OrphanUID].UID)
	require.Contains(t, types, DuplicateUID)
	assert.Equal(t, registry.Ref{Kind: "user", ID: 1}, types[DuplicateUID].Ref)
	assert.Equal(t, u, types[DuplicateUID].UID)
}

func TestLoopStops(t *testing.T) {
	f := setup(t)
	l := NewLoop(f.verifier, 10*time.Millisecond)
	l.Start(context.Background())
	time.Sleep(30 * time.Millisecond)
	l.Stop()

	select {
	case <-l.Done():
	case <-time.After(time.Second):
		t.Fatal("loop did not stop")
	}
}

func itoa(n int64) string { return strconv.FormatInt(n, 10) }
