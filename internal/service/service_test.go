package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/d60-Lab/followgraph/config"
	"github.com/d60-Lab/followgraph/internal/events"
	"github.com/d60-Lab/followgraph/internal/fanout"
	"github.com/d60-Lab/followgraph/internal/graph"
	"github.com/d60-Lab/followgraph/internal/model"
	"github.com/d60-Lab/followgraph/internal/registry"
	"github.com/d60-Lab/followgraph/internal/repository"
	"github.com/d60-Lab/followgraph/internal/tasks"
	"github.com/d60-Lab/followgraph/internal/testkit"
	"github.com/d60-Lab/followgraph/internal/timeline"
)

type fixture struct {
	repos     *repository.Repositories
	rel       RelationshipService
	timelines TimelineService
	publisher *Publisher
	manager   *tasks.Manager
}

func setup(t *testing.T) *fixture {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(model.Models()...))
	_, rdb := testkit.Redis(t)
	cfg := config.Default()

	repos := repository.New(db)
	reg, err := repos.Registry(nil)
	require.NoError(t, err)

	bus := events.NewBus()
	broker := tasks.NewMemoryBroker(100)
	producer := fanout.NewProducer(broker)
	fanout.Subscribe(bus, producer, cfg.Timeline)

	g, err := graph.New(cfg.Graph, graph.Deps{Redis: rdb, Registry: reg, Bus: bus})
	require.NoError(t, err)
	tl, err := timeline.New(cfg.Timeline, cfg.Graph.Separator, timeline.Deps{
		Redis: rdb, Graph: g, Bus: bus, Dispatcher: producer,
	})
	require.NoError(t, err)

	mux := tasks.NewMux()
	fanout.NewConsumer(g, tl, cfg.Timeline, cfg.Fanout).Register(mux)

	return &fixture{
		repos:     repos,
		rel:       NewRelationshipService(reg, g),
		timelines: NewTimelineService(reg, tl),
		publisher: NewPublisher(repos.Posts, repos.Projects, tl),
		manager:   tasks.NewManager(broker, mux.Handle, tasks.ManagerConfig{Name: "test"}),
	}
}

func (f *fixture) user(t *testing.T, name string) registry.Ref {
	t.Helper()
	u := &model.User{Username: name}
	require.NoError(t, f.repos.Users.Create(context.Background(), u))
	return registry.Ref{Kind: model.KindUser, ID: u.ID}
}

func (f *fixture) drain(t *testing.T) {
	t.Helper()
	_, err := f.manager.Drain(context.Background())
	require.NoError(t, err)
}

func TestFollowReturnsCounts(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	alice, bob := f.user(t, "alice"), f.user(t, "bob")
	p := &model.Project{Name: "graph"}
	require.NoError(t, f.repos.Projects.Create(ctx, p))
	project := registry.Ref{Kind: model.KindProject, ID: p.ID}

	counts, err := f.rel.Follow(ctx, alice, bob)
	require.NoError(t, err)
	assert.Equal(t, Counts{
		"followers_count": 0, "followings_count": 1,
		"user_followers_count": 0, "user_followings_count": 1,
	}, counts)

	counts, err = f.rel.Follow(ctx, alice, project)
	require.NoError(t, err)
	assert.Equal(t, int64(2), counts["followings_count"])
	assert.Equal(t, int64(1), counts["project_followings_count"])

	_, err = f.rel.Follow(ctx, alice, bob)
	assert.ErrorIs(t, err, graph.ErrAlreadyFollowing)

	ok, err := f.rel.IsFollowing(ctx, alice, project)
	require.NoError(t, err)
	assert.True(t, ok)

	counts, err = f.rel.Unfollow(ctx, alice, project)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts["followings_count"])
	assert.Equal(t, int64(0), counts["project_followings_count"])
}

func TestFollowRejectsMissingTarget(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	alice := f.user(t, "alice")

	_, err := f.rel.Follow(ctx, alice, registry.Ref{Kind: model.KindUser, ID: 404})
	assert.ErrorIs(t, err, ErrEntityNotFound)

	_, err = f.rel.Follow(ctx, alice, registry.Ref{Kind: "group", ID: 1})
	assert.ErrorIs(t, err, registry.ErrUnknownKind)

	_, err = f.rel.Follow(ctx, alice, alice)
	assert.ErrorIs(t, err, graph.ErrFollowSelf)
}

func TestListPages(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	star := f.user(t, "star")
	names := []string{"a", "b", "c"}
	for i, n := range names {
		fan := f.user(t, n)
		require.NoError(t, f.rel.(*relationshipService).graph.Follow(ctx, fan, star,
			graph.WithTimestamp(time.Unix(int64(100+i), 0))))
	}

	page, err := f.rel.List(ctx, star, graph.Followers, "", 1, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(3), page.Total)
	require.Len(t, page.Items, 2)
	assert.Equal(t, "c", page.Items[0].Entity.(*model.User).Username)

	page, err = f.rel.List(ctx, star, graph.Followers, "", 2, 2)
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "a", page.Items[0].Entity.(*model.User).Username)

	page, err = f.rel.List(ctx, star, graph.Followers, "", 5, 2)
	require.NoError(t, err)
	assert.Empty(t, page.Items)

	_, err = f.rel.List(ctx, star, graph.Followers, "group", 1, 2)
	assert.ErrorIs(t, err, registry.ErrUnknownKind)
}

func TestPublishFansOut(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	author, reader := f.user(t, "author"), f.user(t, "reader")
	_, err := f.rel.Follow(ctx, reader, author)
	require.NoError(t, err)
	f.drain(t)

	post, action, err := f.publisher.Publish(ctx, author, nil, "hello")
	require.NoError(t, err)
	assert.NotZero(t, post.ID)
	assert.NotZero(t, action.UID)
	f.drain(t)

	page, err := f.timelines.Private(ctx, reader, timeline.Filter{}, 1, 10)
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	got := page.Items[0]
	assert.Equal(t, model.VerbCreate, got.Verb)
	assert.Equal(t, "hello", got.TargetEntity.(*model.Post).Payload)
	assert.Equal(t, "author", got.ActorEntity.(*model.User).Username)

	unread, err := f.timelines.Unread(ctx, reader, timeline.Filter{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), unread.Count)
	assert.Nil(t, unread.ReadAt)

	require.NoError(t, f.timelines.MarkAsRead(ctx, reader, time.Time{}))
	unread, err = f.timelines.Unread(ctx, reader, timeline.Filter{})
	require.NoError(t, err)
	assert.Equal(t, int64(0), unread.Count)
	assert.NotNil(t, unread.ReadAt)

	pub, err := f.timelines.Public(ctx, author, timeline.Filter{TargetKind: model.KindPost}, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(1), pub.Total)

	_, err = f.timelines.Private(ctx, reader, timeline.Filter{Verb: "share"}, 1, 10)
	assert.ErrorIs(t, err, registry.ErrUnknownVerb)
}

func TestPublishToProject(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	author := f.user(t, "author")
	p := &model.Project{Name: "graph"}
	require.NoError(t, f.repos.Projects.Create(ctx, p))

	_, action, err := f.publisher.Publish(ctx, author, &p.ID, "release")
	require.NoError(t, err)

	project := registry.Ref{Kind: model.KindProject, ID: p.ID}
	page, err := f.timelines.Private(ctx, project, timeline.Filter{}, 1, 10)
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, action.UID, page.Items[0].UID)

	missing := int64(99)
	_, _, err = f.publisher.Publish(ctx, author, &missing, "nope")
	assert.ErrorIs(t, err, ErrEntityNotFound)
}
