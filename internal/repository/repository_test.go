package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/d60-Lab/followgraph/internal/model"
	"github.com/d60-Lab/followgraph/internal/registry"
)

func setupDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(model.Models()...))
	return db
}

func TestUserRepository(t *testing.T) {
	ctx := context.Background()
	repos := New(setupDB(t))

	alice := &model.User{Username: "alice", Email: "alice@example.com"}
	bob := &model.User{Username: "bob"}
	require.NoError(t, repos.Users.Create(ctx, alice))
	require.NoError(t, repos.Users.Create(ctx, bob))
	assert.NotZero(t, alice.ID)

	got, err := repos.Users.Get(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", got.Username)

	_, err = repos.Users.Get(ctx, 999)
	assert.ErrorIs(t, err, ErrNotFound)

	found, err := repos.Users.Resolve(ctx, []int64{alice.ID, bob.ID, 999})
	require.NoError(t, err)
	assert.Len(t, found, 2)
	assert.Equal(t, "bob", found[bob.ID].(*model.User).Username)

	list, err := repos.Users.FindByIDs(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestRegistry(t *testing.T) {
	ctx := context.Background()
	repos := New(setupDB(t))

	wrapped := map[string]bool{}
	reg, err := repos.Registry(func(kind string, r registry.Resolver) registry.Resolver {
		wrapped[kind] = true
		return r
	})
	require.NoError(t, err)
	assert.Equal(t, []string{model.KindPost, model.KindProject, model.KindUser}, reg.Kinds())
	assert.Len(t, wrapped, 3)
	assert.True(t, reg.HasVerb(model.VerbCreate))

	p := &model.Project{Name: "followgraph"}
	require.NoError(t, repos.Projects.Create(ctx, p))

	ref, err := reg.RefOf(p)
	require.NoError(t, err)
	assert.Equal(t, registry.Ref{Kind: model.KindProject, ID: p.ID}, ref)

	res, err := reg.Resolver(model.KindProject)
	require.NoError(t, err)
	found, err := res.Resolve(ctx, []int64{p.ID})
	require.NoError(t, err)
	assert.Equal(t, "followgraph", found[p.ID].(*model.Project).Name)

	post := &model.Post{AuthorID: 1, Payload: "hi"}
	require.NoError(t, repos.Posts.Create(ctx, post))
	gotPost, err := repos.Posts.Get(ctx, post.ID)
	require.NoError(t, err)
	assert.Equal(t, "hi", gotPost.Payload)
}
