package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type user struct{ ID int64 }

func (u *user) EntityID() int64 { return u.ID }

type project struct{ ID int64 }

func noop(context.Context, []int64) (map[int64]any, error) { return nil, nil }

func TestBuildAndLookup(t *testing.T) {
	reg, err := NewBuilder().
		Register("user", (*user)(nil), ResolverFunc(noop)).
		Register("project", project{}, ResolverFunc(noop)).
		RegisterVerb("like", "create").
		Build()
	require.NoError(t, err)

	kind, err := reg.KindOf(&user{ID: 1})
	require.NoError(t, err)
	assert.Equal(t, "user", kind)

	kind, err = reg.KindOf(&project{})
	require.NoError(t, err)
	assert.Equal(t, "project", kind)

	ref, err := reg.RefOf(&user{ID: 7})
	require.NoError(t, err)
	assert.Equal(t, Ref{Kind: "user", ID: 7}, ref)
	assert.Equal(t, "user:7", ref.String())

	_, err = reg.RefOf(&project{ID: 1})
	assert.ErrorIs(t, err, ErrInvalidRef)

	assert.Equal(t, []string{"project", "user"}, reg.Kinds())
	assert.Equal(t, []string{"create", "like"}, reg.Verbs())
	assert.True(t, reg.HasVerb("like"))
	assert.False(t, reg.HasVerb("share"))
	assert.ErrorIs(t, reg.CheckVerb("share"), ErrUnknownVerb)
	assert.NoError(t, reg.CheckVerb("like"))
}

func TestUnknownLookups(t *testing.T) {
	reg, err := NewBuilder().Register("user", &user{}, ResolverFunc(noop)).Build()
	require.NoError(t, err)

	_, err = reg.KindOf(struct{}{})
	assert.ErrorIs(t, err, ErrUnregisteredType)

	_, err = reg.Resolver("group")
	assert.ErrorIs(t, err, ErrUnknownKind)

	assert.ErrorIs(t, reg.Check(Ref{Kind: "group", ID: 1}), ErrUnknownKind)
	assert.ErrorIs(t, reg.Check(Ref{Kind: "user"}), ErrInvalidRef)
	assert.NoError(t, reg.Check(Ref{Kind: "user", ID: 1}))
}

func TestDuplicateKind(t *testing.T) {
	_, err := NewBuilder().
		Register("user", nil, ResolverFunc(noop)).
		Register("user", nil, ResolverFunc(noop)).
		Build()
	assert.ErrorIs(t, err, ErrDuplicateKind)
}
