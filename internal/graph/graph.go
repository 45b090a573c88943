// Package graph maintains the directed follow graph, its derived friend
// (mutual follow) edges and per-kind counters.
package graph

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/d60-Lab/followgraph/config"
	"github.com/d60-Lab/followgraph/internal/events"
	"github.com/d60-Lab/followgraph/internal/keys"
	"github.com/d60-Lab/followgraph/internal/query"
	"github.com/d60-Lab/followgraph/internal/registry"
	"github.com/d60-Lab/followgraph/internal/uid"
)

var (
	ErrFollowSelf       = errors.New("cannot follow yourself")
	ErrAlreadyFollowing = errors.New("already following")
	ErrNotFollowing     = errors.New("not following")
)

// Relation names one of the three index families kept per uid.
type Relation string

const (
	Followers  Relation = "followers"
	Followings Relation = "followings"
	Friends    Relation = "friends"
)

// Entry is one hydrated member of a relation view.
type Entry struct {
	UID    int64
	Ref    registry.Ref
	Entity any
	Since  time.Time
}

// Index is the follow graph store.
type Index interface {
	Follow(ctx context.Context, from, to registry.Ref, opts ...Option) error
	Unfollow(ctx context.Context, from, to registry.Ref, opts ...Option) error
	IsFollowing(ctx context.Context, from, to registry.Ref) (bool, error)

	// List returns a lazy view over rel for ref, optionally narrowed to
	// counterparts of kind.
	List(ctx context.Context, ref registry.Ref, rel Relation, kind string, desc bool) (*query.Paginator[Entry], error)
	Count(ctx context.Context, ref registry.Ref, rel Relation, kind string) (int64, error)

	// UIDs exposes the identity layer shared with the timeline index.
	UIDs() *uid.Manager
}

type Options struct {
	Timestamp    time.Time
	FailSilently bool
	Dispatch     bool
}

type Option func(*Options)

func WithTimestamp(t time.Time) Option { return func(o *Options) { o.Timestamp = t } }

func FailSilently(v bool) Option { return func(o *Options) { o.FailSilently = v } }

// WithoutDispatch suppresses the followed/unfollowed events.
func WithoutDispatch() Option { return func(o *Options) { o.Dispatch = false } }

// Deps are the collaborators shared by every backend.
type Deps struct {
	Redis    redis.UniversalClient
	Registry *registry.Registry
	Bus      *events.Bus
}

// New builds the configured backend.
func New(cfg config.GraphConfig, deps Deps) (Index, error) {
	switch cfg.Backend {
	case "redis", "":
		if deps.Redis == nil {
			return nil, errors.New("graph: redis backend needs a client")
		}
		kb := keys.New(cfg.Prefix, cfg.Separator)
		return NewRedisIndex(deps.Redis, uid.NewManager(deps.Redis, kb, deps.Registry), deps.Bus, cfg.FailSilently), nil
	default:
		return nil, fmt.Errorf("graph: unknown backend %q", cfg.Backend)
	}
}

// ListFollowers lists who follows ref.
func ListFollowers(ctx context.Context, idx Index, ref registry.Ref, desc bool) (*query.Paginator[Entry], error) {
	return idx.List(ctx, ref, Followers, "", desc)
}

// ListFollowings lists whom ref follows.
func ListFollowings(ctx context.Context, idx Index, ref registry.Ref, desc bool) (*query.Paginator[Entry], error) {
	return idx.List(ctx, ref, Followings, "", desc)
}

// ListFriends lists mutual follows of ref.
func ListFriends(ctx context.Context, idx Index, ref registry.Ref, desc bool) (*query.Paginator[Entry], error) {
	return idx.List(ctx, ref, Friends, "", desc)
}
