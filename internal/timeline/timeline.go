// Package timeline stores per-owner activity timelines: a private stream of
// everything an owner sees and a public stream of what the owner did, each
// scoped by verb and by target kind.
package timeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/d60-Lab/followgraph/config"
	"github.com/d60-Lab/followgraph/internal/events"
	"github.com/d60-Lab/followgraph/internal/graph"
	"github.com/d60-Lab/followgraph/internal/keys"
	"github.com/d60-Lab/followgraph/internal/query"
	"github.com/d60-Lab/followgraph/internal/registry"
)

var (
	ErrActionDoesNotExist = errors.New("action verb is not registered")
	ErrActionInvalid      = errors.New("action references a missing entity")
	ErrUnsaved            = errors.New("action has not been saved")
)

// ActionInvalidError describes a stored action that can no longer be
// hydrated. It matches ErrActionInvalid.
type ActionInvalidError struct {
	UID    int64
	Reason string
}

func (e *ActionInvalidError) Error() string {
	return fmt.Sprintf("action %d is invalid: %s", e.UID, e.Reason)
}

func (e *ActionInvalidError) Is(target error) bool { return target == ErrActionInvalid }

// Action is an actor doing verb, optionally to a target.
type Action struct {
	UID       int64         `json:"uid"`
	Verb      string        `json:"verb"`
	Actor     registry.Ref  `json:"actor"`
	Target    *registry.Ref `json:"target,omitempty"`
	Timestamp time.Time     `json:"timestamp"`

	// populated by hydration
	ActorEntity  any `json:"-"`
	TargetEntity any `json:"-"`
}

func NewAction(verb string, actor registry.Ref, target *registry.Ref, at time.Time) *Action {
	if at.IsZero() {
		at = time.Now()
	}
	return &Action{Verb: verb, Actor: actor, Target: target, Timestamp: at}
}

// Filter narrows a timeline to one verb and/or one target kind.
type Filter struct {
	Verb       string
	TargetKind string
}

// Dispatcher schedules delivery of an owner's own action to its followers.
type Dispatcher interface {
	DispatchAction(ctx context.Context, actionUID int64, actor registry.Ref) error
}

type Index interface {
	Save(ctx context.Context, owner registry.Ref, a *Action, opts ...Option) error
	Delete(ctx context.Context, owner registry.Ref, a *Action, opts ...Option) error
	Load(ctx context.Context, actionUID int64) (*Action, error)
	Contains(ctx context.Context, owner registry.Ref, actionUID int64) (bool, error)

	Private(ctx context.Context, owner registry.Ref, f Filter, desc bool) (*query.Paginator[*Action], error)
	Public(ctx context.Context, owner registry.Ref, f Filter, desc bool) (*query.Paginator[*Action], error)
	PrivateCount(ctx context.Context, owner registry.Ref, f Filter) (int64, error)
	PublicCount(ctx context.Context, owner registry.Ref, f Filter) (int64, error)

	MarkAsRead(ctx context.Context, owner registry.Ref, at time.Time) error
	ReadAt(ctx context.Context, owner registry.Ref) (time.Time, bool, error)
	UnreadCount(ctx context.Context, owner registry.Ref, f Filter) (int64, error)
}

type Options struct {
	Dispatch bool
}

type Option func(*Options)

// WithoutDispatch suppresses lifecycle events and follower fan-out.
func WithoutDispatch() Option { return func(o *Options) { o.Dispatch = false } }

type Deps struct {
	Redis      redis.UniversalClient
	Graph      graph.Index
	Bus        *events.Bus
	Dispatcher Dispatcher
	Clock      func() time.Time
}

func New(cfg config.TimelineConfig, sep string, deps Deps) (Index, error) {
	switch cfg.Backend {
	case "redis", "":
		if deps.Redis == nil || deps.Graph == nil {
			return nil, errors.New("timeline: redis backend needs a client and a graph index")
		}
		return NewRedisIndex(deps.Redis, keys.New(cfg.Prefix, sep), deps), nil
	default:
		return nil, fmt.Errorf("timeline: unknown backend %q", cfg.Backend)
	}
}

// Timeline binds an Index to one owner.
type Timeline struct {
	idx   Index
	owner registry.Ref
}

func For(idx Index, owner registry.Ref) *Timeline { return &Timeline{idx: idx, owner: owner} }

func (t *Timeline) Owner() registry.Ref { return t.owner }

func (t *Timeline) Save(ctx context.Context, a *Action, opts ...Option) error {
	return t.idx.Save(ctx, t.owner, a, opts...)
}

func (t *Timeline) Delete(ctx context.Context, a *Action, opts ...Option) error {
	return t.idx.Delete(ctx, t.owner, a, opts...)
}

func (t *Timeline) Private(ctx context.Context, f Filter, desc bool) (*query.Paginator[*Action], error) {
	return t.idx.Private(ctx, t.owner, f, desc)
}

func (t *Timeline) Public(ctx context.Context, f Filter, desc bool) (*query.Paginator[*Action], error) {
	return t.idx.Public(ctx, t.owner, f, desc)
}

func (t *Timeline) PrivateCount(ctx context.Context, f Filter) (int64, error) {
	return t.idx.PrivateCount(ctx, t.owner, f)
}

func (t *Timeline) PublicCount(ctx context.Context, f Filter) (int64, error) {
	return t.idx.PublicCount(ctx, t.owner, f)
}

func (t *Timeline) MarkAsRead(ctx context.Context, at time.Time) error {
	return t.idx.MarkAsRead(ctx, t.owner, at)
}

func (t *Timeline) ReadAt(ctx context.Context) (time.Time, bool, error) {
	return t.idx.ReadAt(ctx, t.owner)
}

func (t *Timeline) UnreadCount(ctx context.Context, f Filter) (int64, error) {
	return t.idx.UnreadCount(ctx, t.owner, f)
}
