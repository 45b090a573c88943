package graph

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/d60-Lab/followgraph/internal/events"
	"github.com/d60-Lab/followgraph/internal/keys"
	"github.com/d60-Lab/followgraph/internal/query"
	"github.com/d60-Lab/followgraph/internal/registry"
	"github.com/d60-Lab/followgraph/internal/uid"
	"github.com/d60-Lab/followgraph/pkg/logger"
	"github.com/d60-Lab/followgraph/pkg/tracing"
)

// RedisIndex keeps one sorted set per (uid, relation[, kind]) with the
// counterpart uid as member and the follow time as score, plus a counter
// key next to every set.
type RedisIndex struct {
	rdb          redis.UniversalClient
	uids         *uid.Manager
	keys         keys.Builder
	bus          *events.Bus
	failSilently bool
}

var _ Index = (*RedisIndex)(nil)

func NewRedisIndex(rdb redis.UniversalClient, uids *uid.Manager, bus *events.Bus, failSilently bool) *RedisIndex {
	return &RedisIndex{rdb: rdb, uids: uids, keys: uids.Keys(), bus: bus, failSilently: failSilently}
}

func (r *RedisIndex) UIDs() *uid.Manager { return r.uids }

func (r *RedisIndex) setKey(owner int64, rel Relation, kind string) string {
	return r.keys.Key("uid", owner, string(rel), kind)
}

func (r *RedisIndex) countKey(owner int64, rel Relation, kind string) string {
	return r.keys.Join(r.setKey(owner, rel, kind), "count")
}

func (r *RedisIndex) options(opts []Option) Options {
	o := Options{Timestamp: time.Now(), FailSilently: r.failSilently, Dispatch: true}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

func (r *RedisIndex) Follow(ctx context.Context, from, to registry.Ref, opts ...Option) (err error) {
	ctx, span := tracing.Start(ctx, "graph.Follow",
		attribute.String("from", from.String()), attribute.String("to", to.String()))
	defer func() {
		if err != nil {
			span.RecordError(err)
		}
		span.End()
	}()

	if from == to {
		return fmt.Errorf("%w: %s", ErrFollowSelf, from)
	}
	o := r.options(opts)

	fromUID, err := r.uids.Ensure(ctx, from)
	if err != nil {
		return err
	}
	toUID, err := r.uids.Ensure(ctx, to)
	if err != nil {
		return err
	}

	following, err := r.isFollowing(ctx, fromUID, toUID)
	if err != nil {
		return err
	}
	if following {
		return r.recoverable(ErrAlreadyFollowing, from, to, o)
	}
	reverse, err := r.isFollowing(ctx, toUID, fromUID)
	if err != nil {
		return err
	}

	score := float64(o.Timestamp.Unix())
	_, err = r.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		r.link(ctx, p, toUID, Followers, from.Kind, fromUID, score)
		r.link(ctx, p, fromUID, Followings, to.Kind, toUID, score)
		if reverse {
			r.link(ctx, p, fromUID, Friends, to.Kind, toUID, score)
			r.link(ctx, p, toUID, Friends, from.Kind, fromUID, score)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis follow %s -> %s: %w", from, to, err)
	}

	if o.Dispatch {
		r.emit(ctx, events.Event{Name: events.Followed, From: from, To: to, FromUID: fromUID, ToUID: toUID})
	}
	return nil
}

func (r *RedisIndex) Unfollow(ctx context.Context, from, to registry.Ref, opts ...Option) (err error) {
	ctx, span := tracing.Start(ctx, "graph.Unfollow",
		attribute.String("from", from.String()), attribute.String("to", to.String()))
	defer func() {
		if err != nil {
			span.RecordError(err)
		}
		span.End()
	}()

	o := r.options(opts)

	fromUID, fromOK, err := r.uids.Lookup(ctx, from)
	if err != nil {
		return err
	}
	toUID, toOK, err := r.uids.Lookup(ctx, to)
	if err != nil {
		return err
	}
	following := false
	if fromOK && toOK {
		if following, err = r.isFollowing(ctx, fromUID, toUID); err != nil {
			return err
		}
	}
	if !following {
		return r.recoverable(ErrNotFollowing, from, to, o)
	}
	reverse, err := r.isFollowing(ctx, toUID, fromUID)
	if err != nil {
		return err
	}

	_, err = r.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		r.unlink(ctx, p, toUID, Followers, from.Kind, fromUID)
		r.unlink(ctx, p, fromUID, Followings, to.Kind, toUID)
		if reverse {
			r.unlink(ctx, p, fromUID, Friends, to.Kind, toUID)
			r.unlink(ctx, p, toUID, Friends, from.Kind, fromUID)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis unfollow %s -> %s: %w", from, to, err)
	}

	if o.Dispatch {
		r.emit(ctx, events.Event{Name: events.Unfollowed, From: from, To: to, FromUID: fromUID, ToUID: toUID})
	}
	return nil
}

// link writes both the global set and the per-kind set.
func (r *RedisIndex) link(ctx context.Context, p redis.Pipeliner, owner int64, rel Relation, kind string, member int64, score float64) {
	for _, k := range []string{"", kind} {
		p.Incr(ctx, r.countKey(owner, rel, k))
		p.ZAdd(ctx, r.setKey(owner, rel, k), redis.Z{Score: score, Member: member})
	}
}

func (r *RedisIndex) unlink(ctx context.Context, p redis.Pipeliner, owner int64, rel Relation, kind string, member int64) {
	for _, k := range []string{"", kind} {
		p.Decr(ctx, r.countKey(owner, rel, k))
		p.ZRem(ctx, r.setKey(owner, rel, k), member)
	}
}

func (r *RedisIndex) recoverable(cause error, from, to registry.Ref, o Options) error {
	if o.FailSilently {
		logger.Warn("graph edge unchanged",
			zap.String("reason", cause.Error()),
			zap.String("from", from.String()),
			zap.String("to", to.String()),
		)
		return nil
	}
	return fmt.Errorf("%w: %s -> %s", cause, from, to)
}

func (r *RedisIndex) emit(ctx context.Context, ev events.Event) {
	if err := r.bus.Emit(ctx, ev); err != nil {
		logger.Error("graph event handler failed",
			zap.String("event", string(ev.Name)),
			zap.String("from", ev.From.String()),
			zap.String("to", ev.To.String()),
			zap.Error(err),
		)
	}
}

func (r *RedisIndex) isFollowing(ctx context.Context, fromUID, toUID int64) (bool, error) {
	err := r.rdb.ZRank(ctx, r.setKey(fromUID, Followings, ""), strconv.FormatInt(toUID, 10)).Err()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("redis zrank followings: %w", err)
	}
	return true, nil
}

// IsFollowing never allocates uids: unknown entities follow no one.
func (r *RedisIndex) IsFollowing(ctx context.Context, from, to registry.Ref) (bool, error) {
	fromUID, ok, err := r.uids.Lookup(ctx, from)
	if err != nil || !ok {
		return false, err
	}
	toUID, ok, err := r.uids.Lookup(ctx, to)
	if err != nil || !ok {
		return false, err
	}
	return r.isFollowing(ctx, fromUID, toUID)
}

func (r *RedisIndex) Count(ctx context.Context, ref registry.Ref, rel Relation, kind string) (int64, error) {
	owner, ok, err := r.uids.Lookup(ctx, ref)
	if err != nil || !ok {
		return 0, err
	}
	return r.count(ctx, owner, rel, kind)
}

func (r *RedisIndex) count(ctx context.Context, owner int64, rel Relation, kind string) (int64, error) {
	key := r.countKey(owner, rel, kind)
	n, err := r.rdb.Get(ctx, key).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis get %s: %w", key, err)
	}
	if n < 0 {
		logger.Warn("negative relation counter", zap.String("key", key), zap.Int64("value", n))
		return 0, nil
	}
	return n, nil
}

func (r *RedisIndex) List(ctx context.Context, ref registry.Ref, rel Relation, kind string, desc bool) (*query.Paginator[Entry], error) {
	owner, ok, err := r.uids.Lookup(ctx, ref)
	if err != nil {
		return nil, err
	}
	if !ok {
		return query.Empty[Entry](), nil
	}
	n, err := r.count(ctx, owner, rel, kind)
	if err != nil {
		return nil, err
	}
	return query.New(r.rdb, r.setKey(owner, rel, kind), n, r.hydrate).OrderBy(desc), nil
}

func (r *RedisIndex) hydrate(ctx context.Context, page []redis.Z) ([]Entry, error) {
	uids := make([]int64, 0, len(page))
	since := make([]time.Time, 0, len(page))
	for _, z := range page {
		u, err := strconv.ParseInt(fmt.Sprint(z.Member), 10, 64)
		if err != nil {
			logger.Warn("skip malformed relation member", zap.Any("member", z.Member))
			continue
		}
		uids = append(uids, u)
		since = append(since, time.Unix(int64(z.Score), 0))
	}

	resolved, err := r.uids.ResolveMany(ctx, uids)
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(resolved))
	for i, res := range resolved {
		if !res.Found() {
			logger.Warn("skip unresolvable relation member",
				zap.Int64("uid", res.UID), zap.String("ref", res.Ref.String()))
			continue
		}
		out = append(out, Entry{UID: res.UID, Ref: res.Ref, Entity: res.Entity, Since: since[i]})
	}
	return out, nil
}

// Clear removes the keys the graph owns: the uid counter, uid records and
// mappings, and every relation set and counter. Other namespaces sharing the
// prefix, such as the timeline's "timeline:" keys, are left alone.
func (r *RedisIndex) Clear(ctx context.Context) error {
	if err := r.rdb.Del(ctx, r.keys.Key("global", "uid")).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	iter := r.rdb.Scan(ctx, 0, r.keys.Key("uid")+r.keys.Separator()+"*", 500).Iterator()
	batch := make([]string, 0, 500)
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == cap(batch) {
			if err := r.rdb.Del(ctx, batch...).Err(); err != nil {
				return fmt.Errorf("redis del: %w", err)
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("redis scan: %w", err)
	}
	if len(batch) > 0 {
		return r.rdb.Del(ctx, batch...).Err()
	}
	return nil
}
