package timeline

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
	"github.com/d60-Lab/followgraph/internal/graph"
	"github.com/d60-Lab/followgraph/internal/keys"
	"github.com/d60-Lab/followgraph/internal/query"
	"github.com/d60-Lab/followgraph/internal/registry"
	"github.com/d60-Lab/followgraph/internal/uid"
	"github.com/d60-Lab/followgraph/pkg/logger"
	"github.com/d60-Lab/followgraph/pkg/tracing"
)

const (
	private = "private"
	public  = "public"
)

// RedisIndex writes each action body once under its own uid and indexes the
// action uid into every applicable (owner, visibility, target kind, verb)
// sorted set.
type RedisIndex struct {
	rdb        redis.UniversalClient
	keys       keys.Builder
	graph      graph.Index
	uids       *uid.Manager
	reg        *registry.Registry
	bus        *events.Bus
	dispatcher Dispatcher
	now        func() time.Time
}

var _ Index = (*RedisIndex)(nil)

func NewRedisIndex(rdb redis.UniversalClient, kb keys.Builder, deps Deps) *RedisIndex {
	now := deps.Clock
	if now == nil {
		now = time.Now
	}
	uids := deps.Graph.UIDs()
	return &RedisIndex{
		rdb:        rdb,
		keys:       kb,
		graph:      deps.Graph,
		uids:       uids,
		reg:        uids.Registry(),
		bus:        deps.Bus,
		dispatcher: deps.Dispatcher,
		now:        now,
	}
}

// streamKey looks like uid:<uid>:private[:target:<kind>][:verb:<verb>]
func (r *RedisIndex) streamKey(owner int64, visibility string, f Filter) string {
	key := r.keys.Key("uid", owner, visibility)
	if f.TargetKind != "" {
		key = r.keys.Join(key, "target", f.TargetKind)
	}
	if f.Verb != "" {
		key = r.keys.Join(key, "verb", f.Verb)
	}
	return key
}

func (r *RedisIndex) bodyKey(actionUID int64) string { return r.keys.Key("uid", actionUID) }

func (r *RedisIndex) readAtKey(owner int64) string { return r.keys.Key("uid", owner, "read_at") }

// indexKeys lists the unscoped-by-verb keys one save touches. An action is
// public only in its actor's own timeline.
func (r *RedisIndex) indexKeys(ownerUID int64, owner registry.Ref, a *Action) []string {
	self := a.Actor == owner
	var out []string
	seen := make(map[string]struct{})
	add := func(visibility, targetKind string) {
		k := r.streamKey(ownerUID, visibility, Filter{TargetKind: targetKind})
		if _, ok := seen[k]; ok {
			return
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}

	add(private, "")
	add(private, owner.Kind)
	if self {
		add(public, "")
		add(public, owner.Kind)
	}
	if a.Target != nil && *a.Target != a.Actor {
		add(private, a.Target.Kind)
		if self {
			add(public, a.Target.Kind)
		}
	}
	return out
}

func (r *RedisIndex) options(opts []Option) Options {
	o := Options{Dispatch: true}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

func (r *RedisIndex) Save(ctx context.Context, owner registry.Ref, a *Action, opts ...Option) (err error) {
	ctx, span := tracing.Start(ctx, "timeline.Save",
		attribute.String("owner", owner.String()), attribute.String("verb", a.Verb))
	defer func() {
		if err != nil {
			span.RecordError(err)
		}
		span.End()
	}()

	if err := r.reg.CheckVerb(a.Verb); err != nil {
		return fmt.Errorf("%w: %w", ErrActionDoesNotExist, err)
	}
	o := r.options(opts)

	ownerUID, err := r.uids.Ensure(ctx, owner)
	if err != nil {
		return err
	}

	var body map[string]any
	if a.UID == 0 {
		if body, err = r.newBody(ctx, a); err != nil {
			return err
		}
	}

	if o.Dispatch {
		r.emit(ctx, events.Event{Name: events.PreSave, Owner: owner, Action: a})
	}

	score := float64(a.Timestamp.Unix())
	member := strconv.FormatInt(a.UID, 10)
	_, err = r.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		if body != nil {
			p.HSet(ctx, r.bodyKey(a.UID), body)
		}
		for _, key := range r.indexKeys(ownerUID, owner, a) {
			verbKey := r.keys.Join(key, "verb", a.Verb)
			p.Incr(ctx, r.keys.Join(key, "count"))
			p.Incr(ctx, r.keys.Join(verbKey, "count"))
			p.ZAdd(ctx, key, redis.Z{Score: score, Member: member})
			p.ZAdd(ctx, verbKey, redis.Z{Score: score, Member: member})
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis save action %d for %s: %w", a.UID, owner, err)
	}

	if !o.Dispatch {
		return nil
	}
	r.emit(ctx, events.Event{Name: events.PostSave, Owner: owner, Action: a})
	if a.Actor == owner {
		return r.dispatch(ctx, owner, a)
	}
	return nil
}

// newBody assigns a.UID and returns the hash to persist for it.
func (r *RedisIndex) newBody(ctx context.Context, a *Action) (map[string]any, error) {
	actorUID, err := r.uids.Ensure(ctx, a.Actor)
	if err != nil {
		return nil, err
	}
	body := map[string]any{
		"actor":     actorUID,
		"verb":      a.Verb,
		"timestamp": a.Timestamp.Unix(),
	}
	if a.Target != nil {
		targetUID, err := r.uids.Ensure(ctx, *a.Target)
		if err != nil {
			return nil, err
		}
		body["target"] = targetUID
	}
	id, err := r.rdb.Incr(ctx, r.keys.Key("global", "uid")).Result()
	if err != nil {
		return nil, fmt.Errorf("redis incr action uid: %w", err)
	}
	a.UID = id
	return body, nil
}

func (r *RedisIndex) dispatch(ctx context.Context, owner registry.Ref, a *Action) error {
	n, err := r.graph.Count(ctx, owner, graph.Followers, "")
	if err != nil {
		return err
	}
	if n == 0 {
		return nil
	}
	if r.dispatcher == nil {
		logger.Warn("action has followers but no dispatcher is configured",
			zap.Int64("action", a.UID), zap.String("actor", owner.String()))
		return nil
	}
	if err := r.dispatcher.DispatchAction(ctx, a.UID, owner); err != nil {
		return fmt.Errorf("dispatch action %d: %w", a.UID, err)
	}
	return nil
}

func (r *RedisIndex) Delete(ctx context.Context, owner registry.Ref, a *Action, opts ...Option) (err error) {
	ctx, span := tracing.Start(ctx, "timeline.Delete",
		attribute.String("owner", owner.String()), attribute.Int64("action", a.UID))
	defer func() {
		if err != nil {
			span.RecordError(err)
		}
		span.End()
	}()

	if a.UID == 0 {
		return ErrUnsaved
	}
	o := r.options(opts)

	ownerUID, ok, err := r.uids.Lookup(ctx, owner)
	if err != nil || !ok {
		return err
	}

	if o.Dispatch {
		r.emit(ctx, events.Event{Name: events.PreDelete, Owner: owner, Action: a})
	}

	member := strconv.FormatInt(a.UID, 10)
	_, err = r.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		for _, key := range r.indexKeys(ownerUID, owner, a) {
			verbKey := r.keys.Join(key, "verb", a.Verb)
			p.Decr(ctx, r.keys.Join(key, "count"))
			p.Decr(ctx, r.keys.Join(verbKey, "count"))
			p.ZRem(ctx, key, member)
			p.ZRem(ctx, verbKey, member)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis delete action %d for %s: %w", a.UID, owner, err)
	}

	if o.Dispatch {
		r.emit(ctx, events.Event{Name: events.PostDelete, Owner: owner, Action: a})
	}
	return nil
}

func (r *RedisIndex) emit(ctx context.Context, ev events.Event) {
	if err := r.bus.Emit(ctx, ev); err != nil {
		logger.Error("timeline event handler failed",
			zap.String("event", string(ev.Name)),
			zap.String("owner", ev.Owner.String()),
			zap.Error(err),
		)
	}
}

// Contains reports whether actionUID is already in owner's private timeline.
func (r *RedisIndex) Contains(ctx context.Context, owner registry.Ref, actionUID int64) (bool, error) {
	ownerUID, ok, err := r.uids.Lookup(ctx, owner)
	if err != nil || !ok {
		return false, err
	}
	err = r.rdb.ZScore(ctx, r.streamKey(ownerUID, private, Filter{}), strconv.FormatInt(actionUID, 10)).Err()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("redis zscore: %w", err)
	}
	return true, nil
}

// Load reads and hydrates one action body.
func (r *RedisIndex) Load(ctx context.Context, actionUID int64) (*Action, error) {
	out, err := r.hydrate(ctx, []redis.Z{{Member: strconv.FormatInt(actionUID, 10)}})
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, &ActionInvalidError{UID: actionUID, Reason: "body, actor or target missing"}
	}
	return out[0], nil
}

func (r *RedisIndex) Private(ctx context.Context, owner registry.Ref, f Filter, desc bool) (*query.Paginator[*Action], error) {
	return r.list(ctx, owner, private, f, desc)
}

func (r *RedisIndex) Public(ctx context.Context, owner registry.Ref, f Filter, desc bool) (*query.Paginator[*Action], error) {
	return r.list(ctx, owner, public, f, desc)
}

func (r *RedisIndex) list(ctx context.Context, owner registry.Ref, visibility string, f Filter, desc bool) (*query.Paginator[*Action], error) {
	ownerUID, ok, err := r.uids.Lookup(ctx, owner)
	if err != nil {
		return nil, err
	}
	if !ok {
		return query.Empty[*Action](), nil
	}
	key := r.streamKey(ownerUID, visibility, f)
	n, err := r.count(ctx, key)
	if err != nil {
		return nil, err
	}
	return query.New(r.rdb, key, n, r.hydrate).OrderBy(desc), nil
}

func (r *RedisIndex) PrivateCount(ctx context.Context, owner registry.Ref, f Filter) (int64, error) {
	return r.ownerCount(ctx, owner, private, f)
}

func (r *RedisIndex) PublicCount(ctx context.Context, owner registry.Ref, f Filter) (int64, error) {
	return r.ownerCount(ctx, owner, public, f)
}

func (r *RedisIndex) ownerCount(ctx context.Context, owner registry.Ref, visibility string, f Filter) (int64, error) {
	ownerUID, ok, err := r.uids.Lookup(ctx, owner)
	if err != nil || !ok {
		return 0, err
	}
	return r.count(ctx, r.streamKey(ownerUID, visibility, f))
}

func (r *RedisIndex) count(ctx context.Context, key string) (int64, error) {
	countKey := r.keys.Join(key, "count")
	n, err := r.rdb.Get(ctx, countKey).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis get %s: %w", countKey, err)
	}
	if n < 0 {
		logger.Warn("negative timeline counter", zap.String("key", countKey), zap.Int64("value", n))
		return 0, nil
	}
	return n, nil
}

func (r *RedisIndex) MarkAsRead(ctx context.Context, owner registry.Ref, at time.Time) error {
	if at.IsZero() {
		at = r.now()
	}
	ownerUID, err := r.uids.Ensure(ctx, owner)
	if err != nil {
		return err
	}
	if err := r.rdb.Set(ctx, r.readAtKey(ownerUID), at.Unix(), 0).Err(); err != nil {
		return fmt.Errorf("redis set read_at: %w", err)
	}
	return nil
}

func (r *RedisIndex) ReadAt(ctx context.Context, owner registry.Ref) (time.Time, bool, error) {
	ownerUID, ok, err := r.uids.Lookup(ctx, owner)
	if err != nil || !ok {
		return time.Time{}, false, err
	}
	ts, err := r.rdb.Get(ctx, r.readAtKey(ownerUID)).Int64()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("redis get read_at: %w", err)
	}
	return time.Unix(ts, 0), true, nil
}

// UnreadCount counts private entries in (read_at, now].
func (r *RedisIndex) UnreadCount(ctx context.Context, owner registry.Ref, f Filter) (int64, error) {
	ownerUID, ok, err := r.uids.Lookup(ctx, owner)
	if err != nil || !ok {
		return 0, err
	}
	var watermark int64
	ts, err := r.rdb.Get(ctx, r.readAtKey(ownerUID)).Int64()
	switch {
	case errors.Is(err, redis.Nil):
	case err != nil:
		return 0, fmt.Errorf("redis get read_at: %w", err)
	default:
		watermark = ts
	}

	key := r.streamKey(ownerUID, private, f)
	n, err := r.rdb.ZCount(ctx, key,
		"("+strconv.FormatInt(watermark, 10),
		strconv.FormatInt(r.now().Unix(), 10),
	).Result()
	if err != nil {
		return 0, fmt.Errorf("redis zcount %s: %w", key, err)
	}
	return n, nil
}

type body struct {
	uid       int64
	verb      string
	actor     int64
	target    int64
	timestamp int64
}

// hydrate loads action bodies with one pipeline and resolves every actor and
// target uid of the page in one batch. Actions whose actor or target no
// longer resolves are skipped.
func (r *RedisIndex) hydrate(ctx context.Context, page []redis.Z) ([]*Action, error) {
	cmds := make([]*redis.MapStringStringCmd, len(page))
	_, err := r.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		for i, z := range page {
			cmds[i] = p.HGetAll(ctx, r.keys.Key("uid", fmt.Sprint(z.Member)))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("redis pipeline action bodies: %w", err)
	}

	bodies := make([]body, 0, len(page))
	var refUIDs []int64
	for i, cmd := range cmds {
		b, err := parseBody(fmt.Sprint(page[i].Member), cmd.Val())
		if err != nil {
			logger.Warn("skip unreadable action", zap.Any("action", page[i].Member), zap.Error(err))
			continue
		}
		if !r.reg.HasVerb(b.verb) {
			return nil, fmt.Errorf("%w: %s", ErrActionDoesNotExist, b.verb)
		}
		bodies = append(bodies, b)
		refUIDs = append(refUIDs, b.actor)
		if b.target != 0 {
			refUIDs = append(refUIDs, b.target)
		}
	}

	resolved, err := r.uids.ResolveMany(ctx, refUIDs)
	if err != nil {
		return nil, err
	}
	byUID := make(map[int64]uid.Resolved, len(resolved))
	for _, res := range resolved {
		byUID[res.UID] = res
	}

	out := make([]*Action, 0, len(bodies))
	for _, b := range bodies {
		actor := byUID[b.actor]
		if !actor.Found() {
			logger.Warn("skip action", zap.Error(&ActionInvalidError{UID: b.uid, Reason: "actor missing"}))
			continue
		}
		a := &Action{
			UID:         b.uid,
			Verb:        b.verb,
			Actor:       actor.Ref,
			ActorEntity: actor.Entity,
			Timestamp:   time.Unix(b.timestamp, 0),
		}
		if b.target != 0 {
			target := byUID[b.target]
			if !target.Found() {
				logger.Warn("skip action", zap.Error(&ActionInvalidError{UID: b.uid, Reason: "target missing"}))
				continue
			}
			ref := target.Ref
			a.Target = &ref
			a.TargetEntity = target.Entity
		}
		out = append(out, a)
	}
	return out, nil
}

func parseBody(member string, h map[string]string) (body, error) {
	var b body
	var err error
	if len(h) == 0 {
		return b, errors.New("body not found")
	}
	if b.uid, err = strconv.ParseInt(member, 10, 64); err != nil {
		return b, fmt.Errorf("member: %w", err)
	}
	if b.actor, err = strconv.ParseInt(h["actor"], 10, 64); err != nil {
		return b, fmt.Errorf("actor: %w", err)
	}
	if b.timestamp, err = strconv.ParseInt(h["timestamp"], 10, 64); err != nil {
		return b, fmt.Errorf("timestamp: %w", err)
	}
	if t := h["target"]; t != "" {
		if b.target, err = strconv.ParseInt(t, 10, 64); err != nil {
			return b, fmt.Errorf("target: %w", err)
		}
	}
	b.verb = h["verb"]
	return b, nil
}
