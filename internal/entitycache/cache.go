// Package entitycache puts a Redis snapshot cache in front of entity resolvers.
//
// List hydration reads snapshots with one MGET, loads the misses from the next
// resolver in one batch and writes them back as JSON with a TTL.
package entitycache

import (
	"context"
	"encoding/json"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/d60-Lab/followgraph/internal/registry"
	"github.com/d60-Lab/followgraph/pkg/logger"
)

// Resolver caches entities of type T resolved by next.
type Resolver[T any] struct {
	rdb    redis.UniversalClient
	next   registry.Resolver
	prefix string
	ttl    time.Duration

	hits   atomic.Int64
	misses atomic.Int64
	loads  atomic.Int64
}

func New[T any](rdb redis.UniversalClient, prefix, kind string, ttl time.Duration, next registry.Resolver) *Resolver[T] {
	return &Resolver[T]{rdb: rdb, next: next, prefix: prefix + kind + ":", ttl: ttl}
}

func (r *Resolver[T]) key(id int64) string { return r.prefix + strconv.FormatInt(id, 10) }

// Resolve implements registry.Resolver. Cache failures fall through to next.
func (r *Resolver[T]) Resolve(ctx context.Context, ids []int64) (map[int64]any, error) {
	out := make(map[int64]any, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.key(id)
	}
	vals, err := r.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		logger.Warn("entity cache read failed", zap.String("prefix", r.prefix), zap.Error(err))
		vals = nil
	}
	for i, v := range vals {
		str, ok := v.(string)
		if !ok {
			continue
		}
		ent := new(T)
		if json.Unmarshal([]byte(str), ent) == nil {
			out[ids[i]] = ent
		}
	}

	missing := make([]int64, 0, len(ids)-len(out))
	for _, id := range ids {
		if _, ok := out[id]; !ok {
			missing = append(missing, id)
		}
	}
	r.hits.Add(int64(len(out)))
	r.misses.Add(int64(len(missing)))
	if len(missing) == 0 {
		return out, nil
	}

	r.loads.Add(1)
	loaded, err := r.next.Resolve(ctx, missing)
	if err != nil {
		return nil, err
	}
	pipe := r.rdb.Pipeline()
	for id, ent := range loaded {
		out[id] = ent
		if payload, err := json.Marshal(ent); err == nil {
			pipe.Set(ctx, r.key(id), payload, r.ttl)
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		logger.Warn("entity cache write failed", zap.String("prefix", r.prefix), zap.Error(err))
	}
	return out, nil
}

// Invalidate drops cached snapshots.
func (r *Resolver[T]) Invalidate(ctx context.Context, ids ...int64) error {
	if len(ids) == 0 {
		return nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.key(id)
	}
	return r.rdb.Del(ctx, keys...).Err()
}

// Counters reports cache effectiveness since start or last Reset.
func (r *Resolver[T]) Counters() Counters {
	return Counters{Hits: r.hits.Load(), Misses: r.misses.Load(), Loads: r.loads.Load()}
}

func (r *Resolver[T]) Reset() {
	r.hits.Store(0)
	r.misses.Store(0)
	r.loads.Store(0)
}

// Counters summarises lookups. Loads counts batched calls into the underlying resolver.
type Counters struct {
	Hits   int64
	Misses int64
	Loads  int64
}
