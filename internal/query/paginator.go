// Package query provides lazy, sliceable views over score-ordered sets.
package query

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

var (
	ErrNegativeIndex = errors.New("negative indexing is not supported")
	ErrOutOfRange    = errors.New("index out of range")
)

// Hydrator turns a page of raw (member, score) pairs into domain items.
// It may drop members that can no longer be resolved.
type Hydrator[T any] func(ctx context.Context, page []redis.Z) ([]T, error)

// Paginator is a restartable view over one sorted set. It issues no command
// until sliced, and each slice costs one range query plus the hydrator's
// batched lookups.
type Paginator[T any] struct {
	rdb     redis.Cmdable
	key     string
	count   int64
	desc    bool
	hydrate Hydrator[T]
}

// New builds a view over key. count is the authoritative size, usually read
// from the companion counter rather than ZCARD.
func New[T any](rdb redis.Cmdable, key string, count int64, hydrate Hydrator[T]) *Paginator[T] {
	if count < 0 {
		count = 0
	}
	return &Paginator[T]{rdb: rdb, key: key, count: count, hydrate: hydrate}
}

// Empty is a view that never touches the store.
func Empty[T any]() *Paginator[T] { return &Paginator[T]{} }

// OrderBy returns a copy ordered by score, newest first when desc.
func (p *Paginator[T]) OrderBy(desc bool) *Paginator[T] {
	cp := *p
	cp.desc = desc
	return &cp
}

func (p *Paginator[T]) Key() string  { return p.key }
func (p *Paginator[T]) Count() int64 { return p.count }
func (p *Paginator[T]) Desc() bool   { return p.desc }

// Slice returns items in [start, stop).
func (p *Paginator[T]) Slice(ctx context.Context, start, stop int64) ([]T, error) {
	if start < 0 || stop < 0 {
		return nil, ErrNegativeIndex
	}
	if stop > p.count {
		stop = p.count
	}
	if p.count == 0 || start >= stop {
		return []T{}, nil
	}

	by := &redis.ZRangeBy{Min: "-inf", Max: "+inf", Offset: start, Count: stop - start}
	var (
		page []redis.Z
		err  error
	)
	if p.desc {
		page, err = p.rdb.ZRevRangeByScoreWithScores(ctx, p.key, by).Result()
	} else {
		page, err = p.rdb.ZRangeByScoreWithScores(ctx, p.key, by).Result()
	}
	if err != nil {
		return nil, fmt.Errorf("redis range %s: %w", p.key, err)
	}
	if len(page) == 0 {
		return []T{}, nil
	}
	return p.hydrate(ctx, page)
}

// At returns the item at index i.
func (p *Paginator[T]) At(ctx context.Context, i int64) (T, error) {
	var zero T
	if i < 0 {
		return zero, ErrNegativeIndex
	}
	items, err := p.Slice(ctx, i, i+1)
	if err != nil {
		return zero, err
	}
	if len(items) == 0 {
		return zero, ErrOutOfRange
	}
	return items[0], nil
}

func (p *Paginator[T]) All(ctx context.Context) ([]T, error) {
	return p.Slice(ctx, 0, p.count)
}

// Each walks the view page by page, stopping at the first error fn returns.
func (p *Paginator[T]) Each(ctx context.Context, pageSize int64, fn func(page []T) error) error {
	if pageSize <= 0 {
		pageSize = 10
	}
	for start := int64(0); start < p.count; start += pageSize {
		if err := ctx.Err(); err != nil {
			return err
		}
		items, err := p.Slice(ctx, start, start+pageSize)
		if err != nil {
			return err
		}
		if len(items) == 0 {
			continue
		}
		if err := fn(items); err != nil {
			return err
		}
	}
	return nil
}
