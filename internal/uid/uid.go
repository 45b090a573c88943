// Package uid assigns stable integer identifiers to (kind, id) entity pairs
// and resolves them back.
package uid

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/d60-Lab/followgraph/internal/keys"
	"github.com/d60-Lab/followgraph/internal/registry"
	"github.com/d60-Lab/followgraph/pkg/logger"
)

var (
	ErrNotFound       = errors.New("uid not found")
	ErrEntityNotFound = errors.New("entity for uid not found")
)

const (
	fieldKind     = "identifier"
	fieldObjectID = "object_id"
	fieldUID      = "uid"
)

// Manager owns the global:uid counter, the uid:<uid> records and the
// uid:<kind>:<id> reverse mapping under one key namespace.
type Manager struct {
	rdb  redis.UniversalClient
	keys keys.Builder
	reg  *registry.Registry
}

func NewManager(rdb redis.UniversalClient, kb keys.Builder, reg *registry.Registry) *Manager {
	return &Manager{rdb: rdb, keys: kb, reg: reg}
}

func (m *Manager) Keys() keys.Builder          { return m.keys }
func (m *Manager) Registry() *registry.Registry { return m.reg }

func (m *Manager) mappingKey(ref registry.Ref) string { return m.keys.Key("uid", ref.Kind, ref.ID) }

func (m *Manager) recordKey(uid int64) string { return m.keys.Key("uid", uid) }

// Lookup returns the uid of ref without creating one.
func (m *Manager) Lookup(ctx context.Context, ref registry.Ref) (int64, bool, error) {
	v, err := m.rdb.Get(ctx, m.mappingKey(ref)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("redis get uid %s: %w", ref, err)
	}
	return v, true, nil
}

// Ensure returns the uid of ref, allocating one on first use.
//
// The record is written before the mapping is claimed with SETNX; a caller
// that loses the race adopts the winner's uid and the allocated record stays
// orphaned (reported by the verifier).
func (m *Manager) Ensure(ctx context.Context, ref registry.Ref) (int64, error) {
	if err := m.reg.Check(ref); err != nil {
		return 0, err
	}
	if v, ok, err := m.Lookup(ctx, ref); err != nil || ok {
		return v, err
	}

	uid, err := m.rdb.Incr(ctx, m.keys.Key("global", "uid")).Result()
	if err != nil {
		return 0, fmt.Errorf("redis incr global uid: %w", err)
	}

	var claimed *redis.BoolCmd
	_, err = m.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, m.recordKey(uid),
			fieldKind, ref.Kind,
			fieldObjectID, ref.ID,
			fieldUID, uid,
		)
		claimed = p.SetNX(ctx, m.mappingKey(ref), uid, 0)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("redis write uid %d for %s: %w", uid, ref, err)
	}
	if claimed.Val() {
		return uid, nil
	}

	winner, ok, err := m.Lookup(ctx, ref)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("uid mapping for %s vanished after race", ref)
	}
	logger.Warn("uid allocation lost race, record orphaned",
		zap.String("ref", ref.String()),
		zap.Int64("orphan_uid", uid),
		zap.Int64("uid", winner),
	)
	return winner, nil
}

// Resolve returns the entity reference recorded for uid.
func (m *Manager) Resolve(ctx context.Context, uid int64) (registry.Ref, error) {
	rec, err := m.rdb.HGetAll(ctx, m.recordKey(uid)).Result()
	if err != nil {
		return registry.Ref{}, fmt.Errorf("redis hgetall uid %d: %w", uid, err)
	}
	ref, ok := parseRecord(rec)
	if !ok {
		return registry.Ref{}, fmt.Errorf("%w: %d", ErrNotFound, uid)
	}
	return ref, nil
}

// ResolveEntity loads the host entity for uid through its kind's resolver.
func (m *Manager) ResolveEntity(ctx context.Context, uid int64) (any, error) {
	out, err := m.ResolveMany(ctx, []int64{uid})
	if err != nil {
		return nil, err
	}
	if out[0].Entity == nil {
		return nil, fmt.Errorf("%w: %d", ErrEntityNotFound, uid)
	}
	return out[0].Entity, nil
}

// Resolved is one ResolveMany result. Entity is nil when the uid has no
// record or the host store no longer has the entity.
type Resolved struct {
	UID    int64
	Ref    registry.Ref
	Entity any
}

func (r Resolved) Found() bool { return r.Entity != nil }

// ResolveMany resolves uids with one pipelined round trip and one resolver
// call per kind. Results keep the input order.
func (m *Manager) ResolveMany(ctx context.Context, uids []int64) ([]Resolved, error) {
	out := make([]Resolved, len(uids))
	if len(uids) == 0 {
		return out, nil
	}

	cmds := make([]*redis.MapStringStringCmd, len(uids))
	_, err := m.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		for i, u := range uids {
			cmds[i] = p.HGetAll(ctx, m.recordKey(u))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("redis pipeline hgetall uids: %w", err)
	}

	byKind := make(map[string][]int64)
	for i, cmd := range cmds {
		out[i].UID = uids[i]
		ref, ok := parseRecord(cmd.Val())
		if !ok {
			continue
		}
		out[i].Ref = ref
		byKind[ref.Kind] = append(byKind[ref.Kind], ref.ID)
	}

	entities := make(map[registry.Ref]any)
	for kind, ids := range byKind {
		res, err := m.reg.Resolver(kind)
		if err != nil {
			logger.Warn("uid record has unregistered kind", zap.String("kind", kind))
			continue
		}
		found, err := res.Resolve(ctx, ids)
		if err != nil {
			return nil, fmt.Errorf("resolve %s entities: %w", kind, err)
		}
		for id, e := range found {
			entities[registry.Ref{Kind: kind, ID: id}] = e
		}
	}
	for i := range out {
		if out[i].Ref.Valid() {
			out[i].Entity = entities[out[i].Ref]
		}
	}
	return out, nil
}

func parseRecord(rec map[string]string) (registry.Ref, bool) {
	kind := rec[fieldKind]
	id, err := strconv.ParseInt(rec[fieldObjectID], 10, 64)
	if kind == "" || err != nil {
		return registry.Ref{}, false
	}
	return registry.Ref{Kind: kind, ID: id}, true
}
