// Package verify checks the Redis indexes for drift: counters that disagree
// with the cardinality of their sorted set, and entities that ended up with
// more than one uid. It reports and never repairs.
package verify

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

type IssueType string

const (
	CounterMismatch IssueType = "counter_mismatch"
	OrphanUID       IssueType = "orphan_uid"
	DuplicateUID    IssueType = "duplicate_uid"
)

type Issue struct {
	Type    IssueType    `json:"type"`
	Key     string       `json:"key,omitempty"`
	UID     int64        `json:"uid"`
	Ref     registry.Ref `json:"ref"`
	Counter int64        `json:"counter,omitempty"`
	Members int64        `json:"members,omitempty"`
	Detail  string       `json:"detail,omitempty"`
}

type Report struct {
	Scanned int64   `json:"scanned"`
	Issues  []Issue `json:"issues"`
}

func (r *Report) OK() bool { return len(r.Issues) == 0 }

type Verifier struct {
	rdb       redis.UniversalClient
	graph     keys.Builder
	timeline  keys.Builder
	reg       *registry.Registry
	batchSize int64
}

func New(rdb redis.UniversalClient, graphKeys, timelineKeys keys.Builder, reg *registry.Registry, batchSize int64) *Verifier {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Verifier{rdb: rdb, graph: graphKeys, timeline: timelineKeys, reg: reg, batchSize: batchSize}
}

type record struct {
	uid int64
	ref registry.Ref
}

// Run walks uid 1..global:uid in batches.
func (v *Verifier) Run(ctx context.Context) (*Report, error) {
	last, err := v.rdb.Get(ctx, v.graph.Key("global", "uid")).Int64()
	if errors.Is(err, redis.Nil) {
		return &Report{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get global uid: %w", err)
	}

	rep := &Report{}
	owners := make(map[registry.Ref][]int64)
	for start := int64(1); start <= last; start += v.batchSize {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		stop := min(start+v.batchSize-1, last)
		recs, err := v.records(ctx, start, stop)
		if err != nil {
			return rep, err
		}
		rep.Scanned += int64(len(recs))
		for _, rec := range recs {
			owners[rec.ref] = append(owners[rec.ref], rec.uid)
		}
		if err := v.checkMappings(ctx, recs, rep); err != nil {
			return rep, err
		}
		if err := v.checkCounters(ctx, recs, rep); err != nil {
			return rep, err
		}
	}

	for ref, uids := range owners {
		if len(uids) > 1 {
			rep.Issues = append(rep.Issues, Issue{
				Type:   DuplicateUID,
				Ref:    ref,
				UID:    uids[0],
				Detail: fmt.Sprintf("uids %v", uids),
			})
		}
	}
	logger.Info("index verification done", zap.Int64("scanned", rep.Scanned), zap.Int("issues", len(rep.Issues)))
	return rep, nil
}

func (v *Verifier) records(ctx context.Context, start, stop int64) ([]record, error) {
	cmds := make([]*redis.MapStringStringCmd, 0, stop-start+1)
	_, err := v.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		for u := start; u <= stop; u++ {
			cmds = append(cmds, p.HGetAll(ctx, v.graph.Key("uid", u)))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("redis pipeline uid records: %w", err)
	}
	out := make([]record, 0, len(cmds))
	for i, cmd := range cmds {
		h := cmd.Val()
		id, err := strconv.ParseInt(h["object_id"], 10, 64)
		if h["identifier"] == "" || err != nil {
			continue
		}
		out = append(out, record{uid: start + int64(i), ref: registry.Ref{Kind: h["identifier"], ID: id}})
	}
	return out, nil
}

// checkMappings flags records the reverse mapping does not point back to.
func (v *Verifier) checkMappings(ctx context.Context, recs []record, rep *Report) error {
	cmds := make([]*redis.StringCmd, len(recs))
	_, err := v.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		for i, rec := range recs {
			cmds[i] = p.Get(ctx, v.graph.Key("uid", rec.ref.Kind, rec.ref.ID))
		}
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("redis pipeline uid mappings: %w", err)
	}
	for i, rec := range recs {
		mapped, err := cmds[i].Int64()
		if err == nil && mapped == rec.uid {
			continue
		}
		detail := "no mapping"
		if err == nil {
			detail = fmt.Sprintf("mapping points to %d", mapped)
		}
		rep.Issues = append(rep.Issues, Issue{Type: OrphanUID, UID: rec.uid, Ref: rec.ref, Detail: detail})
	}
	return nil
}

type pair struct {
	rec   record
	key   string
	count *redis.StringCmd
	card  *redis.IntCmd
}

func (v *Verifier) checkCounters(ctx context.Context, recs []record, rep *Report) error {
	var pairs []*pair
	_, err := v.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		for _, rec := range recs {
			for _, key := range v.setKeys(rec.uid) {
				pairs = append(pairs, &pair{
					rec:   rec,
					key:   key,
					count: p.Get(ctx, key+v.graph.Separator()+"count"),
					card:  p.ZCard(ctx, key),
				})
			}
		}
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("redis pipeline counters: %w", err)
	}
	for _, pr := range pairs {
		counter, err := pr.count.Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return fmt.Errorf("read %s counter: %w", pr.key, err)
		}
		if card := pr.card.Val(); counter != card {
			rep.Issues = append(rep.Issues, Issue{
				Type:    CounterMismatch,
				Key:     pr.key,
				UID:     pr.rec.uid,
				Ref:     pr.rec.ref,
				Counter: counter,
				Members: card,
			})
		}
	}
	return nil
}

// setKeys lists every counted set an owner uid can have.
func (v *Verifier) setKeys(u int64) []string {
	kinds := append([]string{""}, v.reg.Kinds()...)
	verbs := append([]string{""}, v.reg.Verbs()...)

	var out []string
	for _, rel := range []string{"followers", "followings", "friends"} {
		for _, k := range kinds {
			out = append(out, v.graph.Key("uid", u, rel, k))
		}
	}
	for _, vis := range []string{"private", "public"} {
		for _, k := range kinds {
			base := v.timeline.Key("uid", u, vis)
			if k != "" {
				base = v.timeline.Join(base, "target", k)
			}
			for _, verb := range verbs {
				if verb == "" {
					out = append(out, base)
					continue
				}
				out = append(out, v.timeline.Join(base, "verb", verb))
			}
		}
	}
	return out
}
