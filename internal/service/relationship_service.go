package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/d60-Lab/followgraph/internal/graph"
	"github.com/d60-Lab/followgraph/internal/registry"
)

var ErrEntityNotFound = errors.New("entity not found")

// Counts 关注计数，键为 followers_count / followings_count 以及按 kind 细分的
// 计数，例如 user_followers_count
type Counts map[string]int64

// RelationshipService 关系链服务
type RelationshipService interface {
	Follow(ctx context.Context, from, to registry.Ref) (Counts, error)
	Unfollow(ctx context.Context, from, to registry.Ref) (Counts, error)
	IsFollowing(ctx context.Context, from, to registry.Ref) (bool, error)
	List(ctx context.Context, ref registry.Ref, rel graph.Relation, kind string, page, pageSize int) (*Page[graph.Entry], error)
	Counts(ctx context.Context, ref registry.Ref, kind string) (Counts, error)
}

type relationshipService struct {
	reg   *registry.Registry
	graph graph.Index
}

func NewRelationshipService(reg *registry.Registry, g graph.Index) RelationshipService {
	return &relationshipService{reg: reg, graph: g}
}

// exists 确认 ref 指向一个仍存在的宿主实体
func (s *relationshipService) exists(ctx context.Context, ref registry.Ref) error {
	if err := s.reg.Check(ref); err != nil {
		return err
	}
	res, err := s.reg.Resolver(ref.Kind)
	if err != nil {
		return err
	}
	found, err := res.Resolve(ctx, []int64{ref.ID})
	if err != nil {
		return err
	}
	if _, ok := found[ref.ID]; !ok {
		return fmt.Errorf("%w: %s", ErrEntityNotFound, ref)
	}
	return nil
}

func (s *relationshipService) Follow(ctx context.Context, from, to registry.Ref) (Counts, error) {
	if err := s.exists(ctx, to); err != nil {
		return nil, err
	}
	if err := s.graph.Follow(ctx, from, to); err != nil {
		return nil, err
	}
	return s.Counts(ctx, from, to.Kind)
}

func (s *relationshipService) Unfollow(ctx context.Context, from, to registry.Ref) (Counts, error) {
	if err := s.exists(ctx, to); err != nil {
		return nil, err
	}
	if err := s.graph.Unfollow(ctx, from, to); err != nil {
		return nil, err
	}
	return s.Counts(ctx, from, to.Kind)
}

func (s *relationshipService) IsFollowing(ctx context.Context, from, to registry.Ref) (bool, error) {
	if err := s.reg.Check(to); err != nil {
		return false, err
	}
	return s.graph.IsFollowing(ctx, from, to)
}

func (s *relationshipService) List(ctx context.Context, ref registry.Ref, rel graph.Relation, kind string,
	page, pageSize int) (*Page[graph.Entry], error) {
	if err := s.reg.Check(ref); err != nil {
		return nil, err
	}
	if kind != "" && !s.reg.HasKind(kind) {
		return nil, fmt.Errorf("%w: %s", registry.ErrUnknownKind, kind)
	}
	p, err := s.graph.List(ctx, ref, rel, kind, true)
	if err != nil {
		return nil, err
	}
	return slicePage(ctx, p, page, pageSize)
}

func (s *relationshipService) Counts(ctx context.Context, ref registry.Ref, kind string) (Counts, error) {
	out := Counts{}
	add := func(name string, rel graph.Relation, k string) error {
		n, err := s.graph.Count(ctx, ref, rel, k)
		if err != nil {
			return err
		}
		out[name] = n
		return nil
	}
	if err := add("followers_count", graph.Followers, ""); err != nil {
		return nil, err
	}
	if err := add("followings_count", graph.Followings, ""); err != nil {
		return nil, err
	}
	if kind == "" {
		return out, nil
	}
	if !s.reg.HasKind(kind) {
		return nil, fmt.Errorf("%w: %s", registry.ErrUnknownKind, kind)
	}
	if err := add(kind+"_followers_count", graph.Followers, kind); err != nil {
		return nil, err
	}
	if err := add(kind+"_followings_count", graph.Followings, kind); err != nil {
		return nil, err
	}
	return out, nil
}
