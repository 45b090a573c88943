package service

import (
	"context"
	"time"

	"github.com/d60-Lab/followgraph/internal/registry"
	"github.com/d60-Lab/followgraph/internal/timeline"
)

// Unread 未读状态
type Unread struct {
	Count  int64      `json:"count"`
	ReadAt *time.Time `json:"read_at,omitempty"`
}

// TimelineService 时间线读取与已读标记
type TimelineService interface {
	Private(ctx context.Context, owner registry.Ref, f timeline.Filter, page, pageSize int) (*Page[*timeline.Action], error)
	Public(ctx context.Context, owner registry.Ref, f timeline.Filter, page, pageSize int) (*Page[*timeline.Action], error)
	Unread(ctx context.Context, owner registry.Ref, f timeline.Filter) (*Unread, error)
	MarkAsRead(ctx context.Context, owner registry.Ref, at time.Time) error
}

type timelineService struct {
	reg *registry.Registry
	idx timeline.Index
	now func() time.Time
}

func NewTimelineService(reg *registry.Registry, idx timeline.Index) TimelineService {
	return &timelineService{reg: reg, idx: idx, now: time.Now}
}

func (s *timelineService) check(owner registry.Ref, f timeline.Filter) error {
	if err := s.reg.Check(owner); err != nil {
		return err
	}
	if f.Verb != "" {
		if err := s.reg.CheckVerb(f.Verb); err != nil {
			return err
		}
	}
	if f.TargetKind != "" && !s.reg.HasKind(f.TargetKind) {
		return registry.ErrUnknownKind
	}
	return nil
}

func (s *timelineService) Private(ctx context.Context, owner registry.Ref, f timeline.Filter,
	page, pageSize int) (*Page[*timeline.Action], error) {
	if err := s.check(owner, f); err != nil {
		return nil, err
	}
	p, err := s.idx.Private(ctx, owner, f, true)
	if err != nil {
		return nil, err
	}
	return slicePage(ctx, p, page, pageSize)
}

func (s *timelineService) Public(ctx context.Context, owner registry.Ref, f timeline.Filter,
	page, pageSize int) (*Page[*timeline.Action], error) {
	if err := s.check(owner, f); err != nil {
		return nil, err
	}
	p, err := s.idx.Public(ctx, owner, f, true)
	if err != nil {
		return nil, err
	}
	return slicePage(ctx, p, page, pageSize)
}

func (s *timelineService) Unread(ctx context.Context, owner registry.Ref, f timeline.Filter) (*Unread, error) {
	if err := s.check(owner, f); err != nil {
		return nil, err
	}
	n, err := s.idx.UnreadCount(ctx, owner, f)
	if err != nil {
		return nil, err
	}
	out := &Unread{Count: n}
	at, ok, err := s.idx.ReadAt(ctx, owner)
	if err != nil {
		return nil, err
	}
	if ok {
		out.ReadAt = &at
	}
	return out, nil
}

// MarkAsRead 标记已读，at 为零值时取当前时间
func (s *timelineService) MarkAsRead(ctx context.Context, owner registry.Ref, at time.Time) error {
	if err := s.reg.Check(owner); err != nil {
		return err
	}
	if at.IsZero() {
		at = s.now()
	}
	return s.idx.MarkAsRead(ctx, owner, at)
}
