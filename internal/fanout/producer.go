// Package fanout moves actions between timelines asynchronously: delivery of
// an owner's new action to its followers, and bulk copy or removal of a
// followee's public timeline when a follow edge appears or disappears.
package fanout

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/d60-Lab/followgraph/config"
	"github.com/d60-Lab/followgraph/internal/events"
	"github.com/d60-Lab/followgraph/internal/registry"
	"github.com/d60-Lab/followgraph/internal/tasks"
	"github.com/d60-Lab/followgraph/internal/timeline"
	"github.com/d60-Lab/followgraph/pkg/logger"
)

const (
	TaskDispatchAction = "dispatch_action"
	TaskImportActions  = "import_actions"
	TaskRemoveActions  = "remove_actions"
	TaskFollow         = "follow"
	TaskUnfollow       = "unfollow"
)

type DispatchArgs struct {
	Action int64        `json:"action_uid"`
	Actor  registry.Ref `json:"actor"`
}

// PopulateArgs copies (or removes) Source's public timeline into Recipient's
// private timeline.
type PopulateArgs struct {
	Source    int64 `json:"source_uid"`
	Recipient int64 `json:"recipient_uid"`
}

type FollowArgs struct {
	From      registry.Ref `json:"from"`
	To        registry.Ref `json:"to"`
	Timestamp int64        `json:"timestamp,omitempty"`
}

// Producer turns fan-out requests into tasks.
type Producer struct {
	q tasks.Producer
}

var _ timeline.Dispatcher = (*Producer)(nil)

func NewProducer(q tasks.Producer) *Producer { return &Producer{q: q} }

func (p *Producer) enqueue(ctx context.Context, name string, args any) error {
	t, err := tasks.New(name, args)
	if err != nil {
		return err
	}
	if err := p.q.Enqueue(ctx, t); err != nil {
		return err
	}
	logger.Debug("task enqueued", zap.String("task", name), zap.String("id", t.ID))
	return nil
}

func (p *Producer) DispatchAction(ctx context.Context, actionUID int64, actor registry.Ref) error {
	return p.enqueue(ctx, TaskDispatchAction, DispatchArgs{Action: actionUID, Actor: actor})
}

func (p *Producer) ImportActions(ctx context.Context, sourceUID, recipientUID int64) error {
	return p.enqueue(ctx, TaskImportActions, PopulateArgs{Source: sourceUID, Recipient: recipientUID})
}

func (p *Producer) RemoveActions(ctx context.Context, sourceUID, recipientUID int64) error {
	return p.enqueue(ctx, TaskRemoveActions, PopulateArgs{Source: sourceUID, Recipient: recipientUID})
}

// Follow enqueues a follow to be applied by a worker.
func (p *Producer) Follow(ctx context.Context, from, to registry.Ref, at time.Time) error {
	args := FollowArgs{From: from, To: to}
	if !at.IsZero() {
		args.Timestamp = at.Unix()
	}
	return p.enqueue(ctx, TaskFollow, args)
}

func (p *Producer) Unfollow(ctx context.Context, from, to registry.Ref) error {
	return p.enqueue(ctx, TaskUnfollow, FollowArgs{From: from, To: to})
}

// Subscribe makes new follow edges import the followee's public timeline into
// the follower's private one, and removed edges take it back out.
func Subscribe(bus *events.Bus, p *Producer, cfg config.TimelineConfig) {
	if cfg.ImportOnFollow {
		bus.Subscribe(events.Followed, func(ctx context.Context, ev events.Event) error {
			return p.ImportActions(ctx, ev.ToUID, ev.FromUID)
		})
	}
	if cfg.RemoveOnUnfollow {
		bus.Subscribe(events.Unfollowed, func(ctx context.Context, ev events.Event) error {
			return p.RemoveActions(ctx, ev.ToUID, ev.FromUID)
		})
	}
}
