package fanout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/d60-Lab/followgraph/config"
	"github.com/d60-Lab/followgraph/internal/graph"
	"github.com/d60-Lab/followgraph/internal/registry"
	"github.com/d60-Lab/followgraph/internal/tasks"
	"github.com/d60-Lab/followgraph/internal/timeline"
	"github.com/d60-Lab/followgraph/internal/uid"
	"github.com/d60-Lab/followgraph/pkg/logger"
)

// Consumer applies fan-out tasks. Every handler is safe to run twice: writes
// are skipped when the recipient timeline already reflects them.
type Consumer struct {
	graph    graph.Index
	timeline timeline.Index
	pageSize int64
	limiter  *rate.Limiter
}

func NewConsumer(g graph.Index, tl timeline.Index, tcfg config.TimelineConfig, fcfg config.FanoutConfig) *Consumer {
	c := &Consumer{graph: g, timeline: tl, pageSize: int64(tcfg.DispatchPageSize)}
	if c.pageSize <= 0 {
		c.pageSize = 10
	}
	if fcfg.RateLimit > 0 {
		burst := fcfg.Burst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(fcfg.RateLimit), burst)
	}
	return c
}

func (c *Consumer) Register(mux *tasks.Mux) {
	mux.HandleFunc(TaskDispatchAction, c.handleDispatch)
	mux.HandleFunc(TaskImportActions, c.handleImport)
	mux.HandleFunc(TaskRemoveActions, c.handleRemove)
	mux.HandleFunc(TaskFollow, c.handleFollow)
	mux.HandleFunc(TaskUnfollow, c.handleUnfollow)
}

func (c *Consumer) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

func (c *Consumer) handleDispatch(ctx context.Context, t tasks.Task) error {
	var args DispatchArgs
	if err := t.Decode(&args); err != nil {
		return err
	}
	action, err := c.timeline.Load(ctx, args.Action)
	if errors.Is(err, timeline.ErrActionInvalid) {
		logger.Warn("skip dispatch of invalid action", zap.Int64("action", args.Action), zap.Error(err))
		return nil
	}
	if err != nil {
		return err
	}

	followers, err := c.graph.List(ctx, args.Actor, graph.Followers, "", true)
	if err != nil {
		return err
	}
	logger.Info("dispatch action",
		zap.Int64("action", action.UID),
		zap.String("actor", args.Actor.String()),
		zap.Int64("followers", followers.Count()),
	)

	delivered := 0
	err = followers.Each(ctx, c.pageSize, func(page []graph.Entry) error {
		for _, f := range page {
			if f.Ref == args.Actor {
				continue
			}
			ok, err := c.deliver(ctx, f.Ref, action)
			if err != nil {
				return err
			}
			if ok {
				delivered++
			}
		}
		return nil
	})
	logger.Debug("dispatch done", zap.Int64("action", action.UID), zap.Int("delivered", delivered))
	return err
}

// deliver saves action into owner's timeline unless it is already there.
func (c *Consumer) deliver(ctx context.Context, owner registry.Ref, action *timeline.Action) (bool, error) {
	has, err := c.timeline.Contains(ctx, owner, action.UID)
	if err != nil || has {
		return false, err
	}
	if err := c.wait(ctx); err != nil {
		return false, err
	}
	if err := c.timeline.Save(ctx, owner, action, timeline.WithoutDispatch()); err != nil {
		return false, err
	}
	return true, nil
}

func (c *Consumer) retract(ctx context.Context, owner registry.Ref, action *timeline.Action) (bool, error) {
	has, err := c.timeline.Contains(ctx, owner, action.UID)
	if err != nil || !has {
		return false, err
	}
	if err := c.wait(ctx); err != nil {
		return false, err
	}
	if err := c.timeline.Delete(ctx, owner, action, timeline.WithoutDispatch()); err != nil {
		return false, err
	}
	return true, nil
}

func (c *Consumer) handleImport(ctx context.Context, t tasks.Task) error {
	return c.populate(ctx, t, "import", c.deliver)
}

func (c *Consumer) handleRemove(ctx context.Context, t tasks.Task) error {
	return c.populate(ctx, t, "remove", c.retract)
}

func (c *Consumer) populate(ctx context.Context, t tasks.Task, method string,
	apply func(context.Context, registry.Ref, *timeline.Action) (bool, error)) error {
	var args PopulateArgs
	if err := t.Decode(&args); err != nil {
		return err
	}
	uids := c.graph.UIDs()
	source, err := uids.Resolve(ctx, args.Source)
	if err != nil {
		return skipMissing(err, args.Source)
	}
	recipient, err := uids.Resolve(ctx, args.Recipient)
	if err != nil {
		return skipMissing(err, args.Recipient)
	}

	public, err := c.timeline.Public(ctx, source, timeline.Filter{}, true)
	if err != nil {
		return err
	}
	logger.Info("populate timeline",
		zap.String("method", method),
		zap.String("source", source.String()),
		zap.String("recipient", recipient.String()),
		zap.Int64("actions", public.Count()),
	)

	return public.Each(ctx, c.pageSize, func(page []*timeline.Action) error {
		for _, a := range page {
			if _, err := apply(ctx, recipient, a); err != nil {
				return fmt.Errorf("%s action %d into %s: %w", method, a.UID, recipient, err)
			}
		}
		return nil
	})
}

func skipMissing(err error, u int64) error {
	if errors.Is(err, uid.ErrNotFound) {
		logger.Warn("skip populate for unknown uid", zap.Int64("uid", u))
		return nil
	}
	return err
}

func (c *Consumer) handleFollow(ctx context.Context, t tasks.Task) error {
	var args FollowArgs
	if err := t.Decode(&args); err != nil {
		return err
	}
	opts := []graph.Option{graph.FailSilently(true)}
	if args.Timestamp > 0 {
		opts = append(opts, graph.WithTimestamp(time.Unix(args.Timestamp, 0)))
	}
	return c.graph.Follow(ctx, args.From, args.To, opts...)
}

func (c *Consumer) handleUnfollow(ctx context.Context, t tasks.Task) error {
	var args FollowArgs
	if err := t.Decode(&args); err != nil {
		return err
	}
	return c.graph.Unfollow(ctx, args.From, args.To, graph.FailSilently(true))
}
