package verify

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/d60-Lab/followgraph/pkg/logger"
)

// Loop runs the verifier on a fixed interval in the background.
type Loop struct {
	v        *Verifier
	interval time.Duration
	quit     chan struct{}
	doneCh   chan struct{}
}

func NewLoop(v *Verifier, interval time.Duration) *Loop {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Loop{v: v, interval: interval, quit: make(chan struct{}), doneCh: make(chan struct{})}
}

func (l *Loop) Start(ctx context.Context) { go l.run(ctx) }

// Stop returns immediately; wait on Done for the loop to exit.
func (l *Loop) Stop() { close(l.quit) }

func (l *Loop) Done() <-chan struct{} { return l.doneCh }

func (l *Loop) run(ctx context.Context) {
	defer close(l.doneCh)

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()
	for {
		select {
		case <-l.quit:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			rep, err := l.v.Run(ctx)
			if err != nil {
				logger.Error("index verification failed", zap.Error(err))
				continue
			}
			for _, is := range rep.Issues {
				logger.Warn("index drift",
					zap.String("type", string(is.Type)),
					zap.String("key", is.Key),
					zap.Int64("uid", is.UID),
					zap.String("ref", is.Ref.String()),
					zap.Int64("counter", is.Counter),
					zap.Int64("members", is.Members),
					zap.String("detail", is.Detail),
				)
			}
		}
	}
}
