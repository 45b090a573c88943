package tasks

import (
	"context"
	"strconv"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/d60-Lab/followgraph/pkg/logger"
)

// MemoryBroker is a bounded in-process queue that drops and warns when full.
// Messages are lost on restart, so it only suits single-process setups and tests.
type MemoryBroker struct {
	ch  chan Task
	seq atomic.Int64
}

var _ Broker = (*MemoryBroker)(nil)

func NewMemoryBroker(size int) *MemoryBroker {
	if size <= 0 {
		size = 10000
	}
	return &MemoryBroker{ch: make(chan Task, size)}
}

func (b *MemoryBroker) Enqueue(_ context.Context, t Task) error {
	select {
	case b.ch <- t:
		return nil
	default:
		logger.Warn("memory queue full, drop task", zap.String("task", t.Name), zap.String("id", t.ID))
		return ErrQueueFull
	}
}

func (b *MemoryBroker) Setup(context.Context) error { return nil }

func (b *MemoryBroker) Receive(ctx context.Context, _ string, max int64, block time.Duration) ([]Message, error) {
	if max <= 0 {
		max = 1
	}
	var first Task
	if block > 0 {
		timer := time.NewTimer(block)
		defer timer.Stop()
		select {
		case first = <-b.ch:
		case <-timer.C:
			return nil, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	} else {
		select {
		case first = <-b.ch:
		default:
			return nil, nil
		}
	}

	out := []Message{b.message(first)}
	for int64(len(out)) < max {
		select {
		case t := <-b.ch:
			out = append(out, b.message(t))
		default:
			return out, nil
		}
	}
	return out, nil
}

func (b *MemoryBroker) message(t Task) Message {
	return Message{ID: strconv.FormatInt(b.seq.Add(1), 10), Task: t}
}

func (b *MemoryBroker) Ack(context.Context, ...Message) error { return nil }

func (b *MemoryBroker) Close() error { return nil }

// Len samples the queue length.
func (b *MemoryBroker) Len() int { return len(b.ch) }
