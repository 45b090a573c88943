package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/d60-Lab/followgraph/pkg/logger"
)

const fieldTask = "task"

// RedisBroker delivers tasks through a Redis stream read by one consumer group.
type RedisBroker struct {
	rdb    redis.UniversalClient
	stream string
	group  string
}

var (
	_ Broker        = (*RedisBroker)(nil)
	_ PendingReader = (*RedisBroker)(nil)
)

func NewRedisBroker(rdb redis.UniversalClient, stream, group string) *RedisBroker {
	return &RedisBroker{rdb: rdb, stream: stream, group: group}
}

func (b *RedisBroker) Enqueue(ctx context.Context, t Task) error {
	raw, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}
	if err := b.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: b.stream,
		Values: map[string]any{fieldTask: raw},
	}).Err(); err != nil {
		return fmt.Errorf("xadd %s: %w", b.stream, err)
	}
	return nil
}

// Setup creates the group from the start of the stream; an existing group is kept.
func (b *RedisBroker) Setup(ctx context.Context) error {
	err := b.rdb.XGroupCreateMkStream(ctx, b.stream, b.group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create consumer group: %w", err)
	}
	return nil
}

func (b *RedisBroker) Receive(ctx context.Context, consumer string, max int64, block time.Duration) ([]Message, error) {
	if block <= 0 {
		block = -1
	}
	return b.read(ctx, consumer, ">", max, block)
}

func (b *RedisBroker) Pending(ctx context.Context, consumer string, max int64) ([]Message, error) {
	return b.read(ctx, consumer, "0", max, -1)
}

func (b *RedisBroker) read(ctx context.Context, consumer, id string, max int64, block time.Duration) ([]Message, error) {
	streams, err := b.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    b.group,
		Consumer: consumer,
		Streams:  []string{b.stream, id},
		Count:    max,
		Block:    block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("xreadgroup %s: %w", b.stream, err)
	}

	var out []Message
	var malformed []string
	for _, s := range streams {
		for _, msg := range s.Messages {
			var t Task
			raw, _ := msg.Values[fieldTask].(string)
			if err := json.Unmarshal([]byte(raw), &t); err != nil {
				logger.Warn("drop malformed task", zap.String("msg_id", msg.ID), zap.Error(err))
				malformed = append(malformed, msg.ID)
				continue
			}
			out = append(out, Message{ID: msg.ID, Task: t})
		}
	}
	if len(malformed) > 0 {
		if err := b.rdb.XAck(ctx, b.stream, b.group, malformed...).Err(); err != nil {
			logger.Warn("ack malformed tasks", zap.Error(err))
		}
	}
	return out, nil
}

func (b *RedisBroker) Ack(ctx context.Context, msgs ...Message) error {
	if len(msgs) == 0 {
		return nil
	}
	ids := make([]string, len(msgs))
	for i, m := range msgs {
		ids[i] = m.ID
	}
	if err := b.rdb.XAck(ctx, b.stream, b.group, ids...).Err(); err != nil {
		return fmt.Errorf("xack: %w", err)
	}
	return nil
}

// Close is a no-op: the client is owned by the caller.
func (b *RedisBroker) Close() error { return nil }
