package tasks

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/d60-Lab/followgraph/pkg/logger"
)

type ManagerConfig struct {
	Workers      int
	BatchSize    int64
	BlockTimeout time.Duration
	// MaxAttempts bounds deliveries of a failing task before it is dropped.
	MaxAttempts int
	// Name prefixes consumer names; defaults to the hostname.
	Name string
}

// Manager runs worker goroutines that receive tasks from a Broker, hand them
// to a handler and ack them afterwards. A failed task is enqueued again with
// its attempt count bumped until MaxAttempts is reached.
type Manager struct {
	broker  Broker
	handler HandlerFunc
	cfg     ManagerConfig
	metrics chan time.Duration

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

func NewManager(broker Broker, handler HandlerFunc, cfg ManagerConfig) *Manager {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.BlockTimeout <= 0 {
		cfg.BlockTimeout = 5 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.Name == "" {
		cfg.Name, _ = os.Hostname()
	}
	return &Manager{
		broker:  broker,
		handler: handler,
		cfg:     cfg,
		metrics: make(chan time.Duration, 65536),
	}
}

// Metrics yields enqueue-to-ack latency per task. Samples are dropped when nobody reads.
func (m *Manager) Metrics() <-chan time.Duration { return m.metrics }

func (m *Manager) Start(ctx context.Context) error {
	if err := m.broker.Setup(ctx); err != nil {
		return err
	}
	ctx, m.cancel = context.WithCancel(ctx)

	logger.Info("task workers starting", zap.Int("workers", m.cfg.Workers))
	for i := 1; i <= m.cfg.Workers; i++ {
		consumer := fmt.Sprintf("%s-%d", m.cfg.Name, i)
		m.wg.Add(1)
		go m.run(ctx, consumer)
	}
	return nil
}

// Stop cancels the workers and waits for in-flight batches to finish.
func (m *Manager) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
	logger.Info("task workers stopped")
}

func (m *Manager) run(ctx context.Context, consumer string) {
	defer m.wg.Done()

	m.recover(ctx, consumer)
	for ctx.Err() == nil {
		msgs, err := m.broker.Receive(ctx, consumer, m.cfg.BatchSize, m.cfg.BlockTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error("receive tasks", zap.String("consumer", consumer), zap.Error(err))
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
			}
			continue
		}
		m.handle(ctx, msgs)
	}
}

// recover replays messages delivered to consumer but never acked. It stops
// once a pass acks nothing, so a message whose retry cannot be enqueued stays
// pending for the next start instead of spinning here.
func (m *Manager) recover(ctx context.Context, consumer string) {
	pr, ok := m.broker.(PendingReader)
	if !ok {
		return
	}
	for ctx.Err() == nil {
		msgs, err := pr.Pending(ctx, consumer, m.cfg.BatchSize)
		if err != nil {
			logger.Error("read pending tasks", zap.String("consumer", consumer), zap.Error(err))
			return
		}
		if len(msgs) == 0 {
			return
		}
		logger.Info("replaying pending tasks", zap.String("consumer", consumer), zap.Int("count", len(msgs)))
		if m.handle(ctx, msgs) == 0 {
			return
		}
	}
}

// handle returns how many messages it acked. A failed message is acked only
// after its retry is queued; otherwise it stays pending for redelivery.
func (m *Manager) handle(ctx context.Context, msgs []Message) int {
	acked := 0
	for _, msg := range msgs {
		if err := m.handler(ctx, msg.Task); err != nil && !m.retry(ctx, msg, err) {
			continue
		}
		if err := m.broker.Ack(ctx, msg); err != nil {
			logger.Warn("ack task", zap.String("msg_id", msg.ID), zap.Error(err))
			continue
		}
		acked++
		if !msg.Task.EnqueuedAt.IsZero() {
			select {
			case m.metrics <- time.Since(msg.Task.EnqueuedAt):
			default:
			}
		}
	}
	return acked
}

// retry reports whether the failed message may be acked: its next attempt is
// queued, or it has used up MaxAttempts.
func (m *Manager) retry(ctx context.Context, msg Message, cause error) bool {
	next := msg.Task
	next.Attempts++
	fields := []zap.Field{
		zap.String("task", next.Name),
		zap.String("id", next.ID),
		zap.String("msg_id", msg.ID),
		zap.Int("attempts", next.Attempts),
		zap.Error(cause),
	}
	if errors.Is(cause, ErrPermanent) {
		logger.Error("task dropped", fields...)
		return true
	}
	if next.Attempts >= m.cfg.MaxAttempts {
		logger.Error("task dropped after max attempts", fields...)
		return true
	}
	logger.Warn("task failed, retrying", fields...)
	if err := m.broker.Enqueue(ctx, next); err != nil {
		logger.Error("requeue failed task, leaving it pending",
			append(fields, zap.NamedError("requeue_error", err))...)
		return false
	}
	return true
}

// Drain processes messages on the calling goroutine until the broker has
// nothing left to deliver, including tasks enqueued by the handlers
// themselves and retries of failed ones. It returns the number of deliveries
// handled.
func (m *Manager) Drain(ctx context.Context) (int, error) {
	if err := m.broker.Setup(ctx); err != nil {
		return 0, err
	}
	consumer := m.cfg.Name + "-drain"
	n := 0
	for {
		msgs, err := m.broker.Receive(ctx, consumer, m.cfg.BatchSize, 0)
		if err != nil {
			return n, err
		}
		if len(msgs) == 0 {
			return n, nil
		}
		m.handle(ctx, msgs)
		n += len(msgs)
	}
}
