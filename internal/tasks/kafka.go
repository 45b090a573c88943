package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"go.uber.org/zap"

	"github.com/d60-Lab/followgraph/config"
	"github.com/d60-Lab/followgraph/pkg/logger"
)

// KafkaBroker publishes tasks to one topic and consumes them with a consumer
// group. Offsets are committed only on Ack.
type KafkaBroker struct {
	cfg      config.KafkaConfig
	producer *kafka.Producer

	mu       sync.Mutex
	consumer *kafka.Consumer
}

var _ Broker = (*KafkaBroker)(nil)

func NewKafkaBroker(cfg config.KafkaConfig) (*KafkaBroker, error) {
	if cfg.Brokers == "" || cfg.Topic == "" {
		return nil, errors.New("tasks: kafka driver needs brokers and topic")
	}
	p, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers":  cfg.Brokers,
		"acks":               "all",
		"linger.ms":          5,
		"enable.idempotence": true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}
	return &KafkaBroker{cfg: cfg, producer: p}, nil
}

// Enqueue waits for the delivery report so a nil error means the task is durable.
func (b *KafkaBroker) Enqueue(ctx context.Context, t Task) error {
	value, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}
	delivery := make(chan kafka.Event, 1)
	err = b.producer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &b.cfg.Topic, Partition: kafka.PartitionAny},
		Key:            []byte(t.ID),
		Value:          value,
	}, delivery)
	if err != nil {
		return fmt.Errorf("failed to produce task: %w", err)
	}

	select {
	case e := <-delivery:
		m, ok := e.(*kafka.Message)
		if !ok {
			return fmt.Errorf("unexpected delivery event %v", e)
		}
		if m.TopicPartition.Error != nil {
			return fmt.Errorf("kafka delivery failed: %w", m.TopicPartition.Error)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *KafkaBroker) Setup(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.consumer != nil {
		return nil
	}
	c, err := kafka.NewConsumer(&kafka.ConfigMap{
		"bootstrap.servers":  b.cfg.Brokers,
		"group.id":           b.cfg.GroupID,
		"auto.offset.reset":  "earliest",
		"enable.auto.commit": false,
	})
	if err != nil {
		return fmt.Errorf("failed to create kafka consumer: %w", err)
	}
	if err := c.Subscribe(b.cfg.Topic, nil); err != nil {
		_ = c.Close()
		return fmt.Errorf("failed to subscribe to topic %s: %w", b.cfg.Topic, err)
	}
	b.consumer = c
	return nil
}

func (b *KafkaBroker) reader() (*kafka.Consumer, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.consumer == nil {
		return nil, errors.New("tasks: kafka consumer not set up")
	}
	return b.consumer, nil
}

// Receive polls the group. The consumer name is implied by the group
// membership, so it is ignored here.
func (b *KafkaBroker) Receive(ctx context.Context, _ string, max int64, block time.Duration) ([]Message, error) {
	c, err := b.reader()
	if err != nil {
		return nil, err
	}
	if block <= 0 {
		block = 10 * time.Millisecond
	}

	var out []Message
	wait := block
	for int64(len(out)) < max {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		msg, err := c.ReadMessage(wait)
		if err != nil {
			var kerr kafka.Error
			if errors.As(err, &kerr) && kerr.Code() == kafka.ErrTimedOut {
				break
			}
			return out, fmt.Errorf("kafka read: %w", err)
		}
		wait = 10 * time.Millisecond

		var t Task
		if err := json.Unmarshal(msg.Value, &t); err != nil {
			logger.Warn("drop malformed task", zap.String("offset", msg.TopicPartition.String()), zap.Error(err))
			if _, err := c.CommitMessage(msg); err != nil {
				logger.Warn("commit malformed task", zap.Error(err))
			}
			continue
		}
		out = append(out, Message{ID: msg.TopicPartition.String(), Task: t, handle: msg.TopicPartition})
	}
	return out, nil
}

func (b *KafkaBroker) Ack(_ context.Context, msgs ...Message) error {
	if len(msgs) == 0 {
		return nil
	}
	c, err := b.reader()
	if err != nil {
		return err
	}
	offsets := make([]kafka.TopicPartition, 0, len(msgs))
	for _, m := range msgs {
		tp, ok := m.handle.(kafka.TopicPartition)
		if !ok {
			continue
		}
		tp.Offset++
		offsets = append(offsets, tp)
	}
	if _, err := c.CommitOffsets(offsets); err != nil {
		return fmt.Errorf("kafka commit: %w", err)
	}
	return nil
}

func (b *KafkaBroker) Close() error {
	b.producer.Flush(5000)
	b.producer.Close()

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.consumer != nil {
		if err := b.consumer.Close(); err != nil {
			return fmt.Errorf("failed to close kafka consumer: %w", err)
		}
	}
	return nil
}
