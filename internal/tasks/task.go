// Package tasks carries self-describing units of asynchronous work between the
// processes that produce them and the workers that apply them.
package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/d60-Lab/followgraph/config"
)

var (
	ErrUnknownTask = errors.New("unknown task")
	ErrQueueFull   = errors.New("task queue full")
	// ErrPermanent marks failures a redelivery cannot fix.
	ErrPermanent = errors.New("permanent task failure")
)

// Task is a named operation with JSON arguments. It never holds live objects.
type Task struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Args       json.RawMessage `json:"args"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
	// Attempts counts failed deliveries so far.
	Attempts int `json:"attempts,omitempty"`
}

func New(name string, args any) (Task, error) {
	raw, err := json.Marshal(args)
	if err != nil {
		return Task{}, fmt.Errorf("marshal %s args: %w", name, err)
	}
	return Task{ID: uuid.NewString(), Name: name, Args: raw, EnqueuedAt: time.Now()}, nil
}

func (t Task) Decode(v any) error {
	if err := json.Unmarshal(t.Args, v); err != nil {
		return fmt.Errorf("decode %s args: %w: %w", t.Name, ErrPermanent, err)
	}
	return nil
}

// Message is a delivered task plus the broker's delivery handle.
type Message struct {
	ID   string
	Task Task

	handle any
}

type Producer interface {
	Enqueue(ctx context.Context, t Task) error
}

// Broker is the transport between producers and the worker Manager.
// Delivery is at least once: a message is redelivered until acked.
type Broker interface {
	Producer
	// Setup prepares the consuming side (consumer group, subscription).
	Setup(ctx context.Context) error
	// Receive returns up to max messages, waiting at most block for the first
	// one. block <= 0 returns immediately.
	Receive(ctx context.Context, consumer string, max int64, block time.Duration) ([]Message, error)
	Ack(ctx context.Context, msgs ...Message) error
	Close() error
}

// PendingReader is implemented by brokers that can hand back messages
// delivered to a consumer but never acked, for crash recovery.
type PendingReader interface {
	Pending(ctx context.Context, consumer string, max int64) ([]Message, error)
}

// NewBroker builds the broker selected by cfg.Driver.
func NewBroker(cfg config.QueueConfig, rdb redis.UniversalClient) (Broker, error) {
	switch cfg.Driver {
	case "redis":
		if rdb == nil {
			return nil, errors.New("tasks: redis driver needs a client")
		}
		return NewRedisBroker(rdb, cfg.Stream, cfg.Group), nil
	case "kafka":
		return NewKafkaBroker(cfg.Kafka)
	case "memory":
		return NewMemoryBroker(cfg.BufferSize), nil
	default:
		return nil, fmt.Errorf("tasks: unknown driver %q", cfg.Driver)
	}
}

type HandlerFunc func(ctx context.Context, t Task) error

// Mux routes tasks to handlers by name.
type Mux struct {
	handlers map[string]HandlerFunc
}

func NewMux() *Mux { return &Mux{handlers: make(map[string]HandlerFunc)} }

func (m *Mux) HandleFunc(name string, fn HandlerFunc) { m.handlers[name] = fn }

func (m *Mux) Handle(ctx context.Context, t Task) error {
	fn, ok := m.handlers[t.Name]
	if !ok {
		return fmt.Errorf("%w: %w: %s", ErrPermanent, ErrUnknownTask, t.Name)
	}
	return fn(ctx, t)
}
