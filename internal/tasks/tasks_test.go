package tasks

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/d60-Lab/followgraph/config"
	"github.com/d60-Lab/followgraph/internal/testkit"
)

type pair struct {
	From int64 `json:"from"`
	To   int64 `json:"to"`
}

func TestNewAndDecode(t *testing.T) {
	task, err := New("import_actions", pair{From: 1, To: 2})
	require.NoError(t, err)
	assert.NotEmpty(t, task.ID)
	assert.Equal(t, "import_actions", task.Name)

	var got pair
	require.NoError(t, task.Decode(&got))
	assert.Equal(t, pair{1, 2}, got)
}

func TestMux(t *testing.T) {
	mux := NewMux()
	var seen []string
	mux.HandleFunc("a", func(_ context.Context, task Task) error {
		seen = append(seen, task.Name)
		return nil
	})

	require.NoError(t, mux.Handle(context.Background(), Task{Name: "a"}))
	err := mux.Handle(context.Background(), Task{Name: "b"})
	assert.ErrorIs(t, err, ErrUnknownTask)
	assert.ErrorIs(t, err, ErrPermanent)
	assert.Equal(t, []string{"a"}, seen)
}

func TestNewBroker(t *testing.T) {
	_, rdb := testkit.Redis(t)
	cfg := config.Default().Queue

	b, err := NewBroker(cfg, rdb)
	require.NoError(t, err)
	assert.IsType(t, &RedisBroker{}, b)

	cfg.Driver = "memory"
	b, err = NewBroker(cfg, nil)
	require.NoError(t, err)
	assert.IsType(t, &MemoryBroker{}, b)

	cfg.Driver = "redis"
	_, err = NewBroker(cfg, nil)
	assert.Error(t, err)

	cfg.Driver = "sqs"
	_, err = NewBroker(cfg, nil)
	assert.Error(t, err)
}

func TestMemoryBrokerFull(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBroker(1)

	require.NoError(t, b.Enqueue(ctx, Task{Name: "a"}))
	assert.ErrorIs(t, b.Enqueue(ctx, Task{Name: "b"}), ErrQueueFull)
	assert.Equal(t, 1, b.Len())

	msgs, err := b.Receive(ctx, "c", 10, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "a", msgs[0].Task.Name)

	msgs, err = b.Receive(ctx, "c", 10, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestRedisBrokerRoundTrip(t *testing.T) {
	ctx := context.Background()
	_, rdb := testkit.Redis(t)
	b := NewRedisBroker(rdb, "stream:test", "workers")
	require.NoError(t, b.Setup(ctx))
	require.NoError(t, b.Setup(ctx), "existing group is kept")

	for _, name := range []string{"a", "b", "c"} {
		task, err := New(name, pair{})
		require.NoError(t, err)
		require.NoError(t, b.Enqueue(ctx, task))
	}

	msgs, err := b.Receive(ctx, "w1", 2, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "a", msgs[0].Task.Name)
	assert.Equal(t, "b", msgs[1].Task.Name)

	// unacked messages come back as pending for the same consumer
	require.NoError(t, b.Ack(ctx, msgs[0]))
	pending, err := b.Pending(ctx, "w1", 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, msgs[1].ID, pending[0].ID)

	rest, err := b.Receive(ctx, "w1", 10, 0)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, "c", rest[0].Task.Name)
}

func TestManagerDrainFollowsChainedTasks(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBroker(100)

	var mu sync.Mutex
	var handled []string
	handler := func(ctx context.Context, task Task) error {
		mu.Lock()
		handled = append(handled, task.Name)
		mu.Unlock()
		if task.Name == "parent" {
			child, err := New("child", pair{})
			if err != nil {
				return err
			}
			return b.Enqueue(ctx, child)
		}
		return nil
	}

	parent, err := New("parent", pair{})
	require.NoError(t, err)
	require.NoError(t, b.Enqueue(ctx, parent))

	m := NewManager(b, handler, ManagerConfig{Name: "test"})
	n, err := m.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"parent", "child"}, handled)
	assert.Equal(t, 0, b.Len())

	select {
	case d := <-m.Metrics():
		assert.GreaterOrEqual(t, d, time.Duration(0))
	default:
		t.Fatal("expected a latency sample")
	}
}

func TestManagerStartStop(t *testing.T) {
	ctx := context.Background()
	_, rdb := testkit.Redis(t)
	b := NewRedisBroker(rdb, "stream:test", "workers")

	done := make(chan string, 1)
	m := NewManager(b, func(_ context.Context, task Task) error {
		done <- task.Name
		return nil
	}, ManagerConfig{Workers: 1, BlockTimeout: 50 * time.Millisecond, Name: "test"})
	require.NoError(t, m.Start(ctx))
	defer m.Stop()

	task, err := New("ping", pair{})
	require.NoError(t, err)
	require.NoError(t, b.Enqueue(ctx, task))

	select {
	case name := <-done:
		assert.Equal(t, "ping", name)
	case <-time.After(5 * time.Second):
		t.Fatal("task was not handled")
	}
}

// requeueBroker fails Enqueue while down is set.
type requeueBroker struct {
	*RedisBroker
	down bool
}

func (b *requeueBroker) Enqueue(ctx context.Context, t Task) error {
	if b.down {
		return errors.New("redis unavailable")
	}
	return b.RedisBroker.Enqueue(ctx, t)
}

func TestManagerRetriesFailedTask(t *testing.T) {
	ctx := context.Background()
	_, rdb := testkit.Redis(t)
	b := NewRedisBroker(rdb, "stream:test", "workers")

	var attempts []int
	m := NewManager(b, func(_ context.Context, task Task) error {
		attempts = append(attempts, task.Attempts)
		if task.Attempts < 2 {
			return errors.New("connection reset")
		}
		return nil
	}, ManagerConfig{Name: "test"})

	task, err := New("dispatch_action", pair{From: 1, To: 2})
	require.NoError(t, err)
	require.NoError(t, b.Enqueue(ctx, task))

	n, err := m.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, []int{0, 1, 2}, attempts)

	pending, err := b.Pending(ctx, "test-drain", 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestManagerDropsAfterMaxAttempts(t *testing.T) {
	ctx := context.Background()
	_, rdb := testkit.Redis(t)
	b := NewRedisBroker(rdb, "stream:test", "workers")

	calls := 0
	m := NewManager(b, func(context.Context, Task) error {
		calls++
		return errors.New("still failing")
	}, ManagerConfig{Name: "test", MaxAttempts: 3})

	task, err := New("import_actions", pair{})
	require.NoError(t, err)
	require.NoError(t, b.Enqueue(ctx, task))

	n, err := m.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 3, calls)

	pending, err := b.Pending(ctx, "test-drain", 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestManagerDropsPermanentFailure(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBroker(10)
	m := NewManager(b, NewMux().Handle, ManagerConfig{Name: "test"})

	require.NoError(t, b.Enqueue(ctx, Task{ID: "x", Name: "nobody_handles_this"}))

	n, err := m.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "unknown tasks are not retried")
	assert.Equal(t, 0, b.Len())
}

func TestManagerKeepsTaskPendingWhenRequeueFails(t *testing.T) {
	ctx := context.Background()
	_, rdb := testkit.Redis(t)
	b := &requeueBroker{RedisBroker: NewRedisBroker(rdb, "stream:test", "workers")}

	failing := true
	calls := 0
	m := NewManager(b, func(context.Context, Task) error {
		calls++
		if failing {
			return errors.New("connection reset")
		}
		return nil
	}, ManagerConfig{Name: "test"})

	task, err := New("dispatch_action", pair{})
	require.NoError(t, err)
	require.NoError(t, b.Enqueue(ctx, task))

	b.down = true
	n, err := m.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	pending, err := b.Pending(ctx, "test-drain", 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, task.ID, pending[0].Task.ID)

	// a recovering worker replays it once the handler succeeds
	b.down = false
	failing = false
	m.recover(ctx, "test-drain")
	assert.Equal(t, 2, calls)

	pending, err = b.Pending(ctx, "test-drain", 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}
