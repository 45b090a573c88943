// Package events is a small synchronous publish/subscribe bus for index
// lifecycle notifications.
package events

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/d60-Lab/followgraph/internal/registry"
)

type Name string

const (
	Followed   Name = "followed"
	Unfollowed Name = "unfollowed"

	PreSave    Name = "timeline.pre_save"
	PostSave   Name = "timeline.post_save"
	PreDelete  Name = "timeline.pre_delete"
	PostDelete Name = "timeline.post_delete"
)

// Event carries references only, never live entities.
// Follow events fill From/To and their uids; timeline events fill Owner and Action.
type Event struct {
	Name    Name
	From    registry.Ref
	To      registry.Ref
	FromUID int64
	ToUID   int64
	Owner   registry.Ref
	Action  any
}

type Handler func(ctx context.Context, ev Event) error

type Bus struct {
	mu       sync.RWMutex
	handlers map[Name][]Handler
}

func NewBus() *Bus {
	return &Bus{handlers: make(map[Name][]Handler)}
}

func (b *Bus) Subscribe(name Name, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[name] = append(b.handlers[name], h)
}

// Emit calls every handler in subscription order. All handlers run; their
// errors are joined.
func (b *Bus) Emit(ctx context.Context, ev Event) error {
	if b == nil {
		return nil
	}
	b.mu.RLock()
	hs := append([]Handler(nil), b.handlers[ev.Name]...)
	b.mu.RUnlock()

	var errs []error
	for _, h := range hs {
		if err := h(ctx, ev); err != nil {
			errs = append(errs, fmt.Errorf("%s handler: %w", ev.Name, err))
		}
	}
	return errors.Join(errs...)
}
