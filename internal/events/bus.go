// Package events dispatches domain events to handlers inside the publisher's transaction.
package events

import (
	"context"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5/pgconn"
)

// Event is a domain event. EventName selects its handlers.
type Event interface {
	EventName() string
}

// Tx is the part of a database transaction handlers may write through.
// It is implemented by pgx.Tx.
type Tx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Handler reacts to an event. Returning an error aborts the publisher's transaction.
type Handler func(ctx context.Context, tx Tx, evt Event) error

// Bus is a synchronous in-process event bus.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
}

func NewBus() *Bus {
	return &Bus{handlers: make(map[string][]Handler)}
}

// Subscribe registers h for events called name. Handlers run in subscription order.
func (b *Bus) Subscribe(name string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[name] = append(b.handlers[name], h)
}

// Dispatch runs every handler of evt within tx and stops at the first failure.
// A nil Bus dispatches nothing.
func (b *Bus) Dispatch(ctx context.Context, tx Tx, evt Event) error {
	if b == nil {
		return nil
	}
	b.mu.RLock()
	hs := append([]Handler(nil), b.handlers[evt.EventName()]...)
	b.mu.RUnlock()

	for _, h := range hs {
		if err := h(ctx, tx, evt); err != nil {
			return fmt.Errorf("handle %s: %w", evt.EventName(), err)
		}
	}
	return nil
}
