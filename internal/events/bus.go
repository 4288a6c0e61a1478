// internal/events/bus.go
package events

import (
	"context"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"
)

// Handler consumes one event. A returned error is logged and does not stop
// dispatch.
type Handler func(Event) error

type registration struct {
	id int
	h  Handler
}

// Bus routes push events to one or more consumers per kind.
// Handlers run in registration order on the publisher's goroutine, so events
// are applied in delivery order.
type Bus struct {
	mu       sync.RWMutex
	next     int
	handlers map[Kind][]registration
	logger   log.FieldLogger
}

func NewBus(logger log.FieldLogger) *Bus {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Bus{
		handlers: make(map[Kind][]registration),
		logger:   logger,
	}
}

// Subscribe registers h for kind and returns its deregistration function.
func (b *Bus) Subscribe(kind Kind, h Handler) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.next
	b.next++
	b.handlers[kind] = append(b.handlers[kind], registration{id: id, h: h})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		regs := b.handlers[kind]
		for i, r := range regs {
			if r.id == id {
				b.handlers[kind] = append(regs[:i:i], regs[i+1:]...)
				return
			}
		}
	}
}

// Publish dispatches e to every handler registered for its kind. A panicking
// handler is logged and skipped; it never reaches the publisher.
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	regs := b.handlers[e.Kind]
	b.mu.RUnlock()

	if len(regs) == 0 {
		b.logger.WithField("kind", e.Kind).Debug("push event without consumer")
		return
	}
	for _, r := range regs {
		if err := b.invoke(r.h, e); err != nil {
			b.logger.WithFields(log.Fields{"kind": e.Kind, "error": err}).Warn("push event handler failed")
		}
	}
}

func (b *Bus) invoke(h Handler, e Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(e)
}

// Pump publishes every event read from ch until ch is closed or ctx is done.
func (b *Bus) Pump(ctx context.Context, ch <-chan Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			b.Publish(e)
		}
	}
}
