// internal/observe/hub.go
//
// Package observe provides the subscribe/notify contract of the lobby state
// containers. Renderers subscribe to change values; the containers never know
// who is listening.
package observe

import "sync"

// Hub delivers values of T to subscribers in subscription order.
//
// Delivery is serialized: two batches never interleave. State containers call
// Enqueue inside their own critical section and Flush after leaving it, so
// batches reach subscribers in mutation order. Enqueue never blocks, and a
// Flush that finds another goroutine delivering returns at once and leaves
// its batch to that goroutine. Handlers may therefore read or mutate the
// container that is delivering to them.
type Hub[T any] struct {
	mu       sync.Mutex
	next     int
	order    []int
	handlers map[int]func(T)

	qmu      sync.Mutex
	queue    [][]T
	draining bool
}

// Subscribe registers fn and returns a function that removes it.
func (h *Hub[T]) Subscribe(fn func(T)) (unsubscribe func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.handlers == nil {
		h.handlers = make(map[int]func(T))
	}
	id := h.next
	h.next++
	h.handlers[id] = fn
	h.order = append(h.order, id)

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.handlers, id)
			for i, v := range h.order {
				if v == id {
					h.order = append(h.order[:i], h.order[i+1:]...)
					break
				}
			}
		})
	}
}

// Enqueue appends a batch for the next Flush.
func (h *Hub[T]) Enqueue(values ...T) {
	if len(values) == 0 {
		return
	}
	h.qmu.Lock()
	h.queue = append(h.queue, values)
	h.qmu.Unlock()
}

// Flush delivers queued batches unless another goroutine is already doing so.
func (h *Hub[T]) Flush() {
	h.qmu.Lock()
	if h.draining {
		h.qmu.Unlock()
		return
	}
	h.draining = true
	h.qmu.Unlock()

	done := false
	defer func() {
		if !done {
			h.qmu.Lock()
			h.draining = false
			h.qmu.Unlock()
		}
	}()
	for {
		batch, ok := h.pop()
		if !ok {
			done = true
			return
		}
		for _, fn := range h.snapshot() {
			for _, v := range batch {
				fn(v)
			}
		}
	}
}

// pop takes the oldest batch. When the queue is empty it ends the drain under
// the same lock, so a batch enqueued concurrently is never stranded.
func (h *Hub[T]) pop() ([]T, bool) {
	h.qmu.Lock()
	defer h.qmu.Unlock()
	if len(h.queue) == 0 {
		h.draining = false
		return nil, false
	}
	batch := h.queue[0]
	h.queue[0] = nil
	h.queue = h.queue[1:]
	return batch, true
}

// Publish delivers values outside of any container critical section.
func (h *Hub[T]) Publish(values ...T) {
	h.Enqueue(values...)
	h.Flush()
}

func (h *Hub[T]) snapshot() []func(T) {
	h.mu.Lock()
	defer h.mu.Unlock()
	fns := make([]func(T), 0, len(h.order))
	for _, id := range h.order {
		fns = append(fns, h.handlers[id])
	}
	return fns
}

// Value is an observable scalar, used for busy flags, error text and progress.
type Value[T comparable] struct {
	mu  sync.Mutex
	v   T
	hub Hub[T]
}

// Get returns the current value.
func (v *Value[T]) Get() T {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.v
}

// Set stores x and notifies subscribers when it differs from the current value.
func (v *Value[T]) Set(x T) {
	v.mu.Lock()
	if v.v == x {
		v.mu.Unlock()
		return
	}
	v.v = x
	v.hub.Enqueue(x)
	v.mu.Unlock()
	v.hub.Flush()
}

// Subscribe registers fn for changes of the value.
func (v *Value[T]) Subscribe(fn func(T)) func() {
	return v.hub.Subscribe(fn)
}
