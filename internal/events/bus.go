// Package events provides a small typed publish/subscribe bus used to fan
// state changes (collection updates, job transitions, errors) out to views.
package events

import (
	"sync"
)

// Bus delivers values of type T to every current subscriber.
// Handlers run synchronously on the publisher's goroutine, in subscription order.
// All methods are thread-safe.
type Bus[T any] struct {
	mu     sync.RWMutex
	next   int
	subs   map[int]func(T)
	order  []int
	closed bool
}

// NewBus creates an empty bus.
func NewBus[T any]() *Bus[T] {
	return &Bus[T]{subs: make(map[int]func(T))}
}

// Subscribe registers fn and returns a function that removes it.
// Subscribing to a closed bus is a no-op.
func (b *Bus[T]) Subscribe(fn func(T)) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return func() {}
	}

	id := b.next
	b.next++
	b.subs[id] = fn
	b.order = append(b.order, id)

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subs, id)
			for i, v := range b.order {
				if v == id {
					b.order = append(b.order[:i], b.order[i+1:]...)
					break
				}
			}
		})
	}
}

// Publish delivers v to all subscribers. Publishing on a closed bus is dropped.
func (b *Bus[T]) Publish(v T) {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return
	}
	handlers := make([]func(T), 0, len(b.order))
	for _, id := range b.order {
		handlers = append(handlers, b.subs[id])
	}
	b.mu.RUnlock()

	for _, fn := range handlers {
		fn(v)
	}
}

// Len returns the number of active subscribers.
func (b *Bus[T]) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close drops all subscribers. Later Publish and Subscribe calls are no-ops.
func (b *Bus[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.subs = make(map[int]func(T))
	b.order = nil
}

// CollectionUpdate announces that a game's stored draws changed.
type CollectionUpdate struct {
	Game      string
	RowsAdded int
	TotalRows int
}

// AppError is an uncaught failure surfaced to the user as a dismissible banner.
type AppError struct {
	Source  string
	Message string
}

// Buses groups the buses shared by coordinators and views.
type Buses struct {
	Collections *Bus[CollectionUpdate]
	Errors      *Bus[AppError]
}

// NewBuses creates a fresh set of buses.
func NewBuses() *Buses {
	return &Buses{
		Collections: NewBus[CollectionUpdate](),
		Errors:      NewBus[AppError](),
	}
}

// Close closes every bus in the group.
func (b *Buses) Close() {
	b.Collections.Close()
	b.Errors.Close()
}
