// Package events provides a typed publish/subscribe bus owned by a single
// session.
package events

import "sync"

// Topic names a channel whose payloads are of type T.
type Topic[T any] struct {
	name string
}

// NewTopic declares a topic.
func NewTopic[T any](name string) Topic[T] {
	return Topic[T]{name: name}
}

// Name returns the topic name.
func (t Topic[T]) Name() string { return t.name }

type handler struct {
	id int
	fn any
}

// Bus dispatches payloads synchronously to the handlers of a topic. Handlers
// run on the publisher's goroutine, outside the bus lock.
type Bus struct {
	mu     sync.RWMutex
	nextID int
	subs   map[string][]handler
}

// NewBus creates an empty Bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[string][]handler)}
}

// Subscribe registers fn for topic and returns a function removing it.
func Subscribe[T any](b *Bus, topic Topic[T], fn func(T)) (unsubscribe func()) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs[topic.name] = append(b.subs[topic.name], handler{id: id, fn: fn})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			list := b.subs[topic.name]
			for i, h := range list {
				if h.id == id {
					b.subs[topic.name] = append(list[:i:i], list[i+1:]...)
					break
				}
			}
		})
	}
}

// Publish delivers payload to every handler of topic in subscription order.
// A nil Bus drops the payload.
func Publish[T any](b *Bus, topic Topic[T], payload T) {
	if b == nil {
		return
	}
	b.mu.RLock()
	list := append([]handler(nil), b.subs[topic.name]...)
	b.mu.RUnlock()

	for _, h := range list {
		if fn, ok := h.fn.(func(T)); ok {
			fn(payload)
		}
	}
}

// Len returns the number of handlers registered for a topic name.
func (b *Bus) Len(name string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[name])
}
