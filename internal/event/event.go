// Package event provides the typed publish/subscribe used by every
// component of the map.
package event

import (
	"sync"
)

// Subscription identifies a registered listener
type Subscription uint64

// Emitter delivers values of one payload type to its listeners in
// registration order. Listeners may subscribe or unsubscribe while an
// emission is in progress; the change applies to the next emission.
type Emitter[T any] struct {
	mu        sync.Mutex
	next      Subscription
	listeners []listener[T]
}

type listener[T any] struct {
	id Subscription
	fn func(T)
}

// On registers fn and returns a handle for Off
func (e *Emitter[T]) On(fn func(T)) Subscription {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.next++
	e.listeners = append(e.listeners, listener[T]{id: e.next, fn: fn})
	return e.next
}

// Once registers fn for a single emission
func (e *Emitter[T]) Once(fn func(T)) Subscription {
	var id Subscription
	id = e.On(func(v T) {
		e.Off(id)
		fn(v)
	})
	return id
}

// Off removes a listener. Unknown handles are ignored.
func (e *Emitter[T]) Off(id Subscription) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for i, l := range e.listeners {
		if l.id == id {
			e.listeners = append(e.listeners[:i:i], e.listeners[i+1:]...)
			return
		}
	}
}

// Emit calls every listener with v
func (e *Emitter[T]) Emit(v T) {
	e.mu.Lock()
	snapshot := make([]listener[T], len(e.listeners))
	copy(snapshot, e.listeners)
	e.mu.Unlock()

	for _, l := range snapshot {
		l.fn(v)
	}
}

// Len returns the number of registered listeners
func (e *Emitter[T]) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.listeners)
}
