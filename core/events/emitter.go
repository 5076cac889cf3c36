package events

import (
	"fmt"
	"sync"

	"github.com/cordum/extcore/core/infra/logging"
)

// Handler receives the event name and its payload.
type Handler func(name string, payload any)

type subscription struct {
	id   uint64
	fn   Handler
	once bool
}

// Emitter is a named-event dispatcher. Handlers run synchronously in
// registration order on the goroutine that calls Trigger.
type Emitter struct {
	mu     sync.Mutex
	nextID uint64
	subs   map[string][]subscription
}

// NewEmitter returns an emitter with no subscribers.
func NewEmitter() *Emitter {
	return &Emitter{subs: map[string][]subscription{}}
}

// On subscribes fn to name and returns a function that removes it.
func (e *Emitter) On(name string, fn Handler) func() {
	return e.add(name, fn, false)
}

// Once subscribes fn for a single delivery.
func (e *Emitter) Once(name string, fn Handler) func() {
	return e.add(name, fn, true)
}

// Off removes every subscriber of name.
func (e *Emitter) Off(name string) {
	e.mu.Lock()
	delete(e.subs, name)
	e.mu.Unlock()
}

// Count returns the number of subscribers of name.
func (e *Emitter) Count(name string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.subs[name])
}

// Trigger delivers payload to the subscribers of name. A panicking handler is
// logged and does not prevent later handlers from running.
func (e *Emitter) Trigger(name string, payload any) {
	e.mu.Lock()
	subs := append([]subscription(nil), e.subs[name]...)
	if len(subs) > 0 {
		kept := e.subs[name][:0]
		for _, s := range e.subs[name] {
			if !s.once {
				kept = append(kept, s)
			}
		}
		if len(kept) == 0 {
			delete(e.subs, name)
		} else {
			e.subs[name] = kept
		}
	}
	e.mu.Unlock()

	for _, s := range subs {
		deliver(name, s.fn, payload)
	}
}

func (e *Emitter) add(name string, fn Handler, once bool) func() {
	if fn == nil {
		return func() {}
	}
	e.mu.Lock()
	e.nextID++
	id := e.nextID
	e.subs[name] = append(e.subs[name], subscription{id: id, fn: fn, once: once})
	e.mu.Unlock()
	return func() { e.remove(name, id) }
}

func (e *Emitter) remove(name string, id uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	subs := e.subs[name]
	for i, s := range subs {
		if s.id == id {
			e.subs[name] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(e.subs[name]) == 0 {
		delete(e.subs, name)
	}
}

func deliver(name string, fn Handler, payload any) {
	defer func() {
		if r := recover(); r != nil {
			logging.Error("events", "handler panicked", "event", name, "panic", fmt.Sprint(r))
		}
	}()
	fn(name, payload)
}
