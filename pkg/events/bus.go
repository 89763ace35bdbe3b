// Package events is a minimal typed publish/subscribe bus for session
// lifecycle notifications.
package events

import "sync"

// Kind names an event.
type Kind string

const (
	// Login is emitted after a successful login. Payload is nil.
	Login Kind = "login"
	// Logout is emitted after a successful remote logout. Payload is nil.
	Logout Kind = "logout"
)

// Handler receives the payload of an emitted event.
type Handler func(payload any)

type entry struct {
	id uint64
	fn Handler
}

// Bus dispatches events to handlers synchronously, in registration order.
// The zero value is ready to use.
type Bus struct {
	mu       sync.Mutex
	nextID   uint64
	handlers map[Kind][]entry
}

// New returns an empty Bus.
func New() *Bus {
	return &Bus{}
}

// Subscription identifies a registered handler.
type Subscription struct {
	bus  *Bus
	kind Kind
	id   uint64
}

// On registers fn for kind.
func (b *Bus) On(kind Kind, fn Handler) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.handlers == nil {
		b.handlers = make(map[Kind][]entry)
	}
	b.nextID++
	b.handlers[kind] = append(b.handlers[kind], entry{id: b.nextID, fn: fn})

	return Subscription{bus: b, kind: kind, id: b.nextID}
}

// Cancel removes the handler. Cancelling twice is a no-op.
func (s Subscription) Cancel() {
	if s.bus == nil {
		return
	}

	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()

	list := s.bus.handlers[s.kind]
	for i, e := range list {
		if e.id == s.id {
			s.bus.handlers[s.kind] = append(list[:i:i], list[i+1:]...)
			return
		}
	}
}

// Emit calls every handler registered for kind. Handlers run outside the
// bus lock, so they may subscribe or emit themselves.
func (b *Bus) Emit(kind Kind, payload any) {
	b.mu.Lock()
	list := make([]entry, len(b.handlers[kind]))
	copy(list, b.handlers[kind])
	b.mu.Unlock()

	for _, e := range list {
		e.fn(payload)
	}
}

// Len reports how many handlers are registered for kind.
func (b *Bus) Len(kind Kind) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.handlers[kind])
}
