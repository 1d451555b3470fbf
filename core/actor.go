package core

import (
	"sync"
)

// HandlerFunc handles one message and reports whether it consumed it.
type HandlerFunc func(msg *Message) bool

// Actor is a table-driven Receiver. Handlers are registered per message type
// before the actor is registered with a Manager; the subscriptions of the
// actor are exactly the types it has handlers for.
type Actor struct {
	mu sync.RWMutex
	id ReceiverID

	// Handlers keyed by message type, Wildcard included
	handlers map[string]HandlerFunc

	// Subscription order follows handler registration order
	subs []string

	priority int
	update   func()
}

// NewActor creates an Actor with no handlers.
func NewActor() *Actor {
	return &Actor{handlers: make(map[string]HandlerFunc)}
}

// Handle registers fn for msgType. Registering for Wildcard subscribes the
// actor to every message type; fn is then the fallback for types without a
// dedicated handler.
func (a *Actor) Handle(msgType string, fn HandlerFunc) *Actor {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.handlers[msgType]; !ok {
		a.subs = append(a.subs, msgType)
	}
	a.handlers[msgType] = fn
	return a
}

// OnUpdate sets the per-tick hook.
func (a *Actor) OnUpdate(fn func()) *Actor {
	a.mu.Lock()
	a.update = fn
	a.mu.Unlock()
	return a
}

// WithPriority sets the sync priority. Higher priorities update first.
func (a *Actor) WithPriority(p int) *Actor {
	a.mu.Lock()
	a.priority = p
	a.mu.Unlock()
	return a
}

// ID returns the id assigned at registration, zero before.
func (a *Actor) ID() ReceiverID {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.id
}

// BindID implements Binder.
func (a *Actor) BindID(id ReceiverID) {
	a.mu.Lock()
	a.id = id
	a.mu.Unlock()
}

// Subscriptions implements Receiver.
func (a *Actor) Subscriptions() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]string(nil), a.subs...)
}

// HandleMessage implements Receiver. Messages without a handler are not
// consumed.
func (a *Actor) HandleMessage(msg *Message) bool {
	a.mu.RLock()
	fn, ok := a.handlers[msg.Type()]
	if !ok {
		fn = a.handlers[Wildcard]
	}
	a.mu.RUnlock()
	if fn == nil {
		return false
	}
	return fn(msg)
}

// Update implements Updater.
func (a *Actor) Update() {
	a.mu.RLock()
	fn := a.update
	a.mu.RUnlock()
	if fn != nil {
		fn()
	}
}

// SyncPriority implements Updater.
func (a *Actor) SyncPriority() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.priority
}
