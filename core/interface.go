package core

import "time"

// Receiver is anything that can be registered with a Manager to receive
// messages. Receivers must be comparable, in practice pointers.
type Receiver interface {
	// Subscriptions returns the message types the receiver registers for.
	// It is read once, at registration.
	Subscriptions() []string

	// HandleMessage processes a message and reports whether it consumed it.
	// A consumed message is not offered to the remaining receivers of the
	// same group.
	HandleMessage(msg *Message) bool
}

// Updater is implemented by receivers that want a hook once per tick of
// their group. Higher SyncPriority values update first.
type Updater interface {
	Update()
	SyncPriority() int
}

// Binder is implemented by receivers that want to learn the id assigned to
// them at registration.
type Binder interface {
	BindID(id ReceiverID)
}

// Metrics receives dispatch events. Implementations must be safe for
// concurrent use since thread groups tick in parallel.
type Metrics interface {
	MessageQueued(group, msgType string)
	MessageDispatched(group, msgType string, consumed bool)
	MessageDropped(group, msgType string)
	TickCompleted(group string, elapsed time.Duration, processed int, flushed bool)
	QueueDepth(group string, depth int)
	GroupFailed(group string)
}

// NopMetrics discards every event.
type NopMetrics struct{}

func (NopMetrics) MessageQueued(string, string) {}
func (NopMetrics) MessageDispatched(string, string, bool) {}
func (NopMetrics) MessageDropped(string, string) {}
func (NopMetrics) TickCompleted(string, time.Duration, int, bool) {}
func (NopMetrics) QueueDepth(string, int) {}
func (NopMetrics) GroupFailed(string) {}
