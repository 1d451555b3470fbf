package core

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	// Wildcard subscribes a receiver to every message type. Wildcard
	// receivers see every message but can never consume one.
	Wildcard = "*"

	// MainGroup is the implicit group ticked by the owner of the Manager.
	MainGroup = "main"
)

// ReceiverID identifies a registered receiver. It stays unique across
// processes because it is scoped by the id of the owning manager.
type ReceiverID struct {
	// Manager is the id of the manager the receiver is registered with
	Manager uuid.UUID

	// Local is unique within that manager
	Local uint64
}

// IsZero reports whether id designates no receiver.
func (id ReceiverID) IsZero() bool {
	return id.Local == 0 && id.Manager == uuid.Nil
}

// String returns the string representation of ReceiverID.
func (id ReceiverID) String() string {
	if id.IsZero() {
		return "none"
	}
	return fmt.Sprintf("%s/%d", id.Manager, id.Local)
}

// GroupOptions controls the tick loop of a group.
type GroupOptions struct {
	// Interval is the target time between the start of two ticks
	Interval time.Duration

	// MinSleep is the minimum pause between ticks, even when a tick
	// overruns Interval
	MinSleep time.Duration

	// MaxTickTime is the soft processing budget of one tick, 0 for none
	MaxTickTime time.Duration
}

// DefaultGroupOptions returns the default tick cadence.
func DefaultGroupOptions() GroupOptions {
	return GroupOptions{
		Interval: 30 * time.Millisecond,
		MinSleep: time.Millisecond,
	}
}

func (o GroupOptions) withDefaults() GroupOptions {
	def := DefaultGroupOptions()
	if o.Interval <= 0 {
		o.Interval = def.Interval
	}
	if o.MinSleep <= 0 {
		o.MinSleep = def.MinSleep
	}
	return o
}

// sleepAfter returns how long a loop should pause after a tick that took
// elapsed.
func (o GroupOptions) sleepAfter(elapsed time.Duration) time.Duration {
	return max(o.Interval-elapsed, o.MinSleep)
}
