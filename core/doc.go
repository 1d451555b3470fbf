// Package core implements the message dispatch engine of sage.
//
// Message types are declared once through a Registry. Receivers register
// with a Manager for the types they subscribe to, and messages are either
// triggered (delivered synchronously) or queued and delivered by a tick of
// the group that owns the receivers. Every group works on a snapshot of its
// queue, so messages produced while handling a tick wait for the next one.
package core
