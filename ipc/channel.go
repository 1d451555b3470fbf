// Package ipc provides framed duplex byte channels between processes.
//
// Every payload travels as one length-prefixed frame, so a channel can be
// layered over pipes, standard streams or sockets alike.
package ipc

import (
	"errors"
	"io"
	"sync"

	"github.com/najoast/sage/codec"
)

// ErrClosed is returned when using a closed channel.
var ErrClosed = errors.New("ipc: channel closed")

// DefaultBacklog is the number of received frames buffered ahead of Recv.
const DefaultBacklog = 1024

// Channel is a duplex packet channel.
type Channel interface {
	// Send writes one packet. It is safe for concurrent use.
	Send(data []byte) error

	// Poll reports whether a packet is ready without blocking.
	Poll() bool

	// Recv blocks until a packet arrives or the channel ends.
	Recv() ([]byte, error)

	// TryRecv returns a ready packet without blocking.
	TryRecv() ([]byte, bool)

	// Done is closed once the peer side has gone away and every buffered
	// packet has been handed out by the reader goroutine.
	Done() <-chan struct{}

	// Err returns the error that ended the read side, io.EOF on a clean end.
	Err() error

	Close() error
}

// StreamChannel frames packets over a reader/writer pair.
type StreamChannel struct {
	r io.ReadCloser
	w io.WriteCloser

	wmu sync.Mutex
	in  chan []byte

	done chan struct{}

	mu     sync.Mutex
	err    error
	closed bool
}

// NewStreamChannel starts reading frames from r. Either side may be nil for
// a one-way channel.
func NewStreamChannel(r io.ReadCloser, w io.WriteCloser) *StreamChannel {
	c := &StreamChannel{
		r:    r,
		w:    w,
		in:   make(chan []byte, DefaultBacklog),
		done: make(chan struct{}),
	}
	if r == nil {
		c.setErr(io.EOF)
		close(c.in)
		close(c.done)
		return c
	}
	go c.readLoop()
	return c
}

func (c *StreamChannel) readLoop() {
	defer close(c.done)
	defer close(c.in)
	for {
		data, err := codec.ReadFrame(c.r, codec.MaxFrameSize)
		if err != nil {
			c.setErr(err)
			return
		}
		c.in <- data
	}
}

func (c *StreamChannel) setErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err == nil {
		c.err = err
	}
}

// Send implements Channel.
func (c *StreamChannel) Send(data []byte) error {
	if c.w == nil {
		return ErrClosed
	}
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return codec.WriteFrame(c.w, data)
}

// Poll implements Channel.
func (c *StreamChannel) Poll() bool {
	return len(c.in) > 0
}

// Recv implements Channel.
func (c *StreamChannel) Recv() ([]byte, error) {
	data, ok := <-c.in
	if !ok {
		return nil, c.Err()
	}
	return data, nil
}

// TryRecv implements Channel.
func (c *StreamChannel) TryRecv() ([]byte, bool) {
	select {
	case data, ok := <-c.in:
		return data, ok
	default:
		return nil, false
	}
}

// Done implements Channel.
func (c *StreamChannel) Done() <-chan struct{} {
	return c.done
}

// Err implements Channel.
func (c *StreamChannel) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close closes both directions. The read loop ends with ErrClosed unless
// the peer had already gone.
func (c *StreamChannel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	if c.err == nil {
		c.err = ErrClosed
	}
	c.mu.Unlock()

	var errs []error
	if c.w != nil {
		c.wmu.Lock()
		errs = append(errs, c.w.Close())
		c.wmu.Unlock()
	}
	if c.r != nil && io.Closer(c.r) != io.Closer(c.w) {
		errs = append(errs, c.r.Close())
	}
	go func() {
		// unblock the reader if Recv is not being called
		for range c.in {
		}
	}()
	return errors.Join(errs...)
}
