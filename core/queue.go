package core

import "sync"

// queue is the double-buffered message queue of a group. Producers append to
// the active buffer; a tick swaps it out and works on the snapshot, so
// messages queued by handlers wait for the next tick.
type queue struct {
	mu     sync.Mutex
	active []*Message
	spare  []*Message
}

func (q *queue) push(m *Message) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.active = append(q.active, m)
	return len(q.active)
}

// swap hands the pending messages to the caller and starts a fresh active
// buffer.
func (q *queue) swap() []*Message {
	q.mu.Lock()
	defer q.mu.Unlock()
	batch := q.active
	q.active = q.spare[:0]
	q.spare = nil
	return batch
}

// requeue puts unprocessed messages back in front of anything queued since
// the swap, preserving their order.
func (q *queue) requeue(left []*Message) {
	if len(left) == 0 {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	merged := make([]*Message, 0, len(left)+len(q.active))
	merged = append(merged, left...)
	q.active = append(merged, q.active...)
}

// release returns a processed batch buffer for reuse.
func (q *queue) release(batch []*Message) {
	clear(batch[:cap(batch)])
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.spare == nil {
		q.spare = batch[:0]
	}
}

// abort removes queued messages of msgType, the first one only unless all.
func (q *queue) abort(msgType string, all bool) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	kept := q.active[:0]
	removed := false
	for _, m := range q.active {
		if m.Type() == msgType && (all || !removed) {
			removed = true
			continue
		}
		kept = append(kept, m)
	}
	clear(q.active[len(kept):])
	q.active = kept
	return removed
}

func (q *queue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.active)
}

func (q *queue) reset() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.active = nil
	q.spare = nil
}
