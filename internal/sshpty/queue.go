package sshpty

import "sync"

// commandKind discriminates bridge commands.
type commandKind int

const (
	cmdWrite commandKind = iota
	cmdResize
	cmdClose
)

// command is the unit of work submitted to the bridge I/O loop. Exactly one
// of the payload fields is meaningful depending on kind.
type command struct {
	kind commandKind
	data []byte
	cols uint32
	rows uint32
}

// commandQueue is an unbounded FIFO with many producers and exactly one
// consumer (the bridge I/O loop). Pushes never block, so the session actor
// can submit commands without ever waiting on the loop.
type commandQueue struct {
	mu     sync.Mutex
	items  []command
	closed bool
}

// push appends a command. It fails with ErrBridgeClosed once the queue has
// been closed.
func (q *commandQueue) push(c command) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrBridgeClosed
	}
	q.items = append(q.items, c)
	return nil
}

// tryPop removes and returns the oldest command without blocking.
func (q *commandQueue) tryPop() (command, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return command{}, false
	}
	c := q.items[0]
	q.items = q.items[1:]
	if len(q.items) == 0 {
		q.items = nil
	}
	return c, true
}

// tryPopControl pops the head only when it is a resize or close. Write FIFO
// order is preserved: a queued write blocks later control commands until it
// has been staged.
func (q *commandQueue) tryPopControl() (command, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 || q.items[0].kind == cmdWrite {
		return command{}, false
	}
	c := q.items[0]
	q.items = q.items[1:]
	if len(q.items) == 0 {
		q.items = nil
	}
	return c, true
}

// close marks the queue closed. Pending commands remain poppable; new pushes
// are rejected.
func (q *commandQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
}

// drained reports that the queue is closed and empty, meaning no further
// commands can ever arrive.
func (q *commandQueue) drained() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed && len(q.items) == 0
}
