package sshpty

import (
	"errors"
	"io"
	"log"
	"sync"
	"time"
)

const (
	// partialWriteBackoff is applied between attempts while a staged write
	// is making partial progress.
	partialWriteBackoff = time.Millisecond
	// pollBackoff is applied when a read or write reports would-block, so
	// the loop does not busy-spin while the channel is idle.
	pollBackoff = 10 * time.Millisecond

	readBufferSize = 4096
	outputQueueLen = 64
)

// Bridge drives exactly one PTY Channel to completion on a dedicated
// goroutine. Commands (write, resize, close) arrive on an unbounded queue
// with any number of producers; output bytes leave on a channel with the
// bridge as its only producer. The Channel is owned exclusively by the loop
// for its entire lifetime.
type Bridge struct {
	ch   Channel
	cmds *commandQueue
	out  chan []byte

	stop     chan struct{} // closed by Close; unblocks a stalled output send
	stopOnce sync.Once
	done     chan struct{} // closed when the loop has exited
}

// NewBridge wraps ch in a bridge. Call Start to begin the I/O loop.
func NewBridge(ch Channel) *Bridge {
	return &Bridge{
		ch:   ch,
		cmds: &commandQueue{},
		out:  make(chan []byte, outputQueueLen),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
}

// Start launches the I/O loop goroutine.
func (b *Bridge) Start() {
	go b.run()
}

// Output returns the shell output channel. It is closed when the loop exits,
// whatever the cause.
func (b *Bridge) Output() <-chan []byte { return b.out }

// Done is closed once the loop has exited and the channel is closed.
func (b *Bridge) Done() <-chan struct{} { return b.done }

// Write queues data for delivery to the shell. The bytes are copied; FIFO
// order relative to other writes is preserved end to end.
func (b *Bridge) Write(data []byte) error {
	buf := make([]byte, len(data))
	copy(buf, data)
	return b.cmds.push(command{kind: cmdWrite, data: buf})
}

// Resize queues a PTY window-change. The loop applies it as soon as it is
// reached, even while a staged write is stuck on would-block.
func (b *Bridge) Resize(cols, rows uint32) error {
	return b.cmds.push(command{kind: cmdResize, cols: cols, rows: rows})
}

// Close requests loop termination and returns without waiting for it. It is
// idempotent and safe to call after the loop has already exited.
func (b *Bridge) Close() {
	b.stopOnce.Do(func() {
		b.cmds.push(command{kind: cmdClose})
		b.cmds.close()
		close(b.stop)
	})
}

// drainControl consumes resize and close commands queued behind a stuck
// write. Reports true when a close was consumed and the loop should exit.
func (b *Bridge) drainControl() bool {
	for {
		cmd, ok := b.cmds.tryPopControl()
		if !ok {
			return false
		}
		switch cmd.kind {
		case cmdResize:
			if err := b.ch.WindowChange(cmd.cols, cmd.rows); err != nil {
				log.Printf("[sshpty] window change failed: %v", err)
			}
		case cmdClose:
			log.Printf("[sshpty] bridge I/O loop ended: close requested")
			return true
		}
	}
}

// run is the I/O loop. Each iteration drains the command queue (staging at
// most one write, so a burst of writes cannot starve reads), flushes the
// staged write as far as the channel allows, then attempts one read.
func (b *Bridge) run() {
	defer close(b.done)
	defer close(b.out)
	defer b.ch.Close()

	log.Printf("[sshpty] bridge I/O loop started")

	buf := make([]byte, readBufferSize)
	var pending []byte // staged write, private to the loop
	var offset int     // bytes of pending already flushed

	for {
		if pending == nil {
			for {
				cmd, ok := b.cmds.tryPop()
				if !ok {
					if b.cmds.drained() {
						log.Printf("[sshpty] bridge I/O loop ended: command queue closed")
						return
					}
					break
				}
				switch cmd.kind {
				case cmdWrite:
					pending, offset = cmd.data, 0
				case cmdResize:
					if err := b.ch.WindowChange(cmd.cols, cmd.rows); err != nil {
						log.Printf("[sshpty] window change failed: %v", err)
					}
				case cmdClose:
					log.Printf("[sshpty] bridge I/O loop ended: close requested")
					return
				}
				if pending != nil {
					break
				}
			}
		}

		if pending != nil {
			n, err := b.ch.Write(pending[offset:])
			switch {
			case err == nil:
				offset += n
				if offset < len(pending) {
					// Partial flush: the remainder must go out before any
					// newer write is staged.
					time.Sleep(partialWriteBackoff)
					continue
				}
				pending, offset = nil, 0
			case errors.Is(err, ErrWouldBlock):
				// The write cannot progress right now. Resize and close
				// commands behind it stay responsive while we wait.
				if b.drainControl() {
					return
				}
				time.Sleep(pollBackoff)
			default:
				log.Printf("[sshpty] bridge write error: %v", err)
				return
			}
		}

		n, err := b.ch.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			select {
			case b.out <- data:
			case <-b.stop:
				log.Printf("[sshpty] bridge I/O loop ended: output receiver gone")
				return
			}
		}
		switch {
		case err == nil:
			if n == 0 {
				log.Printf("[sshpty] bridge I/O loop ended: channel closed")
				return
			}
		case errors.Is(err, ErrWouldBlock):
			time.Sleep(pollBackoff)
		case errors.Is(err, io.EOF):
			log.Printf("[sshpty] bridge I/O loop ended: remote EOF")
			return
		default:
			log.Printf("[sshpty] bridge read error: %v", err)
			return
		}
	}
}
