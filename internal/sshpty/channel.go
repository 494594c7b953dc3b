package sshpty

import (
	"io"
	"sync"

	"golang.org/x/crypto/ssh"
)

// Channel is the PTY channel contract driven by the bridge I/O loop.
//
// Read and Write may return ErrWouldBlock when no progress is possible right
// now; Write may also consume only a prefix of p. A read of zero bytes with a
// nil error, or io.EOF, means the remote side closed the shell. The loop is
// the only goroutine that may call Read, Write or WindowChange.
type Channel interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	WindowChange(cols, rows uint32) error
	Close() error
}

// sessionChannel adapts an ssh.Session with an allocated PTY to the Channel
// contract. ssh.Session reads block, so a pump goroutine drains stdout into
// an internal buffer and Read reports ErrWouldBlock when the buffer is empty.
type sessionChannel struct {
	session *ssh.Session
	stdin   io.WriteCloser

	mu      sync.Mutex
	buf     []byte
	readErr error // terminal pump status, returned once buf drains

	closeOnce sync.Once
	closeErr  error
}

// newSessionChannel opens a session on client, allocates an xterm-256color
// PTY of the given size and starts the login shell.
func newSessionChannel(client *ssh.Client, cols, rows uint32) (*sessionChannel, error) {
	session, err := client.NewSession()
	if err != nil {
		return nil, &ChannelError{Op: "open-session", Err: err}
	}

	modes := ssh.TerminalModes{
		ssh.ECHO:          1,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}
	if err := session.RequestPty("xterm-256color", int(rows), int(cols), modes); err != nil {
		session.Close()
		return nil, &ChannelError{Op: "request-pty", Err: err}
	}

	stdin, err := session.StdinPipe()
	if err != nil {
		session.Close()
		return nil, &ChannelError{Op: "open-session", Err: err}
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		return nil, &ChannelError{Op: "open-session", Err: err}
	}

	if err := session.Shell(); err != nil {
		session.Close()
		return nil, &ChannelError{Op: "start-shell", Err: err}
	}

	c := &sessionChannel{session: session, stdin: stdin}
	go c.pump(stdout)
	return c, nil
}

// pump moves shell output from the blocking stdout pipe into the internal
// buffer until the session ends.
func (c *sessionChannel) pump(stdout io.Reader) {
	buf := make([]byte, 32*1024)
	for {
		n, err := stdout.Read(buf)
		if n > 0 {
			c.mu.Lock()
			c.buf = append(c.buf, buf[:n]...)
			c.mu.Unlock()
		}
		if err != nil {
			c.mu.Lock()
			c.readErr = err
			c.mu.Unlock()
			return
		}
	}
}

func (c *sessionChannel) Read(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.buf) > 0 {
		n := copy(p, c.buf)
		c.buf = c.buf[n:]
		if len(c.buf) == 0 {
			c.buf = nil
		}
		return n, nil
	}
	if c.readErr != nil {
		return 0, c.readErr
	}
	return 0, ErrWouldBlock
}

func (c *sessionChannel) Write(p []byte) (int, error) {
	return c.stdin.Write(p)
}

func (c *sessionChannel) WindowChange(cols, rows uint32) error {
	return c.session.WindowChange(int(rows), int(cols))
}

// Close tears down the SSH session. It is idempotent; calls after the first
// return the first call's result.
func (c *sessionChannel) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.session.Close()
	})
	return c.closeErr
}
