package sshpty

import (
	"context"
	"io"
	"log"
	"sync"

	"golang.org/x/crypto/ssh"
)

// StreamClient is the callback-style Transport variant. Writes go straight
// to the session stdin (serialized by a mutex) and a pump goroutine forwards
// stdout to the output channel. Kept as an alternative to BridgeClient; the
// relay is agnostic to which variant is active.
type StreamClient struct {
	client  *ssh.Client
	session *ssh.Session
	stdin   io.WriteCloser

	out  chan []byte
	stop chan struct{}

	mu        sync.Mutex // serializes stdin writes and window changes
	closed    bool
	closeOnce sync.Once
}

// NewStreamClient connects, allocates the PTY, starts the shell and begins
// pumping output.
func NewStreamClient(ctx context.Context, creds Credentials, cols, rows uint32) (*StreamClient, error) {
	client, err := Dial(ctx, creds)
	if err != nil {
		return nil, err
	}

	session, err := client.NewSession()
	if err != nil {
		client.Close()
		return nil, &ChannelError{Op: "open-session", Err: err}
	}

	modes := ssh.TerminalModes{
		ssh.ECHO:          1,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}
	if err := session.RequestPty("xterm-256color", int(rows), int(cols), modes); err != nil {
		session.Close()
		client.Close()
		return nil, &ChannelError{Op: "request-pty", Err: err}
	}

	stdin, err := session.StdinPipe()
	if err != nil {
		session.Close()
		client.Close()
		return nil, &ChannelError{Op: "open-session", Err: err}
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		client.Close()
		return nil, &ChannelError{Op: "open-session", Err: err}
	}

	if err := session.Shell(); err != nil {
		session.Close()
		client.Close()
		return nil, &ChannelError{Op: "start-shell", Err: err}
	}

	s := &StreamClient{
		client:  client,
		session: session,
		stdin:   stdin,
		out:     make(chan []byte, outputQueueLen),
		stop:    make(chan struct{}),
	}
	go s.pump(stdout)
	return s, nil
}

// pump forwards shell output until the session ends or Close is called.
func (s *StreamClient) pump(stdout io.Reader) {
	defer close(s.out)
	buf := make([]byte, 32*1024)
	for {
		n, err := stdout.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			select {
			case s.out <- data:
			case <-s.stop:
				return
			}
		}
		if err != nil {
			if err != io.EOF {
				log.Printf("[sshpty] stream read error: %v", err)
			}
			return
		}
	}
}

func (s *StreamClient) WriteToPty(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrBridgeClosed
	}
	if _, err := s.stdin.Write(data); err != nil {
		return &ChannelError{Op: "write", Err: err}
	}
	return nil
}

func (s *StreamClient) ResizePty(cols, rows uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrBridgeClosed
	}
	if err := s.session.WindowChange(int(rows), int(cols)); err != nil {
		return &ChannelError{Op: "resize", Err: err}
	}
	return nil
}

func (s *StreamClient) Output() <-chan []byte { return s.out }

// Close tears down the session and connection. Idempotent; later calls
// return nil without effect.
func (s *StreamClient) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		close(s.stop)
		s.session.Close()
		s.client.Close()
	})
	return nil
}
