package sshpty

import (
	"errors"
	"fmt"
)

var (
	// ErrWouldBlock reports that a non-blocking channel read or write made
	// no progress and should be retried later. It is internal to the bridge
	// loop and never surfaced to clients.
	ErrWouldBlock = errors.New("operation would block")

	// ErrBridgeClosed reports that a command was submitted after the bridge
	// I/O loop observed Close and stopped accepting commands.
	ErrBridgeClosed = errors.New("pty bridge is closed")
)

// ConnectError represents a transport-level failure to reach the SSH server.
type ConnectError struct {
	Host string
	Port uint16
	Err  error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("ssh connect %s:%d: %v", e.Host, e.Port, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// AuthError represents a credential rejection by the SSH server.
type AuthError struct {
	User string
	Host string
	Err  error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("ssh auth %s@%s: %v", e.User, e.Host, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// ChannelError represents a PTY allocation or channel-level failure after
// the SSH connection itself succeeded.
type ChannelError struct {
	Op  string // "open-session", "request-pty", "start-shell", "write", "resize"
	Err error
}

func (e *ChannelError) Error() string {
	return fmt.Sprintf("ssh channel %s: %v", e.Op, e.Err)
}

func (e *ChannelError) Unwrap() error { return e.Err }
