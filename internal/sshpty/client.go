package sshpty

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
)

// connectTimeout bounds the TCP dial and SSH handshake.
const connectTimeout = 30 * time.Second

// Default PTY geometry when the client does not specify one.
const (
	DefaultCols uint32 = 80
	DefaultRows uint32 = 24
)

// Credentials identify one remote shell target. They arrive in the first
// control message of a session and are never persisted by this package.
type Credentials struct {
	Hostname string `json:"hostname"`
	Port     uint16 `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// Addr returns the host:port dial address.
func (c Credentials) Addr() string {
	return net.JoinHostPort(c.Hostname, strconv.Itoa(int(c.Port)))
}

// Transport is the capability surface the session actor holds once
// connected. Implementations own the SSH connection and shell channel;
// Close is fire-and-forget and idempotent.
type Transport interface {
	WriteToPty(data []byte) error
	ResizePty(cols, rows uint32) error
	Close() error

	// Output returns the shell output stream. The channel is closed when
	// the shell ends, whatever the cause.
	Output() <-chan []byte
}

// Variant selects a Transport implementation.
type Variant string

const (
	// VariantBridge is the default: a dedicated I/O loop owns the channel.
	VariantBridge Variant = "bridge"
	// VariantStream writes directly to the session stdin under a mutex.
	VariantStream Variant = "stream"
)

// Connect dials the SSH server, allocates a PTY of the given size, starts
// the shell and returns a running Transport of the requested variant. An
// empty variant means VariantBridge.
func Connect(ctx context.Context, creds Credentials, cols, rows uint32, v Variant) (Transport, error) {
	if cols == 0 {
		cols = DefaultCols
	}
	if rows == 0 {
		rows = DefaultRows
	}
	switch v {
	case "", VariantBridge:
		return NewBridgeClient(ctx, creds, cols, rows)
	case VariantStream:
		return NewStreamClient(ctx, creds, cols, rows)
	default:
		return nil, fmt.Errorf("unknown transport variant %q", v)
	}
}

// Dial opens and authenticates an SSH connection using password auth.
func Dial(ctx context.Context, creds Credentials) (*ssh.Client, error) {
	cfg := &ssh.ClientConfig{
		User:            creds.Username,
		Auth:            []ssh.AuthMethod{ssh.Password(creds.Password)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         connectTimeout,
	}

	d := net.Dialer{Timeout: connectTimeout}
	conn, err := d.DialContext(ctx, "tcp", creds.Addr())
	if err != nil {
		return nil, &ConnectError{Host: creds.Hostname, Port: creds.Port, Err: err}
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, creds.Addr(), cfg)
	if err != nil {
		conn.Close()
		if strings.Contains(err.Error(), "unable to authenticate") {
			return nil, &AuthError{User: creds.Username, Host: creds.Hostname, Err: err}
		}
		return nil, &ConnectError{Host: creds.Hostname, Port: creds.Port, Err: err}
	}
	return ssh.NewClient(sshConn, chans, reqs), nil
}

// BridgeClient is the default Transport. All channel I/O happens on the
// bridge loop; WriteToPty and ResizePty only enqueue commands and never
// block, which keeps the session actor responsive.
type BridgeClient struct {
	client    *ssh.Client
	bridge    *Bridge
	closeOnce sync.Once
}

// NewBridgeClient connects, allocates the PTY and starts the bridge loop.
// Any failure along that chain tears down what was built and returns the
// typed error; no goroutines are left behind.
func NewBridgeClient(ctx context.Context, creds Credentials, cols, rows uint32) (*BridgeClient, error) {
	client, err := Dial(ctx, creds)
	if err != nil {
		return nil, err
	}

	ch, err := newSessionChannel(client, cols, rows)
	if err != nil {
		client.Close()
		return nil, err
	}

	b := NewBridge(ch)
	b.Start()
	return &BridgeClient{client: client, bridge: b}, nil
}

func (c *BridgeClient) WriteToPty(data []byte) error {
	return c.bridge.Write(data)
}

func (c *BridgeClient) ResizePty(cols, rows uint32) error {
	return c.bridge.Resize(cols, rows)
}

func (c *BridgeClient) Output() <-chan []byte {
	return c.bridge.Output()
}

// Close requests bridge termination and closes the SSH connection without
// waiting for the loop to exit. Closing the connection unblocks any channel
// write the loop may be stuck in.
func (c *BridgeClient) Close() error {
	c.closeOnce.Do(func() {
		c.bridge.Close()
		c.client.Close()
	})
	return nil
}

// Done is closed once the bridge loop has exited.
func (c *BridgeClient) Done() <-chan struct{} { return c.bridge.Done() }
