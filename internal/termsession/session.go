package termsession

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/opsdeck/termbridge/internal/logutil"
	"github.com/opsdeck/termbridge/internal/sshpty"
)

// Heartbeat tuning. Any inbound frame or pong refreshes the deadline; a
// client silent for longer than DefaultClientTimeout is disconnected.
const (
	DefaultHeartbeatInterval = 5 * time.Second
	DefaultClientTimeout     = 10 * time.Second
)

// MaxInputMessageSize caps a single input payload. Larger payloads are
// dropped rather than queued.
const MaxInputMessageSize = 64 * 1024

// Upper bounds for resize requests; values beyond these are clamped.
const (
	MaxResizeCols uint32 = 500
	MaxResizeRows uint32 = 500
)

// State is the lifecycle state of a session.
type State string

const (
	StateIdle       State = "idle"
	StateConnecting State = "connecting"
	StateConnected  State = "connected"
	StateClosing    State = "closing"
	StateClosed     State = "closed"
)

// Connector establishes the SSH transport for a connect request. It exists
// so tests can substitute a fake; the default is sshpty.Connect.
type Connector func(ctx context.Context, creds sshpty.Credentials, cols, rows uint32, v sshpty.Variant) (sshpty.Transport, error)

// Config carries per-session policy.
type Config struct {
	// Variant selects the transport implementation. Empty means bridge.
	Variant sshpty.Variant
	// Strict rejects malformed JSON control frames with an error frame
	// instead of forwarding them as raw terminal input.
	Strict bool

	HeartbeatInterval time.Duration
	ClientTimeout     time.Duration

	Connector Connector
}

// SessionInfo is a point-in-time snapshot for listing endpoints.
type SessionInfo struct {
	ID        string    `json:"id"`
	State     State     `json:"state"`
	Host      string    `json:"host,omitempty"`
	Port      uint16    `json:"port,omitempty"`
	Username  string    `json:"username,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// inboundMsg is one frame received from the client.
type inboundMsg struct {
	typ  websocket.MessageType
	data []byte
}

// connectResult reports the outcome of an async connect attempt.
type connectResult struct {
	transport sshpty.Transport
	creds     sshpty.Credentials
	err       error
}

// Session is one client-to-relay connection. The Run goroutine owns all
// state mutation and every outbound WebSocket write; other goroutines only
// feed its channels.
type Session struct {
	ID        string
	CreatedAt time.Time

	conn   *websocket.Conn
	cfg    Config
	events *EventLog

	mu     sync.Mutex
	state  State
	remote sshpty.Credentials // password cleared once connected

	// Owned by the Run goroutine.
	transport    sshpty.Transport
	output       <-chan []byte
	lastBeat     time.Time
	terminalSent bool

	inbound    chan inboundMsg
	connectRes chan connectResult
	pongs      chan struct{}
	quit       chan struct{}
	quitOnce   sync.Once
}

// NewSession wraps an accepted WebSocket connection. Zero durations in cfg
// take the package defaults.
func NewSession(conn *websocket.Conn, cfg Config, events *EventLog) *Session {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if cfg.ClientTimeout <= 0 {
		cfg.ClientTimeout = DefaultClientTimeout
	}
	if cfg.Connector == nil {
		cfg.Connector = func(ctx context.Context, creds sshpty.Credentials, cols, rows uint32, v sshpty.Variant) (sshpty.Transport, error) {
			return sshpty.Connect(ctx, creds, cols, rows, v)
		}
	}
	return &Session{
		ID:         uuid.New().String(),
		CreatedAt:  time.Now(),
		conn:       conn,
		cfg:        cfg,
		events:     events,
		state:      StateIdle,
		inbound:    make(chan inboundMsg, 16),
		connectRes: make(chan connectResult, 1),
		pongs:      make(chan struct{}, 1),
		quit:       make(chan struct{}),
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// Info returns a snapshot for listing endpoints.
func (s *Session) Info() SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SessionInfo{
		ID:        s.ID,
		State:     s.state,
		Host:      s.remote.Hostname,
		Port:      s.remote.Port,
		Username:  s.remote.Username,
		CreatedAt: s.CreatedAt,
	}
}

// Shutdown asks the actor to tear down. It does not wait; the actor emits
// its disconnected frame and releases the transport on its own goroutine.
func (s *Session) Shutdown() {
	s.quitOnce.Do(func() { close(s.quit) })
}

// Run drives the session until the client disconnects, the heartbeat times
// out, the shell ends, or Shutdown is called. It must be called exactly once.
func (s *Session) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer func() {
		// Marking the session Closed under the mutex and then draining
		// connectRes covers both sides of the handoff race: a connect
		// goroutine that already delivered leaves its transport here for
		// us to release, and one that has not yet delivered will observe
		// Closed and release it itself.
		s.setState(StateClosed)
		select {
		case res := <-s.connectRes:
			if res.transport != nil {
				res.transport.Close()
			}
		default:
		}
	}()

	go s.readLoop(ctx)

	s.lastBeat = time.Now()
	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-s.inbound:
			if !ok {
				// Client connection is gone; nothing left to write to.
				log.Printf("[session %s] client connection closed", s.ID)
				s.closeTransport()
				return
			}
			s.lastBeat = time.Now()
			if done := s.handleFrame(ctx, msg); done {
				return
			}

		case res := <-s.connectRes:
			s.handleConnectResult(ctx, res)

		case data, ok := <-s.output:
			if !ok {
				// The shell ended on its own: remote EOF or a fatal
				// transport error observed by the I/O loop.
				s.output = nil
				s.finish(ctx, "shell ended")
				return
			}
			if err := s.writeFrame(ctx, marshalOutput(data)); err != nil {
				s.closeTransport()
				return
			}

		case <-s.pongs:
			s.lastBeat = time.Now()

		case <-ticker.C:
			if time.Since(s.lastBeat) > s.cfg.ClientTimeout {
				log.Printf("[session %s] heartbeat timeout", s.ID)
				s.finish(ctx, "heartbeat timeout")
				return
			}
			go s.ping(ctx)

		case <-s.quit:
			s.finish(ctx, "shutdown requested")
			return

		case <-ctx.Done():
			s.closeTransport()
			return
		}
	}
}

// readLoop feeds client frames into the actor mailbox. Closing the mailbox
// is how the actor learns the connection ended.
func (s *Session) readLoop(ctx context.Context) {
	defer close(s.inbound)
	for {
		typ, data, err := s.conn.Read(ctx)
		if err != nil {
			return
		}
		select {
		case s.inbound <- inboundMsg{typ: typ, data: data}:
		case <-ctx.Done():
			return
		}
	}
}

// ping sends a heartbeat and reports the pong back to the actor. Runs off
// the actor goroutine so a slow peer cannot stall frame handling.
func (s *Session) ping(ctx context.Context) {
	pctx, cancel := context.WithTimeout(ctx, s.cfg.ClientTimeout)
	defer cancel()
	if err := s.conn.Ping(pctx); err != nil {
		return
	}
	select {
	case s.pongs <- struct{}{}:
	default:
	}
}

// handleFrame dispatches one client frame. Binary frames are decoded as
// UTF-8 and handled exactly like text. The returned bool reports that the
// session is finished and Run should return.
func (s *Session) handleFrame(ctx context.Context, msg inboundMsg) bool {
	// Do not trim: input consisting only of "\r" or "\n" is a keystroke,
	// not noise.
	text := string(msg.data)
	if text == "" {
		return false
	}

	m, ok := parseClientMessage(text)
	if !ok {
		if s.cfg.Strict && looksLikeJSON(text) {
			s.writeFrame(ctx, marshalError("malformed control message"))
			return false
		}
		s.handleInput(ctx, text)
		return false
	}

	switch m.Type {
	case msgConnect:
		s.handleConnect(ctx, m)
	case msgInput:
		s.handleInput(ctx, m.inputData())
	case msgResize:
		s.handleResize(ctx, m.Width, m.Height)
	case msgDisconnect:
		s.finish(ctx, "client requested disconnect")
		return true
	}
	return false
}

func (s *Session) handleConnect(ctx context.Context, m *clientMessage) {
	if s.State() != StateIdle {
		s.writeFrame(ctx, marshalError("an active SSH connection already exists"))
		return
	}
	if m.Credentials == nil {
		s.writeFrame(ctx, marshalError("connect requires credentials"))
		return
	}

	creds := *m.Credentials
	var cols, rows uint32
	if m.ColWidth != nil {
		cols = *m.ColWidth
	}
	if m.RowHeight != nil {
		rows = *m.RowHeight
	}

	log.Printf("[session %s] connecting to %s@%s:%d", s.ID,
		logutil.SanitizeForLog(creds.Username), logutil.SanitizeForLog(creds.Hostname), creds.Port)
	s.setState(StateConnecting)

	go func() {
		tr, err := s.cfg.Connector(ctx, creds, cols, rows, s.cfg.Variant)
		// Deliver under the mutex so the result cannot slip into the
		// buffer after Run's exit drain has already looked. At most one
		// connect is in flight, so the buffered send never blocks.
		s.mu.Lock()
		if s.state == StateClosed {
			s.mu.Unlock()
			if tr != nil {
				tr.Close()
			}
			return
		}
		s.connectRes <- connectResult{transport: tr, creds: creds, err: err}
		s.mu.Unlock()
	}()
}

func (s *Session) handleConnectResult(ctx context.Context, res connectResult) {
	if s.State() != StateConnecting {
		// Torn down while the connect was in flight.
		if res.transport != nil {
			res.transport.Close()
		}
		return
	}

	if res.err != nil {
		s.setState(StateIdle)
		msg := connectFailureMessage(res.err)
		log.Printf("[session %s] %s", s.ID, msg)
		s.recordEvent(EventConnectFailed, msg)
		s.writeFrame(ctx, marshalError(msg))
		return
	}

	s.transport = res.transport
	s.output = res.transport.Output()

	res.creds.Password = ""
	s.mu.Lock()
	s.remote = res.creds
	s.state = StateConnected
	s.mu.Unlock()

	log.Printf("[session %s] connected to %s@%s:%d", s.ID,
		logutil.SanitizeForLog(res.creds.Username), logutil.SanitizeForLog(res.creds.Hostname), res.creds.Port)
	s.recordEvent(EventConnected, res.creds.Hostname)
	s.writeFrame(ctx, marshalConnected(res.creds))
}

func (s *Session) handleInput(ctx context.Context, data string) {
	if s.State() != StateConnected {
		s.writeFrame(ctx, marshalError("SSH connection not established"))
		return
	}
	if len(data) > MaxInputMessageSize {
		log.Printf("[session %s] input message too large: %d bytes", s.ID, len(data))
		return
	}
	if err := s.transport.WriteToPty([]byte(data)); err != nil {
		log.Printf("[session %s] pty write failed: %v", s.ID, err)
	}
}

func (s *Session) handleResize(ctx context.Context, width, height uint32) {
	if s.State() != StateConnected {
		s.writeFrame(ctx, marshalError("SSH connection not established"))
		return
	}
	if width == 0 || height == 0 {
		return
	}
	if width > MaxResizeCols {
		width = MaxResizeCols
	}
	if height > MaxResizeRows {
		height = MaxResizeRows
	}
	if err := s.transport.ResizePty(width, height); err != nil {
		log.Printf("[session %s] pty resize failed: %v", s.ID, err)
	}
}

// finish performs terminal teardown: at most one disconnected frame, a
// fire-and-forget transport close, and the Closing state. The caller
// returns from Run right after, which marks the session Closed.
func (s *Session) finish(ctx context.Context, reason string) {
	s.setState(StateClosing)
	if !s.terminalSent {
		s.terminalSent = true
		s.writeFrame(ctx, marshalDisconnected())
	}
	s.closeTransport()
	s.recordEvent(EventDisconnected, reason)
	log.Printf("[session %s] closed: %s", s.ID, reason)
}

// closeTransport releases the transport without waiting for the I/O loop to
// exit; transport teardown can take unbounded time and must not stall the
// actor.
func (s *Session) closeTransport() {
	if s.transport != nil {
		s.transport.Close()
	}
}

// writeFrame sends one complete frame with a bounded deadline. A client that
// has stopped reading makes the write time out, which closes the connection;
// the read loop then observes the failure and the actor tears down. The actor
// itself is never parked on a peer indefinitely.
func (s *Session) writeFrame(ctx context.Context, payload []byte) error {
	wctx, cancel := context.WithTimeout(ctx, s.cfg.ClientTimeout)
	defer cancel()
	return s.conn.Write(wctx, websocket.MessageText, payload)
}

func (s *Session) recordEvent(t EventType, details string) {
	if s.events != nil {
		s.events.Record(s.ID, t, details)
	}
}

// connectFailureMessage maps the transport error taxonomy to the one error
// frame the client sees.
func connectFailureMessage(err error) string {
	var authErr *sshpty.AuthError
	var connErr *sshpty.ConnectError
	var chanErr *sshpty.ChannelError
	switch {
	case errors.As(err, &authErr):
		return "SSH authentication failed: " + authErr.Err.Error()
	case errors.As(err, &chanErr):
		return "failed to create PTY session: " + chanErr.Error()
	case errors.As(err, &connErr):
		return "SSH connection failed: " + connErr.Err.Error()
	default:
		return "SSH connection failed: " + err.Error()
	}
}
