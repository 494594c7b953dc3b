package termsession

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/opsdeck/termbridge/internal/sshpty"
)

// fakeTransport stands in for an SSH transport so session behavior can be
// tested without a real shell.
type fakeTransport struct {
	mu      sync.Mutex
	wrote   []byte
	resizes [][2]uint32
	closes  int

	out chan []byte
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{out: make(chan []byte, 16)}
}

func (f *fakeTransport) WriteToPty(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.wrote = append(f.wrote, data...)
	return nil
}

func (f *fakeTransport) ResizePty(cols, rows uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resizes = append(f.resizes, [2]uint32{cols, rows})
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	return nil
}

func (f *fakeTransport) Output() <-chan []byte { return f.out }

func (f *fakeTransport) written() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return string(f.wrote)
}

func (f *fakeTransport) closeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closes
}

func fixedConnector(tr sshpty.Transport, err error) Connector {
	return func(ctx context.Context, creds sshpty.Credentials, cols, rows uint32, v sshpty.Variant) (sshpty.Transport, error) {
		return tr, err
	}
}

// startSessionServer runs a WebSocket endpoint that serves one session per
// connection and returns a dialed client connection plus the manager.
func startSessionServer(t *testing.T, cfg Config) (*websocket.Conn, *Manager) {
	t.Helper()

	mgr := NewManager()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
		if err != nil {
			return
		}
		defer conn.CloseNow()
		s := mgr.NewSession(conn, cfg)
		defer mgr.Remove(s.ID)
		s.Run(r.Context())
		conn.Close(websocket.StatusNormalClosure, "session ended")
	}))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.CloseNow() })
	return conn, mgr
}

func sendText(t *testing.T, conn *websocket.Conn, text string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, []byte(text)); err != nil {
		t.Fatalf("write %q: %v", text, err)
	}
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]interface{} {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("decode frame %q: %v", data, err)
	}
	return m
}

// expectFrame reads frames until one of the wanted type arrives, skipping
// output frames in between.
func expectFrame(t *testing.T, conn *websocket.Conn, typ string) map[string]interface{} {
	t.Helper()
	for i := 0; i < 20; i++ {
		m := readFrame(t, conn)
		if m["type"] == typ {
			return m
		}
		if m["type"] == "output" {
			continue
		}
		t.Fatalf("got frame %v, want type %q", m, typ)
	}
	t.Fatalf("no %q frame in 20 reads", typ)
	return nil
}

const connectFrame = `{"type":"connect","credentials":{"hostname":"box1","port":22,"username":"ops","password":"pw"},"col_width":100,"row_height":30}`

func TestSessionConnect(t *testing.T) {
	tr := newFakeTransport()
	conn, mgr := startSessionServer(t, Config{Connector: fixedConnector(tr, nil)})

	sendText(t, conn, connectFrame)
	m := expectFrame(t, conn, "connected")
	if m["host"] != "box1" || m["username"] != "ops" {
		t.Errorf("connected frame = %v", m)
	}

	infos := mgr.List()
	if len(infos) != 1 {
		t.Fatalf("%d sessions registered", len(infos))
	}
	if infos[0].State != StateConnected {
		t.Errorf("state = %s", infos[0].State)
	}
}

func TestSessionConnectFailureAllowsRetry(t *testing.T) {
	// First attempt fails auth, second succeeds. The failure must return the
	// session to idle so the retry is accepted.
	tr := newFakeTransport()
	var mu sync.Mutex
	attempts := 0
	connector := func(ctx context.Context, creds sshpty.Credentials, cols, rows uint32, v sshpty.Variant) (sshpty.Transport, error) {
		mu.Lock()
		defer mu.Unlock()
		attempts++
		if attempts == 1 {
			return nil, &sshpty.AuthError{User: creds.Username, Host: creds.Hostname, Err: errors.New("denied")}
		}
		return tr, nil
	}
	conn, mgr := startSessionServer(t, Config{Connector: connector})

	sendText(t, conn, connectFrame)
	m := expectFrame(t, conn, "error")
	msg, _ := m["message"].(string)
	if !strings.HasPrefix(msg, "SSH authentication failed") {
		t.Errorf("error message = %q", msg)
	}

	sendText(t, conn, connectFrame)
	expectFrame(t, conn, "connected")

	events := mgr.Events().All()
	var sawFailure bool
	for _, e := range events {
		if e.Type == EventConnectFailed {
			sawFailure = true
		}
	}
	if !sawFailure {
		t.Error("connect failure not recorded in event log")
	}
}

func TestSessionSecondConnectRejected(t *testing.T) {
	tr := newFakeTransport()
	conn, _ := startSessionServer(t, Config{Connector: fixedConnector(tr, nil)})

	sendText(t, conn, connectFrame)
	expectFrame(t, conn, "connected")

	sendText(t, conn, connectFrame)
	m := expectFrame(t, conn, "error")
	if msg, _ := m["message"].(string); !strings.Contains(msg, "already exists") {
		t.Errorf("error message = %q", msg)
	}
}

func TestSessionInputForwarding(t *testing.T) {
	tr := newFakeTransport()
	conn, _ := startSessionServer(t, Config{Connector: fixedConnector(tr, nil)})

	sendText(t, conn, connectFrame)
	expectFrame(t, conn, "connected")

	sendText(t, conn, `{"type":"input","data":"ls\r"}`)
	sendText(t, conn, `{"type":"input","content":"pwd\r"}`)
	// Plain text that is not a control frame goes to the shell as-is.
	sendText(t, conn, "\r")

	want := "ls\rpwd\r\r"
	deadline := time.Now().Add(2 * time.Second)
	for tr.written() != want && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := tr.written(); got != want {
		t.Errorf("forwarded input = %q, want %q", got, want)
	}
}

func TestSessionInputBeforeConnect(t *testing.T) {
	conn, _ := startSessionServer(t, Config{Connector: fixedConnector(newFakeTransport(), nil)})

	sendText(t, conn, `{"type":"input","data":"ls\r"}`)
	m := expectFrame(t, conn, "error")
	if msg, _ := m["message"].(string); !strings.Contains(msg, "not established") {
		t.Errorf("error message = %q", msg)
	}
}

func TestSessionResizeClamped(t *testing.T) {
	tr := newFakeTransport()
	conn, _ := startSessionServer(t, Config{Connector: fixedConnector(tr, nil)})

	sendText(t, conn, connectFrame)
	expectFrame(t, conn, "connected")

	sendText(t, conn, `{"type":"resize","width":2000,"height":1000}`)
	sendText(t, conn, `{"type":"resize","width":120,"height":40}`)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		tr.mu.Lock()
		n := len(tr.resizes)
		tr.mu.Unlock()
		if n == 2 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	tr.mu.Lock()
	defer tr.mu.Unlock()
	if len(tr.resizes) != 2 {
		t.Fatalf("%d resizes applied", len(tr.resizes))
	}
	if tr.resizes[0] != [2]uint32{MaxResizeCols, MaxResizeRows} {
		t.Errorf("oversized resize not clamped: %v", tr.resizes[0])
	}
	if tr.resizes[1] != [2]uint32{120, 40} {
		t.Errorf("resize = %v", tr.resizes[1])
	}
}

func TestSessionOutputForwarding(t *testing.T) {
	tr := newFakeTransport()
	conn, _ := startSessionServer(t, Config{Connector: fixedConnector(tr, nil)})

	sendText(t, conn, connectFrame)
	expectFrame(t, conn, "connected")

	tr.out <- []byte("total 42\r\n")
	m := expectFrame(t, conn, "output")
	if m["data"] != "total 42\r\n" {
		t.Errorf("output frame = %v", m)
	}
	if m["content"] != "total 42\r\n" {
		t.Errorf("output frame missing content alias: %v", m)
	}
}

func TestSessionShellEnded(t *testing.T) {
	// Closing the output channel simulates the shell exiting on its own; the
	// client must see exactly one disconnected frame and then a closed socket.
	tr := newFakeTransport()
	conn, _ := startSessionServer(t, Config{Connector: fixedConnector(tr, nil)})

	sendText(t, conn, connectFrame)
	expectFrame(t, conn, "connected")

	close(tr.out)
	expectFrame(t, conn, "disconnected")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, _, err := conn.Read(ctx); err == nil {
		t.Error("expected socket close after disconnected frame")
	}
	if tr.closeCount() == 0 {
		t.Error("transport not closed")
	}
}

func TestSessionClientDisconnectRequest(t *testing.T) {
	tr := newFakeTransport()
	conn, mgr := startSessionServer(t, Config{Connector: fixedConnector(tr, nil)})

	sendText(t, conn, connectFrame)
	expectFrame(t, conn, "connected")

	sendText(t, conn, `{"type":"disconnect"}`)
	expectFrame(t, conn, "disconnected")

	deadline := time.Now().Add(2 * time.Second)
	for mgr.Count() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if mgr.Count() != 0 {
		t.Error("session still registered after disconnect")
	}
	if tr.closeCount() == 0 {
		t.Error("transport not closed")
	}
}

func TestSessionStrictProtocol(t *testing.T) {
	tr := newFakeTransport()
	conn, _ := startSessionServer(t, Config{Connector: fixedConnector(tr, nil), Strict: true})

	sendText(t, conn, connectFrame)
	expectFrame(t, conn, "connected")

	// Looks like JSON but is broken: strict mode rejects it instead of
	// forwarding line noise to the shell.
	sendText(t, conn, `{"type":"input","data":`)
	m := expectFrame(t, conn, "error")
	if msg, _ := m["message"].(string); !strings.Contains(msg, "malformed") {
		t.Errorf("error message = %q", msg)
	}
	if got := tr.written(); got != "" {
		t.Errorf("malformed frame leaked to shell: %q", got)
	}

	// Plain keystrokes still pass through in strict mode.
	sendText(t, conn, "ls\r")
	deadline := time.Now().Add(2 * time.Second)
	for tr.written() != "ls\r" && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := tr.written(); got != "ls\r" {
		t.Errorf("raw input = %q", got)
	}
}

func TestSessionLenientMalformedJSON(t *testing.T) {
	// Default policy: anything that fails to parse is terminal input.
	tr := newFakeTransport()
	conn, _ := startSessionServer(t, Config{Connector: fixedConnector(tr, nil)})

	sendText(t, conn, connectFrame)
	expectFrame(t, conn, "connected")

	sendText(t, conn, `{"type":"unknown-thing"}`)
	deadline := time.Now().Add(2 * time.Second)
	want := `{"type":"unknown-thing"}`
	for tr.written() != want && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := tr.written(); got != want {
		t.Errorf("forwarded = %q, want %q", got, want)
	}
}

func TestSessionBinaryFrameAsText(t *testing.T) {
	tr := newFakeTransport()
	conn, _ := startSessionServer(t, Config{Connector: fixedConnector(tr, nil)})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageBinary, []byte(connectFrame)); err != nil {
		t.Fatalf("write binary: %v", err)
	}
	expectFrame(t, conn, "connected")
}

func TestSessionHeartbeatTimeout(t *testing.T) {
	tr := newFakeTransport()
	conn, _ := startSessionServer(t, Config{
		Connector:         fixedConnector(tr, nil),
		HeartbeatInterval: 20 * time.Millisecond,
		ClientTimeout:     60 * time.Millisecond,
	})

	sendText(t, conn, connectFrame)
	expectFrame(t, conn, "connected")

	// Stop reading so pings go unanswered, then resume: the backlog must end
	// with a single disconnected frame.
	time.Sleep(300 * time.Millisecond)
	expectFrame(t, conn, "disconnected")
	if tr.closeCount() == 0 {
		t.Error("transport not closed after heartbeat timeout")
	}
}

func TestSessionTeardownRaceClosesPendingTransport(t *testing.T) {
	// A disconnect racing a slow connector must never leak the transport:
	// whichever side loses the race is responsible for closing it.
	delays := []time.Duration{0, 2 * time.Millisecond, 10 * time.Millisecond, 50 * time.Millisecond}
	for _, delay := range delays {
		tr := newFakeTransport()
		connector := func(ctx context.Context, creds sshpty.Credentials, cols, rows uint32, v sshpty.Variant) (sshpty.Transport, error) {
			time.Sleep(delay)
			return tr, nil
		}
		conn, mgr := startSessionServer(t, Config{Connector: connector})

		sendText(t, conn, connectFrame)
		sendText(t, conn, `{"type":"disconnect"}`)

		deadline := time.Now().Add(5 * time.Second)
		for tr.closeCount() == 0 && time.Now().Before(deadline) {
			time.Sleep(5 * time.Millisecond)
		}
		if tr.closeCount() == 0 {
			t.Fatalf("delay %v: transport leaked after teardown race", delay)
		}

		for mgr.Count() != 0 && time.Now().Before(deadline) {
			time.Sleep(5 * time.Millisecond)
		}
		if mgr.Count() != 0 {
			t.Fatalf("delay %v: session still registered", delay)
		}
		conn.CloseNow()
	}
}

func TestSessionStalledClientEvicted(t *testing.T) {
	// A connected client that stops reading must not park the actor forever:
	// outbound writes are deadline-bound, so the stall surfaces as a write
	// failure and the session tears down, releasing the transport.
	tr := newFakeTransport()
	conn, mgr := startSessionServer(t, Config{
		Connector:         fixedConnector(tr, nil),
		HeartbeatInterval: 50 * time.Millisecond,
		ClientTimeout:     200 * time.Millisecond,
	})

	sendText(t, conn, connectFrame)
	expectFrame(t, conn, "connected")

	// Flood the output path while the client reads nothing. Once the socket
	// buffers fill, the actor's next write must fail within its deadline.
	stop := make(chan struct{})
	defer close(stop)
	chunk := []byte(strings.Repeat("x", 64*1024))
	go func() {
		for {
			select {
			case tr.out <- chunk:
			case <-stop:
				return
			}
		}
	}()

	deadline := time.Now().Add(15 * time.Second)
	for mgr.Count() != 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if mgr.Count() != 0 {
		t.Fatal("actor stalled on a non-reading client")
	}
	if tr.closeCount() == 0 {
		t.Error("transport not released after eviction")
	}
}

func TestSessionShutdown(t *testing.T) {
	tr := newFakeTransport()
	conn, mgr := startSessionServer(t, Config{Connector: fixedConnector(tr, nil)})

	sendText(t, conn, connectFrame)
	expectFrame(t, conn, "connected")

	mgr.CloseAll()
	expectFrame(t, conn, "disconnected")
}
