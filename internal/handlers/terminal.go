package handlers

import (
	"log"
	"net/http"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/opsdeck/termbridge/internal/config"
	"github.com/opsdeck/termbridge/internal/sshpty"
	"github.com/opsdeck/termbridge/internal/termsession"
)

// maxClientFrameSize caps a single WebSocket frame from the client. Control
// frames are small; this mainly bounds pasted input.
const maxClientFrameSize = 1024 * 1024

// SessionMgr is set from main.go during init.
var SessionMgr *termsession.Manager

// TerminalWS upgrades the request to a WebSocket and runs an interactive
// terminal session over it. The client drives the session with JSON control
// frames (connect, input, resize, disconnect); the relay answers with
// connected, output, error and disconnected frames.
func TerminalWS(w http.ResponseWriter, r *http.Request) {
	if SessionMgr == nil {
		http.Error(w, "Session manager not initialized", http.StatusServiceUnavailable)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		log.Printf("Failed to accept terminal websocket: %v", err)
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(maxClientFrameSize)

	s := SessionMgr.NewSession(conn, termsession.Config{
		Variant: sshpty.Variant(config.Cfg.TransportVariant),
		Strict:  config.Cfg.StrictProtocol,
	})
	defer SessionMgr.Remove(s.ID)

	s.Run(r.Context())
	conn.Close(websocket.StatusNormalClosure, "session ended")
}

// ListSessions returns a snapshot of every registered session.
func ListSessions(w http.ResponseWriter, r *http.Request) {
	if SessionMgr == nil {
		writeError(w, http.StatusServiceUnavailable, "Session manager not initialized")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"sessions": SessionMgr.List(),
	})
}

// CloseSession asks one session to tear down. The actual teardown is
// asynchronous; the session disappears from the list once its Run loop
// returns.
func CloseSession(w http.ResponseWriter, r *http.Request) {
	if SessionMgr == nil {
		writeError(w, http.StatusServiceUnavailable, "Session manager not initialized")
		return
	}
	id := chi.URLParam(r, "sessionId")
	s := SessionMgr.Get(id)
	if s == nil {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}
	s.Shutdown()
	writeJSON(w, http.StatusOK, map[string]string{"status": "closing"})
}

// SessionEvents returns the lifecycle event history. With a sessionId URL
// parameter it is scoped to one session, otherwise it covers all sessions
// still within the retention window.
func SessionEvents(w http.ResponseWriter, r *http.Request) {
	if SessionMgr == nil {
		writeError(w, http.StatusServiceUnavailable, "Session manager not initialized")
		return
	}
	events := SessionMgr.Events()
	if id := chi.URLParam(r, "sessionId"); id != "" {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"events": events.ForSession(id),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"events": events.All(),
	})
}
