package termsession

import (
	"encoding/json"
	"strings"

	"github.com/opsdeck/termbridge/internal/sshpty"
)

// Client message types.
const (
	msgConnect    = "connect"
	msgInput      = "input"
	msgResize     = "resize"
	msgDisconnect = "disconnect"
)

// clientMessage is the decoded form of an inbound JSON control frame.
type clientMessage struct {
	Type        string              `json:"type"`
	Credentials *sshpty.Credentials `json:"credentials"`
	ColWidth    *uint32             `json:"col_width"`
	RowHeight   *uint32             `json:"row_height"`
	Data        *string             `json:"data"`
	Content     *string             `json:"content"` // accepted alias for data
	Width       uint32              `json:"width"`
	Height      uint32              `json:"height"`
}

// inputData returns the input payload, honoring the "content" field alias.
func (m *clientMessage) inputData() string {
	if m.Data != nil {
		return *m.Data
	}
	if m.Content != nil {
		return *m.Content
	}
	return ""
}

// parseClientMessage attempts to decode text as a control message. The
// second result is false when the text is not a recognizable control frame
// and should be treated as raw terminal input. Leading whitespace is
// tolerated before the opening brace.
func parseClientMessage(text string) (*clientMessage, bool) {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "{") {
		return nil, false
	}
	var m clientMessage
	if err := json.Unmarshal([]byte(trimmed), &m); err != nil {
		return nil, false
	}
	switch m.Type {
	case msgConnect, msgInput, msgResize, msgDisconnect:
		return &m, true
	}
	return nil, false
}

// looksLikeJSON reports whether text plausibly starts a JSON object. Strict
// mode uses this to decide between a protocol error and raw input.
func looksLikeJSON(text string) bool {
	return strings.HasPrefix(strings.TrimSpace(text), "{")
}

// Outbound frame shapes. Every emission is one complete JSON message.

type connectedFrame struct {
	Type     string `json:"type"`
	Host     string `json:"host"`
	Port     uint16 `json:"port"`
	Username string `json:"username"`
}

type outputFrame struct {
	Type    string `json:"type"`
	Data    string `json:"data"`
	Content string `json:"content"`
}

type errorFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type disconnectedFrame struct {
	Type string `json:"type"`
}

func marshalConnected(creds sshpty.Credentials) []byte {
	b, _ := json.Marshal(connectedFrame{
		Type:     "connected",
		Host:     creds.Hostname,
		Port:     creds.Port,
		Username: creds.Username,
	})
	return b
}

// marshalOutput carries the shell bytes in both "data" and "content" for
// compatibility with clients reading either field. Invalid UTF-8 is replaced
// during JSON encoding; terminal escape sequences pass through verbatim.
func marshalOutput(data []byte) []byte {
	s := string(data)
	b, _ := json.Marshal(outputFrame{Type: "output", Data: s, Content: s})
	return b
}

func marshalError(message string) []byte {
	b, _ := json.Marshal(errorFrame{Type: "error", Message: message})
	return b
}

func marshalDisconnected() []byte {
	b, _ := json.Marshal(disconnectedFrame{Type: "disconnected"})
	return b
}
