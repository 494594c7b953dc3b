// Package termsession implements the WebSocket-facing terminal session
// actor and its registry.
//
// One Session runs per client connection. The actor goroutine owns every
// outbound WebSocket write, so the client always receives complete, never
// interleaved frames. It never blocks: inbound frames arrive from a reader
// goroutine through a mailbox channel, SSH connects run in their own
// goroutine and report through a result channel, and all transport
// operations are non-blocking queue submissions.
//
// The client protocol is JSON control frames (connect, input, resize,
// disconnect) with a deliberate leniency rule: text that does not parse as a
// known control message is forwarded verbatim as raw terminal input, because
// keystrokes legitimately include characters like a leading brace. A strict
// mode is available for deployments that want hard protocol validation.
package termsession
