// Package sshpty connects remote SSH pseudo-terminals to the terminal
// session actor.
//
// The package exposes a small Transport capability ({write, resize, close})
// with two interchangeable implementations:
//
//   - BridgeClient: a dedicated I/O loop goroutine exclusively owns the PTY
//     channel and interleaves command-queue draining with channel reads. The
//     channel is never touched by any other goroutine, so no locking is
//     needed even though the underlying read/write primitives may block or
//     complete partially.
//   - StreamClient: writes go straight to the session stdin under a mutex
//     while a pump goroutine forwards stdout to the output channel.
//
// BridgeClient is the default; it has proven more reliable against servers
// that are slow to accept window-change requests mid-write. Callers receive
// output on a single-producer channel that is closed when the underlying
// shell ends, whatever the cause.
package sshpty
