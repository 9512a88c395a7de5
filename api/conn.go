// File: api/conn.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package api

import "net"

// Conn is the per-connection surface exposed inside handlers.
//
// The Conn API is valid only from within the owning worker during a handler
// invocation. Recv, Send, and Shutdown enforce this and fail with
// ErrOutsideHandler; the read-only accessors (BytesAvail, EOF, RemoteAddr)
// return stale values outside that window. No method performs blocking I/O:
// Recv drains the already-filled receive buffer and Send queues into the
// pending-write buffer with an immediate non-blocking flush attempt.
type Conn interface {
	// Recv copies up to len(p) buffered bytes into p in FIFO order,
	// removing them from the receive buffer. It returns 0 only when the
	// buffer is empty.
	Recv(p []byte) (int, error)

	// BytesAvail reports the current buffered byte count. Side-effect-free.
	BytesAvail() int

	// Send appends p to the pending-write buffer and attempts an immediate
	// non-blocking flush. Bytes the socket cannot take now stay queued and
	// write interest is registered; the returned count is len(p) unless the
	// connection is past Active/HalfClosed.
	Send(p []byte) (int, error)

	// Shutdown is idempotent. The first call transitions the connection to
	// Closing and schedules removal after the in-flight handler invocation
	// returns; subsequent calls return ErrAlreadyClosing.
	Shutdown() error

	// EOF reports whether the peer performed an orderly shutdown. It is the
	// end-of-stream indication distinct from the error path: BytesAvail may
	// be zero both when the stream is merely drained and when the peer
	// closed, and only EOF distinguishes the two.
	EOF() bool

	// RemoteAddr returns the peer address.
	RemoteAddr() net.Addr
}
