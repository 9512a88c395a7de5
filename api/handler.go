// File: api/handler.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package api

// ConnectHandler runs once per accepted connection, on the owning worker.
type ConnectHandler func(Conn)

// RecvHandler runs exactly once per readiness signal after the edge-triggered
// drain completes. Unconsumed bytes stay buffered; the handler is not
// re-invoked solely because buffered bytes remain.
type RecvHandler func(Conn)

// ErrorHandler receives per-connection failures. Accept-path failures with no
// associated connection are delivered with a nil Conn.
type ErrorHandler func(Conn, *Error)
