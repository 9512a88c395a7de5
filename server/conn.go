//go:build linux

// File: server/conn.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Connection state and the handler-facing API. A connection is owned by
// exactly one worker from hand-off until teardown; every field below is
// mutated only on that worker's loop.

package server

import (
	"net"

	"github.com/momentics/hioload-tcp/api"
	"github.com/momentics/hioload-tcp/internal/netbuf"
)

type connState int32

const (
	stateActive connState = iota
	stateHalfClosed
	stateClosing
	stateClosed
)

// conn implements api.Conn.
type conn struct {
	fd   int
	addr net.Addr
	w    *worker

	rx netbuf.Buffer // bytes received, not yet consumed by the application
	tx netbuf.Buffer // bytes accepted by Send, not yet flushed

	state  connState
	eof    bool // peer performed an orderly shutdown
	paused bool // read interest withheld while rx is at cap
}

var _ api.Conn = (*conn)(nil)

func newConn(fd int, addr net.Addr) *conn {
	return &conn{fd: fd, addr: addr}
}

// guard enforces the single-writer contract: the API is only usable while
// the owning worker is inside a handler invocation.
func (c *conn) guard() error {
	if c.w == nil || !c.w.dispatching.Load() {
		return api.ErrOutsideHandler
	}
	return nil
}

// Recv copies up to len(p) buffered bytes into p, FIFO. Draining below the
// cap restores read interest withheld by back-pressure.
func (c *conn) Recv(p []byte) (int, error) {
	if err := c.guard(); err != nil {
		return 0, err
	}
	if c.state == stateClosed {
		return 0, api.ErrClosed
	}
	n := c.rx.Read(p)
	if c.paused && c.rx.Len() < c.w.cfg.BufferCap {
		c.w.resumeRead(c)
	}
	return n, nil
}

// BytesAvail reports the buffered byte count.
func (c *conn) BytesAvail() int { return c.rx.Len() }

// Send queues p and flushes what the socket will take right now. A hard
// write error transitions the connection to Closing and is returned to the
// caller; the error handler is not additionally invoked for it.
func (c *conn) Send(p []byte) (int, error) {
	if err := c.guard(); err != nil {
		return 0, err
	}
	if c.state >= stateClosing {
		return 0, api.ErrClosed
	}
	c.tx.Write(p)
	if err := c.w.flush(c); err != nil {
		c.state = stateClosing
		return 0, err
	}
	return len(p), nil
}

// Shutdown requests teardown once the in-flight handler invocation returns.
// Idempotent; calls after the first report ErrAlreadyClosing.
func (c *conn) Shutdown() error {
	if err := c.guard(); err != nil {
		return err
	}
	if c.state >= stateClosing {
		return api.ErrAlreadyClosing
	}
	c.state = stateClosing
	return nil
}

// EOF reports whether the peer closed its write side.
func (c *conn) EOF() bool { return c.eof }

// RemoteAddr returns the peer address.
func (c *conn) RemoteAddr() net.Addr { return c.addr }
