//go:build linux

// File: server/server_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server

import (
	"io"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-tcp/api"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// startServer runs Start in the background, waits until the server is bound,
// and wires shutdown into test cleanup.
func startServer(t *testing.T, s *Server) net.Addr {
	t.Helper()
	errCh := make(chan error, 1)
	go func() { errCh <- s.Start("127.0.0.1:0") }()

	deadline := time.Now().Add(5 * time.Second)
	for s.Addr() == nil {
		select {
		case err := <-errCh:
			t.Fatalf("Start failed: %v", err)
		default:
		}
		if time.Now().After(deadline) {
			t.Fatal("server did not reach Running")
		}
		time.Sleep(time.Millisecond)
	}
	t.Cleanup(func() {
		s.Shutdown()
		select {
		case err := <-errCh:
			if err != nil {
				t.Errorf("Start returned error on shutdown: %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Error("server did not shut down in time")
		}
	})
	return s.Addr()
}

func dial(t *testing.T, addr net.Addr) net.Conn {
	t.Helper()
	c, err := net.Dial("tcp", addr.String())
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

// Scenario: one 5-byte packet produces one recv dispatch delivering exactly
// those bytes.
func TestRecvSinglePacket(t *testing.T) {
	s := New(nil, WithWorkers(2), WithLogger(quietLogger()))
	var invocations atomic.Int32
	got := make(chan string, 4)
	require.NoError(t, s.OnRecv(func(c api.Conn) {
		invocations.Add(1)
		buf := make([]byte, 10)
		n, err := c.Recv(buf)
		if err != nil {
			t.Errorf("recv: %v", err)
		}
		got <- string(buf[:n])
	}))
	addr := startServer(t, s)

	cl := dial(t, addr)
	_, err := cl.Write([]byte("hello"))
	require.NoError(t, err)

	select {
	case msg := <-got:
		assert.Equal(t, "hello", msg)
	case <-time.After(5 * time.Second):
		t.Fatal("recv handler never ran")
	}
	time.Sleep(100 * time.Millisecond)
	assert.EqualValues(t, 1, invocations.Load(), "one packet, one readiness signal, one dispatch")
}

// Scenario: 2000 bytes split across two rapid writes arrive in full across
// however many dispatches the edges produce.
func TestDrainingCompleteness(t *testing.T) {
	s := New(nil, WithWorkers(1), WithLogger(quietLogger()))
	var total atomic.Int64
	require.NoError(t, s.OnRecv(func(c api.Conn) {
		buf := make([]byte, 4096)
		for {
			n, err := c.Recv(buf)
			if err != nil || n == 0 {
				return
			}
			total.Add(int64(n))
		}
	}))
	addr := startServer(t, s)

	cl := dial(t, addr)
	payload := make([]byte, 2000)
	_, err := cl.Write(payload[:900])
	require.NoError(t, err)
	_, err = cl.Write(payload[900:])
	require.NoError(t, err)

	deadline := time.Now().Add(5 * time.Second)
	for total.Load() != 2000 {
		if time.Now().After(deadline) {
			t.Fatalf("received %d of 2000 bytes", total.Load())
		}
		time.Sleep(time.Millisecond)
	}
	time.Sleep(100 * time.Millisecond)
	assert.EqualValues(t, 2000, total.Load(), "no bytes invented or duplicated")
}

// Scenario: orderly peer close surfaces as EOF with an empty buffer, no
// error handler, clean removal.
func TestOrderlyClose(t *testing.T) {
	s := New(nil, WithWorkers(1), WithLogger(quietLogger()))
	eofCh := make(chan bool, 1)
	errCh := make(chan *api.Error, 1)
	require.NoError(t, s.OnRecv(func(c api.Conn) {
		if c.EOF() {
			eofCh <- c.BytesAvail() == 0
		}
	}))
	require.NoError(t, s.OnError(func(_ api.Conn, e *api.Error) { errCh <- e }))
	addr := startServer(t, s)

	cl, err := net.Dial("tcp", addr.String())
	require.NoError(t, err)
	cl.Close()

	select {
	case empty := <-eofCh:
		assert.True(t, empty, "orderly close after no data must report an empty buffer")
	case <-time.After(5 * time.Second):
		t.Fatal("EOF never surfaced")
	}
	select {
	case e := <-errCh:
		t.Fatalf("error handler invoked on orderly close: %v", e)
	case <-time.After(200 * time.Millisecond):
	}
	waitFor(t, func() bool { return s.Stats().Active == 0 })
}

// Scenario: bind conflict fails Start immediately with AddressInUse and
// spawns nothing.
func TestBindConflict(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()

	s := New(nil, WithLogger(quietLogger()))
	err = s.Start(l.Addr().String())
	require.Error(t, err)
	var aerr *api.Error
	require.ErrorAs(t, err, &aerr)
	assert.Equal(t, api.KindAddressInUse, aerr.Kind)
	assert.Nil(t, s.Addr(), "failed setup must not reach Running")
}

func TestRegistrationLockout(t *testing.T) {
	s := New(nil, WithWorkers(1), WithLogger(quietLogger()))
	require.NoError(t, s.OnRecv(func(api.Conn) {}))
	startServer(t, s)

	assert.ErrorIs(t, s.OnRecv(func(api.Conn) {}), api.ErrRunning)
	assert.ErrorIs(t, s.OnConnect(func(api.Conn) {}), api.ErrRunning)
	assert.ErrorIs(t, s.OnError(func(api.Conn, *api.Error) {}), api.ErrRunning)
}

func TestShutdownIdempotent(t *testing.T) {
	s := New(nil, WithWorkers(1), WithLogger(quietLogger()))
	results := make(chan [2]error, 1)
	require.NoError(t, s.OnRecv(func(c api.Conn) {
		results <- [2]error{c.Shutdown(), c.Shutdown()}
	}))
	addr := startServer(t, s)

	cl := dial(t, addr)
	_, err := cl.Write([]byte("x"))
	require.NoError(t, err)

	select {
	case rs := <-results:
		assert.NoError(t, rs[0])
		assert.ErrorIs(t, rs[1], api.ErrAlreadyClosing)
	case <-time.After(5 * time.Second):
		t.Fatal("recv handler never ran")
	}
	waitFor(t, func() bool { return s.Stats().Active == 0 })
}

func TestConnAPIOutsideHandler(t *testing.T) {
	s := New(nil, WithWorkers(1), WithLogger(quietLogger()))
	connCh := make(chan api.Conn, 1)
	require.NoError(t, s.OnConnect(func(c api.Conn) { connCh <- c }))
	addr := startServer(t, s)

	dial(t, addr)
	var c api.Conn
	select {
	case c = <-connCh:
	case <-time.After(5 * time.Second):
		t.Fatal("connect handler never ran")
	}
	// Let the connect invocation finish; afterwards the connection is
	// quiescent and these calls originate outside any dispatch window.
	time.Sleep(100 * time.Millisecond)
	_, err := c.Recv(make([]byte, 1))
	assert.ErrorIs(t, err, api.ErrOutsideHandler)
	_, err = c.Send([]byte("x"))
	assert.ErrorIs(t, err, api.ErrOutsideHandler)
	assert.ErrorIs(t, c.Shutdown(), api.ErrOutsideHandler)
}

func TestTableConsistency(t *testing.T) {
	const clients = 10
	s := New(nil, WithWorkers(4), WithLogger(quietLogger()))
	require.NoError(t, s.OnRecv(func(api.Conn) {}))
	addr := startServer(t, s)

	conns := make([]net.Conn, 0, clients)
	for i := 0; i < clients; i++ {
		cl, err := net.Dial("tcp", addr.String())
		require.NoError(t, err)
		conns = append(conns, cl)
	}
	waitFor(t, func() bool { return s.Stats().Active == clients })
	assert.EqualValues(t, clients, s.Stats().Accepted)

	for _, cl := range conns {
		cl.Close()
	}
	waitFor(t, func() bool { return s.Stats().Active == 0 })
	assert.EqualValues(t, clients, s.Stats().Closed)
}

// Data sent while the handler is executing still produces a later readiness
// signal: no lost edge.
func TestNoMissedWakeup(t *testing.T) {
	s := New(nil, WithWorkers(1), WithLogger(quietLogger()))
	var total atomic.Int64
	first := make(chan struct{})
	var once atomic.Bool
	require.NoError(t, s.OnRecv(func(c api.Conn) {
		buf := make([]byte, 4096)
		for {
			n, _ := c.Recv(buf)
			if n == 0 {
				break
			}
			total.Add(int64(n))
		}
		if once.CompareAndSwap(false, true) {
			close(first)
			// Hold the worker inside the dispatch while the peer sends.
			time.Sleep(200 * time.Millisecond)
		}
	}))
	addr := startServer(t, s)

	cl := dial(t, addr)
	_, err := cl.Write(make([]byte, 100))
	require.NoError(t, err)
	<-first
	_, err = cl.Write(make([]byte, 300))
	require.NoError(t, err)

	waitFor(t, func() bool { return total.Load() == 400 })
}

func TestEchoRoundTrip(t *testing.T) {
	s := New(nil, WithWorkers(2), WithLogger(quietLogger()))
	require.NoError(t, s.OnRecv(func(c api.Conn) {
		buf := make([]byte, 32*1024)
		for {
			n, err := c.Recv(buf)
			if err != nil || n == 0 {
				return
			}
			if _, err := c.Send(buf[:n]); err != nil {
				t.Errorf("send: %v", err)
				return
			}
		}
	}))
	addr := startServer(t, s)

	cl := dial(t, addr)
	const size = 1 << 20
	payload := make([]byte, size)
	for i := range payload {
		payload[i] = byte(i)
	}
	go func() {
		for off := 0; off < size; {
			n, err := cl.Write(payload[off:])
			if err != nil {
				return
			}
			off += n
		}
	}()

	echoed := make([]byte, size)
	cl.SetReadDeadline(time.Now().Add(10 * time.Second))
	_, err := io.ReadFull(cl, echoed)
	require.NoError(t, err)
	assert.Equal(t, payload, echoed)
}

// A tiny buffer cap forces pause/resume cycles; every byte still arrives and
// the buffer never exceeds cap plus one read chunk.
func TestBackpressureBoundsBuffer(t *testing.T) {
	const bufCap = 1024
	const chunk = 256
	s := New(&Config{Workers: 1, BufferCap: bufCap, ReadChunk: chunk, Logger: quietLogger()})
	var total atomic.Int64
	var maxSeen atomic.Int64
	require.NoError(t, s.OnRecv(func(c api.Conn) {
		if avail := int64(c.BytesAvail()); avail > maxSeen.Load() {
			maxSeen.Store(avail)
		}
		buf := make([]byte, 512)
		for {
			n, _ := c.Recv(buf)
			if n == 0 {
				return
			}
			total.Add(int64(n))
		}
	}))
	addr := startServer(t, s)

	cl := dial(t, addr)
	const size = 16 * 1024
	_, err := cl.Write(make([]byte, size))
	require.NoError(t, err)

	waitFor(t, func() bool { return total.Load() == size })
	assert.LessOrEqual(t, maxSeen.Load(), int64(bufCap+chunk),
		"receive buffer must stay bounded by cap plus one drain chunk")
}

// Reset from the peer reaches the error handler with the reset kind and only
// that connection is torn down.
func TestPeerResetReachesErrorHandler(t *testing.T) {
	s := New(nil, WithWorkers(1), WithLogger(quietLogger()))
	errCh := make(chan *api.Error, 1)
	require.NoError(t, s.OnError(func(_ api.Conn, e *api.Error) { errCh <- e }))
	require.NoError(t, s.OnRecv(func(c api.Conn) {
		// Leave bytes unconsumed so the peer's abortive close becomes an RST.
	}))
	addr := startServer(t, s)

	cl := dial(t, addr)
	tc := cl.(*net.TCPConn)
	_, err := tc.Write([]byte("data"))
	require.NoError(t, err)
	waitFor(t, func() bool { return s.Stats().BytesIn >= 4 })
	require.NoError(t, tc.SetLinger(0))
	tc.Close()

	select {
	case e := <-errCh:
		assert.Equal(t, api.KindConnectionReset, e.Kind)
	case <-time.After(5 * time.Second):
		t.Fatal("error handler never saw the reset")
	}
	waitFor(t, func() bool { return s.Stats().Active == 0 })
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not reached within deadline")
		}
		time.Sleep(time.Millisecond)
	}
}
