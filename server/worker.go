//go:build linux

// File: server/worker.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Worker loop: one OS-thread-locked goroutine running wait → dispatch → wait
// over its own multiplexer and connection table. All connection state is
// single-writer from this loop; the hand-off inbox is the only cross-thread
// path in.
//
// Edge-triggered rules enforced here:
//   - reads drain until would-block, zero-read, or error
//   - the recv handler fires exactly once per readiness signal
//   - read interest is withheld while the receive buffer sits at cap and
//     restored when the application drains it

package server

import (
	"encoding/binary"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-tcp/api"
	"github.com/momentics/hioload-tcp/internal/handoff"
	"github.com/momentics/hioload-tcp/reactor"
)

const maxEventsPerWait = 128

type worker struct {
	id    int
	cfg   *Config
	log   *logrus.Entry
	reg   *registry
	stats *stats

	mux    reactor.Multiplexer
	wakefd int
	inbox  *handoff.Queue[*conn]

	conns   map[int]*conn
	events  []reactor.Event
	scratch []byte

	// dispatching is true while a handler invocation is in flight; the
	// conn API guard reads it to reject out-of-context calls. Atomic
	// because violating callers read it from foreign goroutines.
	dispatching atomic.Bool

	stop *atomic.Bool
	wg   *sync.WaitGroup
}

func newWorker(id int, cfg *Config, reg *registry, st *stats, stop *atomic.Bool, wg *sync.WaitGroup) (*worker, error) {
	mux, err := reactor.Open()
	if err != nil {
		return nil, err
	}
	wakefd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		mux.Close()
		return nil, err
	}
	if err := mux.Register(wakefd, reactor.Readable); err != nil {
		unix.Close(wakefd)
		mux.Close()
		return nil, err
	}
	return &worker{
		id:      id,
		cfg:     cfg,
		log:     cfg.Logger.WithField("worker", id),
		reg:     reg,
		stats:   st,
		mux:     mux,
		wakefd:  wakefd,
		inbox:   handoff.New[*conn](cfg.HandoffCapacity),
		conns:   make(map[int]*conn),
		events:  make([]reactor.Event, maxEventsPerWait),
		scratch: make([]byte, cfg.ReadChunk),
		stop:    stop,
		wg:      wg,
	}, nil
}

// run is the worker main loop. A wait failure other than EINTR is fatal to
// this worker only; it tears down its owned connections and exits.
func (w *worker) run() {
	defer w.wg.Done()
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer w.teardownAll()

	for {
		n, err := w.mux.Wait(w.events, w.cfg.WaitTimeout)
		if err != nil {
			w.log.WithError(err).Error("multiplexer wait failed, shutting worker down")
			return
		}
		for i := 0; i < n; i++ {
			ev := w.events[i]
			if ev.FD == w.wakefd {
				w.drainWake()
				continue
			}
			w.dispatch(ev)
		}
		w.adopt()
		if w.stop.Load() {
			return
		}
	}
}

// adopt takes ownership of handed-off connections: registers them with this
// worker's multiplexer, enters them into the table, and runs the connect
// handler on this loop.
func (w *worker) adopt() {
	for {
		c, ok := w.inbox.Pop()
		if !ok {
			return
		}
		c.w = w
		if err := w.mux.Register(c.fd, reactor.Readable); err != nil {
			w.log.WithError(err).WithField("fd", c.fd).Warn("register failed")
			w.invoke(func() { w.reg.failure(c, api.NewError("register", errnoOf(err))) })
			unix.Close(c.fd)
			c.state = stateClosed
			continue
		}
		w.conns[c.fd] = c
		w.stats.active.Add(1)
		w.log.WithFields(logrus.Fields{"fd": c.fd, "peer": c.addr}).Info("new connection")
		w.invoke(func() { w.reg.connect(c) })
		w.finish(c)
	}
}

func (w *worker) dispatch(ev reactor.Event) {
	c := w.conns[ev.FD]
	if c == nil {
		// Stale event for a descriptor torn down earlier this cycle.
		return
	}
	if ev.Kind&(reactor.KindError|reactor.KindHangUp) != 0 && ev.Kind&reactor.KindReadable == 0 {
		w.hangup(c)
		return
	}
	if ev.Kind&reactor.KindReadable != 0 {
		w.readable(c)
		if w.conns[ev.FD] == nil {
			return
		}
	}
	if ev.Kind&reactor.KindWritable != 0 {
		w.writable(c)
	}
}

// readable drains the socket until would-block, zero-read, or error, then
// runs the recv handler once. The drain also stops at the buffer cap, which
// withholds read interest until the application consumes the backlog.
func (w *worker) readable(c *conn) {
	drained := 0
	for {
		if c.rx.Len() >= w.cfg.BufferCap {
			w.pauseRead(c)
			break
		}
		n, err := unix.Read(c.fd, w.scratch)
		if n > 0 {
			c.rx.Write(w.scratch[:n])
			drained += n
			w.stats.bytesIn.Add(int64(n))
			continue
		}
		if n == 0 && err == nil {
			if c.state == stateActive {
				c.state = stateHalfClosed
			}
			c.eof = true
			break
		}
		if err == unix.EINTR {
			continue
		}
		if err == unix.EAGAIN {
			break
		}
		w.fail(c, api.NewError("read", errnoOf(err)))
		return
	}
	w.log.WithFields(logrus.Fields{"fd": c.fd, "bytes": drained}).Debug("drained")
	if drained > 0 || c.eof {
		w.invoke(func() { w.reg.recv(c) })
	}
	w.finish(c)
}

// writable flushes the pending-write buffer; once it empties, write interest
// is dropped. A half-closed connection tears down cleanly after its final
// flush completes.
func (w *worker) writable(c *conn) {
	if err := w.flush(c); err != nil {
		var aerr *api.Error
		if !errors.As(err, &aerr) {
			aerr = &api.Error{Kind: api.KindOther, Op: "write"}
		}
		w.fail(c, aerr)
		return
	}
	w.finish(c)
}

// flush writes tx until would-block or empty and rearms interest. Returns a
// *api.Error on a hard write failure; teardown policy is the caller's.
func (w *worker) flush(c *conn) error {
	for c.tx.Len() > 0 {
		n, err := unix.Write(c.fd, c.tx.Peek())
		if err == unix.EINTR {
			continue
		}
		if err == unix.EAGAIN {
			break
		}
		if err != nil {
			return api.NewError("write", errnoOf(err))
		}
		if n <= 0 {
			break
		}
		c.tx.Discard(n)
		w.stats.bytesOut.Add(int64(n))
	}
	w.rearm(c)
	return nil
}

// finish applies deferred teardown decisions after a handler invocation:
// an application Shutdown tears down immediately; an orderly peer close
// tears down once nothing remains to flush.
func (w *worker) finish(c *conn) {
	if c.state == stateClosed {
		return
	}
	if c.state == stateClosing {
		w.teardown(c)
		return
	}
	if c.eof && c.tx.Len() == 0 {
		w.teardown(c)
	}
}

// hangup handles EPOLLERR/EPOLLHUP without readable data: harvest SO_ERROR
// for the error kind, report, tear down.
func (w *worker) hangup(c *conn) {
	code, gerr := unix.GetsockoptInt(c.fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if gerr == nil && code != 0 {
		w.fail(c, api.NewError("socket", syscall.Errno(code)))
		return
	}
	w.fail(c, &api.Error{Kind: api.KindOther, Op: "hangup"})
}

// fail reports a per-connection failure and removes the connection. Other
// connections and this worker's loop are unaffected.
func (w *worker) fail(c *conn, aerr *api.Error) {
	if c.state == stateClosed {
		return
	}
	c.state = stateClosing
	w.log.WithFields(logrus.Fields{"fd": c.fd, "peer": c.addr}).WithError(aerr).Debug("connection error")
	w.invoke(func() { w.reg.failure(c, aerr) })
	w.teardown(c)
}

// teardown moves the connection to Closed exactly once: removes it from the
// table, unregisters and closes the descriptor.
func (w *worker) teardown(c *conn) {
	if c.state == stateClosed {
		return
	}
	c.state = stateClosed
	_ = w.mux.Unregister(c.fd)
	_ = unix.Close(c.fd)
	delete(w.conns, c.fd)
	w.stats.active.Add(-1)
	w.stats.closed.Add(1)
}

func (w *worker) teardownAll() {
	for _, c := range w.conns {
		w.teardown(c)
	}
	_ = w.mux.Close()
}

// close releases the wake descriptor. Only safe once no cross-thread wake
// can still target it, i.e. after the loop goroutines have been joined (or
// were never started).
func (w *worker) close() {
	_ = unix.Close(w.wakefd)
}

// invoke brackets a handler invocation with the dispatch window the conn
// API guard checks.
func (w *worker) invoke(f func()) {
	w.dispatching.Store(true)
	f()
	w.dispatching.Store(false)
}

func (w *worker) pauseRead(c *conn) {
	if c.paused {
		return
	}
	c.paused = true
	w.rearm(c)
}

func (w *worker) resumeRead(c *conn) {
	if !c.paused {
		return
	}
	c.paused = false
	w.rearm(c)
}

// rearm recomputes the interest set from buffer and back-pressure state.
// With edge semantics a MOD also redelivers an edge for conditions already
// true, so resuming read interest on a non-empty socket is not a lost wakeup.
func (w *worker) rearm(c *conn) {
	if c.state >= stateClosing || c.w == nil {
		return
	}
	var interest reactor.Interest
	if !c.paused {
		interest |= reactor.Readable
	}
	if c.tx.Len() > 0 {
		interest |= reactor.Writable
	}
	if err := w.mux.Modify(c.fd, interest); err != nil {
		w.log.WithError(err).WithField("fd", c.fd).Warn("interest rearm failed")
	}
}

// wake nudges the worker out of Wait after a hand-off push. Callable from
// the acceptor thread.
func (w *worker) wake() {
	var b [8]byte
	binary.NativeEndian.PutUint64(b[:], 1)
	_, _ = unix.Write(w.wakefd, b[:])
}

func (w *worker) drainWake() {
	var b [8]byte
	for {
		if _, err := unix.Read(w.wakefd, b[:]); err != nil {
			return
		}
	}
}

func errnoOf(err error) syscall.Errno {
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno
	}
	return 0
}
