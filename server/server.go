//go:build linux

// File: server/server.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Server facade and startup state machine. Registration is legal until
// Start transitions the server to Running; afterwards every register call
// fails with api.ErrRunning and mutates nothing.

package server

import (
	"net"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-tcp/api"
)

type srvState int

const (
	srvUnconfigured srvState = iota
	srvConfigured
	srvRunning
)

// Server wires the acceptor, workers, and callback registry together.
type Server struct {
	mu    sync.Mutex
	state srvState

	cfg   *Config
	reg   registry
	stats stats

	workers []*worker

	stopping atomic.Bool
	stopOnce sync.Once
	stopCh   chan struct{}
	addr     atomic.Value // net.Addr, set once Running

	wg sync.WaitGroup
}

// New builds a Server from cfg (nil means DefaultConfig) and options.
func New(cfg *Config, opts ...Option) *Server {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	for _, o := range opts {
		o(cfg)
	}
	cfg.normalize()
	return &Server{cfg: cfg, stopCh: make(chan struct{})}
}

// OnConnect registers the connect handler. Fails after Start.
func (s *Server) OnConnect(h api.ConnectHandler) error {
	return s.setHandler(func(r *registry) { r.onConnect = h })
}

// OnRecv registers the data-available handler. Fails after Start.
func (s *Server) OnRecv(h api.RecvHandler) error {
	return s.setHandler(func(r *registry) { r.onRecv = h })
}

// OnError registers the error handler. Fails after Start.
func (s *Server) OnError(h api.ErrorHandler) error {
	return s.setHandler(func(r *registry) { r.onError = h })
}

func (s *Server) setHandler(set func(*registry)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == srvRunning {
		return api.ErrRunning
	}
	set(&s.reg)
	s.state = srvConfigured
	return nil
}

// Start binds addr, spawns the worker and acceptor loops, and blocks until
// Shutdown. Setup failures return immediately with no loops spawned; a bind
// conflict surfaces as api.KindAddressInUse.
func (s *Server) Start(addr string) error {
	s.mu.Lock()
	if s.state == srvRunning {
		s.mu.Unlock()
		return api.ErrRunning
	}
	s.mu.Unlock()

	lfd, bound, err := listen(addr, s.cfg.Backlog)
	if err != nil {
		return err
	}

	workers := make([]*worker, s.cfg.Workers)
	for i := range workers {
		w, werr := newWorker(i, s.cfg, &s.reg, &s.stats, &s.stopping, &s.wg)
		if werr != nil {
			for _, prev := range workers[:i] {
				prev.teardownAll()
				prev.close()
			}
			unix.Close(lfd)
			return werr
		}
		workers[i] = w
	}
	acc, err := newAcceptor(lfd, workers, s.cfg, &s.reg, &s.stats, &s.stopping, &s.wg)
	if err != nil {
		for _, w := range workers {
			w.teardownAll()
			w.close()
		}
		unix.Close(lfd)
		return err
	}

	s.mu.Lock()
	s.workers = workers
	s.state = srvRunning
	s.mu.Unlock()
	s.addr.Store(bound)

	s.wg.Add(len(workers) + 1)
	for _, w := range workers {
		go w.run()
	}
	go acc.run()
	s.cfg.Logger.WithField("addr", bound.String()).Info("listening")

	<-s.stopCh
	s.wg.Wait()
	for _, w := range workers {
		w.close()
	}
	unix.Close(lfd)
	return nil
}

// Shutdown requests an orderly stop: loops observe the flag at the next
// wait bound, finish any in-flight handler invocation, close their owned
// descriptors, and exit. Safe to call more than once.
func (s *Server) Shutdown() {
	s.stopOnce.Do(func() {
		s.stopping.Store(true)
		s.mu.Lock()
		for _, w := range s.workers {
			w.wake()
		}
		s.mu.Unlock()
		close(s.stopCh)
	})
}

// Addr returns the bound listen address once Running, nil before.
func (s *Server) Addr() net.Addr {
	if v := s.addr.Load(); v != nil {
		return v.(net.Addr)
	}
	return nil
}

// Stats returns a snapshot of the run counters.
func (s *Server) Stats() StatsSnapshot {
	return s.stats.snapshot()
}

// listen opens a non-blocking listening socket on addr.
func listen(addr string, backlog int) (int, net.Addr, error) {
	ta, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return -1, nil, err
	}

	family := unix.AF_INET
	var sa unix.Sockaddr
	ip := ta.IP
	if ip == nil {
		ip = net.IPv4zero
	}
	if ip4 := ip.To4(); ip4 != nil {
		sa4 := &unix.SockaddrInet4{Port: ta.Port}
		copy(sa4.Addr[:], ip4)
		sa = sa4
	} else {
		family = unix.AF_INET6
		sa6 := &unix.SockaddrInet6{Port: ta.Port}
		copy(sa6.Addr[:], ip.To16())
		sa = sa6
	}

	lfd, err := unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return -1, nil, api.NewError("socket", errnoOf(err))
	}
	_ = unix.SetsockoptInt(lfd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	if err := unix.Bind(lfd, sa); err != nil {
		unix.Close(lfd)
		return -1, nil, api.NewError("bind", errnoOf(err))
	}
	if err := unix.Listen(lfd, backlog); err != nil {
		unix.Close(lfd)
		return -1, nil, api.NewError("listen", errnoOf(err))
	}
	lsa, err := unix.Getsockname(lfd)
	if err != nil {
		unix.Close(lfd)
		return -1, nil, api.NewError("getsockname", errnoOf(err))
	}
	return lfd, sockaddrToTCPAddr(lsa), nil
}
