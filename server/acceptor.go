//go:build linux

// File: server/acceptor.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Acceptor: owns the listening socket on its own multiplexer, drains the
// accept queue exhaustively per readiness signal (mandatory under edge
// semantics), and hands each new descriptor to a worker chosen round-robin.
// The connect handler runs later, on the owning worker, so this loop never
// carries application latency.

package server

import (
	"net"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-tcp/api"
	"github.com/momentics/hioload-tcp/reactor"
)

type acceptor struct {
	lfd     int
	mux     reactor.Multiplexer
	workers []*worker
	next    int

	cfg   *Config
	log   *logrus.Entry
	reg   *registry
	stats *stats

	stop *atomic.Bool
	wg   *sync.WaitGroup
}

func newAcceptor(lfd int, workers []*worker, cfg *Config, reg *registry, st *stats, stop *atomic.Bool, wg *sync.WaitGroup) (*acceptor, error) {
	mux, err := reactor.Open()
	if err != nil {
		return nil, err
	}
	if err := mux.Register(lfd, reactor.Readable); err != nil {
		mux.Close()
		return nil, err
	}
	return &acceptor{
		lfd:     lfd,
		mux:     mux,
		workers: workers,
		cfg:     cfg,
		log:     cfg.Logger.WithField("role", "acceptor"),
		reg:     reg,
		stats:   st,
		stop:    stop,
		wg:      wg,
	}, nil
}

func (a *acceptor) run() {
	defer a.wg.Done()
	defer a.mux.Close()

	events := make([]reactor.Event, 1)
	for {
		n, err := a.mux.Wait(events, a.cfg.WaitTimeout)
		if err != nil {
			a.log.WithError(err).Error("multiplexer wait failed, acceptor shutting down")
			return
		}
		if n > 0 && events[0].Kind&reactor.KindReadable != 0 {
			a.drain()
		}
		if a.stop.Load() {
			return
		}
	}
}

// drain accepts until the kernel reports no more pending connections, so
// arrivals queued between readiness signals are never missed.
func (a *acceptor) drain() {
	for {
		nfd, sa, err := unix.Accept4(a.lfd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		if err == unix.EINTR {
			continue
		}
		if err == unix.EAGAIN {
			return
		}
		if err != nil {
			// Accept-time failure with no associated connection: report on
			// the error path and keep accepting.
			a.log.WithError(err).Error("accept failed")
			a.reg.failure(nil, api.NewError("accept", errnoOf(err)))
			return
		}
		_ = unix.SetsockoptInt(nfd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)

		c := newConn(nfd, sockaddrToTCPAddr(sa))
		w := a.workers[a.next%len(a.workers)]
		a.next++
		if !w.inbox.Push(c) {
			a.log.WithField("worker", w.id).Warn("hand-off queue full, dropping connection")
			a.reg.failure(nil, &api.Error{Kind: api.KindResourceExhausted, Op: "handoff"})
			_ = unix.Close(nfd)
			continue
		}
		a.stats.accepted.Add(1)
		w.wake()
	}
}

func sockaddrToTCPAddr(sa unix.Sockaddr) net.Addr {
	switch v := sa.(type) {
	case *unix.SockaddrInet4:
		return &net.TCPAddr{IP: append([]byte(nil), v.Addr[:]...), Port: v.Port}
	case *unix.SockaddrInet6:
		return &net.TCPAddr{IP: append([]byte(nil), v.Addr[:]...), Port: v.Port, Zone: zoneOf(v.ZoneId)}
	}
	return nil
}

func zoneOf(id uint32) string {
	if id == 0 {
		return ""
	}
	ifi, err := net.InterfaceByIndex(int(id))
	if err != nil {
		return ""
	}
	return ifi.Name
}
