//go:build linux

// File: reactor/reactor_linux.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Linux epoll(7) implementation. All registrations carry EPOLLET|EPOLLRDHUP:
// edge semantics are mandatory for the drain algorithm, and RDHUP makes an
// orderly peer close observable as a readable edge instead of a teardown.

package reactor

import (
	"time"

	"golang.org/x/sys/unix"
)

type epollMux struct {
	epfd int
	raw  []unix.EpollEvent
}

// Open creates a new epoll-backed Multiplexer.
func Open() (Multiplexer, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &epollMux{epfd: epfd}, nil
}

func epollMask(interest Interest) uint32 {
	mask := uint32(unix.EPOLLET | unix.EPOLLRDHUP)
	if interest&Readable != 0 {
		mask |= unix.EPOLLIN
	}
	if interest&Writable != 0 {
		mask |= unix.EPOLLOUT
	}
	return mask
}

func (m *epollMux) ctl(op, fd int, interest Interest) error {
	ev := unix.EpollEvent{Events: epollMask(interest), Fd: int32(fd)}
	return unix.EpollCtl(m.epfd, op, fd, &ev)
}

// Register adds fd, edge-triggered.
func (m *epollMux) Register(fd int, interest Interest) error {
	return m.ctl(unix.EPOLL_CTL_ADD, fd, interest)
}

// Modify replaces fd's interest set.
func (m *epollMux) Modify(fd int, interest Interest) error {
	return m.ctl(unix.EPOLL_CTL_MOD, fd, interest)
}

// Unregister removes fd.
func (m *epollMux) Unregister(fd int) error {
	return unix.EpollCtl(m.epfd, unix.EPOLL_CTL_DEL, fd, nil)
}

// Wait blocks up to timeout, retrying transparently on EINTR.
func (m *epollMux) Wait(events []Event, timeout time.Duration) (int, error) {
	if len(m.raw) < len(events) {
		m.raw = make([]unix.EpollEvent, len(events))
	}
	ms := int(timeout / time.Millisecond)
	if timeout < 0 {
		ms = -1
	}
	var n int
	var err error
	for {
		n, err = unix.EpollWait(m.epfd, m.raw[:len(events)], ms)
		if err != unix.EINTR {
			break
		}
	}
	if err != nil {
		return 0, err
	}
	for i := 0; i < n; i++ {
		raw := m.raw[i]
		var kind EventKind
		if raw.Events&(unix.EPOLLIN|unix.EPOLLRDHUP) != 0 {
			kind |= KindReadable
		}
		if raw.Events&unix.EPOLLOUT != 0 {
			kind |= KindWritable
		}
		if raw.Events&unix.EPOLLERR != 0 {
			kind |= KindError
		}
		if raw.Events&unix.EPOLLHUP != 0 {
			kind |= KindHangUp
		}
		events[i] = Event{FD: int(raw.Fd), Kind: kind}
	}
	return n, nil
}

// Close releases the epoll descriptor.
func (m *epollMux) Close() error {
	return unix.Close(m.epfd)
}
