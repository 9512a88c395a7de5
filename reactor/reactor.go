// File: reactor/reactor.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Platform-neutral contract for the readiness multiplexer.

package reactor

import "time"

// Interest is the set of conditions a registration subscribes to.
type Interest uint32

const (
	Readable Interest = 1 << iota
	Writable
)

// EventKind classifies a ready descriptor. Kinds are a bitmask: a single
// wait entry may combine Readable with HangUp when the peer closed while
// data is still queued.
type EventKind uint32

const (
	KindReadable EventKind = 1 << iota
	KindWritable
	KindError
	KindHangUp
)

// Event is one ready descriptor reported by Wait.
type Event struct {
	FD   int
	Kind EventKind
}

// Multiplexer is the per-owner readiness handle. It is not safe for
// concurrent use; each worker owns exactly one instance.
type Multiplexer interface {
	// Register adds fd with the given interest set, edge-triggered.
	Register(fd int, interest Interest) error

	// Modify replaces fd's interest set.
	Modify(fd int, interest Interest) error

	// Unregister removes fd from the interest list.
	Unregister(fd int) error

	// Wait blocks up to timeout and fills events with ready descriptors,
	// returning the count. Interrupted calls are retried transparently;
	// any other failure is fatal to the owning worker.
	Wait(events []Event, timeout time.Duration) (int, error)

	// Close releases the kernel handle.
	Close() error
}
