// File: api/errors.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Error taxonomy surfaced to error handlers, plus the contract-violation
// sentinels. Per-connection failures carry a Kind derived from the native
// errno; everything the kernel reports that has no dedicated kind travels
// as KindOther with the errno preserved.

package api

import (
	"errors"
	"fmt"
	"syscall"
)

// Kind classifies a connection or setup failure.
type Kind int

const (
	KindConnectionReset Kind = iota + 1
	KindBrokenPipe
	KindAddressInUse // setup-time only
	KindResourceExhausted
	KindOther
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindConnectionReset:
		return "connection_reset"
	case KindBrokenPipe:
		return "broken_pipe"
	case KindAddressInUse:
		return "address_in_use"
	case KindResourceExhausted:
		return "resource_exhausted"
	case KindOther:
		return "other"
	}
	return "unknown"
}

// Error is the structured failure delivered to error handlers and returned
// from Start on setup faults.
type Error struct {
	Kind  Kind
	Errno syscall.Errno // native code; 0 when the failure is not errno-backed
	Op    string        // originating operation, e.g. "read", "bind"
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Errno != 0 {
		return fmt.Sprintf("%s: %s (%s)", e.Op, e.Kind, e.Errno.Error())
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

// Unwrap exposes the native errno for errors.Is chains.
func (e *Error) Unwrap() error {
	if e.Errno != 0 {
		return e.Errno
	}
	return nil
}

// Is matches either another *Error with the same Kind or the bare errno.
func (e *Error) Is(target error) bool {
	var ae *Error
	if errors.As(target, &ae) {
		return ae.Kind == e.Kind
	}
	return false
}

// KindOf derives the taxonomy kind for a native errno.
func KindOf(errno syscall.Errno) Kind {
	switch errno {
	case syscall.ECONNRESET, syscall.ETIMEDOUT:
		return KindConnectionReset
	case syscall.EPIPE:
		return KindBrokenPipe
	case syscall.EADDRINUSE:
		return KindAddressInUse
	case syscall.EMFILE, syscall.ENFILE, syscall.ENOBUFS, syscall.ENOMEM:
		return KindResourceExhausted
	}
	return KindOther
}

// NewError builds an *Error for op from errno.
func NewError(op string, errno syscall.Errno) *Error {
	return &Error{Kind: KindOf(errno), Errno: errno, Op: op}
}

// Programming-contract violations. Reported as distinct, deterministic
// errors, never silent no-ops.
var (
	// ErrRunning is returned by registration calls after Start has
	// transitioned the server to Running.
	ErrRunning = errors.New("registry is sealed: server already running")

	// ErrOutsideHandler is returned by Conn methods invoked outside a
	// handler invocation on the owning worker.
	ErrOutsideHandler = errors.New("conn API called outside handler invocation")

	// ErrAlreadyClosing is returned by Shutdown calls after the first.
	ErrAlreadyClosing = errors.New("conn already closing")

	// ErrClosed is returned by Send/Recv on a connection past Closing.
	ErrClosed = errors.New("conn closed")
)
