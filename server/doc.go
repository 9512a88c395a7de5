// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package server implements the event-driven TCP server core: the acceptor,
// the per-worker event loops with their exclusive connection tables, the
// connection lifecycle state machine, and the callback dispatch contract.
//
// Parallelism is fixed at N workers (default: core count) plus one acceptor.
// Each worker owns its multiplexer handle and table exclusively; the bounded
// hand-off queue from the acceptor is the only cross-thread path. Handlers
// for one connection never run concurrently; handlers for different
// connections on different workers run in parallel.
package server
