// File: server/stats.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server

import "sync/atomic"

// stats aggregates run counters across acceptor and workers.
type stats struct {
	accepted atomic.Int64
	active   atomic.Int64
	closed   atomic.Int64
	bytesIn  atomic.Int64
	bytesOut atomic.Int64
}

// StatsSnapshot is a point-in-time view of the server counters.
//
// Active always equals the total number of table entries across workers:
// it is incremented when a worker adopts a connection and decremented when
// the connection reaches its terminal state and leaves the table.
type StatsSnapshot struct {
	Accepted int64
	Active   int64
	Closed   int64
	BytesIn  int64
	BytesOut int64
}

func (s *stats) snapshot() StatsSnapshot {
	return StatsSnapshot{
		Accepted: s.accepted.Load(),
		Active:   s.active.Load(),
		Closed:   s.closed.Load(),
		BytesIn:  s.bytesIn.Load(),
		BytesOut: s.bytesOut.Load(),
	}
}
