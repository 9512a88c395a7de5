// File: server/options.go
// Package server defines functional options for the Server facade.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server

import (
	"time"

	"github.com/sirupsen/logrus"
)

// Option customizes server initialization.
type Option func(*Config)

// WithWorkers sets the number of event-loop workers.
func WithWorkers(n int) Option {
	return func(c *Config) { c.Workers = n }
}

// WithBufferCap sets the per-connection receive buffer cap.
func WithBufferCap(n int) Option {
	return func(c *Config) { c.BufferCap = n }
}

// WithHandoffCapacity sets the per-worker accept hand-off queue bound.
func WithHandoffCapacity(n int) Option {
	return func(c *Config) { c.HandoffCapacity = n }
}

// WithWaitTimeout overrides the multiplexer wait bound.
func WithWaitTimeout(d time.Duration) Option {
	return func(c *Config) { c.WaitTimeout = d }
}

// WithLogger attaches a logger.
func WithLogger(l *logrus.Logger) Option {
	return func(c *Config) { c.Logger = l }
}
