// File: server/config.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server

import (
	"runtime"
	"time"

	"github.com/sirupsen/logrus"
)

// Config holds all server-side configuration parameters. Everything is
// explicit with documented defaults; nothing is read from the environment.
type Config struct {
	Workers         int           // event-loop workers; default runtime.NumCPU()
	BufferCap       int           // per-connection receive buffer cap; reads pause at this bound
	HandoffCapacity int           // per-worker accept hand-off queue bound
	WaitTimeout     time.Duration // multiplexer wait bound; also the shutdown-check period
	Backlog         int           // listen(2) backlog
	ReadChunk       int           // per-worker read scratch size
	Logger          *logrus.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Workers:         runtime.NumCPU(),
		BufferCap:       256 * 1024,
		HandoffCapacity: 1024,
		WaitTimeout:     100 * time.Millisecond,
		Backlog:         512,
		ReadChunk:       64 * 1024,
		Logger:          logrus.StandardLogger(),
	}
}

// normalize fills zero fields with defaults so a partially built Config
// behaves like DefaultConfig for the fields it left out.
func (c *Config) normalize() {
	d := DefaultConfig()
	if c.Workers <= 0 {
		c.Workers = d.Workers
	}
	if c.BufferCap <= 0 {
		c.BufferCap = d.BufferCap
	}
	if c.HandoffCapacity <= 0 {
		c.HandoffCapacity = d.HandoffCapacity
	}
	if c.WaitTimeout <= 0 {
		c.WaitTimeout = d.WaitTimeout
	}
	if c.Backlog <= 0 {
		c.Backlog = d.Backlog
	}
	if c.ReadChunk <= 0 {
		c.ReadChunk = d.ReadChunk
	}
	if c.Logger == nil {
		c.Logger = d.Logger
	}
}
