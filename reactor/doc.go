// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package reactor owns one kernel readiness-notification handle per caller
// and exposes register/modify/unregister of a descriptor's interest set plus
// a blocking, timeout-bounded wait. Every registration is edge-triggered:
// a readiness signal fires at most once per state transition, so consumers
// must drain exhaustively or stall.
package reactor
