// File: server/registry.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// The callback registry holds the three dispatch handler slots. It is
// mutated only before Start and shared read-only by all workers afterwards;
// the Server's state machine enforces the configure-before-start contract.

package server

import "github.com/momentics/hioload-tcp/api"

type registry struct {
	onConnect api.ConnectHandler
	onRecv    api.RecvHandler
	onError   api.ErrorHandler
}

func (r *registry) connect(c api.Conn) {
	if r.onConnect != nil {
		r.onConnect(c)
	}
}

func (r *registry) recv(c api.Conn) {
	if r.onRecv != nil {
		r.onRecv(c)
	}
}

func (r *registry) failure(c api.Conn, err *api.Error) {
	if r.onError != nil {
		r.onError(c, err)
	}
}
