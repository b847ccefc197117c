// Package connreg implements the connection registry (spec component C3):
// a set of live client connections, supporting a broadcast half-close
// shutdown and a wait-until-empty barrier used to drain in-flight
// sessions before the process exits.
package connreg

import (
	"net"
	"sync"

	"github.com/btcsuite/btclog"
)

// Subsystem is the logging subsystem name used by this package.
const Subsystem = "CONN"

var log = btclog.Disabled

// UseLogger uses a specified Logger to output package logging info.
func UseLogger(logger btclog.Logger) {
	log = logger
}

// halfCloser is satisfied by *net.TCPConn; it lets ShutdownAll disable
// further reads without fully closing the socket, so a session goroutine
// blocked in a read observes end-of-stream and unwinds on its own instead
// of the registry reaching in and closing state out from under it.
type halfCloser interface {
	CloseRead() error
}

// Registry is the set of open connections known to the server. It has no
// cap on the number of connections it holds.
type Registry struct {
	mu    sync.Mutex
	cond  *sync.Cond
	conns map[net.Conn]struct{}
}

// New creates an empty connection registry.
func New() *Registry {
	r := &Registry{
		conns: make(map[net.Conn]struct{}),
	}
	r.cond = sync.NewCond(&r.mu)
	return r
}

// Register adds conn to the set. Idempotent.
func (r *Registry) Register(conn net.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.conns[conn] = struct{}{}
}

// Unregister removes conn from the set. Idempotent. If this transitions
// the set to empty, any goroutine blocked in WaitForEmpty is woken.
func (r *Registry) Unregister(conn net.Conn) {
	r.mu.Lock()
	delete(r.conns, conn)
	empty := len(r.conns) == 0
	r.mu.Unlock()

	if empty {
		r.cond.Broadcast()
	}
}

// ShutdownAll performs a half-close on every registered descriptor,
// disabling further reads so any session goroutine blocked on input
// observes end-of-stream and unwinds. Connections that don't support
// half-close (anything but a real TCP socket, e.g. in tests) are closed
// outright instead.
func (r *Registry) ShutdownAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for conn := range r.conns {
		if hc, ok := conn.(halfCloser); ok {
			if err := hc.CloseRead(); err != nil {
				log.Debugf("Error half-closing connection: %v", err)
			}
			continue
		}
		if err := conn.Close(); err != nil {
			log.Debugf("Error closing connection: %v", err)
		}
	}
}

// WaitForEmpty returns immediately if the registry is already empty,
// otherwise blocks until it transitions to empty.
func (r *Registry) WaitForEmpty() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for len(r.conns) > 0 {
		r.cond.Wait()
	}
}
