// Package trader implements the session registry (spec component C2): the
// process-wide mapping from user name to a live, reference-counted trader
// session shared between the client's own goroutine and the exchange's
// matcher goroutine.
package trader

import (
	"errors"
	"io"
	"sync"

	"github.com/btcsuite/btclog"

	"github.com/bourse-exchange/bourse/account"
	"github.com/bourse-exchange/bourse/wire"
)

// Subsystem is the logging subsystem name used by this package.
const Subsystem = "SESS"

var log = btclog.Disabled

// UseLogger uses a specified Logger to output package logging info.
func UseLogger(logger btclog.Logger) {
	log = logger
}

var (
	// ErrAlreadyLoggedIn is returned by Login when the requested name
	// already has a live session.
	ErrAlreadyLoggedIn = errors.New("already logged in")

	// ErrRegistryFull is returned by Login once the registry's fixed
	// cap on concurrently logged-in traders is reached.
	ErrRegistryFull = errors.New("session registry is full")
)

// maxTraders bounds the number of concurrently logged-in sessions.
const maxTraders = 1 << 16

// Conn is the minimal socket surface a Trader needs: a place to write
// outbound messages and a way to sever the connection when the last
// reference is dropped. *net.TCPConn satisfies this.
type Conn interface {
	io.Writer
	Close() error
}

// Trader is a logged-in session bound to an account. Every posted order
// holds an additional reference; every broadcast holds one reference for
// the duration of delivery. The reference count reaching zero closes the
// socket.
type Trader struct {
	// Name is the user name this session logged in under. Immutable.
	Name string

	// Account is the non-owning reference to this trader's ledger
	// entry.
	Account *account.Account

	conn Conn

	// mu guards refcount only. Sends are serialized separately by
	// sendMu, which is never acquired while mu is held, so Send may
	// safely be invoked from a goroutine that is itself iterating a
	// refcount-held snapshot (e.g. from Registry.Broadcast).
	mu       sync.Mutex
	refcount int

	sendMu sync.Mutex
}

// newTrader builds a Trader with an initial refcount of 1, held by the
// registry itself.
func newTrader(conn Conn, name string, acct *account.Account) *Trader {
	return &Trader{
		Name:     name,
		Account:  acct,
		conn:     conn,
		refcount: 1,
	}
}

// Ref takes an additional reference on t.
func (t *Trader) Ref() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.refcount++
}

// Unref releases a reference on t. If the refcount drops to zero, the
// underlying socket is closed and the session is considered destroyed. A
// refcount that goes negative indicates a bug elsewhere in the program
// (an unbalanced Ref/Unref pair) and is a fatal internal invariant
// violation.
func (t *Trader) Unref() {
	t.mu.Lock()
	t.refcount--
	n := t.refcount
	t.mu.Unlock()

	switch {
	case n == 0:
		if err := t.conn.Close(); err != nil {
			log.Debugf("Error closing connection for %q: %v",
				t.Name, err)
		}
	case n < 0:
		log.Errorf("Refcount underflow for trader %q", t.Name)
		panic("trader: refcount underflow")
	}
}

// Send serializes header/payload and writes them to t's socket under t's
// send lock, preventing concurrent writers (the owning client goroutine
// and a concurrent broadcast) from interleaving their bytes. Send must
// never be called while holding the caller's own Registry lock.
func (t *Trader) Send(typ wire.MsgType, payload []byte, now func() (uint32, uint32)) error {
	t.sendMu.Lock()
	defer t.sendMu.Unlock()

	return wire.WriteMessage(t.conn, typ, payload, now)
}

// Registry is the process-wide map from user name to live Trader.
type Registry struct {
	mu      sync.Mutex
	traders map[string]*Trader

	started sync.Once
	stopped sync.Once
}

// NewRegistry creates an empty session registry.
func NewRegistry() *Registry {
	return &Registry{
		traders: make(map[string]*Trader),
	}
}

// Start readies the registry for use.
func (r *Registry) Start() error {
	r.started.Do(func() {
		log.Infof("Starting session registry")
	})
	return nil
}

// Stop tears down the registry. Any traders still present at this point
// are leaked references from resting orders; the exchange is responsible
// for unwinding those before the registry is stopped.
func (r *Registry) Stop() error {
	r.stopped.Do(func() {
		log.Infof("Stopping session registry")
	})
	return nil
}

// Login atomically verifies the registry isn't full and name isn't
// already logged in, then constructs a new Trader bound to acct with
// refcount 1 and inserts it into the registry.
func (r *Registry) Login(conn Conn, name string, acct *account.Account) (*Trader, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.traders[name]; ok {
		return nil, ErrAlreadyLoggedIn
	}
	if len(r.traders) >= maxTraders {
		return nil, ErrRegistryFull
	}

	t := newTrader(conn, name, acct)
	r.traders[name] = t

	log.Infof("%q logged in", name)

	return t, nil
}

// Logout removes the registry's own reference to t and its name entry.
// Residual references held by t's open orders keep it alive until those
// orders are matched or canceled.
func (r *Registry) Logout(t *Trader) {
	r.mu.Lock()
	delete(r.traders, t.Name)
	r.mu.Unlock()

	log.Infof("%q logged out", t.Name)

	t.Unref()
}

// Broadcast delivers header/payload to every currently logged-in trader.
// It takes a Ref on every session under the registry lock, releases the
// lock, then delivers to each independently and Unrefs it -- this keeps
// I/O off the registry lock. A per-recipient delivery failure is logged
// and otherwise swallowed; it never fails the broadcast for other
// recipients.
func (r *Registry) Broadcast(typ wire.MsgType, payload []byte, now func() (uint32, uint32)) {
	r.mu.Lock()
	recipients := make([]*Trader, 0, len(r.traders))
	for _, t := range r.traders {
		t.Ref()
		recipients = append(recipients, t)
	}
	r.mu.Unlock()

	for _, t := range recipients {
		if err := t.Send(typ, payload, now); err != nil {
			log.Debugf("Broadcast to %q failed: %v", t.Name, err)
		}
		t.Unref()
	}
}
