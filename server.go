// Package bourse wires together the account ledger, session registry,
// connection registry, and exchange into the client-facing TCP server
// (spec component C5): the per-connection state machine that translates
// inbound requests into ledger/exchange calls and emits ACK/NACK plus
// notifications.
package bourse

import (
	"net"
	"sync"
	"time"

	"github.com/davecgh/go-spew/spew"

	"github.com/bourse-exchange/bourse/account"
	"github.com/bourse-exchange/bourse/connreg"
	"github.com/bourse-exchange/bourse/exchange"
	"github.com/bourse-exchange/bourse/trader"
	"github.com/bourse-exchange/bourse/wire"
)

// Config bundles the dependencies a Server needs to run.
type Config struct {
	// ListenAddr is the TCP address to accept connections on, e.g.
	// ":8080".
	ListenAddr string
}

// Server owns every process-wide singleton and the TCP accept loop.
// Components are started in leaf order (ledger, session registry,
// connection registry, exchange) and torn down in reverse, per spec §9
// "Global singletons".
type Server struct {
	cfg Config

	ledger   *account.Ledger
	traders  *trader.Registry
	conns    *connreg.Registry
	exchange *exchange.Exchange

	listener net.Listener
	wg       sync.WaitGroup

	started sync.Once
	stopped sync.Once
}

// NewServer constructs a Server and its singletons. They are not started
// until Start is called.
func NewServer(cfg Config) *Server {
	ledger := account.NewLedger()
	traders := trader.NewRegistry()
	conns := connreg.New()
	xchg := exchange.New(ledger, traders)

	return &Server{
		cfg:      cfg,
		ledger:   ledger,
		traders:  traders,
		conns:    conns,
		exchange: xchg,
	}
}

// Start binds the listener and launches the accept loop, after starting
// every singleton in leaf order.
func (s *Server) Start() error {
	var startErr error
	s.started.Do(func() {
		if err := s.ledger.Start(); err != nil {
			startErr = err
			return
		}
		if err := s.traders.Start(); err != nil {
			startErr = err
			return
		}
		if err := s.exchange.Start(); err != nil {
			startErr = err
			return
		}

		lis, err := net.Listen("tcp", s.cfg.ListenAddr)
		if err != nil {
			startErr = err
			return
		}
		s.listener = lis

		log.Infof("Listening on %v", lis.Addr())

		s.wg.Add(1)
		go s.acceptLoop()
	})
	return startErr
}

// Stop closes the listener, half-closes every live connection, waits for
// every session goroutine to unwind, then tears down the exchange,
// session registry, and ledger in that order -- the reverse of Start.
func (s *Server) Stop() error {
	s.stopped.Do(func() {
		log.Infof("Shutting down")

		if s.listener != nil {
			if err := s.listener.Close(); err != nil {
				log.Debugf("Error closing listener: %v", err)
			}
		}

		s.conns.ShutdownAll()
		s.conns.WaitForEmpty()
		s.wg.Wait()

		if err := s.exchange.Stop(); err != nil {
			log.Errorf("Error stopping exchange: %v", err)
		}
		if err := s.traders.Stop(); err != nil {
			log.Errorf("Error stopping session registry: %v", err)
		}
		if err := s.ledger.Stop(); err != nil {
			log.Errorf("Error stopping ledger: %v", err)
		}
	})
	return nil
}

// acceptLoop accepts inbound connections until the listener is closed by
// Stop, spawning one goroutine per connection.
func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			// Accept returns an error once the listener is closed by
			// Stop; that's the normal shutdown path, not a fault.
			log.Debugf("Accept loop exiting: %v", err)
			return
		}

		s.conns.Register(conn)
		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

// handleConn runs one client's request/reply loop until it disconnects
// or the server half-closes it for shutdown.
func (s *Server) handleConn(conn net.Conn) {
	defer s.wg.Done()
	defer s.conns.Unregister(conn)
	defer conn.Close()

	sess := newClientSession(s, conn)
	sess.run()
}

// clientState is the per-connection authentication state.
type clientState uint8

const (
	stateUnauthenticated clientState = iota
	stateAuthenticated
)

// clientSession is the per-connection state machine described by spec
// §4.5. It is not shared outside the connection's own goroutine except
// through the *trader.Trader it holds once authenticated, which is
// reference-counted and safe for the matcher to touch concurrently.
type clientSession struct {
	server *Server
	conn   net.Conn
	state  clientState
	trader *trader.Trader
}

func newClientSession(s *Server, conn net.Conn) *clientSession {
	return &clientSession{server: s, conn: conn, state: stateUnauthenticated}
}

// run reads and dispatches requests until the peer disconnects. On exit
// it logs the trader out if one was ever established; residual
// references from open orders keep the trader alive until the matcher
// clears them.
func (cs *clientSession) run() {
	defer func() {
		if cs.trader != nil {
			cs.server.traders.Logout(cs.trader)
		}
	}()

	for {
		msg, err := wire.ReadMessage(cs.conn)
		if err != nil {
			log.Debugf("Connection closed: %v", err)
			return
		}

		log.Tracef("Received %v: %v", msg.Header.Type, spew.Sdump(msg.Payload))

		if err := cs.dispatch(msg); err != nil {
			log.Debugf("Session error: %v", err)
			return
		}
	}
}

// dispatch handles one request, replying ACK or NACK as appropriate.
func (cs *clientSession) dispatch(msg wire.Message) error {
	if cs.state == stateUnauthenticated {
		if msg.Header.Type != wire.MsgLogin {
			return cs.nack()
		}
		return cs.handleLogin(msg.Payload)
	}

	switch msg.Header.Type {
	case wire.MsgLogin:
		// Illegal once authenticated, per spec §4.5.
		return cs.nack()
	case wire.MsgStatus:
		return cs.handleStatus()
	case wire.MsgDeposit:
		return cs.handleDeposit(msg.Payload)
	case wire.MsgWithdraw:
		return cs.handleWithdraw(msg.Payload)
	case wire.MsgEscrow:
		return cs.handleEscrow(msg.Payload)
	case wire.MsgRelease:
		return cs.handleRelease(msg.Payload)
	case wire.MsgBuy:
		return cs.handlePost(msg.Payload, exchange.Buy)
	case wire.MsgSell:
		return cs.handlePost(msg.Payload, exchange.Sell)
	case wire.MsgCancel:
		return cs.handleCancel(msg.Payload)
	default:
		return cs.nack()
	}
}

func (cs *clientSession) ack(status exchange.Status, orderID, qty uint32) error {
	info := wire.StatusInfo{
		Balance:   status.Balance,
		Inventory: status.Inventory,
		Bid:       status.BestBid,
		Ask:       status.BestAsk,
		Last:      status.LastTradePrice,
		OrderID:   orderID,
		Quantity:  qty,
	}
	return cs.send(wire.MsgAck, info.Encode())
}

func (cs *clientSession) ackEmpty() error {
	return cs.send(wire.MsgAck, nil)
}

func (cs *clientSession) nack() error {
	return cs.send(wire.MsgNack, nil)
}

// send writes one message to the peer. Once authenticated, it goes
// through cs.trader.Send so it is serialized against the matcher's and
// the registry's broadcasts under the same session lock (spec §4.2,
// §5); before authentication no Trader exists yet and cs.conn has no
// other concurrent writer, so the direct write is safe.
func (cs *clientSession) send(typ wire.MsgType, payload []byte) error {
	if cs.trader != nil {
		return cs.trader.Send(typ, payload, wallClock)
	}
	return wire.WriteMessage(cs.conn, typ, payload, wallClock)
}

// wallClock stamps outbound messages with the producer's wall clock, per
// spec §6's timestamp_sec/timestamp_nsec header fields.
func wallClock() (uint32, uint32) {
	now := time.Now()
	return uint32(now.Unix()), uint32(now.Nanosecond())
}

func (cs *clientSession) handleLogin(payload []byte) error {
	if len(payload) == 0 {
		return cs.nack()
	}
	name := string(payload)

	acct, err := cs.server.ledger.Lookup(name)
	if err != nil {
		return cs.nack()
	}

	tr, err := cs.server.traders.Login(cs.conn, name, acct)
	if err != nil {
		return cs.nack()
	}

	cs.trader = tr
	cs.state = stateAuthenticated

	return cs.ackEmpty()
}

func (cs *clientSession) status() exchange.Status {
	return cs.server.exchange.Status(cs.trader.Account)
}

func (cs *clientSession) handleStatus() error {
	return cs.ack(cs.status(), 0, 0)
}

func (cs *clientSession) handleDeposit(payload []byte) error {
	info, err := wire.DecodeFundsInfo(payload)
	if err != nil {
		return cs.nack()
	}

	cs.server.ledger.CreditBalance(cs.trader.Account, info.Amount)
	return cs.ack(cs.status(), 0, 0)
}

func (cs *clientSession) handleWithdraw(payload []byte) error {
	info, err := wire.DecodeFundsInfo(payload)
	if err != nil {
		return cs.nack()
	}

	if err := cs.server.ledger.DebitBalance(cs.trader.Account, info.Amount); err != nil {
		return cs.nack()
	}
	return cs.ack(cs.status(), 0, 0)
}

// handleEscrow credits inventory unconditionally. This is not a normal
// trading operation -- see spec §9 -- but an out-of-band way to seed an
// account's inventory for testing without a counterparty sale.
func (cs *clientSession) handleEscrow(payload []byte) error {
	info, err := wire.DecodeEscrowInfo(payload)
	if err != nil {
		return cs.nack()
	}

	cs.server.ledger.CreditInventory(cs.trader.Account, info.Quantity)
	return cs.ack(cs.status(), 0, 0)
}

func (cs *clientSession) handleRelease(payload []byte) error {
	info, err := wire.DecodeEscrowInfo(payload)
	if err != nil {
		return cs.nack()
	}

	if err := cs.server.ledger.DebitInventory(cs.trader.Account, info.Quantity); err != nil {
		return cs.nack()
	}
	return cs.ack(cs.status(), 0, 0)
}

func (cs *clientSession) handlePost(payload []byte, side exchange.Side) error {
	info, err := wire.DecodeOrderInfo(payload)
	if err != nil {
		return cs.nack()
	}

	var (
		id      uint32
		xchgErr error
	)
	if side == exchange.Buy {
		id, xchgErr = cs.server.exchange.PostBuy(cs.trader, info.Quantity, info.Price)
	} else {
		id, xchgErr = cs.server.exchange.PostSell(cs.trader, info.Quantity, info.Price)
	}
	if xchgErr != nil {
		return cs.nack()
	}

	if err := cs.ack(cs.status(), id, info.Quantity); err != nil {
		return err
	}

	notify := wire.NotifyInfo{Quantity: info.Quantity, Price: info.Price}
	if side == exchange.Buy {
		notify.BuyerID = id
	} else {
		notify.SellerID = id
	}
	cs.server.traders.Broadcast(wire.MsgPosted, notify.Encode(), wallClock)

	return nil
}

func (cs *clientSession) handleCancel(payload []byte) error {
	info, err := wire.DecodeCancelInfo(payload)
	if err != nil {
		return cs.nack()
	}

	qty, err := cs.server.exchange.Cancel(cs.trader, info.OrderID)
	if err != nil {
		return cs.nack()
	}

	return cs.ack(cs.status(), info.OrderID, qty)
}
