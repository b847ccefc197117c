// Package exchange implements the order book and matching engine (spec
// component C4): two collections of resting orders, a monotone order-id
// allocator, and a dedicated matcher goroutine that continuously pairs
// the best compatible buy and sell, settling trades against the account
// ledger and notifying traders through the session registry.
package exchange

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/btcsuite/btclog"
	"golang.org/x/sync/semaphore"

	"github.com/bourse-exchange/bourse/account"
	"github.com/bourse-exchange/bourse/trader"
	"github.com/bourse-exchange/bourse/wire"
)

// Subsystem is the logging subsystem name used by this package.
const Subsystem = "XCHG"

var log = btclog.Disabled

// UseLogger uses a specified Logger to output package logging info.
func UseLogger(logger btclog.Logger) {
	log = logger
}

// ErrOrderNotFound is returned by Cancel when no resting order with the
// given id exists.
var ErrOrderNotFound = errors.New("order not found")

// ErrNotOwner is returned by Cancel when the order exists but belongs to
// a different trader, protecting against cross-account cancels.
var ErrNotOwner = errors.New("order belongs to a different trader")

// nowFunc stamps outbound notifications with the producer's wall clock,
// matching the wire format's timestamp fields. Tests substitute a fixed
// clock.
type nowFunc func() (sec, nsec uint32)

func wallClock() (uint32, uint32) {
	now := time.Now()
	return uint32(now.Unix()), uint32(now.Nanosecond())
}

// Status is a point-in-time snapshot of an account plus the book.
type Status struct {
	Balance        uint32
	Inventory      uint32
	BestBid        uint32
	BestAsk        uint32
	LastTradePrice uint32
}

// Exchange is the order book and its dedicated matcher goroutine. Two
// unordered collections of resting orders (buys, sells), a last trade
// price, a monotone order-id allocator, and an exclusive lock protecting
// all of the above, per spec §3.
type Exchange struct {
	ledger   *account.Ledger
	registry *trader.Registry
	now      nowFunc

	mu             sync.Mutex
	buys           map[uint32]*Order
	sells          map[uint32]*Order
	nextID         uint32
	lastTradePrice uint32

	// sem is the counting notification semaphore driving the matcher,
	// per spec §3/§4.4: every successful post releases one permit and the
	// matcher acquires permits one at a time, so each post causes its own
	// wakeup. A pass started by one wakeup may already match orders from
	// posts that arrived mid-pass; the wakeups for those posts then find
	// no cross and go back to waiting.
	sem *semaphore.Weighted

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	started sync.Once
	stopped sync.Once
}

// New creates an Exchange backed by ledger for settlement and registry
// for trader notifications.
func New(ledger *account.Ledger, registry *trader.Registry) *Exchange {
	ctx, cancel := context.WithCancel(context.Background())

	sem := semaphore.NewWeighted(math.MaxInt64)
	// Drain the semaphore to zero available permits; NewWeighted starts
	// fully available, but the matcher must block until a post signals
	// it, not run immediately.
	_ = sem.Acquire(context.Background(), math.MaxInt64)

	return &Exchange{
		ledger:   ledger,
		registry: registry,
		now:      wallClock,
		buys:     make(map[uint32]*Order),
		sells:    make(map[uint32]*Order),
		nextID:   1,
		sem:      sem,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start launches the matcher goroutine.
func (e *Exchange) Start() error {
	e.started.Do(func() {
		log.Infof("Starting exchange")
		e.wg.Add(1)
		go e.matchLoop()
	})
	return nil
}

// Stop halts the matcher, then removes every resting order, returning
// its residual encumbrance to its trader and dropping the order's trader
// reference. No notifications are emitted on shutdown.
func (e *Exchange) Stop() error {
	e.stopped.Do(func() {
		log.Infof("Stopping exchange")
		e.cancel()
		e.wg.Wait()

		e.mu.Lock()
		defer e.mu.Unlock()

		for id, o := range e.buys {
			e.refundAndRelease(o)
			delete(e.buys, id)
		}
		for id, o := range e.sells {
			e.refundAndRelease(o)
			delete(e.sells, id)
		}
	})
	return nil
}

// refundAndRelease returns o's residual encumbrance to its trader's
// account and drops the order's trader reference. Caller must hold e.mu.
func (e *Exchange) refundAndRelease(o *Order) {
	switch o.Side {
	case Buy:
		e.ledger.CreditBalance(o.Trader.Account, o.Quantity*o.LimitPrice)
	case Sell:
		e.ledger.CreditInventory(o.Trader.Account, o.Quantity)
	}
	o.Trader.Unref()
}

// PostBuy validates qty/price, encumbers qty*price from t's balance,
// allocates an order id, and inserts the order into the book, waking the
// matcher. It returns 0 if validation or encumbrance fails (the caller
// should reply NACK), otherwise the new order's id.
func (e *Exchange) PostBuy(t *trader.Trader, qty, price uint32) (uint32, error) {
	if qty == 0 || price == 0 {
		return 0, errNonPositive
	}

	cost := qty * price
	if err := e.ledger.DebitBalance(t.Account, cost); err != nil {
		return 0, err
	}

	e.mu.Lock()
	id := e.nextID
	e.nextID++
	t.Ref()
	e.buys[id] = &Order{ID: id, Side: Buy, Trader: t, Quantity: qty, LimitPrice: price}
	e.mu.Unlock()

	e.sem.Release(1)

	return id, nil
}

// PostSell validates qty/price, encumbers qty from t's inventory, and
// inserts the order, waking the matcher.
func (e *Exchange) PostSell(t *trader.Trader, qty, price uint32) (uint32, error) {
	if qty == 0 || price == 0 {
		return 0, errNonPositive
	}

	if err := e.ledger.DebitInventory(t.Account, qty); err != nil {
		return 0, err
	}

	e.mu.Lock()
	id := e.nextID
	e.nextID++
	t.Ref()
	e.sells[id] = &Order{ID: id, Side: Sell, Trader: t, Quantity: qty, LimitPrice: price}
	e.mu.Unlock()

	e.sem.Release(1)

	return id, nil
}

var errNonPositive = errors.New("quantity and price must be greater than zero")

// Cancel removes trader t's resting order id from the book, refunding its
// full residual encumbrance and broadcasting a CANCELED notification. It
// fails, leaving all state untouched, if no such order exists or if it
// belongs to a different trader.
func (e *Exchange) Cancel(t *trader.Trader, id uint32) (residualQty uint32, err error) {
	e.mu.Lock()

	o, side, found := e.findOrder(id)
	if !found {
		e.mu.Unlock()
		return 0, ErrOrderNotFound
	}
	if o.Trader != t {
		e.mu.Unlock()
		return 0, ErrNotOwner
	}

	residualQty = o.Quantity
	e.refundAndRelease(o)

	switch side {
	case Buy:
		delete(e.buys, id)
	case Sell:
		delete(e.sells, id)
	}
	e.mu.Unlock()

	info := wire.NotifyInfo{Quantity: residualQty}
	switch side {
	case Buy:
		info.BuyerID = id
	case Sell:
		info.SellerID = id
	}
	e.registry.Broadcast(wire.MsgCanceled, info.Encode(), e.now)

	return residualQty, nil
}

// findOrder looks up id in both books. Caller must hold e.mu.
func (e *Exchange) findOrder(id uint32) (*Order, Side, bool) {
	if o, ok := e.buys[id]; ok {
		return o, Buy, true
	}
	if o, ok := e.sells[id]; ok {
		return o, Sell, true
	}
	return nil, 0, false
}

// Status fills a point-in-time snapshot for acct: its balance/inventory
// plus the current best bid, best ask, and last trade price.
func (e *Exchange) Status(acct *account.Account) Status {
	balance, inventory := acct.Status()

	e.mu.Lock()
	bid := e.bestBuyPriceLocked()
	ask := e.bestSellPriceLocked()
	last := e.lastTradePrice
	e.mu.Unlock()

	return Status{
		Balance:        balance,
		Inventory:      inventory,
		BestBid:        bid,
		BestAsk:        ask,
		LastTradePrice: last,
	}
}

// bestBuyPriceLocked returns the highest resting buy price, 0 if none.
// Caller must hold e.mu. Linear scan, per the spec's design notes: tie
// breaking is unspecified and a priority structure is a drop-in
// substitute that changes no observable behavior.
func (e *Exchange) bestBuyPriceLocked() uint32 {
	var best uint32
	for _, o := range e.buys {
		if o.LimitPrice > best {
			best = o.LimitPrice
		}
	}
	return best
}

// bestSellPriceLocked returns the lowest resting sell price, 0 if none.
func (e *Exchange) bestSellPriceLocked() uint32 {
	var best uint32
	for _, o := range e.sells {
		if best == 0 || o.LimitPrice < best {
			best = o.LimitPrice
		}
	}
	return best
}
