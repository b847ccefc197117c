package exchange

import "github.com/bourse-exchange/bourse/trader"

// Side identifies which side of the book an Order rests on.
type Side uint8

const (
	// Buy orders bid for the instrument.
	Buy Side = iota
	// Sell orders offer the instrument.
	Sell
)

// Order is a resting limit order. While resting, its economic cost is
// encumbered on Trader's account: for a Buy, Quantity*LimitPrice has been
// debited from the balance; for a Sell, Quantity has been debited from
// the inventory.
type Order struct {
	// ID is unique across the exchange's lifetime and strictly
	// increasing in post order.
	ID uint32

	Side Side

	// Trader is an owning reference: the order holds one Ref on it for
	// as long as the order rests in the book.
	Trader *trader.Trader

	// Quantity is mutated only by the matcher (decreasing on partial
	// fills); cancellation and shutdown remove the order from the book
	// without changing it.
	Quantity uint32

	LimitPrice uint32
}
