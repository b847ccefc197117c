package exchange

import (
	"github.com/bourse-exchange/bourse/wire"
)

// matchLoop is the exchange's single dedicated matcher goroutine. Each
// wakeup runs matchOnce until it reports no further cross is possible,
// then blocks again on the semaphore.
func (e *Exchange) matchLoop() {
	defer e.wg.Done()

	for {
		if err := e.sem.Acquire(e.ctx, 1); err != nil {
			// Context canceled: Stop() is draining the book itself.
			return
		}

		for e.matchOnce() {
		}
	}
}

// bestBuyLocked returns the resting buy order with the highest price, or
// nil if the buy side is empty. Caller must hold e.mu.
func (e *Exchange) bestBuyLocked() *Order {
	var best *Order
	for _, o := range e.buys {
		if best == nil || o.LimitPrice > best.LimitPrice {
			best = o
		}
	}
	return best
}

// bestSellLocked returns the resting sell order with the lowest price, or
// nil if the sell side is empty. Caller must hold e.mu.
func (e *Exchange) bestSellLocked() *Order {
	var best *Order
	for _, o := range e.sells {
		if best == nil || o.LimitPrice < best.LimitPrice {
			best = o
		}
	}
	return best
}

// tradePrice implements spec §4.4 step 3: the trade price is the last
// trade price if it lies within [minPrice, maxPrice]; otherwise the
// nearer endpoint; if the exchange has never traded, the integer-floor
// midpoint.
func tradePrice(last, minPrice, maxPrice uint32) uint32 {
	switch {
	case last == 0:
		return (minPrice + maxPrice) / 2
	case last < minPrice:
		return minPrice
	case last > maxPrice:
		return maxPrice
	default:
		return last
	}
}

// matchOnce runs a single matching pass, holding the exchange lock for
// its entirety so the book-and-ledger transition is atomic from other
// traders' viewpoints. It returns true if a trade executed (the caller
// should try again immediately, since more crosses may remain).
func (e *Exchange) matchOnce() bool {
	e.mu.Lock()

	buy := e.bestBuyLocked()
	sell := e.bestSellLocked()
	if buy == nil || sell == nil || buy.LimitPrice < sell.LimitPrice {
		e.mu.Unlock()
		return false
	}

	minPrice, maxPrice := sell.LimitPrice, buy.LimitPrice
	price := tradePrice(e.lastTradePrice, minPrice, maxPrice)

	qty := buy.Quantity
	if sell.Quantity < qty {
		qty = sell.Quantity
	}

	// Settle: seller is paid at the trade price, buyer receives the
	// goods and a refund of whatever they over-encumbered at their
	// limit versus what they actually paid.
	e.ledger.CreditBalance(sell.Trader.Account, qty*price)
	e.ledger.CreditInventory(buy.Trader.Account, qty)

	overEncumbrance := qty * (buy.LimitPrice - price)
	if overEncumbrance > 0 {
		e.ledger.CreditBalance(buy.Trader.Account, overEncumbrance)
	}

	buy.Quantity -= qty
	sell.Quantity -= qty
	e.lastTradePrice = price

	buyDone := buy.Quantity == 0
	sellDone := sell.Quantity == 0
	if buyDone {
		delete(e.buys, buy.ID)
		buy.Trader.Unref()
	}
	if sellDone {
		delete(e.sells, sell.ID)
		sell.Trader.Unref()
	}

	buyerTrader, sellerTrader := buy.Trader, sell.Trader
	buyID, sellID := buy.ID, sell.ID

	bought := wire.NotifyInfo{BuyerID: buyID, SellerID: sellID, Quantity: qty, Price: price}
	sold := bought

	if err := buyerTrader.Send(wire.MsgBought, bought.Encode(), e.now); err != nil {
		log.Debugf("Failed to notify buyer %q of fill: %v", buyerTrader.Name, err)
	}
	if err := sellerTrader.Send(wire.MsgSold, sold.Encode(), e.now); err != nil {
		log.Debugf("Failed to notify seller %q of fill: %v", sellerTrader.Name, err)
	}
	e.registry.Broadcast(wire.MsgTraded, bought.Encode(), e.now)

	e.mu.Unlock()

	return true
}
