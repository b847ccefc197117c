package exchange

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bourse-exchange/bourse/account"
	"github.com/bourse-exchange/bourse/trader"
)

type fakeConn struct{ bytes.Buffer }

func (c *fakeConn) Close() error { return nil }

func newTestTrader(t *testing.T, reg *trader.Registry, ledger *account.Ledger, name string) *trader.Trader {
	t.Helper()
	acct, err := ledger.Lookup(name)
	require.NoError(t, err)
	tr, err := reg.Login(&fakeConn{}, name, acct)
	require.NoError(t, err)
	return tr
}

func newTestExchange(t *testing.T) (*Exchange, *account.Ledger, *trader.Registry) {
	t.Helper()
	ledger := account.NewLedger()
	registry := trader.NewRegistry()
	ex := New(ledger, registry)
	require.NoError(t, ex.Start())
	t.Cleanup(func() { require.NoError(t, ex.Stop()) })
	return ex, ledger, registry
}

// waitForLastTradePrice polls the last trade price until it equals want or the
// deadline passes; the matcher runs on its own goroutine.
func waitForLastTradePrice(t *testing.T, ex *Exchange, acct *account.Account, want uint32) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if ex.Status(acct).LastTradePrice == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("last trade price never reached %d", want)
}

func TestSimpleTrade(t *testing.T) {
	ex, ledger, registry := newTestExchange(t)

	alice := newTestTrader(t, registry, ledger, "alice")
	bob := newTestTrader(t, registry, ledger, "bob")

	ledger.CreditBalance(alice.Account, 1000)
	ledger.CreditInventory(bob.Account, 10)

	sellID, err := ex.PostSell(bob, 5, 100)
	require.NoError(t, err)
	require.EqualValues(t, 1, sellID)

	buyID, err := ex.PostBuy(alice, 5, 120)
	require.NoError(t, err)
	require.EqualValues(t, 2, buyID)

	waitForLastTradePrice(t, ex, alice.Account, 110)

	aliceBalance, aliceInventory := alice.Account.Status()
	require.EqualValues(t, 1000-550, aliceBalance)
	require.EqualValues(t, 5, aliceInventory)

	bobBalance, bobInventory := bob.Account.Status()
	require.EqualValues(t, 550, bobBalance)
	require.EqualValues(t, 5, bobInventory) // already escrowed, unchanged
}

func TestPartialFill(t *testing.T) {
	ex, ledger, registry := newTestExchange(t)

	alice := newTestTrader(t, registry, ledger, "alice")
	bob := newTestTrader(t, registry, ledger, "bob")

	ledger.CreditBalance(alice.Account, 1000)
	ledger.CreditInventory(bob.Account, 10)

	_, err := ex.PostSell(bob, 10, 50)
	require.NoError(t, err)
	_, err = ex.PostBuy(alice, 4, 50)
	require.NoError(t, err)

	waitForLastTradePrice(t, ex, alice.Account, 50)

	aliceBalance, _ := alice.Account.Status()
	require.EqualValues(t, 1000-4*50, aliceBalance)
}

func TestOverLimitRefund(t *testing.T) {
	ex, ledger, registry := newTestExchange(t)

	alice := newTestTrader(t, registry, ledger, "alice")
	bob := newTestTrader(t, registry, ledger, "bob")

	ledger.CreditBalance(alice.Account, 1000)
	ledger.CreditInventory(bob.Account, 10)

	_, err := ex.PostSell(bob, 3, 100)
	require.NoError(t, err)
	_, err = ex.PostBuy(alice, 3, 200)
	require.NoError(t, err)

	waitForLastTradePrice(t, ex, alice.Account, 150)

	aliceBalance, _ := alice.Account.Status()
	// Encumbered 600, actually paid 450: 1000-450 = 550.
	require.EqualValues(t, 550, aliceBalance)
}

func TestCancelRefundsEncumbrance(t *testing.T) {
	ex, ledger, registry := newTestExchange(t)

	alice := newTestTrader(t, registry, ledger, "alice")
	ledger.CreditBalance(alice.Account, 1000)

	id, err := ex.PostBuy(alice, 2, 50)
	require.NoError(t, err)

	balance, _ := alice.Account.Status()
	require.EqualValues(t, 1000-100, balance)

	qty, err := ex.Cancel(alice, id)
	require.NoError(t, err)
	require.EqualValues(t, 2, qty)

	balance, _ = alice.Account.Status()
	require.EqualValues(t, 1000, balance)
}

func TestCancelUnknownFails(t *testing.T) {
	ex, _, registry := newTestExchange(t)
	ledger := account.NewLedger()
	alice := newTestTrader(t, registry, ledger, "alice")

	_, err := ex.Cancel(alice, 999)
	require.ErrorIs(t, err, ErrOrderNotFound)
}

func TestCancelWrongOwnerFails(t *testing.T) {
	ex, ledger, registry := newTestExchange(t)

	alice := newTestTrader(t, registry, ledger, "alice")
	bob := newTestTrader(t, registry, ledger, "bob")
	ledger.CreditBalance(alice.Account, 1000)

	id, err := ex.PostBuy(alice, 2, 50)
	require.NoError(t, err)

	_, err = ex.Cancel(bob, id)
	require.ErrorIs(t, err, ErrNotOwner)

	balance, _ := alice.Account.Status()
	require.EqualValues(t, 1000-100, balance)
}

func TestPostBuyInsufficientFunds(t *testing.T) {
	ex, _, registry := newTestExchange(t)
	ledger := account.NewLedger()
	alice := newTestTrader(t, registry, ledger, "alice")

	_, err := ex.PostBuy(alice, 5, 100)
	require.ErrorIs(t, err, account.ErrInsufficientFunds)
}

func TestOrderIDsAreMonotonic(t *testing.T) {
	ex, ledger, registry := newTestExchange(t)
	alice := newTestTrader(t, registry, ledger, "alice")
	ledger.CreditBalance(alice.Account, 10000)

	var ids []uint32
	for i := 0; i < 5; i++ {
		id, err := ex.PostBuy(alice, 1, 1)
		require.NoError(t, err)
		ids = append(ids, id)
	}

	for i := 1; i < len(ids); i++ {
		require.Greater(t, ids[i], ids[i-1])
	}
}

func TestShutdownRefundsRestingOrders(t *testing.T) {
	ledger := account.NewLedger()
	registry := trader.NewRegistry()
	ex := New(ledger, registry)
	require.NoError(t, ex.Start())

	alice := newTestTrader(t, registry, ledger, "alice")
	ledger.CreditBalance(alice.Account, 1000)

	_, err := ex.PostBuy(alice, 2, 50)
	require.NoError(t, err)

	require.NoError(t, ex.Stop())

	balance, _ := alice.Account.Status()
	require.EqualValues(t, 1000, balance)
}
