package account

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLookupCreatesOnce(t *testing.T) {
	l := NewLedger()

	a1, err := l.Lookup("alice")
	require.NoError(t, err)

	a2, err := l.Lookup("alice")
	require.NoError(t, err)

	require.Same(t, a1, a2)

	balance, inventory := a1.Status()
	require.Zero(t, balance)
	require.Zero(t, inventory)
}

func TestDebitBalanceInsufficientLeavesUntouched(t *testing.T) {
	l := NewLedger()
	acct, err := l.Lookup("bob")
	require.NoError(t, err)

	l.CreditBalance(acct, 100)

	err = l.DebitBalance(acct, 150)
	require.ErrorIs(t, err, ErrInsufficientFunds)

	balance, _ := acct.Status()
	require.EqualValues(t, 100, balance)
}

func TestDebitInventoryInsufficientLeavesUntouched(t *testing.T) {
	l := NewLedger()
	acct, err := l.Lookup("carol")
	require.NoError(t, err)

	l.CreditInventory(acct, 5)

	err = l.DebitInventory(acct, 10)
	require.ErrorIs(t, err, ErrInsufficientInventory)

	_, inventory := acct.Status()
	require.EqualValues(t, 5, inventory)
}

func TestRoundTripDepositWithdraw(t *testing.T) {
	l := NewLedger()
	acct, err := l.Lookup("dave")
	require.NoError(t, err)

	l.CreditBalance(acct, 1000)
	require.NoError(t, l.DebitBalance(acct, 1000))

	balance, _ := acct.Status()
	require.Zero(t, balance)
}

func TestConcurrentCreditsAreSerialized(t *testing.T) {
	l := NewLedger()
	acct, err := l.Lookup("eve")
	require.NoError(t, err)

	const workers = 50
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			l.CreditBalance(acct, 1)
		}()
	}
	wg.Wait()

	balance, _ := acct.Status()
	require.EqualValues(t, workers, balance)
}

func TestLedgerFull(t *testing.T) {
	l := &Ledger{accounts: make(map[string]*Account)}
	for i := 0; i < maxAccounts; i++ {
		l.accounts[fmt.Sprintf("acct-%d", i)] = &Account{}
	}

	_, err := l.Lookup("overflow")
	require.ErrorIs(t, err, ErrLedgerFull)
}
