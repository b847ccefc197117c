// Package account implements the process-wide account ledger: the mapping
// from a user name to a balance/inventory pair, mutated under per-account
// locks with "succeed or leave untouched" debit semantics.
package account

import (
	"errors"
	"sync"

	"github.com/btcsuite/btclog"
)

// Subsystem is the logging subsystem name used by this package.
const Subsystem = "LEDG"

var log = btclog.Disabled

// UseLogger uses a specified Logger to output package logging info.
func UseLogger(logger btclog.Logger) {
	log = logger
}

var (
	// ErrLedgerFull is returned by Lookup when the ledger has already
	// reached its fixed per-process cap on distinct accounts.
	ErrLedgerFull = errors.New("account ledger is full")

	// ErrInsufficientFunds is returned when a balance debit would leave
	// the account's balance negative.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrInsufficientInventory is returned when an inventory debit would
	// leave the account's inventory negative.
	ErrInsufficientInventory = errors.New("insufficient inventory")
)

// maxAccounts bounds the number of distinct accounts the ledger will ever
// create, matching the spec's "fixed per-process cap on distinct accounts".
const maxAccounts = 1 << 16

// Account holds one user's balance and inventory. It is created on first
// lookup for a name and destroyed only at process shutdown; it persists
// across logout/login by the same user.
type Account struct {
	mu sync.Mutex

	// Name is the user name that owns this account. Immutable after
	// creation.
	Name string

	balance   uint32
	inventory uint32
}

// Status returns a snapshot of the account's balance and inventory.
func (a *Account) Status() (balance, inventory uint32) {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.balance, a.inventory
}

// Ledger is the process-wide mapping from user name to Account. All
// mutators hold the account's own lock for the entire read-modify-write;
// the ledger's own lock only guards the name-to-account map.
type Ledger struct {
	mu       sync.Mutex
	accounts map[string]*Account

	started sync.Once
	stopped sync.Once
}

// NewLedger creates an empty account ledger.
func NewLedger() *Ledger {
	return &Ledger{
		accounts: make(map[string]*Account),
	}
}

// Start prepares the ledger for use. It exists to give the ledger the same
// Start/Stop lifecycle as every other long-lived component so process
// init/teardown can treat all of them uniformly.
func (l *Ledger) Start() error {
	l.started.Do(func() {
		log.Infof("Starting account ledger")
	})
	return nil
}

// Stop tears down the ledger. The ledger owns no background goroutines and
// no cross-process state, so there is nothing to drain; accounts are
// simply dropped with the process.
func (l *Ledger) Stop() error {
	l.stopped.Do(func() {
		log.Infof("Stopping account ledger")
	})
	return nil
}

// Lookup returns the existing Account for name, or atomically creates one
// with a zero balance and zero inventory. It fails only if the ledger has
// already reached its fixed cap on distinct accounts.
func (l *Ledger) Lookup(name string) (*Account, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if acct, ok := l.accounts[name]; ok {
		return acct, nil
	}

	if len(l.accounts) >= maxAccounts {
		return nil, ErrLedgerFull
	}

	acct := &Account{Name: name}
	l.accounts[name] = acct

	log.Debugf("Created account for %q", name)

	return acct, nil
}

// CreditBalance unconditionally increases acct's balance by n. A credit
// against an existing account cannot fail.
func (l *Ledger) CreditBalance(acct *Account, n uint32) {
	acct.mu.Lock()
	defer acct.mu.Unlock()

	acct.balance += n
}

// DebitBalance atomically succeeds if acct's balance is at least n,
// decrementing it by n. Otherwise it leaves the balance untouched and
// returns ErrInsufficientFunds. This is the ledger's critical invariant:
// a failed debit must never observe an intermediate state.
func (l *Ledger) DebitBalance(acct *Account, n uint32) error {
	acct.mu.Lock()
	defer acct.mu.Unlock()

	if acct.balance < n {
		return ErrInsufficientFunds
	}
	acct.balance -= n

	return nil
}

// CreditInventory unconditionally increases acct's inventory by n.
func (l *Ledger) CreditInventory(acct *Account, n uint32) {
	acct.mu.Lock()
	defer acct.mu.Unlock()

	acct.inventory += n
}

// DebitInventory atomically succeeds if acct's inventory is at least n,
// decrementing it by n. Otherwise it leaves the inventory untouched and
// returns ErrInsufficientInventory.
func (l *Ledger) DebitInventory(acct *Account, n uint32) error {
	acct.mu.Lock()
	defer acct.mu.Unlock()

	if acct.inventory < n {
		return ErrInsufficientInventory
	}
	acct.inventory -= n

	return nil
}
