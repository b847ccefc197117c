package trader

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bourse-exchange/bourse/account"
	"github.com/bourse-exchange/bourse/wire"
)

// fakeConn is an in-memory Conn for exercising Trader/Registry without a
// real socket.
type fakeConn struct {
	bytes.Buffer
	closed bool
}

func (c *fakeConn) Close() error {
	c.closed = true
	return nil
}

func fixedNow() (uint32, uint32) { return 1, 2 }

func TestLoginLogout(t *testing.T) {
	reg := NewRegistry()
	ledger := account.NewLedger()
	acct, err := ledger.Lookup("alice")
	require.NoError(t, err)

	conn := &fakeConn{}
	tr, err := reg.Login(conn, "alice", acct)
	require.NoError(t, err)
	require.Equal(t, "alice", tr.Name)

	reg.Logout(tr)
	require.True(t, conn.closed)
}

func TestLoginAlreadyLoggedIn(t *testing.T) {
	reg := NewRegistry()
	ledger := account.NewLedger()
	acct, _ := ledger.Lookup("bob")

	_, err := reg.Login(&fakeConn{}, "bob", acct)
	require.NoError(t, err)

	_, err = reg.Login(&fakeConn{}, "bob", acct)
	require.ErrorIs(t, err, ErrAlreadyLoggedIn)
}

func TestResidualRefKeepsTraderAlive(t *testing.T) {
	reg := NewRegistry()
	ledger := account.NewLedger()
	acct, _ := ledger.Lookup("carol")

	conn := &fakeConn{}
	tr, err := reg.Login(conn, "carol", acct)
	require.NoError(t, err)

	// Simulate an open order holding an extra reference.
	tr.Ref()

	reg.Logout(tr)
	require.False(t, conn.closed, "socket should stay open while an order references the trader")

	tr.Unref()
	require.True(t, conn.closed)
}

func TestUnrefUnderflowPanics(t *testing.T) {
	reg := NewRegistry()
	ledger := account.NewLedger()
	acct, _ := ledger.Lookup("dave")

	tr, err := reg.Login(&fakeConn{}, "dave", acct)
	require.NoError(t, err)

	tr.Unref() // drops to zero, closes
	require.Panics(t, func() {
		tr.Unref()
	})
}

func TestBroadcastDeliversToAll(t *testing.T) {
	reg := NewRegistry()
	ledger := account.NewLedger()

	var conns []*fakeConn
	for _, name := range []string{"alice", "bob"} {
		acct, _ := ledger.Lookup(name)
		conn := &fakeConn{}
		conns = append(conns, conn)
		_, err := reg.Login(conn, name, acct)
		require.NoError(t, err)
	}

	info := wire.NotifyInfo{BuyerID: 1, SellerID: 2, Quantity: 5, Price: 10}
	reg.Broadcast(wire.MsgTraded, info.Encode(), fixedNow)

	for _, conn := range conns {
		msg, err := wire.ReadMessage(conn)
		require.NoError(t, err)
		require.Equal(t, wire.MsgTraded, msg.Header.Type)
	}
}

func TestBroadcastSwallowsPerRecipientErrors(t *testing.T) {
	reg := NewRegistry()
	ledger := account.NewLedger()
	acct, _ := ledger.Lookup("erin")

	conn := &failingConn{}
	_, err := reg.Login(conn, "erin", acct)
	require.NoError(t, err)

	require.NotPanics(t, func() {
		reg.Broadcast(wire.MsgTraded, nil, fixedNow)
	})
}

type failingConn struct{}

func (f *failingConn) Write(p []byte) (int, error) { return 0, errors.New("boom") }
func (f *failingConn) Close() error                { return nil }
