package connreg

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWaitForEmptyReturnsImmediatelyWhenEmpty(t *testing.T) {
	r := New()

	done := make(chan struct{})
	go func() {
		r.WaitForEmpty()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("WaitForEmpty blocked on an empty registry")
	}
}

func TestWaitForEmptyBlocksUntilDrained(t *testing.T) {
	r := New()

	c1, c2 := net.Pipe()
	defer c2.Close()
	r.Register(c1)

	done := make(chan struct{})
	go func() {
		r.WaitForEmpty()
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("WaitForEmpty returned before the registry drained")
	case <-time.After(50 * time.Millisecond):
	}

	r.Unregister(c1)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("WaitForEmpty never woke after the registry drained")
	}
}

func TestShutdownAllClosesConnectionsWithoutHalfClose(t *testing.T) {
	r := New()

	c1, c2 := net.Pipe()
	r.Register(c1)

	r.ShutdownAll()

	buf := make([]byte, 1)
	_, err := c2.Read(buf)
	require.Error(t, err)
}
