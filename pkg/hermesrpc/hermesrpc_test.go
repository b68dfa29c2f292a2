package hermesrpc

import (
	"context"
	"net"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hermes-hpc/hermes/internal/core"
)

var registerEchoOnce sync.Once

// Echo is a trivial net/rpc receiver used to exercise the transport
// end to end over a real loopback HTTP CONNECT hijack.
type Echo struct{}

// Ping implements the one-arg-one-reply net/rpc calling convention.
func (Echo) Ping(args *string, reply *string) error {
	*reply = "pong:" + *args
	return nil
}

func startTestServer(t *testing.T) string {
	t.Helper()

	var regErr error
	registerEchoOnce.Do(func() { regErr = RegisterName("Echo", Echo{}) })
	require.NoError(t, regErr)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	go http.Serve(ln, nil)
	t.Cleanup(func() { ln.Close() })

	return ln.Addr().String()
}

func TestCallRoundTripsOverHTTPHijack(t *testing.T) {
	addr := startTestServer(t)

	book := StaticAddressBook{core.NodeID(1): addr}
	client := NewClient(book, time.Second, time.Second, 4)
	defer client.Close()

	var reply string
	err := client.Call(context.Background(), core.NodeID(1), "Echo.Ping", strPtr("hi"), &reply)
	require.NoError(t, err)
	require.Equal(t, "pong:hi", reply)
}

func TestCallFailsForUnknownNode(t *testing.T) {
	client := NewClient(StaticAddressBook{}, time.Second, time.Second, 4)
	defer client.Close()

	var reply string
	err := client.Call(context.Background(), core.NodeID(99), "Echo.Ping", strPtr("hi"), &reply)
	require.Error(t, err)
}

func TestConnectionCacheReusesConnections(t *testing.T) {
	addr := startTestServer(t)
	cc := NewConnectionCache(time.Second, time.Second, 4)
	defer cc.CloseAll()

	var reply string
	require.NoError(t, cc.Call(context.Background(), addr, "Echo.Ping", strPtr("a"), &reply))
	require.NoError(t, cc.Call(context.Background(), addr, "Echo.Ping", strPtr("b"), &reply))
	require.Equal(t, "pong:b", reply)
}

func strPtr(s string) *string { return &s }
