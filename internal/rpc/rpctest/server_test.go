//go:build linux || darwin

package rpctest

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencli/opencli/internal/rpc"
)

func TestPeerUIDMatchesCurrentUserForSelfConnection(t *testing.T) {
	srv, err := NewServer(func(context.Context, *rpc.Request) *rpc.Response { return nil })
	require.NoError(t, err)
	defer srv.Close()

	ln, err := net.Listen("unix", srv.SocketPath+".peer")
	require.NoError(t, err)
	defer ln.Close()

	results := make(chan bool, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			results <- false
			return
		}
		defer conn.Close()
		ok, err := peerUIDMatchesCurrentUser(conn)
		results <- ok && err == nil
	}()

	client, err := net.Dial("unix", srv.SocketPath+".peer")
	require.NoError(t, err)
	client.Close()

	assert.True(t, <-results, "peerUIDMatchesCurrentUser() = false, want true")
}

func TestServerRejectsForeignPeer(t *testing.T) {
	restore := peerUIDMatchesCurrentUserFn
	peerUIDMatchesCurrentUserFn = func(net.Conn) (bool, error) { return false, nil }
	defer func() { peerUIDMatchesCurrentUserFn = restore }()

	srv, err := NewServer(func(context.Context, *rpc.Request) *rpc.Response {
		t.Fatal("handler should not run for a foreign peer")
		return nil
	})
	require.NoError(t, err)
	defer srv.Close()

	_, err = rpc.NewClient(srv.SocketPath).Call("system.health", nil, 0)
	var callErr *rpc.CallError
	require.ErrorAs(t, err, &callErr)
	assert.Equal(t, "peer uid mismatch", callErr.Message)
}
