package netlistener

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thushan/rama/pkg/graceful"
	"github.com/thushan/rama/pkg/rcontext"
)

func TestRuntimeHandlesConnections(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	tok := graceful.New()
	handled := make(chan struct{}, 1)

	rt := New(ln, tok, func(ctx *rcontext.Context, conn net.Conn) {
		assert.NotEqual(t, "", ctx.ConnectionID().String())
		handled <- struct{}{}
	}, nil)

	go rt.Serve()
	defer tok.BeginDrain()

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	select {
	case <-handled:
	case <-time.After(2 * time.Second):
		t.Fatal("handler was never invoked")
	}
}

func TestRuntimeStopsOnDrain(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	tok := graceful.New()
	rt := New(ln, tok, func(ctx *rcontext.Context, conn net.Conn) {}, nil)

	done := make(chan error, 1)
	go func() { done <- rt.Serve() }()

	tok.BeginDrain()
	ln.Close()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after drain + listener close")
	}
}
