package socks5

import (
	"bufio"
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thushan/rama/pkg/rcontext"
)

func TestGreetingRoundTrip(t *testing.T) {
	r, w := io.Pipe()
	go func() {
		w.Write([]byte{Version, 0x02, MethodNoAuth, MethodUserPass})
		w.Close()
	}()

	g, err := readGreeting(bufio.NewReader(r))
	require.NoError(t, err)
	assert.True(t, g.offers(MethodNoAuth))
	assert.True(t, g.offers(MethodUserPass))
	assert.False(t, g.offers(0x09))
}

func TestAddressRoundTripIPv4(t *testing.T) {
	r, w := io.Pipe()
	go func() {
		w.Write([]byte{AddrIPv4, 127, 0, 0, 1, 0x1F, 0x90}) // port 8080
		w.Close()
	}()

	addr, err := readAddress(bufio.NewReader(r))
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", addr.IP.String())
	assert.Equal(t, uint16(8080), addr.Port)
}

func TestAddressRoundTripDomain(t *testing.T) {
	r, w := io.Pipe()
	go func() {
		name := "example.com"
		msg := append([]byte{AddrDomain, byte(len(name))}, name...)
		msg = append(msg, 0x00, 0x50)
		w.Write(msg)
		w.Close()
	}()

	addr, err := readAddress(bufio.NewReader(r))
	require.NoError(t, err)
	assert.Equal(t, "example.com", addr.FQDN)
	assert.Equal(t, uint16(80), addr.Port)
}

func TestServerConnectEndToEnd(t *testing.T) {
	upstream, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer upstream.Close()

	go func() {
		conn, err := upstream.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		conn.Write([]byte("hello from upstream"))
	}()

	srv := New(&Config{}, nil)

	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()

	rc := rcontext.New(context.Background())
	go srv.ServeConn(rc, serverConn)

	// Greeting: no-auth only.
	_, err = clientConn.Write([]byte{Version, 0x01, MethodNoAuth})
	require.NoError(t, err)

	methodReply := make([]byte, 2)
	_, err = io.ReadFull(clientConn, methodReply)
	require.NoError(t, err)
	assert.Equal(t, []byte{Version, MethodNoAuth}, methodReply)

	host, portStr, err := net.SplitHostPort(upstream.Addr().String())
	require.NoError(t, err)
	_ = host

	req := buildConnectRequest(t, upstream.Addr().String())
	_, err = clientConn.Write(req)
	require.NoError(t, err)

	connReply := make([]byte, 10)
	_, err = io.ReadFull(clientConn, connReply)
	require.NoError(t, err)
	assert.Equal(t, byte(ReplySucceeded), connReply[1])

	_ = portStr

	clientConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	body := make([]byte, len("hello from upstream"))
	_, err = io.ReadFull(clientConn, body)
	require.NoError(t, err)
	assert.Equal(t, "hello from upstream", string(body))
}

func TestServerConnectDeniedTarget(t *testing.T) {
	upstream, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer upstream.Close()

	srv := New(&Config{AllowedTargets: []string{"10.0.0.*"}}, nil)

	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()

	rc := rcontext.New(context.Background())
	go srv.ServeConn(rc, serverConn)

	_, err = clientConn.Write([]byte{Version, 0x01, MethodNoAuth})
	require.NoError(t, err)

	methodReply := make([]byte, 2)
	_, err = io.ReadFull(clientConn, methodReply)
	require.NoError(t, err)

	req := buildConnectRequest(t, upstream.Addr().String())
	_, err = clientConn.Write(req)
	require.NoError(t, err)

	connReply := make([]byte, 10)
	_, err = io.ReadFull(clientConn, connReply)
	require.NoError(t, err)
	assert.Equal(t, byte(ReplyConnectionNotAllowed), connReply[1])
}

func buildConnectRequest(t *testing.T, addr string) []byte {
	t.Helper()
	host, portStr, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	port := mustAtoi(t, portStr)

	ip := net.ParseIP(host).To4()
	require.NotNil(t, ip)

	msg := []byte{Version, CmdConnect, 0x00, AddrIPv4}
	msg = append(msg, ip...)
	msg = append(msg, byte(port>>8), byte(port))
	return msg
}

func mustAtoi(t *testing.T, s string) int {
	t.Helper()
	var n int
	for _, c := range s {
		n = n*10 + int(c-'0')
	}
	return n
}
