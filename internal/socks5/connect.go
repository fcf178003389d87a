package socks5

import (
	"errors"
	"io"
	"net"
	"sync/atomic"

	"github.com/sony/gobreaker/v2"
	"golang.org/x/sync/errgroup"

	"github.com/thushan/rama/internal/controlplane"
	"github.com/thushan/rama/pkg/pool"
	"github.com/thushan/rama/pkg/rcontext"
)

const relayBufferSize = 32 * 1024

var relayBufferPool = pool.NewLitePool(func() *[]byte {
	b := make([]byte, relayBufferSize)
	return &b
})

// handleConnect dials addr, replies with the bound local address on
// success (or the appropriate failure reply), then relays bytes in both
// directions until either side closes.
func (s *Server) handleConnect(ctx *rcontext.Context, client net.Conn, addr Address) {
	upstream, err := s.dial(ctx.Std(), addr)
	if err != nil {
		_ = writeReply(client, mapDialError(err), Address{})
		return
	}
	defer upstream.Close()

	if err := writeReply(client, ReplySucceeded, addressFromNetAddr(upstream.LocalAddr())); err != nil {
		return
	}

	s.relay(ctx, client, upstream, addr.String())
}

// relay copies bytes in both directions, using an errgroup; the first
// non-EOF error from either pump closes both connections, which ends both
// halves of the tunnel.
func (s *Server) relay(ctx *rcontext.Context, client, upstream net.Conn, target string) {
	atomic.AddInt64(&s.activeSessions, 1)
	defer atomic.AddInt64(&s.activeSessions, -1)

	var tunnel *controlplane.Tunnel
	if s.Tunnels != nil {
		id := ctx.ConnectionID()
		tunnel = s.Tunnels.Register(id, controlplane.KindSOCKS5Connect, target)
		defer s.Tunnels.Unregister(id)
	}

	g, _ := errgroup.WithContext(ctx.Std())

	g.Go(func() error {
		defer closeWrite(upstream)
		buf := relayBufferPool.Get()
		defer relayBufferPool.Put(buf)
		n, err := io.CopyBuffer(upstream, client, *buf)
		tunnel.AddBytes(n, 0)
		if err := ignoreClosed(err); err != nil {
			client.Close()
			upstream.Close()
			return err
		}
		return nil
	})
	g.Go(func() error {
		defer closeWrite(client)
		buf := relayBufferPool.Get()
		defer relayBufferPool.Put(buf)
		n, err := io.CopyBuffer(client, upstream, *buf)
		tunnel.AddBytes(0, n)
		if err := ignoreClosed(err); err != nil {
			client.Close()
			upstream.Close()
			return err
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		s.logger.Debug("socks5 relay ended with error", "error", err, "connection_id", ctx.ConnectionID().String())
	}
}

func closeWrite(conn net.Conn) {
	if cw, ok := conn.(interface{ CloseWrite() error }); ok {
		_ = cw.CloseWrite()
	}
}

func ignoreClosed(err error) error {
	if err == nil || errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

func mapDialError(err error) byte {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ReplyTTLExpired
	}
	if errors.Is(err, gobreaker.ErrOpenState) {
		// The breaker is open because upstream itself is unhealthy, not
		// because policy forbids the target - report it as a general
		// failure rather than ReplyConnectionNotAllowed, which SOCKS5
		// clients read as an access-control denial.
		return ReplyGeneralFailure
	}
	return ReplyHostUnreachable
}
