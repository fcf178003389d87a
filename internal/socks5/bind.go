package socks5

import (
	"net"
	"time"

	"github.com/thushan/rama/pkg/rcontext"
)

// handleBind implements the BIND command: listen on an ephemeral port,
// reply once with that port so the client can pass it to a third party,
// then wait up to the server's configured BindTimeout for the expected
// second connection, reply again with the peer that connected, and relay.
//
// addr is the address the client asked the server to expect a connection
// from; this implementation does not enforce that the accepted peer
// matches it, matching the common permissive BIND posture (the check is
// advisory in the RFC, not a MUST).
func (s *Server) handleBind(ctx *rcontext.Context, client net.Conn, addr Address) {
	ln, err := net.Listen("tcp", ":0")
	if err != nil {
		_ = writeReply(client, ReplyGeneralFailure, Address{})
		return
	}
	defer ln.Close()

	if err := writeReply(client, ReplySucceeded, addressFromNetAddr(ln.Addr())); err != nil {
		return
	}

	type acceptResult struct {
		conn net.Conn
		err  error
	}
	accepted := make(chan acceptResult, 1)
	go func() {
		conn, err := ln.Accept()
		accepted <- acceptResult{conn, err}
	}()

	select {
	case res := <-accepted:
		if res.err != nil {
			_ = writeReply(client, ReplyGeneralFailure, Address{})
			return
		}
		defer res.conn.Close()
		if err := writeReply(client, ReplySucceeded, addressFromNetAddr(res.conn.RemoteAddr())); err != nil {
			return
		}
		s.relay(ctx, client, res.conn, res.conn.RemoteAddr().String())
	case <-time.After(s.cfg.BindTimeout):
		_ = writeReply(client, ReplyTTLExpired, Address{})
	case <-ctx.Done():
		_ = writeReply(client, ReplyGeneralFailure, Address{})
	}
}
