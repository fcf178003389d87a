package socks5

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync/atomic"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/thushan/rama/internal/controlplane"
	"github.com/thushan/rama/internal/util/pattern"
	"github.com/thushan/rama/pkg/rcontext"
)

// Authenticator validates a username/password pair for the user/pass
// sub-negotiation method. A nil Authenticator on Server disables
// MethodUserPass and only offers MethodNoAuth.
type Authenticator func(username, password string) bool

// Dialer opens the outbound connection a CONNECT or BIND command
// relays through. Defaults to net.Dialer.DialContext.
type Dialer func(ctx context.Context, network, addr string) (net.Conn, error)

// Config tunes a Server.
type Config struct {
	Authenticator Authenticator
	Dialer        Dialer

	// BindTimeout bounds how long a BIND command waits for the expected
	// second incoming connection before replying with a failure.
	BindTimeout time.Duration

	// AllowedCommands restricts which of CmdConnect/CmdBind/
	// CmdUDPAssociate the server will execute; nil means all three.
	AllowedCommands map[byte]bool

	// AllowedTargets restricts which destination host:port patterns (glob,
	// "*" wildcard, matched case-insensitively) a CONNECT, BIND or
	// UDP-ASSOCIATE request may name; nil or empty means no restriction.
	AllowedTargets []string
}

func (c *Config) targetAllowed(addr string) bool {
	if len(c.AllowedTargets) == 0 {
		return true
	}
	for _, p := range c.AllowedTargets {
		if pattern.MatchesGlob(addr, p) {
			return true
		}
	}
	return false
}

const defaultBindTimeout = 60 * time.Second

func (c *Config) withDefaults() *Config {
	cfg := *c
	if cfg.Dialer == nil {
		var d net.Dialer
		cfg.Dialer = d.DialContext
	}
	if cfg.BindTimeout <= 0 {
		cfg.BindTimeout = defaultBindTimeout
	}
	return &cfg
}

// Server drives the SOCKS5 state machine for one accepted connection at a
// time; a single Server is safe to reuse across concurrently handled
// connections.
type Server struct {
	cfg     *Config
	logger  *slog.Logger
	breaker *gobreaker.CircuitBreaker[net.Conn]
	udp     *udpSessionTable

	// Tunnels, if set, receives a registration for every CONNECT relay and
	// UDP-ASSOCIATE session this Server opens, so GET /debug/tunnels can
	// report it. Nil disables registration.
	Tunnels *controlplane.TunnelRegistry

	activeSessions int64
}

// Name implements controlplane.StatsSource.
func (s *Server) Name() string { return "socks5" }

// ActiveSessions implements controlplane.StatsSource.
func (s *Server) ActiveSessions() int {
	return int(atomic.LoadInt64(&s.activeSessions)) + len(s.udp.Snapshot())
}

// UDPSessions returns a point-in-time snapshot of active UDP-ASSOCIATE
// relays, for the control plane's introspection endpoint.
func (s *Server) UDPSessions() []udpSession {
	return s.udp.Snapshot()
}

// New builds a Server. logger may be nil, in which case slog.Default is used.
func New(cfg *Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	full := cfg.withDefaults()

	breaker := gobreaker.NewCircuitBreaker[net.Conn](gobreaker.Settings{
		Name: "socks5-upstream-dial",
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
	})

	return &Server{cfg: full, logger: logger, breaker: breaker, udp: newUDPSessionTable()}
}

// ServeConn runs the handshake and dispatches to the requested command.
// conn is closed by ServeConn before it returns (directly, or via the
// splice/relay loop the dispatched command starts).
func (s *Server) ServeConn(ctx *rcontext.Context, conn net.Conn) {
	defer conn.Close()
	r := bufio.NewReader(conn)

	method, err := s.negotiateMethod(r, conn)
	if err != nil {
		s.logger.Debug("socks5 method negotiation failed", "error", err)
		return
	}

	if method == MethodUserPass {
		if err := s.authenticate(r, conn); err != nil {
			s.logger.Debug("socks5 authentication failed", "error", err)
			return
		}
	}

	req, err := readRequest(r)
	if err != nil {
		s.logger.Debug("socks5 request parse failed", "error", err)
		return
	}

	if s.cfg.AllowedCommands != nil && !s.cfg.AllowedCommands[req.cmd] {
		_ = writeReply(conn, ReplyCommandNotSupported, Address{})
		return
	}

	if !s.cfg.targetAllowed(req.addr.String()) {
		_ = writeReply(conn, ReplyConnectionNotAllowed, Address{})
		return
	}

	switch req.cmd {
	case CmdConnect:
		s.handleConnect(ctx, conn, req.addr)
	case CmdBind:
		s.handleBind(ctx, conn, req.addr)
	case CmdUDPAssociate:
		s.handleUDPAssociate(ctx, conn, req.addr)
	default:
		_ = writeReply(conn, ReplyCommandNotSupported, Address{})
	}
}

func (s *Server) negotiateMethod(r *bufio.Reader, w net.Conn) (byte, error) {
	g, err := readGreeting(r)
	if err != nil {
		return 0, err
	}

	var chosen byte = MethodNoAcceptable
	if s.cfg.Authenticator != nil && g.offers(MethodUserPass) {
		chosen = MethodUserPass
	} else if g.offers(MethodNoAuth) {
		chosen = MethodNoAuth
	}

	if err := writeMethodSelection(w, chosen); err != nil {
		return 0, err
	}
	if chosen == MethodNoAcceptable {
		return 0, fmt.Errorf("socks5: no acceptable authentication method offered")
	}
	return chosen, nil
}

func (s *Server) authenticate(r *bufio.Reader, w net.Conn) error {
	creds, err := readUserPassRequest(r)
	if err != nil {
		return err
	}
	ok := s.cfg.Authenticator(creds.username, creds.password)
	if werr := writeUserPassReply(w, ok); werr != nil {
		return werr
	}
	if !ok {
		return errAuthFailed
	}
	return nil
}

// dial wraps the configured Dialer with the upstream circuit breaker, so a
// repeatedly failing target stops accumulating dial timeouts before
// failing fast with ErrUpstreamUnavailable-equivalent behaviour.
func (s *Server) dial(ctx context.Context, addr Address) (net.Conn, error) {
	return s.breaker.Execute(func() (net.Conn, error) {
		return s.cfg.Dialer(ctx, "tcp", addr.String())
	})
}
