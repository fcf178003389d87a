// Package proxyhttp implements the HTTP Proxy Core: CONNECT tunnelling
// with optional MITM, a plain-forward path for absolute-URI requests, and
// the hop-by-hop header policy RFC 7230 section 6.1 requires of any
// proxy. It is built as a service.Service[*http.Request, *http.Response]
// so it composes with the Retry/Limit/tracing Layers the same way every
// other core does.
package proxyhttp

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/thushan/rama/internal/controlplane"
	"github.com/thushan/rama/internal/util"
	"github.com/thushan/rama/pkg/service"
)

// Default transport tunables, grounded on the teacher's
// internal/adapter/proxy/proxy.go constants.
const (
	DefaultDialTimeout         = 60 * time.Second
	DefaultDialKeepAlive       = 60 * time.Second
	DefaultMaxIdleConns        = 100
	DefaultIdleConnTimeout     = 90 * time.Second
	DefaultTLSHandshakeTimeout = 10 * time.Second
	DefaultStreamBufferSize    = 8 * 1024
)

// Config tunes the proxy Service.
type Config struct {
	DialTimeout         time.Duration
	DialKeepAlive       time.Duration
	MaxIdleConns        int
	IdleConnTimeout     time.Duration
	TLSHandshakeTimeout time.Duration
	StreamBufferSize    int

	// MITM, if non-nil, enables TLS interception on CONNECT tunnels whose
	// target port is 443. Leave nil for opaque tunnelling.
	MITM *MITMConfig

	// RoutePrefix, if set, is stripped from the outbound request path
	// when the caller has stashed it under util.RoutePrefixContextKey in
	// the request context - lets the proxy be mounted under a path (e.g.
	// "/forward") on a shared listener without upstream ever seeing it.
	RoutePrefix string

	// Auth, if non-nil and Mode is non-empty, requires a valid
	// Proxy-Authorization credential on both the plain-forward path (via
	// the Service.Layer returned by Auth.Layer) and CONNECT (checked
	// directly in ServeConnect, which bypasses the Layer stack).
	Auth *AuthConfig
}

func (c *Config) withDefaults() *Config {
	cfg := *c
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = DefaultDialTimeout
	}
	if cfg.DialKeepAlive == 0 {
		cfg.DialKeepAlive = DefaultDialKeepAlive
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = DefaultMaxIdleConns
	}
	if cfg.IdleConnTimeout == 0 {
		cfg.IdleConnTimeout = DefaultIdleConnTimeout
	}
	if cfg.TLSHandshakeTimeout == 0 {
		cfg.TLSHandshakeTimeout = DefaultTLSHandshakeTimeout
	}
	if cfg.StreamBufferSize == 0 {
		cfg.StreamBufferSize = DefaultStreamBufferSize
	}
	return &cfg
}

// Proxy is the HTTP Proxy Core Service. Serve handles absolute-URI
// forward requests; callers dispatch CONNECT to ServeConnect directly with
// a hijackable ResponseWriter, since the tunnel handshake doesn't fit the
// Request->Response shape.
type Proxy struct {
	cfg       *Config
	transport *http.Transport
	mitm      *mitmEngine
	logger    *slog.Logger
	auth      *AuthConfig

	// Tunnels, if set, receives a registration for every CONNECT tunnel
	// ServeConnect opens, so GET /debug/tunnels can report it. Nil disables
	// registration (introspection is optional, not load-bearing).
	Tunnels *controlplane.TunnelRegistry

	activeTunnels int64
}

// Name implements controlplane.StatsSource.
func (p *Proxy) Name() string { return "http-proxy" }

// ActiveSessions implements controlplane.StatsSource.
func (p *Proxy) ActiveSessions() int { return int(atomic.LoadInt64(&p.activeTunnels)) }

// New builds a Proxy. logger may be nil, in which case slog.Default is used.
func New(cfg *Config, logger *slog.Logger) *Proxy {
	if logger == nil {
		logger = slog.Default()
	}
	full := cfg.withDefaults()

	transport := &http.Transport{
		MaxIdleConns:        full.MaxIdleConns,
		IdleConnTimeout:     full.IdleConnTimeout,
		TLSHandshakeTimeout: full.TLSHandshakeTimeout,
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			dialer := &net.Dialer{Timeout: full.DialTimeout, KeepAlive: full.DialKeepAlive}
			conn, err := dialer.DialContext(ctx, network, addr)
			if err != nil {
				return nil, err
			}
			if tcpConn, ok := conn.(*net.TCPConn); ok {
				if terr := tcpConn.SetNoDelay(true); terr != nil {
					logger.Warn("failed to set TCP_NODELAY", "error", terr)
				}
			}
			return conn, nil
		},
	}

	p := &Proxy{cfg: full, transport: transport, logger: logger, auth: full.Auth}
	if full.MITM != nil {
		engine, err := newMITMEngine(full.MITM)
		if err != nil {
			logger.Error("MITM engine disabled: failed to initialise", "error", err)
		} else {
			p.mitm = engine
		}
	}
	return p
}

// Serve implements service.Service for the plain-forward path: req must
// carry an absolute URI (as an HTTP/1.1 proxy request does), and the
// returned *http.Response's Body is the live upstream body — callers must
// close it.
func (p *Proxy) Serve(ctx context.Context, req *http.Request) (*http.Response, error) {
	outbound := req.Clone(ctx)
	StripHopByHop(outbound.Header)
	StripClientIPHeaders(outbound.Header)
	ApplyForwardedFor(outbound)

	if p.cfg.RoutePrefix != "" {
		outbound.URL.Path = util.StripRoutePrefix(ctx, outbound.URL.Path, util.RoutePrefixContextKey)
	}

	resp, err := p.transport.RoundTrip(outbound)
	if err != nil {
		return nil, err
	}
	StripHopByHop(resp.Header)
	return resp, nil
}

var _ service.Service[*http.Request, *http.Response] = (*Proxy)(nil)
