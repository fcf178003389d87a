package proxyhttp

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/errgroup"

	"github.com/thushan/rama/internal/controlplane"
	"github.com/thushan/rama/pkg/pool"
)

// relayBufferSize matches the teacher's splice buffer sizing for
// high-throughput tunnel copies.
const relayBufferSize = 32 * 1024

var relayBufferPool = pool.NewLitePool(func() *[]byte {
	b := make([]byte, relayBufferSize)
	return &b
})

// ErrHijackUnsupported is returned by ServeConnect when the ResponseWriter
// cannot be hijacked into a raw net.Conn.
var ErrHijackUnsupported = errors.New("proxyhttp: response writer does not support hijacking")

// ErrMalformedTarget is returned by ServeConnect when the CONNECT
// request's Host is not a well-formed "host:port" authority.
var ErrMalformedTarget = errors.New("proxyhttp: malformed CONNECT target")

// validateConnectTarget rejects an empty host or a zero port, the
// boundary case a raw net.Dial would otherwise either hang on or dial
// unpredictably.
func validateConnectTarget(hostport string) error {
	host, portStr, err := net.SplitHostPort(hostport)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedTarget, err)
	}
	if host == "" {
		return fmt.Errorf("%w: empty host", ErrMalformedTarget)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port == 0 {
		return fmt.Errorf("%w: invalid port %q", ErrMalformedTarget, portStr)
	}
	return nil
}

// ServeConnect handles an HTTP CONNECT request: it validates req.Host,
// checks Proxy-Authorization if auth is configured, dials the target,
// replies 200 Connection Established, then splices bytes between the
// client and the upstream connection until either side closes or errors.
// If MITM is configured and the target port is 443, the client connection
// is intercepted with a synthesized certificate instead of spliced
// opaquely; see interceptMITM.
func (p *Proxy) ServeConnect(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	if err := validateConnectTarget(r.Host); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return err
	}

	var claims Claims
	if p.auth != nil && p.auth.Mode != "" {
		c, err := checkConnectAuth(p.auth, r)
		if err != nil {
			w.Header().Set("Proxy-Authenticate", proxyAuthenticateChallenge(p.auth.Mode))
			http.Error(w, err.Error(), http.StatusProxyAuthRequired)
			return err
		}
		claims = c
	}

	hijacker, ok := w.(http.Hijacker)
	if !ok {
		http.Error(w, "hijacking not supported", http.StatusInternalServerError)
		return ErrHijackUnsupported
	}

	upstream, err := net.Dial("tcp", r.Host)
	if err != nil {
		http.Error(w, "failed to connect to upstream", http.StatusBadGateway)
		return err
	}

	clientConn, clientBuf, err := hijacker.Hijack()
	if err != nil {
		upstream.Close()
		return err
	}

	if _, err := clientConn.Write([]byte("HTTP/1.1 200 Connection Established\r\n\r\n")); err != nil {
		clientConn.Close()
		upstream.Close()
		return err
	}

	mitm := p.mitm != nil && isTLSPort(r.Host)
	setClaims(ctx, claims)
	SetProxyTarget(ctx, ProxyTarget{Host: r.Host, MITM: mitm})

	atomic.AddInt64(&p.activeTunnels, 1)
	defer atomic.AddInt64(&p.activeTunnels, -1)

	var tunnel *controlplane.Tunnel
	if p.Tunnels != nil {
		id := ulid.Make()
		tunnel = p.Tunnels.Register(id, controlplane.KindHTTPConnect, r.Host)
		defer p.Tunnels.Unregister(id)
	}

	if mitm {
		return p.interceptMITM(ctx, clientConn, clientBuf, upstream, r.Host, tunnel)
	}

	return splice(ctx, clientConn, clientBuf, upstream, tunnel)
}

// proxyAuthenticateChallenge builds the WWW-Authenticate-style challenge
// value for a 407 response matching the configured auth mode.
func proxyAuthenticateChallenge(mode string) string {
	if mode == "jwt" {
		return "Bearer realm=\"rama\""
	}
	return "Basic realm=\"rama\""
}

// isTLSPort reports whether hostport's port is the conventional HTTPS
// port, the signal this proxy uses to decide whether MITM interception
// applies to a tunnel.
func isTLSPort(hostport string) bool {
	return strings.HasSuffix(hostport, ":443")
}

// splice copies bytes in both directions between client and upstream
// until one side is done, using an errgroup; the first non-EOF error from
// either pump closes both connections, which ends the other pump, and is
// reported as the tunnel's outcome.
func splice(ctx context.Context, client net.Conn, clientBuf *bufio.ReadWriter, upstream net.Conn, tunnel *controlplane.Tunnel) error {
	defer client.Close()
	defer upstream.Close()

	g, _ := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer closeWriteIfSupported(upstream)
		buf := relayBufferPool.Get()
		defer relayBufferPool.Put(buf)
		n, err := io.CopyBuffer(upstream, clientBuf, *buf)
		tunnel.AddBytes(n, 0)
		if err := ignoreClosed(err); err != nil {
			client.Close()
			upstream.Close()
			return err
		}
		return nil
	})
	g.Go(func() error {
		defer closeWriteIfSupported(client)
		buf := relayBufferPool.Get()
		defer relayBufferPool.Put(buf)
		n, err := io.CopyBuffer(clientBuf, upstream, *buf)
		tunnel.AddBytes(0, n)
		if err := ignoreClosed(err); err != nil {
			client.Close()
			upstream.Close()
			return err
		}
		return nil
	})

	return g.Wait()
}

func closeWriteIfSupported(conn net.Conn) {
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
