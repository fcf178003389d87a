package app

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/thushan/rama/pkg/netlistener"
	"github.com/thushan/rama/pkg/peek"
	"github.com/thushan/rama/pkg/rcontext"
)

// classifyTimeout bounds how long the peek Router waits for enough bytes
// to classify a freshly accepted connection before giving up; a client
// that never sends anything is indistinguishable from one that will
// never be classifiable.
const classifyTimeout = 5 * time.Second

// startUnifiedProxyListener opens one listener that peeks each
// connection's first bytes with pkg/peek and routes it to the SOCKS5
// core or the HTTP proxy by protocol, so a client can reach either
// without knowing which dedicated port to dial. It is opt-in via
// Server.UnifiedProxyListen; the protocol-specific listeners
// startHTTPProxy/startSOCKS5 open keep working unchanged alongside it.
func (a *Application) startUnifiedProxyListener() error {
	ln, err := net.Listen("tcp", a.cfg.Server.UnifiedProxyListen)
	if err != nil {
		return err
	}

	router := peek.NewRouter(peek.DefaultPeekSize)
	router.Register("socks5", peek.SOCKS5Classifier)
	router.Register("http", peek.HTTPClassifier)

	child := a.token.Child()
	rt := netlistener.New(ln, child, a.unifiedHandler(router), a.log.GetUnderlying())

	a.events.Publish(lifecycleEvent{Component: "unified-proxy", State: "started"})
	a.token.SpawnTask(func(context.Context) {
		if err := rt.Serve(); err != nil {
			a.log.Error("unified proxy listener stopped", "error", err)
		}
		a.events.Publish(lifecycleEvent{Component: "unified-proxy", State: "stopped"})
	})
	return nil
}

// unifiedHandler builds the netlistener.Handler that classifies an
// accepted connection with router and dispatches it to whichever
// protocol core matched.
func (a *Application) unifiedHandler(router *peek.Router) netlistener.Handler {
	return func(ctx *rcontext.Context, conn net.Conn) {
		classifyCtx, cancel := context.WithTimeout(ctx.Std(), classifyTimeout)
		defer cancel()

		protocol, stream, err := router.Classify(classifyCtx, conn)
		if err != nil {
			a.log.Debug("unified listener: could not classify connection",
				"error", err, "remote_addr", conn.RemoteAddr())
			return
		}

		switch protocol {
		case "socks5":
			a.socks5.ServeConn(ctx, stream)
		case "http":
			a.servePeekedHTTP(stream)
		default:
			a.log.Warn("unified listener: unrecognised protocol classification", "protocol", protocol)
		}
	}
}

// servePeekedHTTP hands stream to the existing HTTP proxy server's
// Serve loop via a one-connection net.Listener adapter, so the proxy's
// keep-alive/chunked-encoding handling is reused instead of reimplemented
// for connections arriving through the unified listener. It blocks until
// the connection's handling is complete.
func (a *Application) servePeekedHTTP(stream net.Conn) {
	notify := newCloseNotifyConn(stream)
	ln := newSingleConnListener(notify)

	if err := a.httpSrv.Serve(ln); err != nil && !errors.Is(err, errSingleConnServed) {
		a.log.Debug("unified listener: http sub-serve ended", "error", err)
	}
	<-notify.done
}

// singleConnListener is a net.Listener with exactly one connection to
// Accept; every subsequent Accept call fails with errSingleConnServed so
// the http.Server.Serve loop driving it exits promptly once that one
// connection has been handed off, without this package reimplementing
// HTTP/1.1 request framing itself.
type singleConnListener struct {
	conn net.Conn
	addr net.Addr

	mu   sync.Mutex
	used bool
}

func newSingleConnListener(conn net.Conn) *singleConnListener {
	return &singleConnListener{conn: conn, addr: conn.LocalAddr()}
}

var errSingleConnServed = errors.New("app: single connection already accepted")

func (l *singleConnListener) Accept() (net.Conn, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.used {
		return nil, errSingleConnServed
	}
	l.used = true
	return l.conn, nil
}

func (l *singleConnListener) Close() error   { return nil }
func (l *singleConnListener) Addr() net.Addr { return l.addr }

// closeNotifyConn wraps a net.Conn so Close closes a done channel
// alongside the underlying connection, letting servePeekedHTTP block
// until http.Server has actually finished with the connection (Serve
// itself returns as soon as the single Accept is exhausted, well before
// the spawned per-connection goroutine is done).
type closeNotifyConn struct {
	net.Conn
	once sync.Once
	done chan struct{}
}

func newCloseNotifyConn(conn net.Conn) *closeNotifyConn {
	return &closeNotifyConn{Conn: conn, done: make(chan struct{})}
}

func (c *closeNotifyConn) Close() error {
	err := c.Conn.Close()
	c.once.Do(func() { close(c.done) })
	return err
}
