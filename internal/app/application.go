// Package app wires every composition-core piece (C1-C12) into one running
// process: it builds the styled logger, the upstream pool and health
// checker, the three protocol-core listeners (HTTP proxy, SOCKS5,
// WebSocket) and the control plane, then drives them all from one
// graceful.Token so a single SIGINT/SIGTERM drains the lot.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/thushan/rama/internal/config"
	"github.com/thushan/rama/internal/controlplane"
	"github.com/thushan/rama/internal/logger"
	"github.com/thushan/rama/internal/proxyhttp"
	"github.com/thushan/rama/internal/socks5"
	"github.com/thushan/rama/internal/upstream"
	"github.com/thushan/rama/internal/util"
	"github.com/thushan/rama/internal/ws"
	"github.com/thushan/rama/pkg/eventbus"
	"github.com/thushan/rama/pkg/graceful"
	"github.com/thushan/rama/pkg/headerpolicy"
	"github.com/thushan/rama/pkg/netlistener"
	"github.com/thushan/rama/pkg/ratelimit"
	"github.com/thushan/rama/pkg/rcontext"
	"github.com/thushan/rama/pkg/retry"
	"github.com/thushan/rama/pkg/service"
)

// lifecycleEvent is published on Application's events bus whenever a
// listener starts or stops, so anything watching process health (today,
// just the startup log; potentially a future admin stream) observes
// transitions without polling /healthz.
type lifecycleEvent struct {
	Component string
	State     string
}

// Application owns every long-lived component and their shutdown order.
type Application struct {
	cfg    *config.Config
	log    *logger.StyledLogger
	token  *graceful.Token
	tunnels *controlplane.TunnelRegistry

	upstreamPool *upstream.Pool
	checker      *upstream.Checker

	proxy       *proxyhttp.Proxy
	proxyStack  service.Service[*http.Request, *http.Response]
	socks5      *socks5.Server
	control     *controlplane.Server
	wsSessions  int64

	httpSrv    *http.Server
	wsSrv      *http.Server
	controlSrv *http.Server

	events *eventbus.EventBus[lifecycleEvent]

	startTime time.Time
}

// New builds an Application from cfg without starting anything.
func New(startTime time.Time, cfg *config.Config, log *logger.StyledLogger) (*Application, error) {
	a := &Application{
		cfg:       cfg,
		log:       log,
		token:     graceful.New(),
		tunnels:   controlplane.NewTunnelRegistry(),
		events:    eventbus.New[lifecycleEvent](),
		startTime: startTime,
	}

	eventCh, _ := a.events.Subscribe(a.token.Context())
	go func() {
		for ev := range eventCh {
			a.log.Info("lifecycle event", "component", ev.Component, "state", ev.State)
		}
	}()

	a.upstreamPool = upstream.NewPool(3, 30*time.Second)
	for _, u := range cfg.Upstreams {
		a.upstreamPool.Add(upstream.Authority{Name: u.Name, Addr: u.Addr, HealthPath: u.HealthPath})
	}
	a.checker = upstream.NewChecker(a.upstreamPool, upstream.NewClientFactory(), log, checkInterval(cfg))

	a.proxy = proxyhttp.New(&proxyhttp.Config{
		DialTimeout:     cfg.HTTPProxy.ConnectionTimeout,
		IdleConnTimeout: cfg.HTTPProxy.ResponseTimeout,
		RoutePrefix:     cfg.HTTPProxy.RoutePrefix,
		Auth:            buildAuthConfig(cfg),
	}, log.GetUnderlying())
	a.proxy.Tunnels = a.tunnels
	a.proxyStack = buildProxyStack(a.proxy, cfg)

	a.socks5 = socks5.New(&socks5.Config{
		BindTimeout:    cfg.SOCKS5.BindTimeout,
		AllowedTargets: cfg.SOCKS5.AllowedTargets,
		Authenticator: func(user, pass string) bool {
			if cfg.SOCKS5.Username == "" {
				return true
			}
			return user == cfg.SOCKS5.Username && pass == cfg.SOCKS5.Password
		},
	}, log.GetUnderlying())
	a.socks5.Tunnels = a.tunnels

	if len(cfg.Server.AllowedOrigins) > 0 {
		a.control = controlplane.NewWithOrigins(a.token, a.tunnels, a.upstreamPool, cfg.Server.AllowedOrigins, a.proxy, a.socks5, wsStatsSource{a})
	} else {
		a.control = controlplane.New(a.token, a.tunnels, a.upstreamPool, a.proxy, a.socks5, wsStatsSource{a})
	}

	return a, nil
}

func checkInterval(cfg *config.Config) time.Duration {
	for _, u := range cfg.Upstreams {
		if u.CheckInterval > 0 {
			return u.CheckInterval
		}
	}
	return 10 * time.Second
}

// buildAuthConfig translates the config package's ProxyAuthConfig into
// the proxyhttp.AuthConfig both the Layer stack and ServeConnect share,
// or returns nil if the mode is unset (auth enforcement disabled).
func buildAuthConfig(cfg *config.Config) *proxyhttp.AuthConfig {
	mode := cfg.HTTPProxy.Auth.Mode
	if mode == "" {
		return nil
	}
	auth := &proxyhttp.AuthConfig{Mode: mode}
	switch mode {
	case "basic":
		auth.Validate = func(user, pass string) bool {
			if cfg.HTTPProxy.Auth.Username == "" {
				return true
			}
			return user == cfg.HTTPProxy.Auth.Username && pass == cfg.HTTPProxy.Auth.Password
		}
	case "jwt":
		secret := []byte(cfg.HTTPProxy.Auth.JWTSecret)
		auth.KeyFunc = func(token *jwt.Token) (any, error) { return secret, nil }
	}
	return auth
}

// buildProxyStack composes the Auth, Retry, Limit and body-size Layers
// around the bare Proxy Service, matching SPEC_FULL.md's C9/C10
// middleware order: auth gates admission before anything else runs,
// limit admits or rejects before any dial is attempted, retry wraps the
// dial itself, and the body-size ceiling guards the inbound request.
func buildProxyStack(p *proxyhttp.Proxy, cfg *config.Config) service.Service[*http.Request, *http.Response] {
	limiter := ratelimit.NewTokenBucketPolicy(
		cfg.RateLimit.GlobalRPS, cfg.RateLimit.GlobalBurst,
		cfg.RateLimit.PerKeyRPS, cfg.RateLimit.PerKeyBurst,
	)

	trustedCIDRs, _ := util.ParseTrustedCIDRs(cfg.RateLimit.TrustedCIDRs)
	keyFn := func(r *http.Request) string {
		return util.GetClientIP(r, cfg.RateLimit.TrustProxyHeaders, trustedCIDRs)
	}

	layers := []service.Layer[*http.Request, *http.Response]{
		headerpolicy.MaxBodySizeLayer(cfg.HTTPProxy.MaxBodySize),
		ratelimit.Layer[*http.Request, *http.Response](limiter.Check, keyFn),
		retry.Layer[*http.Request, *http.Response](
			retry.ExponentialRetryPolicy(cfg.HTTPProxy.MaxRetries, cfg.HTTPProxy.RetryBackoff),
			func(err error) bool { return err != nil },
		),
	}
	if auth := buildAuthConfig(cfg); auth != nil {
		if authLayer := auth.Layer(); authLayer != nil {
			layers = append([]service.Layer[*http.Request, *http.Response]{authLayer}, layers...)
		}
	}

	stack := service.Stack[*http.Request, *http.Response](layers...)
	return stack.Wrap(p)
}

// Start builds every listener and begins serving; it returns once all
// listeners are up, not once they stop (call Stop, or wait on ctx, to
// drive shutdown).
func (a *Application) Start(ctx context.Context) error {
	a.token.SpawnTask(func(ctx context.Context) { a.checker.Run(ctx) })

	if a.cfg.HTTPProxy.Enabled || a.cfg.Server.UnifiedProxyListen != "" {
		a.buildHTTPHandler()
	}
	if a.cfg.HTTPProxy.Enabled {
		if err := a.startHTTPProxy(); err != nil {
			return fmt.Errorf("app: starting http proxy: %w", err)
		}
	}
	if a.cfg.SOCKS5.Enabled {
		if err := a.startSOCKS5(); err != nil {
			return fmt.Errorf("app: starting socks5: %w", err)
		}
	}
	if a.cfg.Server.UnifiedProxyListen != "" {
		if err := a.startUnifiedProxyListener(); err != nil {
			return fmt.Errorf("app: starting unified proxy listener: %w", err)
		}
	}
	if a.cfg.WebSocket.Enabled {
		if err := a.startWebSocket(); err != nil {
			return fmt.Errorf("app: starting websocket: %w", err)
		}
	}
	if err := a.startControlPlane(); err != nil {
		return fmt.Errorf("app: starting control plane: %w", err)
	}

	a.log.Info("rama started",
		"http_proxy", a.cfg.HTTPProxy.Listen,
		"socks5", a.cfg.SOCKS5.Listen,
		"websocket", a.cfg.WebSocket.Listen,
		"unified_proxy", a.cfg.Server.UnifiedProxyListen,
		"control_plane", fmt.Sprintf("%s:%d", a.cfg.Server.Host, a.cfg.Server.Port),
	)
	return nil
}

// buildHTTPHandler constructs a.httpSrv's Handler without opening any
// listener for it, so both startHTTPProxy's dedicated port and the
// unified peek-routed listener (startUnifiedProxyListener) can drive the
// same handler over their own net.Listener.
func (a *Application) buildHTTPHandler() {
	a.httpSrv = &http.Server{
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("X-Request-Id") == "" {
				r.Header.Set("X-Request-Id", util.GenerateRequestID())
			}

			std := r.Context()
			if a.cfg.HTTPProxy.RoutePrefix != "" {
				std = context.WithValue(std, util.RoutePrefixContextKey, a.cfg.HTTPProxy.RoutePrefix)
			}
			// A fresh *rcontext.Context per request, rather than the raw
			// request context, so ServeConnect/proxyStack can set
			// extensions (Claims, ProxyTarget) that a Layer further down
			// the stack reads back via type assertion.
			rc := rcontext.New(std)

			if r.Method == http.MethodConnect {
				_ = a.proxy.ServeConnect(rc, w, r)
				return
			}
			resp, err := a.proxyStack.Serve(rc, r)
			if err != nil {
				writeProxyError(w, err)
				return
			}
			defer resp.Body.Close()
			w.Header().Set("X-Request-Id", r.Header.Get("X-Request-Id"))
			copyResponse(w, resp)
		}),
	}
}

// startHTTPProxy opens the HTTP proxy's dedicated listener and serves
// a.httpSrv (built by buildHTTPHandler) over it.
func (a *Application) startHTTPProxy() error {
	ln, err := net.Listen("tcp", a.cfg.HTTPProxy.Listen)
	if err != nil {
		return err
	}

	a.events.Publish(lifecycleEvent{Component: "http-proxy", State: "started"})
	a.token.SpawnTask(func(context.Context) {
		if err := a.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("http proxy listener stopped", "error", err)
		}
		a.events.Publish(lifecycleEvent{Component: "http-proxy", State: "stopped"})
	})
	return nil
}

// writeProxyError maps a proxyStack.Serve error to a distinguishable
// status code instead of collapsing every rejection reason into one
// generic 502: a body-too-large rejection, a rate limit, and a missing
// credential are all caller-actionable in different ways, and a genuine
// upstream failure (the default case) is the only one that is really a
// Bad Gateway.
func writeProxyError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, headerpolicy.ErrBodyTooLarge):
		http.Error(w, err.Error(), http.StatusRequestEntityTooLarge)
	case errors.Is(err, ratelimit.ErrLimited):
		http.Error(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, proxyhttp.ErrUnauthorized):
		w.Header().Set("Proxy-Authenticate", `Basic realm="rama"`)
		http.Error(w, err.Error(), http.StatusProxyAuthRequired)
	default:
		http.Error(w, err.Error(), http.StatusBadGateway)
	}
}

func copyResponse(w http.ResponseWriter, resp *http.Response) {
	for k, vs := range resp.Header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	if resp.Body != nil {
		_, _ = io.Copy(w, resp.Body)
	}
}

func (a *Application) startSOCKS5() error {
	ln, err := net.Listen("tcp", a.cfg.SOCKS5.Listen)
	if err != nil {
		return err
	}

	child := a.token.Child()
	rt := netlistener.New(ln, child, func(ctx *rcontext.Context, conn net.Conn) {
		a.socks5.ServeConn(ctx, conn)
	}, a.log.GetUnderlying())

	a.events.Publish(lifecycleEvent{Component: "socks5", State: "started"})
	a.token.SpawnTask(func(context.Context) {
		if err := rt.Serve(); err != nil {
			a.log.Error("socks5 listener stopped", "error", err)
		}
		a.events.Publish(lifecycleEvent{Component: "socks5", State: "stopped"})
	})
	return nil
}

func (a *Application) startWebSocket() error {
	ln, err := net.Listen("tcp", a.cfg.WebSocket.Listen)
	if err != nil {
		return err
	}

	a.wsSrv = &http.Server{
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			conn, err := ws.Upgrade(w, r, &ws.UpgradeOptions{
				PermessageDeflate: a.cfg.WebSocket.PermessageDeflate,
				MaxMessageSize:    a.cfg.WebSocket.MaxMessageSize,
			})
			if err != nil {
				return
			}
			// A per-connection *rcontext.Context derived from the root
			// Token, so a session observes shutdown the same way the
			// HTTP proxy and SOCKS5 cores do, and carries the same
			// extension store a future Service/Layer wrapping this
			// session's message loop would read from.
			rc := rcontext.New(a.token.Context())
			a.pumpWebSocket(rc, conn)
		}),
	}

	a.events.Publish(lifecycleEvent{Component: "websocket", State: "started"})
	a.token.SpawnTask(func(context.Context) {
		if err := a.wsSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("websocket listener stopped", "error", err)
		}
		a.events.Publish(lifecycleEvent{Component: "websocket", State: "stopped"})
	})
	return nil
}

// pumpWebSocket echoes every received message back to the sender, the
// reference behaviour for the WebSocket Core's wiring; a real deployment
// swaps this for whatever Service the application composes over ws.Conn.
// ReadMessage itself closes the connection with the protocol-mandated
// code (1002 for an unmasked client frame, 1007 for invalid UTF-8, 1009
// for an oversized message) before returning its error, so the deferred
// Close here only covers the remaining cases: a clean peer-initiated
// close, a transport error, or the Context being cancelled by shutdown.
func (a *Application) pumpWebSocket(ctx *rcontext.Context, conn *ws.Conn) {
	atomic.AddInt64(&a.wsSessions, 1)
	defer atomic.AddInt64(&a.wsSessions, -1)
	defer conn.Close(ws.CloseNormal, "")

	done := ctx.Done()
	for {
		select {
		case <-done:
			_ = conn.Close(ws.CloseGoingAway, "server shutting down")
			return
		default:
		}

		opcode, payload, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if err := conn.WriteMessage(opcode, payload); err != nil {
			return
		}
	}
}

func (a *Application) startControlPlane() error {
	addr := fmt.Sprintf("%s:%d", a.cfg.Server.Host, a.cfg.Server.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	a.controlSrv = &http.Server{
		Handler:      a.control,
		ReadTimeout:  a.cfg.Server.ReadTimeout,
		WriteTimeout: a.cfg.Server.WriteTimeout,
	}

	a.events.Publish(lifecycleEvent{Component: "control-plane", State: "started"})
	a.token.SpawnTask(func(context.Context) {
		if err := a.controlSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("control plane listener stopped", "error", err)
		}
		a.events.Publish(lifecycleEvent{Component: "control-plane", State: "stopped"})
	})
	return nil
}

// Stop drains every in-flight request/tunnel and shuts every listener down,
// returning once everything has stopped or deadline elapses.
func (a *Application) Stop(ctx context.Context) error {
	a.token.BeginDrain()

	deadline := a.cfg.Server.ShutdownTimeout
	if deadline <= 0 {
		deadline = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	for _, srv := range []*http.Server{a.httpSrv, a.wsSrv, a.controlSrv} {
		if srv == nil {
			continue
		}
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.log.Warn("listener shutdown did not complete cleanly", "error", err)
		}
	}

	err := a.token.ShutdownWithLimit(deadline)
	a.events.Shutdown()
	return err
}

// wsStatsSource adapts Application's WebSocket session counter to
// controlplane.StatsSource without exposing Application's internals.
type wsStatsSource struct{ a *Application }

func (s wsStatsSource) Name() string        { return "websocket" }
func (s wsStatsSource) ActiveSessions() int { return int(atomic.LoadInt64(&s.a.wsSessions)) }
