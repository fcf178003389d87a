package controlplane

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/thushan/rama/internal/upstream"
	"github.com/thushan/rama/internal/util/pattern"
	"github.com/thushan/rama/pkg/graceful"
)

// StatsSource supplies the counters /stats reports. Implemented by each
// protocol core that wants to surface session counts.
type StatsSource interface {
	Name() string
	ActiveSessions() int
}

// Server is the control-plane HTTP API: liveness, stats and tunnel
// introspection, mounted on its own listener, distinct from the data-plane
// proxy listeners.
type Server struct {
	router   chi.Router
	token    *graceful.Token
	tunnels  *TunnelRegistry
	upstream *upstream.Pool
	sources  []StatsSource
	started  time.Time
}

// New builds a Server. token gates /healthz; tunnels backs /debug/tunnels;
// pool backs the upstream-health portion of /stats; sources is an optional
// list of additional per-core session counters. Use NewWithOrigins to
// restrict /stats and /debug/tunnels to specific dashboard origins.
func New(token *graceful.Token, tunnels *TunnelRegistry, pool *upstream.Pool, sources ...StatsSource) *Server {
	return newServer(token, tunnels, pool, []string{"*"}, sources...)
}

// NewWithOrigins is New, restricted to origins matching one of the given
// glob patterns (e.g. "https://*.internal.example.com") instead of "*".
func NewWithOrigins(token *graceful.Token, tunnels *TunnelRegistry, pool *upstream.Pool, allowedOrigins []string, sources ...StatsSource) *Server {
	return newServer(token, tunnels, pool, allowedOrigins, sources...)
}

func newServer(token *graceful.Token, tunnels *TunnelRegistry, pool *upstream.Pool, allowedOrigins []string, sources ...StatsSource) *Server {
	s := &Server{
		token:    token,
		tunnels:  tunnels,
		upstream: pool,
		sources:  sources,
		started:  time.Now(),
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowOriginFunc: func(r *http.Request, origin string) bool {
			for _, p := range allowedOrigins {
				if pattern.MatchesGlob(origin, p) {
					return true
				}
			}
			return false
		},
		AllowedMethods: []string{http.MethodGet},
	}))

	r.Get("/healthz", s.handleHealthz)
	r.Get("/stats", s.handleStats)
	r.Get("/debug/tunnels", s.handleTunnels)

	s.router = r
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if s.token.State() != graceful.Running {
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "draining"})
		return
	}
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	healthy, unhealthy, unknown := 0, 0, 0
	if s.upstream != nil {
		healthy, unhealthy, unknown = s.upstream.Stats()
	}

	sessions := make(map[string]int, len(s.sources))
	for _, src := range s.sources {
		sessions[src.Name()] = src.ActiveSessions()
	}

	resp := map[string]any{
		"uptime_seconds": time.Since(s.started).Seconds(),
		"tunnels_active": s.tunnels.Count(),
		"upstreams": map[string]int{
			"healthy":   healthy,
			"unhealthy": unhealthy,
			"unknown":   unknown,
		},
		"sessions": sessions,
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *Server) handleTunnels(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s.tunnels.Snapshot())
}
