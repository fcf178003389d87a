// Package controlplane implements the introspection-only HTTP API (C11):
// /healthz, /stats, /debug/tunnels, mounted on its own listener separate
// from the data-plane proxy listeners. Grounded on the teacher's
// internal/app/server.go route wiring and internal/adapter/stats/collector.go's
// counters, rebuilt over go-chi/chi/v5 + go-chi/cors instead of the
// teacher's stdlib http.ServeMux.
package controlplane

import (
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Kind distinguishes a TunnelRegistry entry's protocol.
type Kind string

const (
	KindHTTPConnect    Kind = "http-connect"
	KindSOCKS5Connect  Kind = "socks5-connect"
	KindSOCKS5UDP      Kind = "socks5-udp-associate"
)

// Tunnel is one in-flight CONNECT tunnel or SOCKS5 relay, as reported by
// GET /debug/tunnels.
type Tunnel struct {
	ID          ulid.ULID `json:"id"`
	Kind        Kind      `json:"kind"`
	Target      string    `json:"target"`
	Established time.Time `json:"established"`

	bytesIn  int64
	bytesOut int64
}

// TunnelSnapshot is a Tunnel's read-only view for JSON serialisation.
type TunnelSnapshot struct {
	ID          string    `json:"id"`
	Kind        Kind      `json:"kind"`
	Target      string    `json:"target"`
	Established time.Time `json:"established"`
	BytesIn     int64     `json:"bytes_in"`
	BytesOut    int64     `json:"bytes_out"`
}

// TunnelRegistry tracks every in-flight tunnel/relay, for introspection
// only — it never sits on the data path itself. Safe for concurrent use.
type TunnelRegistry struct {
	mu      sync.Mutex
	tunnels map[ulid.ULID]*Tunnel
}

// NewTunnelRegistry builds an empty TunnelRegistry.
func NewTunnelRegistry() *TunnelRegistry {
	return &TunnelRegistry{tunnels: make(map[ulid.ULID]*Tunnel)}
}

// Register adds a new in-flight Tunnel and returns a handle the caller
// updates via AddBytes and removes via Unregister when the tunnel closes.
func (r *TunnelRegistry) Register(id ulid.ULID, kind Kind, target string) *Tunnel {
	t := &Tunnel{ID: id, Kind: kind, Target: target, Established: time.Now()}
	r.mu.Lock()
	r.tunnels[id] = t
	r.mu.Unlock()
	return t
}

// Unregister removes a Tunnel once it closes.
func (r *TunnelRegistry) Unregister(id ulid.ULID) {
	r.mu.Lock()
	delete(r.tunnels, id)
	r.mu.Unlock()
}

// AddBytes accumulates transferred byte counts for t. Safe to call from
// either direction's copy goroutine concurrently.
func (t *Tunnel) AddBytes(in, out int64) {
	if t == nil {
		return
	}
	if in != 0 {
		addInt64(&t.bytesIn, in)
	}
	if out != 0 {
		addInt64(&t.bytesOut, out)
	}
}

// Snapshot returns every currently registered Tunnel.
func (r *TunnelRegistry) Snapshot() []TunnelSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]TunnelSnapshot, 0, len(r.tunnels))
	for _, t := range r.tunnels {
		out = append(out, TunnelSnapshot{
			ID:          t.ID.String(),
			Kind:        t.Kind,
			Target:      t.Target,
			Established: t.Established,
			BytesIn:     loadInt64(&t.bytesIn),
			BytesOut:    loadInt64(&t.bytesOut),
		})
	}
	return out
}

// Count returns the number of currently registered tunnels.
func (r *TunnelRegistry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tunnels)
}
