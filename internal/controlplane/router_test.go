package controlplane

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thushan/rama/pkg/graceful"
)

func TestHealthzReportsRunningThenDraining(t *testing.T) {
	token := graceful.New()
	srv := New(token, NewTunnelRegistry(), nil)

	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rr.Code)

	token.BeginDrain()

	rr = httptest.NewRecorder()
	srv.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestDebugTunnelsReportsRegisteredTunnel(t *testing.T) {
	registry := NewTunnelRegistry()
	token := graceful.New()
	srv := New(token, registry, nil)

	id := ulid.Make()
	tun := registry.Register(id, KindHTTPConnect, "example.com:443")
	tun.AddBytes(100, 200)

	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/debug/tunnels", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var snaps []TunnelSnapshot
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &snaps))
	require.Len(t, snaps, 1)
	assert.Equal(t, id.String(), snaps[0].ID)
	assert.Equal(t, int64(100), snaps[0].BytesIn)
	assert.Equal(t, int64(200), snaps[0].BytesOut)

	registry.Unregister(id)
	assert.Equal(t, 0, registry.Count())
}

func TestStatsIncludesSources(t *testing.T) {
	token := graceful.New()
	srv := New(token, NewTunnelRegistry(), nil, fakeSource{name: "http-proxy", n: 3})

	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/stats", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	sessions, ok := body["sessions"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(3), sessions["http-proxy"])
}

func TestNewWithOriginsRestrictsCORS(t *testing.T) {
	token := graceful.New()
	srv := NewWithOrigins(token, NewTunnelRegistry(), nil, []string{"https://*.internal.example.com"})

	allowed := httptest.NewRequest(http.MethodGet, "/stats", nil)
	allowed.Header.Set("Origin", "https://dash.internal.example.com")
	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, allowed)
	assert.Equal(t, "https://dash.internal.example.com", rr.Header().Get("Access-Control-Allow-Origin"))

	denied := httptest.NewRequest(http.MethodGet, "/stats", nil)
	denied.Header.Set("Origin", "https://evil.example.com")
	rr = httptest.NewRecorder()
	srv.ServeHTTP(rr, denied)
	assert.Empty(t, rr.Header().Get("Access-Control-Allow-Origin"))
}

type fakeSource struct {
	name string
	n    int
}

func (f fakeSource) Name() string        { return f.name }
func (f fakeSource) ActiveSessions() int { return f.n }
