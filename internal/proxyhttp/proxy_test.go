package proxyhttp

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thushan/rama/internal/util"
)

func TestStripHopByHop(t *testing.T) {
	h := http.Header{}
	h.Set("Connection", "X-Custom")
	h.Set("X-Custom", "drop-me")
	h.Set("Keep-Alive", "timeout=5")
	h.Set("X-Keep", "keep-me")

	StripHopByHop(h)

	assert.Empty(t, h.Get("Connection"))
	assert.Empty(t, h.Get("X-Custom"))
	assert.Empty(t, h.Get("Keep-Alive"))
	assert.Equal(t, "keep-me", h.Get("X-Keep"))
}

func TestApplyForwardedFor(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "http://example.com/", nil)
	req.RemoteAddr = "10.0.0.5:54321"

	ApplyForwardedFor(req)

	assert.Equal(t, "10.0.0.5", req.Header.Get("X-Forwarded-For"))
	assert.Equal(t, "example.com", req.Header.Get("X-Forwarded-Host"))
	assert.Equal(t, "http", req.Header.Get("X-Forwarded-Proto"))
}

func TestProxyServeForwardsToUpstream(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Proxy-Connection"))
		w.WriteHeader(http.StatusTeapot)
	}))
	defer upstream.Close()

	p := New(&Config{}, nil)

	req := httptest.NewRequest(http.MethodGet, upstream.URL, nil)
	req.RemoteAddr = "127.0.0.1:1234"
	req.Header.Set("Proxy-Connection", "Keep-Alive")

	resp, err := p.Serve(req.Context(), req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusTeapot, resp.StatusCode)
}

func TestProxyServeStripsRoutePrefix(t *testing.T) {
	var gotPath string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	p := New(&Config{RoutePrefix: "/forward"}, nil)

	req := httptest.NewRequest(http.MethodGet, upstream.URL+"/forward/v1/models", nil)
	req.RemoteAddr = "127.0.0.1:1234"
	ctx := context.WithValue(req.Context(), util.RoutePrefixContextKey, "/forward")

	resp, err := p.Serve(ctx, req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "/v1/models", gotPath)
}
