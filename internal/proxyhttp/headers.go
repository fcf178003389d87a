package proxyhttp

import (
	"net/http"
	"strings"
)

// hopByHop lists the header fields RFC 7230 section 6.1 defines as
// connection-specific; a proxy must remove them before forwarding a
// message in either direction.
var hopByHop = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// clientIPHeaders lists the client-identity headers a proxy must strip
// from an inbound request before computing its own - otherwise a client
// could forge an upstream-trusted X-Forwarded-For chain or Via entry
// simply by sending one itself, and ApplyForwardedFor would append to
// the forged value instead of starting a fresh, trustworthy one.
var clientIPHeaders = []string{
	"X-Forwarded-For",
	"X-Forwarded-Host",
	"X-Forwarded-Proto",
	"Forwarded",
	"Via",
}

// StripHopByHop removes the fixed hop-by-hop set plus any header named in
// a Connection field (RFC 7230 6.1's "Connection options"), mutating h in
// place. It is applied to both the outbound request and the inbound
// response - hop-by-hop semantics are direction-agnostic.
func StripHopByHop(h http.Header) {
	if conn := h.Get("Connection"); conn != "" {
		for _, name := range strings.Split(conn, ",") {
			h.Del(strings.TrimSpace(name))
		}
	}
	for _, name := range hopByHop {
		h.Del(name)
	}
}

// StripClientIPHeaders removes clientIPHeaders from h. Unlike
// StripHopByHop, this is request-side only: a client's self-reported
// X-Forwarded-For/Via must never survive into what this proxy appends
// its own entries to, but there is no equivalent concern stripping them
// from the upstream's response.
func StripClientIPHeaders(h http.Header) {
	for _, name := range clientIPHeaders {
		h.Del(name)
	}
}

// ApplyForwardedFor appends the client's address to X-Forwarded-For and
// sets X-Forwarded-Host/Proto if absent, the way a transparent forward
// proxy is expected to. req is mutated in place. Callers must run
// StripClientIPHeaders first so these are always this proxy's own
// observations, never attacker-supplied.
func ApplyForwardedFor(req *http.Request) {
	clientIP := req.RemoteAddr
	if idx := strings.LastIndex(clientIP, ":"); idx != -1 {
		clientIP = clientIP[:idx]
	}
	if clientIP != "" {
		if prior := req.Header.Get("X-Forwarded-For"); prior != "" {
			req.Header.Set("X-Forwarded-For", prior+", "+clientIP)
		} else {
			req.Header.Set("X-Forwarded-For", clientIP)
		}
	}
	if req.Header.Get("X-Forwarded-Host") == "" && req.Host != "" {
		req.Header.Set("X-Forwarded-Host", req.Host)
	}
	if req.Header.Get("X-Forwarded-Proto") == "" {
		proto := "http"
		if req.TLS != nil {
			proto = "https"
		}
		req.Header.Set("X-Forwarded-Proto", proto)
	}
}
