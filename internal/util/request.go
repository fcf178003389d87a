package util

import (
	"context"
	"fmt"
	"math/rand"
	"net"
	"net/http"
	"strings"
)

// GenerateRequestID returns a short, human-readable request identifier for
// logging and the X-Request-Id response header; not used as the tunnel
// ConnectionID (that's an ULID, for sort order - see pkg/rcontext).
func GenerateRequestID() string {
	actions := []string{
		"relaying", "splicing", "tunneling", "routing", "forwarding",
		"dialing", "accepting", "draining", "probing", "handshaking",
		"upgrading", "proxying", "bridging", "listening", "retrying",
	}
	subjects := []string{
		"socket", "tunnel", "stream", "frame", "session",
		"upstream", "handshake", "connection", "pipe", "relay",
		"channel", "endpoint", "segment", "circuit", "link",
	}

	subject := subjects[rand.Intn(len(subjects))]
	action := actions[rand.Intn(len(actions))]
	suffix := fmt.Sprintf("%04x", rand.Intn(65536))

	return fmt.Sprintf("%s_%s_%s", subject, action, suffix)
}

func GetClientIP(r *http.Request, trustProxyHeaders bool, trustedCIDRs []*net.IPNet) string {
	if !trustProxyHeaders {
		if ip, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
			return ip
		}
		return r.RemoteAddr
	}

	sourceIP := getSourceIP(r)
	if sourceIP == nil || !isIPInTrustedCIDRs(sourceIP, trustedCIDRs) {
		if ip, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
			return ip
		}
		return r.RemoteAddr
	}

	if ip := r.Header.Get("X-Forwarded-For"); ip != "" {
		return strings.TrimSpace(strings.Split(ip, ",")[0])
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return strings.TrimSpace(ip)
	}

	if ip, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return ip
	}
	return r.RemoteAddr
}

func getSourceIP(r *http.Request) net.IP {
	if ip, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return net.ParseIP(ip)
	}
	return net.ParseIP(r.RemoteAddr)
}

// RoutePrefixContextKey is the context key under which a reverse-proxy
// mount prefix is stashed for StripRoutePrefix to pick up downstream.
const RoutePrefixContextKey = "route_prefix"

func StripRoutePrefix(ctx context.Context, path, prefix string) string {
	if routePrefix, ok := ctx.Value(prefix).(string); ok {
		if strings.HasPrefix(path, routePrefix) {
			stripped := path[len(routePrefix):]
			if stripped == "" || stripped[0] != '/' {
				stripped = "/" + stripped
			}
			return stripped
		}
	}
	return path
}
