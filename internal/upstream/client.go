// Package upstream tracks the health of the authorities a proxy core dials
// (HTTP upstreams, SOCKS5 targets), wrapping each in a gobreaker circuit
// breaker so a failing authority stops receiving traffic before every
// caller times out against it individually.
//
// Grounded on internal/adapter/factory/client.go's shared-transport HTTP
// client pattern and internal/adapter/health/{checker,circuit_breaker}.go's
// scheduler/breaker shapes, rewritten over sony/gobreaker/v2 instead of the
// teacher's hand-rolled atomics-based breaker.
package upstream

import (
	"net/http"
	"time"
)

const (
	// HealthCheckTimeout bounds a single health probe.
	HealthCheckTimeout = 5 * time.Second
	// DialTimeout bounds a single proxied-connection dial.
	DialTimeout = 10 * time.Second
)

// ClientFactory hands out the shared, pooled-connection HTTP client used
// for health probes, so probes do not compete with proxied traffic for a
// connection pool.
type ClientFactory struct {
	healthClient *http.Client
}

// NewClientFactory builds a ClientFactory with one shared transport sized
// for many short-lived health checks rather than high-throughput proxying.
func NewClientFactory() *ClientFactory {
	transport := &http.Transport{
		MaxIdleConns:        10,
		MaxIdleConnsPerHost: 5,
		IdleConnTimeout:     30 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}

	return &ClientFactory{
		healthClient: &http.Client{
			Timeout:   HealthCheckTimeout,
			Transport: transport,
		},
	}
}

// HealthClient returns the shared client used for health-check requests.
func (f *ClientFactory) HealthClient() *http.Client {
	return f.healthClient
}
