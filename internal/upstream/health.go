package upstream

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/thushan/rama/internal/logger"
	"github.com/thushan/rama/internal/util"
)

// Checker periodically probes every Authority in a Pool and updates its
// Status. HTTP authorities (HealthPath set) are probed with a GET through
// the ClientFactory's shared client; bare authorities are probed with a
// plain TCP dial. Grounded on internal/adapter/health/checker.go's
// worker-driven scheduler, simplified to one ticker for all authorities since the
// teacher's heap-based scheduler existed to stagger thousands of LLM
// endpoints rather than rama's proxy targets.
type Checker struct {
	pool     *Pool
	clients  *ClientFactory
	log      *logger.StyledLogger
	interval time.Duration
}

// NewChecker builds a Checker that probes every Authority in pool every
// interval.
func NewChecker(pool *Pool, clients *ClientFactory, log *logger.StyledLogger, interval time.Duration) *Checker {
	return &Checker{pool: pool, clients: clients, log: log, interval: interval}
}

// Run blocks, probing all authorities every interval until ctx is done.
func (c *Checker) Run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.probeAll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.probeAll(ctx)
		}
	}
}

func (c *Checker) probeAll(ctx context.Context) {
	for _, entry := range c.pool.All() {
		go c.probe(ctx, entry.Authority)
	}
}

func (c *Checker) probe(ctx context.Context, a Authority) {
	ctx, cancel := context.WithTimeout(ctx, HealthCheckTimeout)
	defer cancel()

	var healthy bool
	if a.HealthPath != "" {
		healthy = c.probeHTTP(ctx, a)
	} else {
		healthy = c.probeDial(ctx, a)
	}

	prev, _ := c.pool.Get(a.Name)
	status := logger.StatusUnhealthy
	if healthy {
		status = logger.StatusHealthy
	}
	// prev points at the Entry setStatus updates, so compare before it does.
	unchanged := prev == nil || prev.Status == status
	c.pool.setStatus(a.Name, status)

	if unchanged {
		return
	}
	if healthy {
		c.log.InfoHealthStatus("upstream health changed", a.Name, status)
	} else {
		c.log.WarnUnhealthy("upstream marked unhealthy", a.Name)
	}
}

func (c *Checker) probeHTTP(ctx context.Context, a Authority) bool {
	url := util.JoinURLPath("http://"+a.Addr, a.HealthPath)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	resp, err := c.clients.HealthClient().Do(req)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

func (c *Checker) probeDial(ctx context.Context, a Authority) bool {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", a.Addr)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}
