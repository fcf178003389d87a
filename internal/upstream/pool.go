package upstream

import (
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/thushan/rama/internal/logger"
	"github.com/thushan/rama/internal/util"
)

// Authority is one dial target a proxy core may route to: a host:port plus
// an optional health-check path (HTTP upstreams only; SOCKS5/raw TCP
// authorities leave HealthPath empty and are probed with a bare dial).
type Authority struct {
	Name       string
	Addr       string
	HealthPath string
}

// Entry is a Pool's bookkeeping for one Authority: its current health
// status and the gobreaker.CircuitBreaker guarding calls through it.
type Entry struct {
	Authority Authority
	Status    logger.UpstreamStatus
	LastCheck time.Time

	breaker *gobreaker.CircuitBreaker[struct{}]
}

// Pool tracks every configured Authority's health and circuit-breaker
// state. Safe for concurrent use.
type Pool struct {
	mu      sync.RWMutex
	entries map[string]*Entry

	breakerSettings gobreaker.Settings
}

// NewPool builds an empty Pool. breakerThreshold consecutive failures trip
// an authority's breaker open for breakerTimeout before it half-opens to
// probe again, matching internal/adapter/health/types.go's
// DefaultCircuitBreakerThreshold/DefaultCircuitBreakerTimeout constants.
func NewPool(breakerThreshold uint32, breakerTimeout time.Duration) *Pool {
	return &Pool{
		entries: make(map[string]*Entry),
		breakerSettings: gobreaker.Settings{
			Name:    "upstream",
			Timeout: breakerTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= breakerThreshold
			},
		},
	}
}

// Add registers an Authority with an Unknown status and a fresh breaker.
// a.Addr is normalised to strip an accidental trailing slash from config
// (e.g. "host:port/" instead of "host:port") before it's used to build
// dial addresses and health-check URLs.
func (p *Pool) Add(a Authority) {
	a.Addr = util.NormaliseBaseURL(a.Addr)

	settings := p.breakerSettings
	settings.Name = a.Name

	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries[a.Name] = &Entry{
		Authority: a,
		Status:    logger.StatusUnknown,
		breaker:   gobreaker.NewCircuitBreaker[struct{}](settings),
	}
}

// Remove drops an Authority from the pool, e.g. on config reload.
func (p *Pool) Remove(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.entries, name)
}

// Get returns the Entry for name, if registered.
func (p *Pool) Get(name string) (*Entry, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	e, ok := p.entries[name]
	return e, ok
}

// All returns a snapshot of every registered Entry.
func (p *Pool) All() []Entry {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Entry, 0, len(p.entries))
	for _, e := range p.entries {
		out = append(out, *e)
	}
	return out
}

// Execute runs dial through name's circuit breaker: if the breaker is open
// it returns gobreaker.ErrOpenState without calling dial; otherwise it
// calls dial and records the outcome. Mirrors internal/socks5/server.go's
// gobreaker usage so both protocol cores share one failure-tracking idiom.
func (p *Pool) Execute(name string, dial func() error) error {
	p.mu.RLock()
	e, exists := p.entries[name]
	p.mu.RUnlock()
	if !exists {
		return dial()
	}

	_, err := e.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, dial()
	})
	return err
}

// Stats tallies the pool's entries by status, for /stats and periodic
// logging.
func (p *Pool) Stats() (healthy, unhealthy, unknown int) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, e := range p.entries {
		switch e.Status {
		case logger.StatusHealthy:
			healthy++
		case logger.StatusUnhealthy:
			unhealthy++
		default:
			unknown++
		}
	}
	return
}

func (p *Pool) setStatus(name string, status logger.UpstreamStatus) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.entries[name]; ok {
		e.Status = status
		e.LastCheck = time.Now()
	}
}
