// Package ratelimit implements the Limit policy Layer (C9): a per-key
// admission check a Service.Layer consults before invoking its inner
// Service. Grounded on
// internal/adapter/security/request_rate_limit.go's global + per-IP
// golang.org/x/time/rate token buckets and trusted-CIDR client-IP
// resolution.
package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/thushan/rama/pkg/service"
)

// Verdict is what a LimitPolicy returns for one admission check.
type Verdict int

const (
	// Ready admits the request immediately.
	Ready Verdict = iota
	// Abort rejects the request outright (no amount of waiting helps —
	// e.g. the caller is on a deny-list).
	Abort
	// RetryLater rejects the request now but suggests the caller retry
	// after RetryAfter.
	RetryLater
)

// Result is a LimitPolicy's full answer: the Verdict plus, for
// RetryLater, how long to wait.
type Result struct {
	Verdict    Verdict
	RetryAfter time.Duration
}

// LimitPolicy checks whether key (typically a client IP or an auth
// subject) may proceed.
type LimitPolicy func(ctx context.Context, key string) Result

// ErrLimited is the sentinel error the Layer returns when a LimitPolicy
// does not return Ready. Distinct from service.ErrRejected so a caller
// can map rate-limiting to its own status code (403) rather than the
// generic rejection response every other Layer would otherwise share.
var ErrLimited = errors.New("ratelimit: request rejected by limit policy")

// TokenBucketPolicy builds an in-process LimitPolicy: one global bucket
// shared by every key, plus one bucket per key, both refilling at rate
// rps with burst capacity burst. A key's bucket is created lazily and
// never evicted proactively; call StartCleanup to reap idle entries.
type TokenBucketPolicy struct {
	global   *rate.Limiter
	perKeyRPS   rate.Limit
	perKeyBurst int

	mu      sync.Mutex
	perKey  map[string]*bucketEntry
}

type bucketEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewTokenBucketPolicy builds a TokenBucketPolicy. globalRPS/globalBurst
// bound the aggregate request rate across all keys; perKeyRPS/perKeyBurst
// bound any single key.
func NewTokenBucketPolicy(globalRPS float64, globalBurst int, perKeyRPS float64, perKeyBurst int) *TokenBucketPolicy {
	return &TokenBucketPolicy{
		global:      rate.NewLimiter(rate.Limit(globalRPS), globalBurst),
		perKeyRPS:   rate.Limit(perKeyRPS),
		perKeyBurst: perKeyBurst,
		perKey:      make(map[string]*bucketEntry),
	}
}

// Check implements LimitPolicy.
func (p *TokenBucketPolicy) Check(_ context.Context, key string) Result {
	if res := p.global.Reserve(); !res.OK() || res.Delay() > 0 {
		res.Cancel()
		return Result{Verdict: RetryLater, RetryAfter: res.Delay()}
	}

	limiter := p.keyLimiter(key)
	if res := limiter.Reserve(); !res.OK() || res.Delay() > 0 {
		res.Cancel()
		return Result{Verdict: RetryLater, RetryAfter: res.Delay()}
	}
	return Result{Verdict: Ready}
}

func (p *TokenBucketPolicy) keyLimiter(key string) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()

	entry, ok := p.perKey[key]
	if !ok {
		entry = &bucketEntry{limiter: rate.NewLimiter(p.perKeyRPS, p.perKeyBurst)}
		p.perKey[key] = entry
	}
	entry.lastSeen = time.Now()
	return entry.limiter
}

// StartCleanup runs until ctx is done, periodically removing per-key
// buckets idle for longer than maxIdle, matching
// request_rate_limit.go's cleanup ticker.
func (p *TokenBucketPolicy) StartCleanup(ctx context.Context, interval, maxIdle time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.mu.Lock()
			for key, entry := range p.perKey {
				if time.Since(entry.lastSeen) > maxIdle {
					delete(p.perKey, key)
				}
			}
			p.mu.Unlock()
		}
	}
}

// Layer builds a service.Layer that extracts a key from each request with
// keyFn and consults policy before invoking the inner Service.
func Layer[Req, Resp any](policy LimitPolicy, keyFn func(Req) string) service.Layer[Req, Resp] {
	return service.LayerFunc[Req, Resp](func(inner service.Service[Req, Resp]) service.Service[Req, Resp] {
		return service.ServiceFunc[Req, Resp](func(ctx context.Context, req Req) (Resp, error) {
			var zero Resp
			result := policy(ctx, keyFn(req))
			if result.Verdict != Ready {
				return zero, ErrLimited
			}
			return inner.Serve(ctx, req)
		})
	})
}
