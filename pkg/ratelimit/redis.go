package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLimitPolicy backs the Limit policy's global counter with Redis
// INCR + TTL, so multiple proxy instances share one rate-limit budget
// instead of each enforcing its own in-process bucket. It implements the
// same LimitPolicy function-value contract as TokenBucketPolicy.
type RedisLimitPolicy struct {
	client *redis.Client
	limit  int64
	window time.Duration
}

// NewRedisLimitPolicy builds a RedisLimitPolicy allowing up to limit
// requests per key within window.
func NewRedisLimitPolicy(client *redis.Client, limit int64, window time.Duration) *RedisLimitPolicy {
	return &RedisLimitPolicy{client: client, limit: limit, window: window}
}

// Check implements LimitPolicy using a fixed-window counter: INCR a key
// scoped to the caller-supplied key plus the current window index, set an
// expiry on first increment, and compare against the configured limit.
func (p *RedisLimitPolicy) Check(ctx context.Context, key string) Result {
	windowKey := fmt.Sprintf("ratelimit:%s:%d", key, time.Now().Unix()/int64(p.window.Seconds()))

	count, err := p.client.Incr(ctx, windowKey).Result()
	if err != nil {
		// A Redis outage degrades to fail-open: surfacing RetryLater for
		// every request would turn a cache blip into a full outage, and
		// the in-process TokenBucketPolicy remains available as a Layer
		// composed ahead of this one for that scenario.
		return Result{Verdict: Ready}
	}
	if count == 1 {
		p.client.Expire(ctx, windowKey, p.window)
	}

	if count > p.limit {
		return Result{Verdict: RetryLater, RetryAfter: p.window}
	}
	return Result{Verdict: Ready}
}
