package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/thushan/rama/pkg/service"
)

func TestTokenBucketAllowsWithinBurst(t *testing.T) {
	policy := NewTokenBucketPolicy(100, 10, 100, 3)

	for i := 0; i < 3; i++ {
		result := policy.Check(context.Background(), "client-a")
		assert.Equal(t, Ready, result.Verdict, "attempt %d should be admitted within burst", i)
	}

	result := policy.Check(context.Background(), "client-a")
	assert.Equal(t, RetryLater, result.Verdict)
}

func TestTokenBucketIsolatesKeys(t *testing.T) {
	policy := NewTokenBucketPolicy(100, 10, 100, 1)

	assert.Equal(t, Ready, policy.Check(context.Background(), "a").Verdict)
	assert.Equal(t, Ready, policy.Check(context.Background(), "b").Verdict, "separate key should have its own budget")
}

func TestLayerRejectsOverLimit(t *testing.T) {
	policy := NewTokenBucketPolicy(100, 10, 100, 0)

	layer := Layer[string, string](policy.Check, func(req string) string { return req })
	svc := layer.Wrap(service.ServiceFunc[string, string](func(_ context.Context, req string) (string, error) {
		return "ok", nil
	}))

	_, err := svc.Serve(context.Background(), "client-a")
	assert.ErrorIs(t, err, ErrLimited)
}

func TestCleanupRemovesIdleBuckets(t *testing.T) {
	policy := NewTokenBucketPolicy(100, 10, 100, 5)
	policy.Check(context.Background(), "stale")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	policy.StartCleanup(ctx, 5*time.Millisecond, time.Millisecond)

	<-ctx.Done()
	policy.mu.Lock()
	_, exists := policy.perKey["stale"]
	policy.mu.Unlock()
	assert.False(t, exists)
}
