package upstream

import (
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolAddAndStats(t *testing.T) {
	pool := NewPool(3, time.Second)
	pool.Add(Authority{Name: "a", Addr: "127.0.0.1:1"})
	pool.Add(Authority{Name: "b", Addr: "127.0.0.1:2"})

	healthy, unhealthy, unknown := pool.Stats()
	assert.Equal(t, 0, healthy)
	assert.Equal(t, 0, unhealthy)
	assert.Equal(t, 2, unknown)

	e, ok := pool.Get("a")
	require.True(t, ok)
	assert.Equal(t, "127.0.0.1:1", e.Authority.Addr)
}

func TestPoolExecuteTripsBreaker(t *testing.T) {
	pool := NewPool(1, time.Minute)
	pool.Add(Authority{Name: "flaky", Addr: "127.0.0.1:1"})

	failing := errors.New("dial failed")
	err := pool.Execute("flaky", func() error { return failing })
	assert.ErrorIs(t, err, failing)

	err = pool.Execute("flaky", func() error { return nil })
	assert.ErrorIs(t, err, gobreaker.ErrOpenState, "breaker should be open after one failure given threshold 1")
}

func TestPoolExecuteUnknownAuthorityPassesThrough(t *testing.T) {
	pool := NewPool(3, time.Second)
	called := false
	err := pool.Execute("missing", func() error { called = true; return nil })
	assert.NoError(t, err)
	assert.True(t, called)
}

func TestPoolRemove(t *testing.T) {
	pool := NewPool(3, time.Second)
	pool.Add(Authority{Name: "a", Addr: "127.0.0.1:1"})
	pool.Remove("a")
	_, ok := pool.Get("a")
	assert.False(t, ok)
}
