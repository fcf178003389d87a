package rcontext

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testKey struct{}

func TestNewMintsConnectionID(t *testing.T) {
	rc := New(context.Background())
	assert.NotEqual(t, "", rc.ConnectionID().String())
}

func TestSetGet(t *testing.T) {
	rc := New(context.Background())
	Set(rc, testKey{}, "value")

	got, ok := Get[string](rc, testKey{})
	require.True(t, ok)
	assert.Equal(t, "value", got)

	_, ok = Get[int](rc, testKey{})
	assert.False(t, ok, "wrong type assertion should fail, not panic")
}

func TestCloneIsolatesExtensions(t *testing.T) {
	parent := New(context.Background())
	Set(parent, testKey{}, "parent-value")

	clone := parent.Clone()
	Set(clone, testKey{}, "clone-value")

	parentVal, _ := Get[string](parent, testKey{})
	cloneVal, _ := Get[string](clone, testKey{})

	assert.Equal(t, "parent-value", parentVal)
	assert.Equal(t, "clone-value", cloneVal)
	assert.Equal(t, parent.ConnectionID(), clone.ConnectionID(), "clone shares identity, not just a copy")
}

func TestCloneSharesCancellation(t *testing.T) {
	parent := New(context.Background())
	clone := parent.Clone()

	parent.Cancel()

	select {
	case <-clone.Done():
	default:
		t.Fatal("clone should observe parent cancellation")
	}
	assert.Error(t, clone.Err())
}

func TestSpawnUsesExecutor(t *testing.T) {
	rc := New(context.Background())
	done := make(chan struct{})

	var spawned bool
	rc2 := rc.WithExecutor(ExecutorFunc(func(fn func()) {
		spawned = true
		fn()
	}))
	rc2.Spawn(func() { close(done) })

	<-done
	assert.True(t, spawned)
}
