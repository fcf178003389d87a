package graceful

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGuardBlocksShutdown(t *testing.T) {
	tok := New()
	release := tok.Guard()

	go func() {
		time.Sleep(20 * time.Millisecond)
		release()
	}()

	err := tok.ShutdownWithLimit(time.Second)
	assert.NoError(t, err)
	assert.Equal(t, Terminated, tok.State())
}

func TestShutdownTimesOut(t *testing.T) {
	tok := New()
	_ = tok.Guard() // never released

	err := tok.ShutdownWithLimit(10 * time.Millisecond)
	assert.ErrorIs(t, err, ErrDrainTimedOut)
	assert.Equal(t, Draining, tok.State())
}

func TestChildDrainsWithParent(t *testing.T) {
	root := New()
	child := root.Child()

	select {
	case <-child.Context().Done():
		t.Fatal("child should not be cancelled before parent drains")
	default:
	}

	root.BeginDrain()

	select {
	case <-child.Context().Done():
	default:
		t.Fatal("child context should be cancelled once parent begins draining")
	}
	assert.Equal(t, Draining, child.State())
}

func TestSpawnTaskHoldsGuard(t *testing.T) {
	tok := New()
	started := make(chan struct{})

	tok.SpawnTask(func(ctx context.Context) {
		close(started)
		<-ctx.Done()
	})

	<-started
	err := tok.ShutdownWithLimit(500 * time.Millisecond)
	assert.NoError(t, err, "SpawnTask's ctx should be cancelled by BeginDrain, letting the task exit")
}
