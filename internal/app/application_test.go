package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/thushan/rama/internal/config"
)

func TestCheckIntervalUsesFirstConfiguredUpstream(t *testing.T) {
	cfg := &config.Config{
		Upstreams: []config.UpstreamConfig{
			{Name: "a", CheckInterval: 0},
			{Name: "b", CheckInterval: 5 * time.Second},
		},
	}
	assert.Equal(t, 5*time.Second, checkInterval(cfg))
}

func TestCheckIntervalDefaultsWhenUnset(t *testing.T) {
	assert.Equal(t, 10*time.Second, checkInterval(&config.Config{}))
}
