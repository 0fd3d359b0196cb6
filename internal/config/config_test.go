package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaults(t *testing.T) {
	cfg := Load()
	assert.False(t, cfg.EnableTodoContinuation, "todo continuation is opt-in")
	assert.Equal(t, 5, cfg.MaxTodoContinuations)
	assert.NotEmpty(t, cfg.AbortTokens)
	assert.NotEmpty(t, cfg.MonitorAddr)
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("OMC_ENABLE_TODO_CONTINUATION", "true")
	t.Setenv("OMC_MONITOR_ADDR", "127.0.0.1:9999")

	cfg := Load()
	assert.True(t, cfg.EnableTodoContinuation)
	assert.Equal(t, "127.0.0.1:9999", cfg.MonitorAddr)
}

func TestIsAbortToken(t *testing.T) {
	cfg := defaults()
	assert.True(t, cfg.IsAbortToken("user_cancel"))
	assert.True(t, cfg.IsAbortToken("CTRL_C"), "matching is case-insensitive")
	assert.False(t, cfg.IsAbortToken("timeout"))
	assert.False(t, cfg.IsAbortToken("please cancel"), "exact tokens only")
}

func TestIsContextLimit(t *testing.T) {
	cfg := defaults()
	assert.True(t, cfg.IsContextLimit("Context limit reached; compacting"))
	assert.True(t, cfg.IsContextLimit("prompt is too long: 210000 tokens"))
	assert.False(t, cfg.IsContextLimit("done"))
}
