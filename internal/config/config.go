// Package config loads the coordination-layer settings from
// ~/.omc/config.yaml, overridable via OMC_* environment variables.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"omc/internal/logging"
)

var logger = logging.NewComponentLogger("config")

// Config is the resolved runtime configuration.
type Config struct {
	// AbortTokens mark a stop as user-initiated; the enforcer never blocks
	// these.
	AbortTokens []string `mapstructure:"abort_tokens"`

	// ContextLimitTokens mark a stop caused by the host hitting its context
	// window; blocking would only make it worse.
	ContextLimitTokens []string `mapstructure:"context_limit_tokens"`

	// EnableTodoContinuation lets the enforcer nudge a session with unchecked
	// todos even when no mode is active.
	EnableTodoContinuation bool `mapstructure:"enable_todo_continuation"`

	// MaxTodoContinuations caps the nudges per session.
	MaxTodoContinuations int `mapstructure:"max_todo_continuations"`

	// LeaseTimeout is the task-pool claim lease.
	LeaseTimeout time.Duration `mapstructure:"lease_timeout"`

	// MonitorAddr is the listen address of the status dashboard.
	MonitorAddr string `mapstructure:"monitor_addr"`
}

func defaults() *Config {
	return &Config{
		AbortTokens:          []string{"user_cancel", "user_interrupt", "ctrl_c", "manual_stop"},
		ContextLimitTokens:   []string{"context limit", "context_limit_reached", "conversation too long", "prompt is too long"},
		MaxTodoContinuations: 5,
		LeaseTimeout:         5 * time.Minute,
		MonitorAddr:          "127.0.0.1:7777",
	}
}

// Load reads configuration from disk and environment. Missing or malformed
// files fall back to defaults; configuration must never break a hook.
func Load() *Config {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(home, ".omc"))
	}
	v.SetEnvPrefix("OMC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := defaults()
	v.SetDefault("abort_tokens", cfg.AbortTokens)
	v.SetDefault("context_limit_tokens", cfg.ContextLimitTokens)
	v.SetDefault("enable_todo_continuation", cfg.EnableTodoContinuation)
	v.SetDefault("max_todo_continuations", cfg.MaxTodoContinuations)
	v.SetDefault("lease_timeout", cfg.LeaseTimeout)
	v.SetDefault("monitor_addr", cfg.MonitorAddr)

	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			logger.Warn("config read failed, using defaults: %v", err)
		}
	}
	if err := v.Unmarshal(cfg); err != nil {
		logger.Warn("config unmarshal failed, using defaults: %v", err)
		return defaults()
	}
	return cfg
}

// IsAbortToken reports whether a stop reason names a user abort.
func (c *Config) IsAbortToken(reason string) bool {
	lower := strings.ToLower(reason)
	for _, tok := range c.AbortTokens {
		if lower == tok {
			return true
		}
	}
	return false
}

// IsContextLimit reports whether transcript or reason text indicates the host
// ran out of context window.
func (c *Config) IsContextLimit(text string) bool {
	lower := strings.ToLower(text)
	for _, tok := range c.ContextLimitTokens {
		if strings.Contains(lower, tok) {
			return true
		}
	}
	return false
}
