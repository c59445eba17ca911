package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadRateLimitConfigDefaults(t *testing.T) {
	cfg := LoadRateLimitConfig()

	assert.True(t, cfg.Enabled)
	assert.Equal(t, time.Minute, cfg.Window)
	assert.Equal(t, 10, cfg.Limit(ClassLogin))
	assert.Equal(t, 3, cfg.Limit(ClassForgot))
	assert.Equal(t, 20, cfg.Limit(ClassAnalyze))
	assert.Equal(t, 100, cfg.Limit(ClassDefault))
}

func TestLoadRateLimitConfigOverrides(t *testing.T) {
	t.Setenv("RATE_LIMIT_ENABLED", "false")
	t.Setenv("RATE_LIMIT_LOGIN", "5")
	t.Setenv("RATE_LIMIT_WINDOW", "30s")

	cfg := LoadRateLimitConfig()
	assert.False(t, cfg.Enabled)
	assert.Equal(t, 5, cfg.Limit(ClassLogin))
	assert.Equal(t, 30*time.Second, cfg.Window)
}

func TestLimitUnknownClassFallsBack(t *testing.T) {
	cfg := LoadRateLimitConfig()
	assert.Equal(t, cfg.Limit(ClassDefault), cfg.Limit("no-such-class"))
}

func TestLimitsNeverBelowOne(t *testing.T) {
	t.Setenv("RATE_LIMIT_FORGOT", "0")
	t.Setenv("RATE_LIMIT_ANALYZE", "-3")

	cfg := LoadRateLimitConfig()
	assert.Equal(t, 1, cfg.Limit(ClassForgot))
	assert.Equal(t, 1, cfg.Limit(ClassAnalyze))
}
