package config

import (
	"os"
	"time"
)

// Endpoint classes for rate limiting.  Each class carries its own ceiling so
// that credential-guessing surfaces (login, forgot-password) can be throttled
// far harder than ordinary traffic.
const (
	ClassLogin   = "login"
	ClassForgot  = "forgot"
	ClassAnalyze = "analyze"
	ClassDefault = "default"
)

// RateLimitConfig describes the sliding-window limiter.  Limits are requests
// per Window, counted independently per (caller, class) pair.
type RateLimitConfig struct {
	Enabled bool
	Window  time.Duration
	Limits  map[string]int // ceiling per endpoint class
	Prefix  string         // redis key namespace
	Debug   bool
}

// LoadRateLimitConfig builds the limiter configuration from the environment.
// Defaults follow the documented contract: login 10/min, forgot-password
// 3/min, analyze 20/min, everything else 100/min.
func LoadRateLimitConfig() RateLimitConfig {
	cfg := RateLimitConfig{
		Enabled: envBool("RATE_LIMIT_ENABLED", true),
		Window:  envDur("RATE_LIMIT_WINDOW", time.Minute),
		Limits: map[string]int{
			ClassLogin:   envInt("RATE_LIMIT_LOGIN", 10),
			ClassForgot:  envInt("RATE_LIMIT_FORGOT", 3),
			ClassAnalyze: envInt("RATE_LIMIT_ANALYZE", 20),
			ClassDefault: envInt("RATE_LIMIT_DEFAULT", 100),
		},
		Prefix: envStr("RATE_LIMIT_PREFIX", "rl"),
		Debug:  envBool("RATE_LIMIT_DEBUG", false),
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	for class, limit := range cfg.Limits {
		if limit < 1 {
			cfg.Limits[class] = 1
		}
	}
	return cfg
}

// Limit returns the ceiling for an endpoint class, falling back to the
// default class for unknown names.
func (c RateLimitConfig) Limit(class string) int {
	if n, ok := c.Limits[class]; ok {
		return n
	}
	return c.Limits[ClassDefault]
}

func envBool(k string, d bool) bool {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	switch v {
	case "1", "true", "TRUE", "True", "yes", "YES", "on", "ON":
		return true
	case "0", "false", "FALSE", "False", "no", "NO", "off", "OFF":
		return false
	}
	return d
}
