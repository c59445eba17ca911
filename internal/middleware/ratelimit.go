package middleware

import (
	"crypto/rand"
	"encoding/hex"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/rayvin/radiology-assistant/internal/config"
)

// EndpointClass resolves a request to its rate-limit class.  Login and the
// password/verification mail endpoints get the tightest ceilings because
// they are the credential-guessing and mail-flooding surfaces; analysis is
// limited separately because each call is expensive.
func EndpointClass(method, path string) string {
	switch {
	case method == http.MethodPost && path == "/api/auth/token":
		return config.ClassLogin
	case method == http.MethodPost &&
		(path == "/api/auth/forgot-password" || path == "/api/auth/resend-verification"):
		return config.ClassForgot
	case strings.HasPrefix(path, "/api/analyze"):
		return config.ClassAnalyze
	default:
		return config.ClassDefault
	}
}

// NewSlidingWindow builds a rate-limiting middleware backed by a Redis
// sorted set per (caller, endpoint class).  Each request is a member scored
// with its arrival time; the script trims entries older than the window,
// counts the remainder and admits the request when the count is below the
// class ceiling.  The whole check is one script call, so counting is atomic
// across concurrent requests and across processes.
//
// When Redis is unavailable (nil client or script error) the middleware
// admits the request: the service briefly under-enforces rather than
// refusing traffic.
func NewSlidingWindow(cfg config.RateLimitConfig, rdb *redis.Client) echo.MiddlewareFunc {
	if !cfg.Enabled || rdb == nil {
		return func(next echo.HandlerFunc) echo.HandlerFunc {
			return func(c echo.Context) error { return next(c) }
		}
	}

	windowScript := redis.NewScript(`
        local key = KEYS[1]
        local now_ms = tonumber(ARGV[1])
        local window_ms = tonumber(ARGV[2])
        local limit = tonumber(ARGV[3])
        local member = ARGV[4]

        redis.call('ZREMRANGEBYSCORE', key, 0, now_ms - window_ms)
        local count = redis.call('ZCARD', key)

        local allowed = 0
        local retry_after_ms = 0
        if count < limit then
            allowed = 1
            redis.call('ZADD', key, now_ms, member)
            count = count + 1
        else
            local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
            if oldest[2] then
                retry_after_ms = tonumber(oldest[2]) + window_ms - now_ms
                if retry_after_ms < 0 then retry_after_ms = 0 end
            end
        end
        redis.call('PEXPIRE', key, window_ms)

        return { allowed, limit - count, retry_after_ms }
    `)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			class := EndpointClass(c.Request().Method, c.Path())
			limit := cfg.Limit(class)
			key := buildRateKey(cfg.Prefix, class, c)
			now := time.Now()

			member, err := randomMember()
			if err != nil {
				return next(c)
			}
			args := []interface{}{
				now.UnixMilli(),
				cfg.Window.Milliseconds(),
				limit,
				member,
			}

			ctx := c.Request().Context()
			vals, err := windowScript.Run(ctx, rdb, []string{key}, args...).Result()
			if err != nil {
				if cfg.Debug {
					c.Logger().Warnf("[ratelimit] redis error for key=%s: %v", key, err)
				}
				return next(c)
			}

			d, ok := evalScriptResult(vals)
			if !ok {
				if cfg.Debug {
					c.Logger().Warnf("[ratelimit] unexpected script result for key=%s: %#v", key, vals)
				}
				return next(c)
			}

			c.Response().Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))
			c.Response().Header().Set("X-RateLimit-Remaining", strconv.FormatInt(d.remaining, 10))

			if !d.allowed {
				c.Response().Header().Set("Retry-After", strconv.Itoa(d.retryAfter))
				return c.JSON(http.StatusTooManyRequests, echo.Map{
					"detail":      "rate limit exceeded",
					"retry_after": d.retryAfter,
				})
			}
			return next(c)
		}
	}
}

// rateDecision is the interpreted outcome of one window-script run.
type rateDecision struct {
	allowed    bool
	remaining  int64
	retryAfter int // seconds until the window frees a slot; set when denied
}

// evalScriptResult interprets the Lua script's {allowed, remaining,
// retry_after_ms} reply.  ok is false when the reply does not have the
// expected three-element shape, in which case the caller admits the request.
func evalScriptResult(vals interface{}) (rateDecision, bool) {
	arr, ok := vals.([]interface{})
	if !ok || len(arr) != 3 {
		return rateDecision{}, false
	}
	d := rateDecision{
		allowed:   asInt64(arr[0]) == 1,
		remaining: asInt64(arr[1]),
	}
	if d.remaining < 0 {
		d.remaining = 0
	}
	if !d.allowed {
		d.retryAfter = int(math.Ceil(float64(asInt64(arr[2])) / 1000.0))
		if d.retryAfter < 1 {
			d.retryAfter = 1
		}
	}
	return d, true
}

func asInt64(v interface{}) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case int32:
		return int64(t)
	case int:
		return int64(t)
	case float64:
		return int64(t)
	case float32:
		return int64(t)
	case string:
		if n, err := strconv.ParseInt(t, 10, 64); err == nil {
			return n
		}
	}
	return 0
}

// buildRateKey keys counters by endpoint class and caller identity: the
// authenticated username when present, the client IP otherwise.
func buildRateKey(prefix, class string, c echo.Context) string {
	who := Username(c)
	if who == "" {
		who = c.RealIP()
	}
	if who == "" {
		who = "unknown"
	}
	return strings.Join([]string{prefix, class, who}, ":")
}

// randomMember yields a unique sorted-set member so two requests landing on
// the same millisecond both count.
func randomMember() (string, error) {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
