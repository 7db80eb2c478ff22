package middleware

import (
    "net/http"
    "strconv"
    "strings"
    "time"

    "github.com/labstack/echo/v4"
    "github.com/redis/go-redis/v9"

    "github.com/iliyamo/leisure-shows/internal/config"
)

// takeToken refills the bucket at KEYS[1] for the whole intervals elapsed
// since its last refill, then takes one token if any is left.
//
// ARGV: now_ms, capacity, refill_tokens, interval_ms, ttl_seconds.
// Returns {allowed (0|1), tokens_left, wait_ms}.
var takeToken = redis.NewScript(`
local now, cap, refill, every, ttl =
    tonumber(ARGV[1]), tonumber(ARGV[2]), tonumber(ARGV[3]), tonumber(ARGV[4]), tonumber(ARGV[5])

local state = redis.call('HMGET', KEYS[1], 'tokens', 'since')
local tokens, since = cap, now
if state[1] and state[2] then
    tokens, since = tonumber(state[1]), tonumber(state[2])
end

local steps = math.floor(math.max(0, now - since) / every)
if steps > 0 then
    tokens = math.min(cap, tokens + steps * refill)
    since = since + steps * every
end

local allowed, wait = 0, 0
if tokens > 0 then
    allowed, tokens = 1, tokens - 1
else
    wait = math.max(0, every - (now - since))
end

redis.call('HSET', KEYS[1], 'tokens', tokens, 'since', since)
redis.call('EXPIRE', KEYS[1], ttl)
return {allowed, tokens, wait}
`)

// bucketState is the decoded reply of takeToken.
type bucketState struct {
    allowed   bool
    remaining int64
    wait      time.Duration
}

func decodeBucket(vals []int64) (bucketState, bool) {
    if len(vals) != 3 {
        return bucketState{}, false
    }
    return bucketState{
        allowed:   vals[0] == 1,
        remaining: vals[1],
        wait:      time.Duration(vals[2]) * time.Millisecond,
    }, true
}

// retryAfterSeconds rounds wait up to whole seconds, at least one.
func retryAfterSeconds(wait time.Duration) int {
    secs := int((wait + time.Second - 1) / time.Second)
    if secs < 1 {
        secs = 1
    }
    return secs
}

// NewTokenBucket throttles the page routes per client with a token bucket
// kept in Redis, so every server instance shares one budget.  When Redis
// fails the request is let through and the error logged.
func NewTokenBucket(cfg config.RateLimitConfig, rdb *redis.Client) echo.MiddlewareFunc {
    if !cfg.Enabled || rdb == nil {
        return passThrough
    }
    limit := strconv.Itoa(cfg.Capacity)

    return func(next echo.HandlerFunc) echo.HandlerFunc {
        return func(c echo.Context) error {
            key := buildRateKey(cfg, c)
            vals, err := takeToken.Run(c.Request().Context(), rdb, []string{key},
                time.Now().UnixMilli(),
                cfg.Capacity,
                cfg.RefillTokens,
                cfg.RefillInterval.Milliseconds(),
                int64(cfg.TTL/time.Second),
            ).Int64Slice()
            if err != nil {
                c.Logger().Warnf("[ratelimit] key=%s: %v", key, err)
                return next(c)
            }
            st, ok := decodeBucket(vals)
            if !ok {
                c.Logger().Warnf("[ratelimit] key=%s: unexpected reply %v", key, vals)
                return next(c)
            }

            h := c.Response().Header()
            h.Set("X-RateLimit-Limit", limit)
            h.Set("X-RateLimit-Remaining", strconv.FormatInt(st.remaining, 10))
            if cfg.Debug {
                h.Set("X-RateLimit-Key", key)
            }
            if st.allowed {
                return next(c)
            }

            secs := retryAfterSeconds(st.wait)
            h.Set("Retry-After", strconv.Itoa(secs))
            if cfg.Debug {
                c.Logger().Infof("[ratelimit] block key=%s retry=%s", key, st.wait)
            }
            return c.JSON(http.StatusTooManyRequests, echo.Map{
                "error":   "rate_limited",
                "message": "too many requests, retry in " + strconv.Itoa(secs) + "s",
            })
        }
    }
}

// buildRateKey joins the prefix with the parts named by the strategy.  The
// route is the registered pattern, so all detail pages share one bucket.
func buildRateKey(cfg config.RateLimitConfig, c echo.Context) string {
    ip := c.RealIP()
    if ip == "" { ip = "unknown" }
    route := c.Request().Method + " " + c.Path()

    parts := []string{cfg.Prefix}
    switch strings.ToLower(cfg.KeyStrategy) {
    case "ip":
        parts = append(parts, "ip", ip)
    case "route":
        parts = append(parts, "route", route)
    default: // "ip_route"
        parts = append(parts, "ip", ip, "route", route)
    }
    return strings.Join(parts, ":")
}
