package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/leisure-shows/internal/config"
)

func newContext(method, target, route string) echo.Context {
	e := echo.New()
	req := httptest.NewRequest(method, target, nil)
	req.Header.Set(echo.HeaderXRealIP, "10.0.0.7")
	c := e.NewContext(req, httptest.NewRecorder())
	c.SetPath(route)
	return c
}

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func cacheConfig() config.CacheConfig {
	return config.CacheConfig{
		Enabled:      true,
		Methods:      map[string]bool{http.MethodGet: true},
		TTL:          time.Minute,
		KeyStrategy:  "path_query",
		Prefix:       "shows:cache",
		MaxBodyBytes: 1 << 20,
	}
}

func limitConfig(capacity int) config.RateLimitConfig {
	return config.RateLimitConfig{
		Enabled:        true,
		Capacity:       capacity,
		RefillTokens:   1,
		RefillInterval: time.Hour,
		TTL:            5 * time.Hour,
		Prefix:         "shows:rl",
	}
}

// pageServer routes /results/:tvid to a counting handler: id 404 is
// missing, id "big" renders a page longer than six bytes.
type pageServer struct {
	e     *echo.Echo
	calls int
}

func newPageServer(mw ...echo.MiddlewareFunc) *pageServer {
	s := &pageServer{e: echo.New()}
	s.e.GET("/results/:tvid", func(c echo.Context) error {
		s.calls++
		switch id := c.Param("tvid"); id {
		case "404":
			return c.String(http.StatusNotFound, "Not found: 404")
		case "big":
			return c.HTML(http.StatusOK, "<p>"+strings.Repeat("x", 64)+"</p>")
		default:
			return c.HTML(http.StatusOK, "<h1>show "+id+"</h1>")
		}
	}, mw...)
	return s
}

func (s *pageServer) get(path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.Header.Set(echo.HeaderXRealIP, "10.0.0.7")
	s.e.ServeHTTP(rec, req)
	return rec
}

func TestCacheMissThenHit(t *testing.T) {
	mr, rdb := newRedis(t)
	s := newPageServer(NewRedisCache(cacheConfig(), rdb))

	first := s.get("/results/7")
	require.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, "MISS", first.Header().Get("X-Cache"))
	assert.Len(t, mr.Keys(), 1)

	second := s.get("/results/7")
	require.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, "HIT", second.Header().Get("X-Cache"))
	assert.Equal(t, first.Body.String(), second.Body.String())
	assert.Equal(t, first.Header().Get(echo.HeaderContentType), second.Header().Get(echo.HeaderContentType))
	assert.Equal(t, 1, s.calls, "second request is served from Redis")

	other := s.get("/results/8")
	assert.Equal(t, "MISS", other.Header().Get("X-Cache"))
	assert.Equal(t, 2, s.calls)
}

func TestCacheSkipsNotFound(t *testing.T) {
	mr, rdb := newRedis(t)
	s := newPageServer(NewRedisCache(cacheConfig(), rdb))

	for i := 0; i < 2; i++ {
		rec := s.get("/results/404")
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, "MISS", rec.Header().Get("X-Cache"))
	}
	assert.Empty(t, mr.Keys())
	assert.Equal(t, 2, s.calls)
}

func TestCacheSkipsTruncatedPage(t *testing.T) {
	mr, rdb := newRedis(t)
	cfg := cacheConfig()
	cfg.MaxBodyBytes = 6
	s := newPageServer(NewRedisCache(cfg, rdb))

	rec := s.get("/results/big")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), strings.Repeat("x", 64), "client still gets the full page")
	assert.Empty(t, mr.Keys())

	s.get("/results/big")
	assert.Equal(t, 2, s.calls)
}

func TestCacheIgnoresUnreadableEntry(t *testing.T) {
	mr, rdb := newRedis(t)
	cfg := cacheConfig()
	c := newContext(http.MethodGet, "/results/7", "/results/:tvid")
	require.NoError(t, mr.Set(cacheKeyFrom(cfg, c), "not json"))

	s := newPageServer(NewRedisCache(cfg, rdb))
	rec := s.get("/results/7")
	assert.Equal(t, "MISS", rec.Header().Get("X-Cache"))
	assert.Equal(t, 1, s.calls)
}

func TestCachedPageDoesNotReplayRateLimitHeaders(t *testing.T) {
	_, rdb := newRedis(t)
	s := newPageServer(NewTokenBucket(limitConfig(60), rdb), NewRedisCache(cacheConfig(), rdb))

	first := s.get("/results/3")
	assert.Equal(t, []string{"59"}, first.Header().Values("X-RateLimit-Remaining"))

	second := s.get("/results/3")
	assert.Equal(t, "HIT", second.Header().Get("X-Cache"))
	assert.Equal(t, []string{"58"}, second.Header().Values("X-RateLimit-Remaining"))
	assert.Equal(t, []string{"60"}, second.Header().Values("X-RateLimit-Limit"))
	assert.Equal(t, []string{"HIT"}, second.Header().Values("X-Cache"))
	assert.Equal(t, 1, s.calls)
}

func TestTokenBucketRejectsWhenExhausted(t *testing.T) {
	_, rdb := newRedis(t)
	s := newPageServer(NewTokenBucket(limitConfig(2), rdb))

	for want := 1; want >= 0; want-- {
		rec := s.get("/results/1")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, strconv.Itoa(want), rec.Header().Get("X-RateLimit-Remaining"))
	}

	rec := s.get("/results/2")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	retry, err := strconv.Atoi(rec.Header().Get("Retry-After"))
	require.NoError(t, err)
	assert.Greater(t, retry, 0)
	assert.LessOrEqual(t, retry, 3600)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "rate_limited", body["error"])
	assert.NotEmpty(t, body["message"])
	assert.Equal(t, 2, s.calls, "rejected request never reaches the handler")
}

func TestTokenBucketPassesOnRedisFailure(t *testing.T) {
	mr, rdb := newRedis(t)
	s := newPageServer(NewTokenBucket(limitConfig(1), rdb))
	mr.Close()

	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusOK, s.get("/results/1").Code)
	}
	assert.Equal(t, 3, s.calls)
}

func TestCacheKeyUsesRequestPath(t *testing.T) {
	cfg := config.CacheConfig{Prefix: "shows:cache", KeyStrategy: "path_query"}
	a := cacheKeyFrom(cfg, newContext(http.MethodGet, "/results/1", "/results/:tvid"))
	b := cacheKeyFrom(cfg, newContext(http.MethodGet, "/results/2", "/results/:tvid"))
	assert.NotEqual(t, a, b)
	assert.Regexp(t, `^shows:cache:[0-9a-f]{40}$`, a)
	assert.Equal(t, a, cacheKeyFrom(cfg, newContext(http.MethodGet, "/results/1", "/results/:tvid")))
}

func TestCacheKeyStrategies(t *testing.T) {
	c1 := newContext(http.MethodGet, "/?x=1", "/")
	c2 := newContext(http.MethodGet, "/?x=2", "/")

	pathOnly := config.CacheConfig{Prefix: "p", KeyStrategy: "path"}
	assert.Equal(t, cacheKeyFrom(pathOnly, c1), cacheKeyFrom(pathOnly, c2))

	withQuery := config.CacheConfig{Prefix: "p", KeyStrategy: "method_path_query"}
	assert.NotEqual(t, cacheKeyFrom(withQuery, c1), cacheKeyFrom(withQuery, c2))
}

func TestPageHeaderDropsVolatile(t *testing.T) {
	h := http.Header{}
	h.Set("Content-Type", "text/html")
	h.Set("X-RateLimit-Remaining", "3")
	h.Set("X-RateLimit-Limit", "60")
	h.Set("Retry-After", "1")
	h.Set("X-Cache", "MISS")
	h.Set("Content-Length", "10")

	assert.Equal(t, http.Header{"Content-Type": {"text/html"}}, pageHeader(h))
}

func TestPageRecorderLimit(t *testing.T) {
	rec := httptest.NewRecorder()
	pr := &pageRecorder{ResponseWriter: rec, status: http.StatusOK, limit: 4}
	_, _ = pr.Write([]byte("abcd"))
	assert.True(t, pr.complete())

	_, _ = pr.Write([]byte("ef"))
	assert.Equal(t, "abcd", pr.body.String())
	assert.Equal(t, "abcdef", rec.Body.String())
	assert.False(t, pr.complete())
}

func TestDisabledMiddlewarePassThrough(t *testing.T) {
	s := newPageServer(
		NewRedisCache(config.CacheConfig{Enabled: true}, nil),
		NewTokenBucket(config.RateLimitConfig{Enabled: true}, nil),
	)
	rec := s.get("/results/1")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("X-Cache"))
	assert.Empty(t, rec.Header().Get("X-RateLimit-Limit"))
}

func TestBuildRateKey(t *testing.T) {
	c := newContext(http.MethodGet, "/results/9", "/results/:tvid")

	assert.Equal(t, "rl:ip:10.0.0.7:route:GET /results/:tvid",
		buildRateKey(config.RateLimitConfig{Prefix: "rl"}, c))
	assert.Equal(t, "rl:ip:10.0.0.7", buildRateKey(config.RateLimitConfig{Prefix: "rl", KeyStrategy: "ip"}, c))
	assert.Equal(t, "rl:route:GET /results/:tvid", buildRateKey(config.RateLimitConfig{Prefix: "rl", KeyStrategy: "ROUTE"}, c))
}

func TestRetryAfterSeconds(t *testing.T) {
	assert.Equal(t, 1, retryAfterSeconds(0))
	assert.Equal(t, 1, retryAfterSeconds(200*time.Millisecond))
	assert.Equal(t, 2, retryAfterSeconds(1001*time.Millisecond))
}

func TestDecodeBucket(t *testing.T) {
	st, ok := decodeBucket([]int64{0, 0, 1500})
	require.True(t, ok)
	assert.False(t, st.allowed)
	assert.Equal(t, 1500*time.Millisecond, st.wait)

	_, ok = decodeBucket([]int64{1})
	assert.False(t, ok)
}
