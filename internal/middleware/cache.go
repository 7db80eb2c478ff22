package middleware

import (
    "bytes"
    "context"
    "crypto/sha1"
    "encoding/json"
    "fmt"
    "net/http"
    "strings"
    "time"

    "github.com/labstack/echo/v4"
    "github.com/redis/go-redis/v9"

    "github.com/iliyamo/leisure-shows/internal/config"
)

// cachedPage is the value stored in Redis for one rendered page.
type cachedPage struct {
    Status int         `json:"status"`
    Header http.Header `json:"header"`
    Body   []byte      `json:"body"`
}

// pageRecorder forwards the response to the client and keeps a copy of at
// most limit bytes.  written counts every byte sent.
type pageRecorder struct {
    http.ResponseWriter
    status  int
    body    bytes.Buffer
    written int64
    limit   int64
}

func (pr *pageRecorder) WriteHeader(code int) {
    pr.status = code
    pr.ResponseWriter.WriteHeader(code)
}

func (pr *pageRecorder) Write(b []byte) (int, error) {
    room := pr.limit - pr.written
    switch {
    case pr.limit <= 0 || room >= int64(len(b)):
        pr.body.Write(b)
    case room > 0:
        pr.body.Write(b[:room])
    }
    pr.written += int64(len(b))
    return pr.ResponseWriter.Write(b)
}

// complete reports whether the recorded response is a whole 200 page.
func (pr *pageRecorder) complete() bool {
    return pr.status == http.StatusOK && (pr.limit <= 0 || pr.written <= pr.limit)
}

// volatileHeader names headers that describe this request rather than the
// page: they are never stored and never replayed.
func volatileHeader(k string) bool {
    k = http.CanonicalHeaderKey(k)
    return k == "X-Cache" || k == "Content-Length" || k == "Retry-After" ||
        strings.HasPrefix(k, "X-Ratelimit-")
}

// pageHeader copies h without volatile headers.
func pageHeader(h http.Header) http.Header {
    out := make(http.Header, len(h))
    for k, vals := range h {
        if volatileHeader(k) {
            continue
        }
        out[k] = append([]string(nil), vals...)
    }
    return out
}

// cacheKeyFrom hashes the parts of the request named by the key strategy.
// The request path is used rather than the route pattern so that every
// /results/:tvid page gets its own entry.
func cacheKeyFrom(cfg config.CacheConfig, c echo.Context) string {
    r := c.Request()
    var parts []string
    switch strings.ToLower(cfg.KeyStrategy) {
    case "path":
        parts = []string{"path", r.URL.Path}
    case "method_path":
        parts = []string{"method", r.Method, "path", r.URL.Path}
    case "method_path_query":
        parts = []string{"method", r.Method, "path", r.URL.Path, "q", r.URL.RawQuery}
    default: // "path_query"
        parts = []string{"path", r.URL.Path, "q", r.URL.RawQuery}
    }
    sum := sha1.Sum([]byte(strings.Join(parts, ":")))
    return fmt.Sprintf("%s:%x", cfg.Prefix, sum)
}

// replay writes a stored page.  Stored headers replace, never add to, any
// value already set by earlier middleware.
func replay(c echo.Context, p cachedPage) error {
    h := c.Response().Header()
    for k, vals := range p.Header {
        if volatileHeader(k) {
            continue
        }
        h[http.CanonicalHeaderKey(k)] = append([]string(nil), vals...)
    }
    h.Set("X-Cache", "HIT")
    c.Response().WriteHeader(p.Status)
    _, err := c.Response().Write(p.Body)
    return err
}

// NewRedisCache serves repeated 200 pages from Redis.  Errors and 404s
// always reach the handler and are never stored; neither are pages larger
// than MaxBodyBytes.
func NewRedisCache(cfg config.CacheConfig, rdb *redis.Client) echo.MiddlewareFunc {
    if !cfg.Enabled || rdb == nil {
        return passThrough
    }
    ttl := cfg.TTL
    if ttl <= 0 { ttl = 5 * time.Minute }
    limit := int64(cfg.MaxBodyBytes)

    return func(next echo.HandlerFunc) echo.HandlerFunc {
        return func(c echo.Context) error {
            if !cfg.Methods[strings.ToUpper(c.Request().Method)] {
                return next(c)
            }
            key := cacheKeyFrom(cfg, c)

            bs, err := rdb.Get(c.Request().Context(), key).Bytes()
            switch {
            case err == nil:
                var p cachedPage
                if jerr := json.Unmarshal(bs, &p); jerr == nil && p.Status != 0 {
                    return replay(c, p)
                }
                c.Logger().Warnf("[cache] discarding unreadable entry key=%s", key)
            case err != redis.Nil:
                c.Logger().Warnf("[cache] lookup key=%s: %v", key, err)
            }

            rec := &pageRecorder{ResponseWriter: c.Response().Writer, status: http.StatusOK, limit: limit}
            c.Response().Writer = rec
            c.Response().Header().Set("X-Cache", "MISS")

            if err := next(c); err != nil {
                return err
            }
            if !rec.complete() {
                return nil
            }
            payload, err := json.Marshal(cachedPage{
                Status: rec.status,
                Header: pageHeader(c.Response().Header()),
                Body:   rec.body.Bytes(),
            })
            if err != nil {
                return nil
            }
            // the client already has its response; store outside the request context
            if err := rdb.Set(context.Background(), key, payload, ttl).Err(); err != nil {
                c.Logger().Warnf("[cache] store key=%s: %v", key, err)
            }
            return nil
        }
    }
}

func passThrough(next echo.HandlerFunc) echo.HandlerFunc { return next }
