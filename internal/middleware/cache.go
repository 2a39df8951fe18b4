package middleware

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/restaurant-waitlist/internal/config"
)

// ResponseCache is the subset of the Redis client used by NewRedisCache.
type ResponseCache interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	SetEx(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// cachedResponse is what a directory response is stored as in Redis.
type cachedResponse struct {
	Status int         `json:"status"`
	Header http.Header `json:"header"`
	Body   []byte      `json:"body"`
}

// restore writes a stored response back to the client.
func (cr cachedResponse) restore(res *echo.Response) error {
	for k, vals := range cr.Header {
		if strings.EqualFold(k, echo.HeaderContentLength) {
			continue
		}
		for _, v := range vals {
			res.Header().Add(k, v)
		}
	}
	res.Header().Set("X-Cache", "HIT")
	res.WriteHeader(cr.Status)
	_, err := res.Write(cr.Body)
	return err
}

func parseCached(raw []byte) (cachedResponse, bool) {
	var cr cachedResponse
	if err := json.Unmarshal(raw, &cr); err != nil || cr.Status == 0 {
		return cachedResponse{}, false
	}
	return cr, true
}

// recorder tees the response to the client and keeps a copy of the body
// until it grows past max, after which the response is not cacheable.
type recorder struct {
	http.ResponseWriter
	status   int
	body     bytes.Buffer
	max      int
	overflow bool
}

func (rw *recorder) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *recorder) Write(b []byte) (int, error) {
	if !rw.overflow {
		if rw.max > 0 && rw.body.Len()+len(b) > rw.max {
			rw.overflow = true
			rw.body.Reset()
		} else {
			rw.body.Write(b)
		}
	}
	return rw.ResponseWriter.Write(b)
}

func (rw *recorder) cacheable() bool { return rw.status == http.StatusOK && !rw.overflow }

// cacheKeyFrom hashes the request parts named by the key strategy under
// the configured prefix.
func cacheKeyFrom(cfg config.CacheConfig, c echo.Context) string {
	r := c.Request()
	var parts []string
	switch strings.ToLower(cfg.KeyStrategy) {
	case "route":
		parts = []string{"route", c.Path()}
	case "method_route":
		parts = []string{"method", r.Method, "route", c.Path()}
	case "method_route_query":
		parts = []string{"method", r.Method, "route", c.Path(), "q", r.URL.RawQuery}
	default:
		parts = []string{"route", c.Path(), "q", r.URL.RawQuery}
	}
	sum := sha1.Sum([]byte(strings.Join(parts, ":")))
	return cfg.Prefix + ":" + hex.EncodeToString(sum[:])
}

// NewRedisCache serves repeated anonymous directory reads from Redis.  Only
// 200 responses no larger than MaxBodyBytes are stored, with their headers,
// so a hit is byte-identical to the first response.
func NewRedisCache(cfg config.CacheConfig, rdb ResponseCache) echo.MiddlewareFunc {
	if !cfg.Enabled || isNil(rdb) {
		return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 15 * time.Second
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			// Authenticated responses are private to their caller.
			if !cfg.Methods[strings.ToUpper(req.Method)] || req.Header.Get(echo.HeaderAuthorization) != "" {
				return next(c)
			}

			key := cacheKeyFrom(cfg, c)
			if raw, err := rdb.Get(req.Context(), key).Bytes(); err == nil {
				if cr, ok := parseCached(raw); ok {
					return cr.restore(c.Response())
				}
			}

			rw := &recorder{ResponseWriter: c.Response().Writer, status: http.StatusOK, max: cfg.MaxBodyBytes}
			c.Response().Writer = rw
			c.Response().Header().Set("X-Cache", "MISS")
			if err := next(c); err != nil {
				return err
			}
			if !rw.cacheable() {
				return nil
			}
			raw, err := json.Marshal(cachedResponse{
				Status: rw.status,
				Header: c.Response().Header().Clone(),
				Body:   rw.body.Bytes(),
			})
			if err == nil {
				_ = rdb.SetEx(context.WithoutCancel(req.Context()), key, raw, ttl).Err()
			}
			return nil
		}
	}
}

// isNil reports whether v is nil or a typed nil *redis.Client, which is
// what config.NewRedisClient returns when Redis is down.
func isNil(v interface{}) bool {
	if v == nil {
		return true
	}
	c, ok := v.(*redis.Client)
	return ok && c == nil
}
