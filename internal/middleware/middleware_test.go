package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/restaurant-waitlist/internal/config"
	"github.com/iliyamo/restaurant-waitlist/internal/utils"
)

func serve(e *echo.Echo, method, path string, hdr map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestJWTAuthAndRole(t *testing.T) {
	e := echo.New()
	g := e.Group("", JWTAuth("secret"), RequireRole("OWNER", "ADMIN"))
	g.GET("/who", func(c echo.Context) error {
		return c.JSON(http.StatusOK, echo.Map{"id": c.Get(CtxUserID), "role": c.Get(CtxRole), "key": userID(c)})
	})

	rec := serve(e, http.MethodGet, "/who", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = serve(e, http.MethodGet, "/who", map[string]string{"Authorization": "Bearer junk"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	customer, err := utils.NewAccessToken("secret", 3, "CUSTOMER", 5)
	require.NoError(t, err)
	rec = serve(e, http.MethodGet, "/who", map[string]string{"Authorization": "Bearer " + customer.Token})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	owner, err := utils.NewAccessToken("secret", 9, "OWNER", 5)
	require.NoError(t, err)
	rec = serve(e, http.MethodGet, "/who", map[string]string{"Authorization": "Bearer " + owner.Token})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"id":9,"role":"OWNER","key":"9"}`, rec.Body.String())
}

func TestTokenBucketBlocksWhenEmpty(t *testing.T) {
	fixed := time.UnixMilli(1_700_000_000_000)
	now = func() time.Time { return fixed }
	defer func() { now = time.Now }()

	rdb, mock := redismock.NewClientMock()
	cfg := config.RateLimitConfig{Enabled: true, Capacity: 2, RefillTokens: 1,
		RefillInterval: 30 * time.Second, TTL: 10 * time.Minute, KeyStrategy: "ip_route", Prefix: "rl"}

	e := echo.New()
	e.POST("/v1/restaurants/:id/waitlist", func(c echo.Context) error { return c.NoContent(http.StatusCreated) },
		NewTokenBucket(cfg, rdb))

	key := "rl:ip:192.0.2.1:route:POST /v1/restaurants/r1/waitlist"
	args := []interface{}{fixed.UnixMilli(), 2, 1, int64(30000), int64(600)}
	mock.ExpectEvalSha(tokenBucket.Hash(), []string{key}, args...).SetVal([]interface{}{int64(1), int64(1), int64(0)})
	mock.ExpectEvalSha(tokenBucket.Hash(), []string{key}, args...).SetVal([]interface{}{int64(0), int64(0), int64(12500)})

	hdr := map[string]string{"X-Real-IP": "192.0.2.1"}
	rec := serve(e, http.MethodPost, "/v1/restaurants/r1/waitlist", hdr)
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("X-RateLimit-Remaining"))

	rec = serve(e, http.MethodPost, "/v1/restaurants/r1/waitlist", hdr)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "13", rec.Header().Get("Retry-After"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTokenBucketFailsOpen(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	cfg := config.RateLimitConfig{Enabled: true, Capacity: 1, RefillTokens: 1, RefillInterval: time.Second, TTL: time.Minute, Prefix: "rl"}
	e := echo.New()
	e.GET("/x", func(c echo.Context) error { return c.NoContent(http.StatusOK) }, NewTokenBucket(cfg, rdb))

	// No expectation registered: the mock answers with an error.
	rec := serve(e, http.MethodGet, "/x", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	_ = mock

	e2 := echo.New()
	e2.GET("/x", func(c echo.Context) error { return c.NoContent(http.StatusOK) }, NewTokenBucket(cfg, nil))
	assert.Equal(t, http.StatusOK, serve(e2, http.MethodGet, "/x", nil).Code)
}

func TestRedisCacheHitAndMiss(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	cfg := config.CacheConfig{Enabled: true, Methods: map[string]bool{"GET": true}, TTL: time.Minute,
		KeyStrategy: "route_query", Prefix: "c", MaxBodyBytes: 1024}

	calls := 0
	e := echo.New()
	e.GET("/v1/restaurants", func(c echo.Context) error {
		calls++
		return c.JSON(http.StatusOK, echo.Map{"n": calls})
	}, NewRedisCache(cfg, rdb))

	req := httptest.NewRequest(http.MethodGet, "/v1/restaurants", nil)
	ctx := e.NewContext(req, httptest.NewRecorder())
	ctx.SetPath("/v1/restaurants")
	key := cacheKeyFrom(cfg, ctx)

	hdr := http.Header{"Content-Type": []string{"application/json"}}
	payload, err := json.Marshal(cachedResponse{Status: http.StatusOK, Header: hdr, Body: []byte(`{"n":7}` + "\n")})
	require.NoError(t, err)

	mock.ExpectGet(key).RedisNil()
	mock.Regexp().ExpectSetEx(key, `.*`, time.Minute).SetVal("OK")
	rec := serve(e, http.MethodGet, "/v1/restaurants", nil)
	assert.Equal(t, "MISS", rec.Header().Get("X-Cache"))
	assert.JSONEq(t, `{"n":1}`, rec.Body.String())

	mock.ExpectGet(key).SetVal(string(payload))
	rec = serve(e, http.MethodGet, "/v1/restaurants", nil)
	assert.Equal(t, "HIT", rec.Header().Get("X-Cache"))
	assert.JSONEq(t, `{"n":7}`, rec.Body.String())
	assert.Equal(t, 1, calls)

	// Authenticated requests bypass the cache entirely.
	rec = serve(e, http.MethodGet, "/v1/restaurants", map[string]string{"Authorization": "Bearer x"})
	assert.Empty(t, rec.Header().Get("X-Cache"))
	assert.Equal(t, 2, calls)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisCacheSkipsOversizedBodies(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	cfg := config.CacheConfig{Enabled: true, Methods: map[string]bool{"GET": true}, TTL: time.Minute,
		KeyStrategy: "route", Prefix: "c", MaxBodyBytes: 8}

	e := echo.New()
	e.GET("/v1/restaurants", func(c echo.Context) error {
		return c.String(http.StatusOK, "a body longer than eight bytes")
	}, NewRedisCache(cfg, rdb))
	e.GET("/v1/restaurants/:id", func(c echo.Context) error {
		return c.String(http.StatusNotFound, "gone")
	}, NewRedisCache(cfg, rdb))

	mock.MatchExpectationsInOrder(false)
	mock.Regexp().ExpectGet(`^c:[0-9a-f]{40}$`).RedisNil()
	mock.Regexp().ExpectGet(`^c:[0-9a-f]{40}$`).RedisNil()
	rec := serve(e, http.MethodGet, "/v1/restaurants", nil)
	assert.Equal(t, "a body longer than eight bytes", rec.Body.String())
	rec = serve(e, http.MethodGet, "/v1/restaurants/x", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.NoError(t, mock.ExpectationsWereMet(), "nothing is stored")
}

func TestParseCached(t *testing.T) {
	raw, err := json.Marshal(cachedResponse{Status: http.StatusOK, Header: http.Header{"X-A": []string{"1"}}, Body: []byte("body")})
	require.NoError(t, err)
	cr, ok := parseCached(raw)
	require.True(t, ok)
	assert.Equal(t, http.StatusOK, cr.Status)
	assert.Equal(t, "1", cr.Header.Get("X-A"))
	assert.Equal(t, "body", string(cr.Body))

	_, ok = parseCached([]byte{0, 1})
	assert.False(t, ok)
	_, ok = parseCached([]byte(`{"body":"eA=="}`))
	assert.False(t, ok)
}
