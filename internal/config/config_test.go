package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setBase(t *testing.T) {
	t.Setenv("APP_PORT", "8080")
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("ACCESS_TOKEN_TTL_MIN", "15")
	t.Setenv("REFRESH_TOKEN_TTL_DAYS", "7")
}

func TestFromEnvMemoryDefaults(t *testing.T) {
	setBase(t)
	t.Setenv("STORE_BACKEND", "Memory")

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, StoreMemory, cfg.StoreBackend)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, 15, cfg.AccessTTLMin)
	assert.Equal(t, 5*time.Second, cfg.LockTimeout)
	assert.Equal(t, 5*time.Second, cfg.TxTimeout)
	assert.Equal(t, 20, cfg.MaxPartySize)
	assert.Equal(t, "0 4 * * *", cfg.PurgeCron)
	assert.Equal(t, 12*time.Hour, cfg.PurgeMaxAge)
	assert.Empty(t, cfg.DBHost)
}

func TestFromEnvMySQLNeedsDatabase(t *testing.T) {
	setBase(t)
	t.Setenv("STORE_BACKEND", "")
	t.Setenv("DB_USER", "app")
	t.Setenv("DB_HOST", "")
	t.Setenv("DB_PORT", "3306")
	t.Setenv("DB_NAME", "")

	_, err := FromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DB_HOST")
	assert.Contains(t, err.Error(), "DB_NAME")
	assert.NotContains(t, err.Error(), "DB_USER")
}

func TestFromEnvReportsEveryProblem(t *testing.T) {
	t.Setenv("APP_PORT", "")
	t.Setenv("JWT_SECRET", "")
	t.Setenv("ACCESS_TOKEN_TTL_MIN", "soon")
	t.Setenv("REFRESH_TOKEN_TTL_DAYS", "7")
	t.Setenv("STORE_BACKEND", "postgres")
	t.Setenv("LOCK_TIMEOUT", "250ms")

	cfg, err := FromEnv()
	require.Error(t, err)
	for _, want := range []string{"APP_PORT", "JWT_SECRET", "ACCESS_TOKEN_TTL_MIN", "STORE_BACKEND"} {
		assert.Contains(t, err.Error(), want)
	}
	assert.Equal(t, 250*time.Millisecond, cfg.LockTimeout)
}

func TestLoadRateLimitConfigClamps(t *testing.T) {
	t.Setenv("RATE_LIMIT_CAPACITY", "0")
	t.Setenv("RATE_LIMIT_REFILL_INTERVAL", "1m")
	t.Setenv("RATE_LIMIT_TTL", "1s")

	cfg := LoadRateLimitConfig()
	assert.Equal(t, 1, cfg.Capacity)
	assert.Equal(t, 5*time.Minute, cfg.TTL)
	assert.Equal(t, "ip_route", cfg.KeyStrategy)
}

func TestLoadCacheConfig(t *testing.T) {
	t.Setenv("CACHE_METHODS", "get, head")
	t.Setenv("CACHE_TTL", "bogus")

	cfg := LoadCacheConfig()
	assert.True(t, cfg.Methods["GET"])
	assert.True(t, cfg.Methods["HEAD"])
	assert.Equal(t, 15*time.Second, cfg.TTL)
}

func TestRedisOptions(t *testing.T) {
	t.Setenv("REDIS_HOST", "cache")
	t.Setenv("REDIS_PORT", "6380")
	t.Setenv("REDIS_DB", "2")

	o := RedisOptions()
	assert.Equal(t, "cache:6380", o.Addr)
	assert.Equal(t, 2, o.DB)
	assert.Nil(t, o.TLSConfig)

	a := AsynqRedisOpt(o)
	assert.Equal(t, "cache:6380", a.Addr)
	assert.Equal(t, 2, a.DB)
}

func TestFromEnvAdminAccount(t *testing.T) {
	setBase(t)
	t.Setenv("STORE_BACKEND", "memory")
	t.Setenv("ADMIN_EMAIL", " Root@Example.com ")
	t.Setenv("ADMIN_PASSWORD", "correct horse")

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, "root@example.com", cfg.AdminEmail)
	assert.Equal(t, "correct horse", cfg.AdminPassword)

	t.Setenv("ADMIN_PASSWORD", "")
	_, err = FromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ADMIN_PASSWORD")

	t.Setenv("ADMIN_EMAIL", "")
	cfg, err = FromEnv()
	require.NoError(t, err)
	assert.Empty(t, cfg.AdminEmail)
}
