package config

// This file defines the Redis client constructor for the application.  Redis
// carries rate limiting, HTTP response caching, the cross-instance
// snapshot fan-out and the asynq job queue.  The client parameters are
// loaded from environment variables.  If connection fails during startup,
// NewRedisClient returns nil and callers degrade gracefully: no caching,
// no rate limiting, local-only fan-out and no scheduled jobs.

import (
	"context"
	"crypto/tls"
	"os"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
)

// RedisOptions reads the connection settings.  Supported variables are:
//   - REDIS_HOST and REDIS_PORT – hostname and port of the Redis server
//   - REDIS_ADDR – host:port shorthand (used when host/port are not both set)
//   - REDIS_PASSWORD – optional password
//   - REDIS_DB – database number (default 0)
//   - REDIS_TLS – enable TLS when "true" or "1"
func RedisOptions() *redis.Options {
	host := os.Getenv("REDIS_HOST")
	port := os.Getenv("REDIS_PORT")
	addr := os.Getenv("REDIS_ADDR")
	if host != "" && port != "" {
		addr = host + ":" + port
	}
	if addr == "" {
		addr = "localhost:6379"
	}
	var tlsConf *tls.Config
	if tlsEnv := os.Getenv("REDIS_TLS"); strings.EqualFold(tlsEnv, "true") || tlsEnv == "1" {
		tlsConf = &tls.Config{InsecureSkipVerify: true}
	}
	return &redis.Options{
		Addr:      addr,
		Password:  os.Getenv("REDIS_PASSWORD"),
		DB:        envInt("REDIS_DB", 0),
		TLSConfig: tlsConf,
	}
}

// AsynqRedisOpt points asynq at the same Redis server.
func AsynqRedisOpt(o *redis.Options) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{Addr: o.Addr, Password: o.Password, DB: o.DB, TLSConfig: o.TLSConfig}
}

// NewRedisClient connects with RedisOptions.  The returned client is nil
// if the server does not answer a ping within two seconds.
func NewRedisClient() *redis.Client {
	client := redis.NewClient(RedisOptions())
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil
	}
	return client
}
