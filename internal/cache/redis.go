// internal/cache/redis.go
package cache

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultPrefix namespaces memo keys in a shared Redis.
const DefaultPrefix = "sionline:content:"

// DefaultTTL is how long a remembered blob URI stays valid.
const DefaultTTL = 24 * time.Hour

// URIMemo remembers content blob URIs in Redis so that repeated sessions skip
// the content service probe. It satisfies content.Memo.
type URIMemo struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

// Connect opens a Redis client for addr and checks it with a ping. An empty
// addr falls back to REDIS_ADDR, then "localhost:6379". The database index
// comes from REDIS_DB.
func Connect(ctx context.Context, addr string) (*redis.Client, error) {
	if addr == "" {
		addr = getEnv("REDIS_ADDR", "localhost:6379")
	}
	rdb := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   getEnvInt("REDIS_DB", 0),
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", addr, err)
	}
	return rdb, nil
}

// NewURIMemo wraps rdb. ttl <= 0 uses DefaultTTL.
func NewURIMemo(rdb *redis.Client, ttl time.Duration) *URIMemo {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &URIMemo{rdb: rdb, prefix: getEnv("SIONLINE_MEMO_PREFIX", DefaultPrefix), ttl: ttl}
}

// Lookup returns the remembered URI for key.
func (m *URIMemo) Lookup(ctx context.Context, key string) (string, bool, error) {
	uri, err := m.rdb.Get(ctx, m.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to GET memo '%s': %w", key, err)
	}
	return uri, true, nil
}

// Remember stores uri under key for the memo TTL.
func (m *URIMemo) Remember(ctx context.Context, key, uri string) error {
	if err := m.rdb.Set(ctx, m.prefix+key, uri, m.ttl).Err(); err != nil {
		return fmt.Errorf("failed to SET memo '%s': %w", key, err)
	}
	return nil
}

// Forget drops key.
func (m *URIMemo) Forget(ctx context.Context, key string) error {
	return m.rdb.Del(ctx, m.prefix+key).Err()
}

// Close releases the Redis connection.
func (m *URIMemo) Close() error {
	return m.rdb.Close()
}

// getEnv is a helper to read an environment variable or return a default value.
func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

// getEnvInt is a helper to parse an environment variable as integer, else a default value.
func getEnvInt(key string, def int) int {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}
