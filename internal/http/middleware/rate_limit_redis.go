package middleware

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var redisFixedWindowScript = redis.NewScript(`
local key = KEYS[1]
local limit = tonumber(ARGV[1])
local window_ms = tonumber(ARGV[2])

local count = redis.call("INCR", key)
if count == 1 then
  redis.call("PEXPIRE", key, window_ms)
end

if count <= limit then
  return {1, 0}
end

local ttl_ms = redis.call("PTTL", key)
if ttl_ms < 0 then
  redis.call("PEXPIRE", key, window_ms)
  ttl_ms = window_ms
end
return {0, ttl_ms}
`)

// RedisFixedWindowLimiter shares one fixed window per key across processes.
// Used for the webhook intake limit, where every replica must agree on the
// count before the per-event locks take over.
type RedisFixedWindowLimiter struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisFixedWindowLimiter(client redis.UniversalClient, prefix string) *RedisFixedWindowLimiter {
	if prefix == "" {
		prefix = "rl"
	}
	return &RedisFixedWindowLimiter{
		client: client,
		prefix: prefix,
	}
}

func (l *RedisFixedWindowLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, time.Duration, error) {
	if l.client == nil {
		return false, 0, fmt.Errorf("redis client is nil")
	}
	if key == "" {
		key = "unknown"
	}
	windowMS := int64(window / time.Millisecond)
	if windowMS <= 0 {
		windowMS = 1000
	}
	raw, err := redisFixedWindowScript.Run(
		ctx,
		l.client,
		[]string{fmt.Sprintf("%s:%s", l.prefix, key)},
		limit,
		windowMS,
	).Result()
	if err != nil {
		return false, 0, err
	}
	values, ok := raw.([]interface{})
	if !ok || len(values) != 2 {
		return false, 0, fmt.Errorf("unexpected redis script response type")
	}
	allowed, err := parseRedisInt64(values[0])
	if err != nil {
		return false, 0, err
	}
	retryMS, err := parseRedisInt64(values[1])
	if err != nil {
		return false, 0, err
	}
	if allowed == 1 {
		return true, 0, nil
	}
	if retryMS <= 0 {
		retryMS = 1
	}
	return false, time.Duration(retryMS) * time.Millisecond, nil
}

func parseRedisInt64(v interface{}) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case string:
		return 0, fmt.Errorf("unexpected string redis response: %s", n)
	default:
		return 0, fmt.Errorf("unexpected redis response type %T", v)
	}
}
