package service

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type DedupeState string

const (
	DedupeNew        DedupeState = "new"
	DedupeInProgress DedupeState = "in_progress"
	DedupeCompleted  DedupeState = "completed"
)

// WebhookDedupe is an advisory cache in front of the persisted lock rows.
// Callers must treat errors and cache misses identically: proceed to the
// database, which remains the source of truth.
type WebhookDedupe interface {
	Begin(ctx context.Context, provider, eventID string, ttl time.Duration) (DedupeState, error)
	Complete(ctx context.Context, provider, eventID string) error
}

var redisDedupeBeginScript = redis.NewScript(`
local key = KEYS[1]
local ttl_ms = ARGV[1]

if redis.call("EXISTS", key) == 0 then
  redis.call("SET", key, "in_progress", "PX", ttl_ms)
  return "new"
end

return redis.call("GET", key)
`)

// completedDedupeTTL bounds how long a completed marker lingers. Providers
// redeliver for days in the worst case, but anything past the marker falls
// through to the lock row anyway.
const completedDedupeTTL = 24 * time.Hour

type RedisWebhookDedupe struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisWebhookDedupe(client redis.UniversalClient, prefix string) *RedisWebhookDedupe {
	if prefix == "" {
		prefix = "whk"
	}
	return &RedisWebhookDedupe{client: client, prefix: prefix}
}

func (s *RedisWebhookDedupe) redisKey(provider, eventID string) string {
	return fmt.Sprintf("%s:%s:%s", s.prefix, provider, eventID)
}

func (s *RedisWebhookDedupe) Begin(ctx context.Context, provider, eventID string, ttl time.Duration) (DedupeState, error) {
	raw, err := redisDedupeBeginScript.Run(
		ctx,
		s.client,
		[]string{s.redisKey(provider, eventID)},
		int(ttl/time.Millisecond),
	).Result()
	if err != nil {
		return "", err
	}
	switch state := DedupeState(asString(raw)); state {
	case DedupeNew, DedupeInProgress, DedupeCompleted:
		return state, nil
	default:
		return "", fmt.Errorf("unknown dedupe state %q", state)
	}
}

func (s *RedisWebhookDedupe) Complete(ctx context.Context, provider, eventID string) error {
	return s.client.Set(ctx, s.redisKey(provider, eventID), string(DedupeCompleted), completedDedupeTTL).Err()
}

func asString(v interface{}) string {
	switch typed := v.(type) {
	case string:
		return typed
	case []byte:
		return string(typed)
	default:
		return fmt.Sprint(v)
	}
}
