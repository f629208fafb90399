package service

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type RedisSwitchCacheStore struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisSwitchCacheStore(client redis.UniversalClient, prefix string) *RedisSwitchCacheStore {
	if prefix == "" {
		prefix = "switch_cache"
	}
	return &RedisSwitchCacheStore{client: client, prefix: prefix}
}

func (s *RedisSwitchCacheStore) Get(ctx context.Context, key string) (bool, bool, error) {
	if s.client == nil {
		return false, false, nil
	}
	val, err := s.client.Get(ctx, s.dataKey(key)).Result()
	if err == redis.Nil {
		return false, false, nil
	}
	if err != nil {
		return false, false, err
	}
	return val == "1", true, nil
}

func (s *RedisSwitchCacheStore) Set(ctx context.Context, key string, enabled bool, ttl time.Duration) error {
	if s.client == nil || ttl <= 0 {
		return nil
	}
	val := "0"
	if enabled {
		val = "1"
	}
	dataKey := s.dataKey(key)
	index := s.indexKey()
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, dataKey, val, ttl)
	pipe.SAdd(ctx, index, dataKey)
	pipe.Expire(ctx, index, ttl+time.Minute)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisSwitchCacheStore) Invalidate(ctx context.Context, key string) error {
	if s.client == nil {
		return nil
	}
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.dataKey(key))
	pipe.SRem(ctx, s.indexKey(), s.dataKey(key))
	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisSwitchCacheStore) InvalidateAll(ctx context.Context) error {
	if s.client == nil {
		return nil
	}
	index := s.indexKey()
	keys, err := s.client.SMembers(ctx, index).Result()
	if err != nil && err != redis.Nil {
		return err
	}
	pipe := s.client.TxPipeline()
	if len(keys) > 0 {
		pipe.Del(ctx, keys...)
	}
	pipe.Del(ctx, index)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisSwitchCacheStore) dataKey(key string) string {
	return fmt.Sprintf("%s:data:%s", s.prefix, key)
}

func (s *RedisSwitchCacheStore) indexKey() string {
	return fmt.Sprintf("%s:index:all", s.prefix)
}
