package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"mediaindex/internal/domain"
)

const redisKeyPrefix = "mediaindex:query:"

// RedisBackend stores query results in Redis with JSON serialization, shared
// across replicas of the service.
type RedisBackend struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisBackend(client *redis.Client, ttl time.Duration) *RedisBackend {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &RedisBackend{client: client, ttl: ttl}
}

func (r *RedisBackend) Get(ctx context.Context, key string) (domain.QueryResult, bool, error) {
	data, err := r.client.Get(ctx, redisKeyPrefix+key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return domain.QueryResult{}, false, nil
		}
		return domain.QueryResult{}, false, err
	}
	var result domain.QueryResult
	if err := json.Unmarshal(data, &result); err != nil {
		return domain.QueryResult{}, false, err
	}
	return result, true, nil
}

func (r *RedisBackend) Set(ctx context.Context, key string, result domain.QueryResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, redisKeyPrefix+key, data, r.ttl).Err()
}

func (r *RedisBackend) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, redisKeyPrefix+key).Err()
}

func (r *RedisBackend) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
