package filecache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"dqinsight/internal/llm"
)

// DefaultRedisKey is used when no key is configured.
const DefaultRedisKey = "dqinsight:dataset:file"

// RedisStore shares the reference between processes. Two processes racing
// an expired entry may both upload; the later Set wins.
type RedisStore struct {
	client redis.UniversalClient
	key    string
}

// NewRedisStore wraps an existing client.
func NewRedisStore(client redis.UniversalClient, key string) *RedisStore {
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisStore{client: client, key: key}
}

// DialRedis connects to addr and checks the connection.
func DialRedis(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}
	return client, nil
}

func (r *RedisStore) Get(ctx context.Context) (llm.FileRef, bool, error) {
	data, err := r.client.Get(ctx, r.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return llm.FileRef{}, false, nil
	}
	if err != nil {
		return llm.FileRef{}, false, fmt.Errorf("redis get %s: %w", r.key, err)
	}
	var ref llm.FileRef
	if err := json.Unmarshal(data, &ref); err != nil {
		return llm.FileRef{}, false, fmt.Errorf("failed to decode file reference: %w", err)
	}
	return ref, true, nil
}

func (r *RedisStore) Set(ctx context.Context, ref llm.FileRef, ttl time.Duration) error {
	data, err := json.Marshal(ref)
	if err != nil {
		return fmt.Errorf("failed to encode file reference: %w", err)
	}
	if err := r.client.Set(ctx, r.key, data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", r.key, err)
	}
	return nil
}

func (r *RedisStore) Delete(ctx context.Context) error {
	if err := r.client.Del(ctx, r.key).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", r.key, err)
	}
	return nil
}
