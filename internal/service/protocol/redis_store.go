package protocol

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"magpipeline/internal/model"
)

const defaultRedisPrefix = "magpipeline:protocol:"

// RedisStateStore Redis 状态存储，键的 TTL 即等待超时
type RedisStateStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStateStore 连接 Redis 并创建状态存储
func NewRedisStateStore(ctx context.Context, redisURL, prefix string) (*RedisStateStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return NewRedisStateStoreWithClient(client, prefix), nil
}

// NewRedisStateStoreWithClient 使用已有客户端
func NewRedisStateStoreWithClient(client *redis.Client, prefix string) *RedisStateStore {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisStateStore{client: client, prefix: prefix}
}

func (s *RedisStateStore) key(requester string) string {
	return s.prefix + requester
}

func (s *RedisStateStore) Get(ctx context.Context, requester string) (model.PendingUpdateRequest, bool, error) {
	raw, err := s.client.Get(ctx, s.key(requester)).Result()
	if errors.Is(err, redis.Nil) {
		return model.PendingUpdateRequest{}, false, nil
	}
	if err != nil {
		return model.PendingUpdateRequest{}, false, fmt.Errorf("get protocol state: %w", err)
	}
	var p model.PendingUpdateRequest
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return model.PendingUpdateRequest{}, false, fmt.Errorf("unmarshal protocol state: %w", err)
	}
	return p, true, nil
}

func (s *RedisStateStore) Save(ctx context.Context, p model.PendingUpdateRequest) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal protocol state: %w", err)
	}
	var ttl time.Duration
	if !p.ExpiresAt.IsZero() {
		ttl = time.Until(p.ExpiresAt)
		if ttl <= 0 {
			return s.Delete(ctx, p.Requester)
		}
	}
	if err := s.client.Set(ctx, s.key(p.Requester), data, ttl).Err(); err != nil {
		return fmt.Errorf("save protocol state: %w", err)
	}
	return nil
}

func (s *RedisStateStore) Delete(ctx context.Context, requester string) error {
	if err := s.client.Del(ctx, s.key(requester)).Err(); err != nil {
		return fmt.Errorf("delete protocol state: %w", err)
	}
	return nil
}

// Close 关闭连接
func (s *RedisStateStore) Close() error {
	return s.client.Close()
}
