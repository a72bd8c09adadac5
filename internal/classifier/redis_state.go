package classifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

const maxWatchRetries = 5

// RedisStateStore Redis 分类状态存储（WATCH/MULTI 乐观锁 + TTL）
type RedisStateStore struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
	logger    *zap.Logger
}

// NewRedisStateStore 创建 Redis 状态存储
func NewRedisStateStore(client *redis.Client, keyPrefix string, ttl time.Duration, logger *zap.Logger) *RedisStateStore {
	return &RedisStateStore{
		client:    client,
		keyPrefix: keyPrefix,
		ttl:       ttl,
		logger:    logger,
	}
}

func (s *RedisStateStore) redisKey(key string) string {
	return s.keyPrefix + key
}

// Update 读-改-写；版本冲突时重试
func (s *RedisStateStore) Update(ctx context.Context, key string, fn func(*State) error) error {
	rk := s.redisKey(key)

	txf := func(tx *redis.Tx) error {
		var st State
		val, err := tx.Get(ctx, rk).Result()
		switch {
		case err == redis.Nil:
		case err != nil:
			return fmt.Errorf("failed to get state: %w", err)
		default:
			if err := json.Unmarshal([]byte(val), &st); err != nil {
				return fmt.Errorf("failed to unmarshal state: %w", err)
			}
		}

		if err := fn(&st); err != nil {
			return err
		}

		data, err := json.Marshal(st)
		if err != nil {
			return fmt.Errorf("failed to marshal state: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, rk, data, s.ttl)
			return nil
		})
		return err
	}

	for i := 0; i < maxWatchRetries; i++ {
		err := s.client.Watch(ctx, txf, rk)
		if err == nil {
			return nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			s.logger.Debug("Classifier state changed concurrently, retrying",
				zap.String("key", rk),
				zap.Int("attempt", i+1),
			)
			continue
		}
		return err
	}
	return fmt.Errorf("failed to update state %s: too many concurrent writers", rk)
}

func (s *RedisStateStore) Get(ctx context.Context, key string) (*State, error) {
	val, err := s.client.Get(ctx, s.redisKey(key)).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get state: %w", err)
	}
	var st State
	if err := json.Unmarshal([]byte(val), &st); err != nil {
		return nil, fmt.Errorf("failed to unmarshal state: %w", err)
	}
	return &st, nil
}
