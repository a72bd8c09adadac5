package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"wisefido-alerting/internal/models"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// AlertCache 对象当前未关闭报警的 Redis 缓存（前端卡片读取）
// key: {prefix}{tenant_id}:{subject_type}:{subject_id}:alerts
type AlertCache struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
	logger    *zap.Logger
}

// NewAlertCache 创建报警缓存
func NewAlertCache(client *redis.Client, keyPrefix string, ttl time.Duration, logger *zap.Logger) *AlertCache {
	return &AlertCache{
		client:    client,
		keyPrefix: keyPrefix,
		ttl:       ttl,
		logger:    logger,
	}
}

func (c *AlertCache) key(tenantID string, subject models.SubjectRef) string {
	return fmt.Sprintf("%s%s:%s:%s:alerts", c.keyPrefix, tenantID, subject.Type, subject.ID)
}

// Update 写入对象的未关闭报警，为空时删除缓存
func (c *AlertCache) Update(ctx context.Context, tenantID string, subject models.SubjectRef, alerts []*models.Alert) error {
	key := c.key(tenantID, subject)
	if len(alerts) == 0 {
		if err := c.client.Del(ctx, key).Err(); err != nil {
			return fmt.Errorf("failed to clear alert cache: %w", err)
		}
		return nil
	}

	jsonData, err := json.Marshal(alerts)
	if err != nil {
		return fmt.Errorf("failed to marshal alert cache: %w", err)
	}
	if err := c.client.Set(ctx, key, jsonData, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set alert cache: %w", err)
	}

	c.logger.Debug("Updated alert cache",
		zap.String("tenant_id", tenantID),
		zap.String("key", key),
		zap.Int("alert_count", len(alerts)),
	)
	return nil
}

// Get 读取缓存，未命中返回 nil, nil
func (c *AlertCache) Get(ctx context.Context, tenantID string, subject models.SubjectRef) ([]*models.Alert, error) {
	data, err := c.client.Get(ctx, c.key(tenantID, subject)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get alert cache: %w", err)
	}
	var alerts []*models.Alert
	if err := json.Unmarshal(data, &alerts); err != nil {
		return nil, fmt.Errorf("failed to unmarshal alert cache: %w", err)
	}
	return alerts, nil
}
