package service

import (
	"context"
	"time"

	commonredis "wisefido-alerting/common/redis"
	"wisefido-alerting/internal/models"

	"github.com/go-redis/redis/v8"
)

// AlertEventType 报警事件类型（对外广播）
type AlertEventType string

const (
	EventCreated      AlertEventType = "created"
	EventRateLimited  AlertEventType = "rate_limited"
	EventAcknowledged AlertEventType = "acknowledged"
	EventResolved     AlertEventType = "resolved"
	EventDismissed    AlertEventType = "dismissed"
)

// AlertEvent 报警状态变化事件
type AlertEvent struct {
	Type  AlertEventType `json:"type"`
	Alert *models.Alert  `json:"alert"`
	At    time.Time      `json:"at"`
}

// EventPublisher 报警事件发布
type EventPublisher interface {
	Publish(ctx context.Context, event AlertEvent) error
}

// StreamPublisher 发布到 Redis Streams（data + timestamp）
type StreamPublisher struct {
	client *redis.Client
	stream string
}

// NewStreamPublisher 创建流发布器
func NewStreamPublisher(client *redis.Client, stream string) *StreamPublisher {
	return &StreamPublisher{client: client, stream: stream}
}

func (p *StreamPublisher) Publish(ctx context.Context, event AlertEvent) error {
	_, err := commonredis.PublishJSONToStream(ctx, p.client, p.stream, event)
	return err
}
