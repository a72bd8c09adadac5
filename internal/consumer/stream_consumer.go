package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	commonredis "wisefido-alerting/common/redis"
	"wisefido-alerting/internal/metrics"
	"wisefido-alerting/internal/models"

	"github.com/cespare/xxhash/v2"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// EventHandler 遥测事件处理（service.AlertingService 实现）
type EventHandler interface {
	Evaluate(ctx context.Context, event models.TelemetryEvent) error
}

// StreamConfig 遥测流消费配置
type StreamConfig struct {
	Stream       string
	Group        string
	Consumer     string
	Workers      int
	QueueSize    int
	BatchSize    int64
	Block        time.Duration // 0 表示不阻塞，空读后等待 PollInterval
	PollInterval time.Duration
	// 启动时接管空闲超过该时长的未确认消息（其他消费者崩溃遗留），默认 5 分钟
	ClaimMinIdle time.Duration
}

type job struct {
	id    string
	event models.TelemetryEvent
}

// StreamConsumer 从 Redis Streams 读取遥测事件，按 tenant|subject 分片到固定 worker
// 同一对象的事件始终由同一个 worker 顺序处理
type StreamConsumer struct {
	client  *redis.Client
	config  StreamConfig
	handler EventHandler
	metrics *metrics.AlertingMetrics
	logger  *zap.Logger

	queues []chan job
	wg     sync.WaitGroup
}

// NewStreamConsumer 创建流消费者
func NewStreamConsumer(client *redis.Client, cfg StreamConfig, handler EventHandler, m *metrics.AlertingMetrics, logger *zap.Logger) *StreamConsumer {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 100 * time.Millisecond
	}
	if cfg.ClaimMinIdle <= 0 {
		cfg.ClaimMinIdle = 5 * time.Minute
	}
	return &StreamConsumer{
		client:  client,
		config:  cfg,
		handler: handler,
		metrics: m,
		logger:  logger,
	}
}

// shard 分片下标
func (c *StreamConsumer) shard(event models.TelemetryEvent) int {
	h := xxhash.Sum64String(event.TenantID + "|" + event.Subject.String())
	return int(h % uint64(c.config.Workers))
}

// Start 阻塞运行直到 ctx 取消，退出前等待 worker 处理完已入队的事件
func (c *StreamConsumer) Start(ctx context.Context) error {
	if err := commonredis.CreateConsumerGroup(ctx, c.client, c.config.Stream, c.config.Group); err != nil {
		return err
	}

	c.queues = make([]chan job, c.config.Workers)
	for i := range c.queues {
		c.queues[i] = make(chan job, c.config.QueueSize)
		c.wg.Add(1)
		go c.worker(ctx, c.queues[i])
	}

	c.logger.Info("Stream consumer started",
		zap.String("stream", c.config.Stream),
		zap.String("group", c.config.Group),
		zap.String("consumer", c.config.Consumer),
		zap.Int("workers", c.config.Workers),
	)

	defer func() {
		for _, q := range c.queues {
			close(q)
		}
		c.wg.Wait()
		c.logger.Info("Stream consumer stopped")
	}()

	claimed, err := commonredis.ClaimPending(ctx, c.client, c.config.Stream, c.config.Group, c.config.Consumer, c.config.ClaimMinIdle, c.config.BatchSize)
	if err != nil {
		c.logger.Warn("Failed to claim pending telemetry messages", zap.Error(err))
	}
	if len(claimed) > 0 {
		c.logger.Info("Claimed pending telemetry messages", zap.Int("count", len(claimed)))
		if !c.enqueue(ctx, claimed) {
			return nil
		}
	}

	for {
		if ctx.Err() != nil {
			return nil
		}

		msgs, err := commonredis.ReadFromStream(ctx, c.client, c.config.Stream, c.config.Group, c.config.Consumer, c.config.BatchSize, c.config.Block)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Error("Failed to read telemetry stream", zap.Error(err))
			if !c.wait(ctx, time.Second) {
				return nil
			}
			continue
		}
		if len(msgs) == 0 {
			if c.config.Block <= 0 && !c.wait(ctx, c.config.PollInterval) {
				return nil
			}
			continue
		}

		if !c.enqueue(ctx, msgs) {
			return nil
		}
	}
}

// enqueue 解码并分发到 worker；ctx 取消时返回 false
func (c *StreamConsumer) enqueue(ctx context.Context, msgs []commonredis.StreamMessage) bool {
	for _, msg := range msgs {
		event, err := decodeEvent(msg)
		if err != nil {
			c.logger.Warn("Dropping malformed telemetry message",
				zap.String("message_id", msg.ID),
				zap.Error(err),
			)
			c.metrics.ObserveEvent(metrics.ResultSkipped)
			c.ack(ctx, msg.ID)
			continue
		}
		select {
		case c.queues[c.shard(event)] <- job{id: msg.ID, event: event}:
		case <-ctx.Done():
			return false
		}
	}
	return true
}

func (c *StreamConsumer) wait(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (c *StreamConsumer) worker(ctx context.Context, queue <-chan job) {
	defer c.wg.Done()
	for j := range queue {
		c.process(ctx, j)
	}
}

// process 单条事件处理失败只记录日志，消息照常确认
// 停止时已入队的事件继续处理完
func (c *StreamConsumer) process(ctx context.Context, j job) {
	ctx = context.WithoutCancel(ctx)
	if err := c.handler.Evaluate(ctx, j.event); err != nil {
		c.logger.Error("Failed to evaluate telemetry event",
			zap.String("tenant_id", j.event.TenantID),
			zap.String("subject", j.event.Subject.String()),
			zap.String("message_id", j.id),
			zap.Error(err),
		)
		c.metrics.ObserveEvent(metrics.ResultFailed)
	} else {
		c.metrics.ObserveEvent(metrics.ResultSuccess)
	}
	c.ack(ctx, j.id)
}

func (c *StreamConsumer) ack(ctx context.Context, id string) {
	if err := commonredis.AckMessages(ctx, c.client, c.config.Stream, c.config.Group, id); err != nil {
		c.logger.Warn("Failed to ack telemetry message", zap.String("message_id", id), zap.Error(err))
	}
}

// decodeEvent 解析 data 字段（PublishJSONToStream 格式）
func decodeEvent(msg commonredis.StreamMessage) (models.TelemetryEvent, error) {
	var event models.TelemetryEvent
	raw, ok := msg.Values["data"].(string)
	if !ok || raw == "" {
		return event, fmt.Errorf("message has no data field")
	}
	if err := json.Unmarshal([]byte(raw), &event); err != nil {
		return event, fmt.Errorf("failed to unmarshal telemetry event: %w", err)
	}
	if err := event.Validate(); err != nil {
		return event, err
	}
	return event, nil
}
