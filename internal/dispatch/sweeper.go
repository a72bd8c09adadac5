package dispatch

import (
	"context"
	"fmt"
	"sync"

	"wisefido-alerting/internal/models"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// PendingSource Pending 报警来源
type PendingSource interface {
	ListPendingAlerts(ctx context.Context) ([]*models.Alert, error)
}

// Redispatcher 重复发送（lifecycle.Manager 实现）
type Redispatcher interface {
	Redispatch(ctx context.Context, alertID string) (*models.DispatchReport, error)
}

// RateLimitPruner 限流记录清理（lifecycle.Manager 实现）
type RateLimitPruner interface {
	PruneRateLimits() int
}

// RepeatSweeper 定时扫描 Pending 报警：延迟发送的首次投递和按间隔重复发送
type RepeatSweeper struct {
	source       PendingSource
	redispatcher Redispatcher
	schedule     string
	logger       *zap.Logger

	cron    *cron.Cron
	mu      sync.Mutex
	running bool
}

// NewRepeatSweeper schedule 为 cron 表达式或 @every 1m
func NewRepeatSweeper(source PendingSource, redispatcher Redispatcher, schedule string, logger *zap.Logger) *RepeatSweeper {
	return &RepeatSweeper{
		source:       source,
		redispatcher: redispatcher,
		schedule:     schedule,
		logger:       logger,
	}
}

// Start 启动定时任务
func (s *RepeatSweeper) Start(ctx context.Context) error {
	c := cron.New()
	_, err := c.AddFunc(s.schedule, func() {
		s.mu.Lock()
		if s.running {
			s.mu.Unlock()
			s.logger.Warn("Previous sweep still running, skipping")
			return
		}
		s.running = true
		s.mu.Unlock()
		defer func() {
			s.mu.Lock()
			s.running = false
			s.mu.Unlock()
		}()

		if _, err := s.Sweep(ctx); err != nil {
			s.logger.Error("Repeat sweep failed", zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", s.schedule, err)
	}
	s.cron = c
	c.Start()
	s.logger.Info("Repeat sweeper started", zap.String("schedule", s.schedule))
	return nil
}

// Stop 停止定时任务并等待正在执行的扫描结束
func (s *RepeatSweeper) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
}

// Sweep 扫描一次，返回实际发送的报警数
func (s *RepeatSweeper) Sweep(ctx context.Context) (int, error) {
	alerts, err := s.source.ListPendingAlerts(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list pending alerts: %w", err)
	}

	if p, ok := s.redispatcher.(RateLimitPruner); ok {
		if n := p.PruneRateLimits(); n > 0 {
			s.logger.Debug("Pruned expired rate limit keys", zap.Int("count", n))
		}
	}

	dispatched := 0
	for _, a := range alerts {
		if ctx.Err() != nil {
			return dispatched, ctx.Err()
		}
		report, err := s.redispatcher.Redispatch(ctx, a.ID)
		if err != nil {
			s.logger.Warn("Redispatch failed",
				zap.String("tenant_id", a.TenantID),
				zap.String("alert_id", a.ID),
				zap.Error(err),
			)
			continue
		}
		if report != nil && report.Attempted() {
			dispatched++
		}
	}
	if dispatched > 0 {
		s.logger.Info("Repeat sweep finished",
			zap.Int("pending", len(alerts)),
			zap.Int("dispatched", dispatched),
		)
	}
	return dispatched, nil
}
