package classifier

import (
	"context"
	"time"

	"wisefido-alerting/internal/metrics"
	"wisefido-alerting/internal/models"

	"go.uber.org/zap"
)

// PolicySource 租户策略来源
type PolicySource interface {
	GetPolicy(ctx context.Context, tenantID string) (*models.Policy, error)
}

// Classifier 生命体征分级器
// 样本需在同一区间持续 DurationSec 才输出等级，区间变化即重新计时
type Classifier struct {
	store    StateStore
	policies PolicySource
	metrics  *metrics.AlertingMetrics
	logger   *zap.Logger
}

// NewClassifier 创建分级器
func NewClassifier(store StateStore, policies PolicySource, m *metrics.AlertingMetrics, logger *zap.Logger) *Classifier {
	return &Classifier{
		store:    store,
		policies: policies,
		metrics:  m,
		logger:   logger,
	}
}

// Classify 按租户当前策略分级
func (c *Classifier) Classify(ctx context.Context, tenantID, subjectID, metric string, value float64, ts time.Time) (models.DangerLevel, bool) {
	policy, err := c.policies.GetPolicy(ctx, tenantID)
	if err != nil || policy == nil {
		c.logger.Warn("No policy for classification",
			zap.String("tenant_id", tenantID),
			zap.String("metric", metric),
			zap.Error(err),
		)
		return "", false
	}
	return c.ClassifyWithPolicy(ctx, policy, tenantID, subjectID, metric, value, ts)
}

// ClassifyWithPolicy 使用给定的策略快照分级
func (c *Classifier) ClassifyWithPolicy(ctx context.Context, policy *models.Policy, tenantID, subjectID, metric string, value float64, ts time.Time) (models.DangerLevel, bool) {
	threshold, ok := policy.Threshold(metric)
	if !ok {
		c.logger.Warn("No threshold configured for metric",
			zap.String("tenant_id", tenantID),
			zap.String("metric", metric),
			zap.Error(models.ErrConfigMissing),
		)
		return "", false
	}

	band, inBand := threshold.Match(value)
	key := StateKey(tenantID, subjectID, metric)

	var (
		level models.DangerLevel
		fired bool
		stale bool
	)
	err := c.store.Update(ctx, key, func(s *State) error {
		// 存储冲突重试时 fn 会被重复调用
		level, fired, stale = "", false, false
		if !s.LastSampleAt.IsZero() && ts.Before(s.LastSampleAt) {
			stale = true
			return nil
		}
		s.LastSampleAt = ts

		if !inBand {
			*s = State{LastSampleAt: ts}
			return nil
		}

		if s.CurrentBand != band.Level || s.BandEnteredAt.IsZero() {
			s.CurrentBand = band.Level
			s.BandEnteredAt = ts
			s.Fired = false
			return nil
		}

		if !s.Fired && ts.Sub(s.BandEnteredAt) >= band.Duration() {
			s.Fired = true
			level = band.Level
			fired = true
		}
		return nil
	})
	if err != nil {
		c.logger.Error("Failed to update classifier state",
			zap.String("tenant_id", tenantID),
			zap.String("subject_id", subjectID),
			zap.String("metric", metric),
			zap.Error(err),
		)
		return "", false
	}

	if stale {
		c.logger.Debug("Dropped out-of-order sample",
			zap.String("tenant_id", tenantID),
			zap.String("subject_id", subjectID),
			zap.String("metric", metric),
			zap.Time("timestamp", ts),
		)
		return "", false
	}
	if !inBand {
		c.logger.Debug("Sample outside all bands",
			zap.String("tenant_id", tenantID),
			zap.String("metric", metric),
			zap.Float64("value", value),
		)
		return "", false
	}

	if fired {
		c.metrics.ObserveClassification(metric, string(level))
		c.logger.Info("Sustained band reached",
			zap.String("tenant_id", tenantID),
			zap.String("subject_id", subjectID),
			zap.String("metric", metric),
			zap.String("alarm_level", string(level)),
			zap.Float64("value", value),
		)
	}
	return level, fired
}

// Rearm 报警关闭后重新武装：当前区间需要再持续一个 DurationSec 才会再次触发
func (c *Classifier) Rearm(ctx context.Context, tenantID, subjectID, metric string) error {
	return c.store.Update(ctx, StateKey(tenantID, subjectID, metric), func(s *State) error {
		if s.CurrentBand == "" {
			return nil
		}
		s.Fired = false
		s.BandEnteredAt = s.LastSampleAt
		return nil
	})
}

// State 查询当前状态（未找到返回 nil）
func (c *Classifier) State(ctx context.Context, tenantID, subjectID, metric string) (*State, error) {
	return c.store.Get(ctx, StateKey(tenantID, subjectID, metric))
}
