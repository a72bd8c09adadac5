package policy

import (
	"context"
	"sort"
	"time"

	"wisefido-alerting/internal/models"

	"go.uber.org/zap"
)

// PolicySource 策略来源（Provider 实现）
type PolicySource interface {
	GetPolicy(ctx context.Context, tenantID string) (*models.Policy, error)
}

// VitalClassifier 生命体征分级
type VitalClassifier interface {
	ClassifyWithPolicy(ctx context.Context, policy *models.Policy, tenantID, subjectID, metric string, value float64, ts time.Time) (models.DangerLevel, bool)
}

// Engine 报警判定引擎：事件类型查表，生命体征交给分级器
type Engine struct {
	policies   PolicySource
	classifier VitalClassifier
	logger     *zap.Logger
}

// NewEngine 创建判定引擎
func NewEngine(policies PolicySource, classifier VitalClassifier, logger *zap.Logger) *Engine {
	return &Engine{
		policies:   policies,
		classifier: classifier,
		logger:     logger,
	}
}

// Evaluate 对一个遥测事件做判定，返回 raise / resolve 决策
func (e *Engine) Evaluate(ctx context.Context, event models.TelemetryEvent) []models.AlertDecision {
	policy, err := e.policies.GetPolicy(ctx, event.TenantID)
	if err != nil || policy == nil {
		e.logger.Warn("Policy lookup failed, using default policy",
			zap.String("tenant_id", event.TenantID),
			zap.Error(err),
		)
		policy = models.DefaultPolicy(event.TenantID)
	}

	ts := event.Time()
	var decisions []models.AlertDecision

	if event.EventType != "" {
		if level, ok := policy.LevelFor(event.EventType); ok {
			decisions = append(decisions, models.AlertDecision{
				Kind:      models.DecisionRaise,
				TenantID:  event.TenantID,
				Subject:   event.Subject,
				DeviceID:  event.DeviceID,
				AlertType: event.EventType,
				Level:     level,
				Timestamp: ts,
				Policy:    policy,
			})
		} else {
			e.logger.Debug("Event type not alerting",
				zap.String("tenant_id", event.TenantID),
				zap.String("alert_type", event.EventType),
			)
		}
	}

	metrics := make([]string, 0, len(event.Metrics))
	for metric := range event.Metrics {
		metrics = append(metrics, metric)
	}
	sort.Strings(metrics)

	for _, metric := range metrics {
		value := event.Metrics[metric]
		level, ok := e.classifier.ClassifyWithPolicy(ctx, policy, event.TenantID, event.Subject.ID, metric, value, ts)
		if !ok {
			continue
		}
		alertType := policy.VitalAlertType(metric)
		v := value
		decision := models.AlertDecision{
			TenantID:  event.TenantID,
			Subject:   event.Subject,
			DeviceID:  event.DeviceID,
			AlertType: alertType,
			Level:     level,
			Metric:    metric,
			Value:     &v,
			Timestamp: ts,
			Policy:    policy,
		}

		switch {
		case level == models.LevelNormal:
			decision.Kind = models.DecisionResolve
		case policy.Disabled(alertType):
			e.logger.Debug("Vital alert type disabled",
				zap.String("tenant_id", event.TenantID),
				zap.String("alert_type", alertType),
			)
			continue
		default:
			decision.Kind = models.DecisionRaise
		}
		decisions = append(decisions, decision)
	}
	return decisions
}
