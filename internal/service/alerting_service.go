package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"wisefido-alerting/internal/clock"
	"wisefido-alerting/internal/lifecycle"
	"wisefido-alerting/internal/models"
	"wisefido-alerting/internal/report"

	"go.uber.org/zap"
)

// DecisionEngine 报警判定
type DecisionEngine interface {
	Evaluate(ctx context.Context, event models.TelemetryEvent) []models.AlertDecision
}

// RecipientResolver 接收人 / 可见性
type RecipientResolver interface {
	Resolve(ctx context.Context, tenantID string, subject models.SubjectRef, level models.DangerLevel) ([]models.Recipient, error)
	CanView(ctx context.Context, tenantID, userID string, subject models.SubjectRef) (bool, error)
}

// PolicyWriter 策略写入（policy.Provider 实现，写入后刷新缓存）
type PolicyWriter interface {
	PutPolicy(ctx context.Context, tenantID string, policy *models.Policy) (*models.Policy, error)
}

// Rearmer 报警关闭后重新布防生命体征分级
type Rearmer interface {
	Rearm(ctx context.Context, tenantID, subjectID, metric string) error
}

// AlertCache 对象未关闭报警缓存
type AlertCache interface {
	Update(ctx context.Context, tenantID string, subject models.SubjectRef, alerts []*models.Alert) error
}

// actorSystem 自动恢复时的操作人
const actorSystem = "system"

// exportPageSize 导出时每页读取条数
const exportPageSize = 100

// AlertingService 报警服务：遥测判定入口 + 报警操作 + 历史查询
type AlertingService struct {
	engine     DecisionEngine
	lifecycle  *lifecycle.Manager
	repo       lifecycle.Repository
	resolver   RecipientResolver
	policies   PolicyWriter
	classifier Rearmer
	clock      clock.Clock
	logger     *zap.Logger

	cache     AlertCache
	publisher EventPublisher
}

// NewAlertingService 创建报警服务，并注册终态回调
func NewAlertingService(
	engine DecisionEngine,
	manager *lifecycle.Manager,
	repo lifecycle.Repository,
	resolver RecipientResolver,
	policies PolicyWriter,
	classifier Rearmer,
	clk clock.Clock,
	logger *zap.Logger,
) *AlertingService {
	s := &AlertingService{
		engine:     engine,
		lifecycle:  manager,
		repo:       repo,
		resolver:   resolver,
		policies:   policies,
		classifier: classifier,
		clock:      clk,
		logger:     logger,
	}
	manager.OnTerminal(s.onTerminal)
	return s
}

// SetAlertCache 启用 Redis 报警缓存
func (s *AlertingService) SetAlertCache(cache AlertCache) {
	s.cache = cache
}

// SetEventPublisher 启用报警事件广播
func (s *AlertingService) SetEventPublisher(publisher EventPublisher) {
	s.publisher = publisher
}

// Evaluate 处理一个遥测事件：raise → 创建 / 合并，resolve → 关闭未关闭报警
// 单个决策失败不影响其他决策
func (s *AlertingService) Evaluate(ctx context.Context, event models.TelemetryEvent) error {
	if err := event.Validate(); err != nil {
		return err
	}

	var errs []error
	for _, d := range s.engine.Evaluate(ctx, event) {
		switch d.Kind {
		case models.DecisionRaise:
			result, err := s.lifecycle.Create(ctx, d)
			if err != nil {
				errs = append(errs, fmt.Errorf("failed to create %s alert: %w", d.AlertType, err))
				continue
			}
			switch result.Outcome {
			case lifecycle.OutcomeCreated:
				s.afterChange(ctx, result.Alert, EventCreated)
			case lifecycle.OutcomeRateLimited:
				s.afterChange(ctx, result.Alert, EventRateLimited)
			}
		case models.DecisionResolve:
			// 终态回调负责缓存和事件
			if _, err := s.lifecycle.ResolveOpen(ctx, d.TenantID, d.Subject, d.AlertType, actorSystem); err != nil {
				errs = append(errs, fmt.Errorf("failed to resolve %s alerts: %w", d.AlertType, err))
			}
		}
	}
	return errors.Join(errs...)
}

// Acknowledge 确认报警
func (s *AlertingService) Acknowledge(ctx context.Context, tenantID, alertID, userID string) (*models.Alert, error) {
	if err := s.checkTenant(ctx, tenantID, alertID); err != nil {
		return nil, err
	}
	alert, err := s.lifecycle.Acknowledge(ctx, alertID, userID)
	if err != nil {
		return nil, err
	}
	s.afterChange(ctx, alert, EventAcknowledged)
	return alert, nil
}

// Resolve 处理完成
func (s *AlertingService) Resolve(ctx context.Context, tenantID, alertID, userID, note string) (*models.Alert, error) {
	if err := s.checkTenant(ctx, tenantID, alertID); err != nil {
		return nil, err
	}
	return s.lifecycle.Resolve(ctx, alertID, userID, note)
}

// Dismiss 误报
func (s *AlertingService) Dismiss(ctx context.Context, tenantID, alertID, userID, note string) (*models.Alert, error) {
	if err := s.checkTenant(ctx, tenantID, alertID); err != nil {
		return nil, err
	}
	return s.lifecycle.Dismiss(ctx, alertID, userID, note)
}

// checkTenant 其他租户的报警按不存在处理
func (s *AlertingService) checkTenant(ctx context.Context, tenantID, alertID string) error {
	if tenantID == "" {
		return fmt.Errorf("tenant_id is required")
	}
	if alertID == "" {
		return fmt.Errorf("alert_id is required")
	}
	alert, err := s.repo.GetAlert(ctx, alertID)
	if err != nil {
		return err
	}
	if alert.TenantID != tenantID {
		return models.ErrAlertNotFound
	}
	return nil
}

// GetRecipients 当前会收到该对象报警的接收人
func (s *AlertingService) GetRecipients(ctx context.Context, tenantID string, subject models.SubjectRef, level models.DangerLevel) ([]models.Recipient, error) {
	return s.resolver.Resolve(ctx, tenantID, subject, level)
}

// CanView 用户是否可以查看该对象的报警
func (s *AlertingService) CanView(ctx context.Context, tenantID, userID string, subject models.SubjectRef) (bool, error) {
	return s.resolver.CanView(ctx, tenantID, userID, subject)
}

// ListAlerts 报警历史
func (s *AlertingService) ListAlerts(ctx context.Context, tenantID string, filters models.AlertFilters, page, size int) ([]*models.Alert, int, error) {
	return s.repo.ListAlerts(ctx, tenantID, filters, page, size)
}

// ExportAlerts 按条件导出全部报警到 xlsx
func (s *AlertingService) ExportAlerts(ctx context.Context, w io.Writer, tenantID string, filters models.AlertFilters, loc *time.Location) (int, error) {
	var all []*models.Alert
	for page := 1; ; page++ {
		alerts, total, err := s.repo.ListAlerts(ctx, tenantID, filters, page, exportPageSize)
		if err != nil {
			return 0, fmt.Errorf("failed to list alerts: %w", err)
		}
		all = append(all, alerts...)
		if len(alerts) == 0 || len(all) >= total {
			break
		}
	}
	if err := report.ExportAlerts(w, all, loc); err != nil {
		return 0, err
	}
	return len(all), nil
}

// PutPolicy 更新租户策略
func (s *AlertingService) PutPolicy(ctx context.Context, tenantID string, policy *models.Policy) (*models.Policy, error) {
	return s.policies.PutPolicy(ctx, tenantID, policy)
}

// onTerminal 报警关闭：重新布防分级器，刷新缓存，广播事件
func (s *AlertingService) onTerminal(ctx context.Context, alert *models.Alert) {
	if metric := triggerMetric(alert); metric != "" && s.classifier != nil {
		if err := s.classifier.Rearm(ctx, alert.TenantID, alert.Subject.ID, metric); err != nil {
			s.logger.Warn("Failed to rearm classifier",
				zap.String("tenant_id", alert.TenantID),
				zap.String("alert_id", alert.ID),
				zap.String("metric", metric),
				zap.Error(err),
			)
		}
	}

	eventType := EventResolved
	if alert.Status == models.StatusDismissed {
		eventType = EventDismissed
	}
	s.afterChange(ctx, alert, eventType)
}

// afterChange 缓存和事件失败只记录日志
func (s *AlertingService) afterChange(ctx context.Context, alert *models.Alert, eventType AlertEventType) {
	if alert == nil {
		return
	}
	if s.cache != nil {
		open, _, err := s.repo.ListAlerts(ctx, alert.TenantID, models.AlertFilters{
			SubjectID: &alert.Subject.ID,
			Statuses:  []models.AlertStatus{models.StatusPending, models.StatusAcknowledged},
		}, 1, 100)
		if err == nil {
			err = s.cache.Update(ctx, alert.TenantID, alert.Subject, open)
		}
		if err != nil {
			s.logger.Warn("Failed to refresh alert cache",
				zap.String("tenant_id", alert.TenantID),
				zap.String("subject", alert.Subject.String()),
				zap.Error(err),
			)
		}
	}
	if s.publisher != nil {
		event := AlertEvent{Type: eventType, Alert: alert, At: s.clock.Now()}
		if err := s.publisher.Publish(ctx, event); err != nil {
			s.logger.Warn("Failed to publish alert event",
				zap.String("tenant_id", alert.TenantID),
				zap.String("alert_id", alert.ID),
				zap.String("type", string(eventType)),
				zap.Error(err),
			)
		}
	}
}

func triggerMetric(alert *models.Alert) string {
	if len(alert.TriggerData) == 0 {
		return ""
	}
	var td models.TriggerData
	if err := json.Unmarshal(alert.TriggerData, &td); err != nil {
		return ""
	}
	return td.Metric
}
