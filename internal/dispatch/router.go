package dispatch

import (
	"context"

	"wisefido-alerting/internal/models"

	"go.uber.org/zap"
)

// RecipientResolver 接收人计算
type RecipientResolver interface {
	Resolve(ctx context.Context, tenantID string, subject models.SubjectRef, level models.DangerLevel) ([]models.Recipient, error)
}

// Router 每次发送前重新计算接收人，再交给 Dispatcher
type Router struct {
	resolver   RecipientResolver
	dispatcher *Dispatcher
	logger     *zap.Logger
}

// NewRouter 创建路由
func NewRouter(resolver RecipientResolver, dispatcher *Dispatcher, logger *zap.Logger) *Router {
	return &Router{
		resolver:   resolver,
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// Notify 实现 lifecycle.Notifier
// 接收人计算失败时以空接收人继续发送
func (r *Router) Notify(ctx context.Context, alert *models.Alert, policy *models.Policy, reason models.DispatchReason) models.DispatchReport {
	recipients, err := r.resolver.Resolve(ctx, alert.TenantID, alert.Subject, alert.Level)
	if err != nil {
		r.logger.Error("Failed to resolve recipients",
			zap.String("tenant_id", alert.TenantID),
			zap.String("alert_id", alert.ID),
			zap.Error(err),
		)
		recipients = nil
	}
	return r.dispatcher.Dispatch(ctx, alert, recipients, policy, reason)
}
