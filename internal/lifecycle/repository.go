package lifecycle

import (
	"context"

	"wisefido-alerting/internal/models"
)

// Repository 报警持久化
type Repository interface {
	// CreateAlert 写入新报警，Version 置为 1
	CreateAlert(ctx context.Context, alert *models.Alert) error
	// UpdateAlert 按 Version 做乐观锁更新，成功后 Version+1；冲突返回 models.ErrConcurrentUpdate
	UpdateAlert(ctx context.Context, alert *models.Alert) error
	// GetAlert 不存在返回 models.ErrAlertNotFound
	GetAlert(ctx context.Context, alertID string) (*models.Alert, error)
	// FindOpenAlert 最近创建的未关闭报警，没有返回 nil
	FindOpenAlert(ctx context.Context, tenantID string, subject models.SubjectRef, alertType string) (*models.Alert, error)
	// ListOpenAlerts 该三元组下所有未关闭报警
	ListOpenAlerts(ctx context.Context, tenantID string, subject models.SubjectRef, alertType string) ([]*models.Alert, error)
	// ListPendingAlerts 所有租户下 Pending 状态的报警（重复发送、升级恢复使用）
	ListPendingAlerts(ctx context.Context) ([]*models.Alert, error)
	// ListAlerts 历史查询
	ListAlerts(ctx context.Context, tenantID string, filters models.AlertFilters, page, size int) ([]*models.Alert, int, error)
}

// Notifier 计算接收人并发送
type Notifier interface {
	Notify(ctx context.Context, alert *models.Alert, policy *models.Policy, reason models.DispatchReason) models.DispatchReport
}

// PolicySource 当前租户策略（无快照时使用）
type PolicySource interface {
	GetPolicy(ctx context.Context, tenantID string) (*models.Policy, error)
}
