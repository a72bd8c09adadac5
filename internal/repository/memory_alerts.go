package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"wisefido-alerting/internal/models"
)

// MemoryAlertRepository 进程内报警仓库（测试和无数据库部署使用）
type MemoryAlertRepository struct {
	mu     sync.RWMutex
	alerts map[string]*models.Alert
}

// NewMemoryAlertRepository 创建进程内报警仓库
func NewMemoryAlertRepository() *MemoryAlertRepository {
	return &MemoryAlertRepository{alerts: make(map[string]*models.Alert)}
}

func (r *MemoryAlertRepository) CreateAlert(ctx context.Context, alert *models.Alert) error {
	if alert.ID == "" {
		return fmt.Errorf("alert_id is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.alerts[alert.ID]; exists {
		return fmt.Errorf("alert %s already exists", alert.ID)
	}
	alert.Version = 1
	r.alerts[alert.ID] = alert.Clone()
	return nil
}

func (r *MemoryAlertRepository) UpdateAlert(ctx context.Context, alert *models.Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.alerts[alert.ID]
	if !ok {
		return models.ErrAlertNotFound
	}
	if stored.Version != alert.Version {
		return fmt.Errorf("%w: alert %s version %d, stored %d", models.ErrConcurrentUpdate, alert.ID, alert.Version, stored.Version)
	}
	alert.Version++
	r.alerts[alert.ID] = alert.Clone()
	return nil
}

func (r *MemoryAlertRepository) GetAlert(ctx context.Context, alertID string) (*models.Alert, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.alerts[alertID]
	if !ok {
		return nil, models.ErrAlertNotFound
	}
	return a.Clone(), nil
}

func (r *MemoryAlertRepository) FindOpenAlert(ctx context.Context, tenantID string, subject models.SubjectRef, alertType string) (*models.Alert, error) {
	open, err := r.ListOpenAlerts(ctx, tenantID, subject, alertType)
	if err != nil || len(open) == 0 {
		return nil, err
	}
	return open[0], nil
}

// ListOpenAlerts 按创建时间倒序
func (r *MemoryAlertRepository) ListOpenAlerts(ctx context.Context, tenantID string, subject models.SubjectRef, alertType string) ([]*models.Alert, error) {
	r.mu.RLock()
	var out []*models.Alert
	for _, a := range r.alerts {
		if a.TenantID == tenantID && a.Subject == subject && a.AlertType == alertType && !a.Status.Terminal() {
			out = append(out, a.Clone())
		}
	}
	r.mu.RUnlock()
	sortNewestFirst(out)
	return out, nil
}

func (r *MemoryAlertRepository) ListPendingAlerts(ctx context.Context) ([]*models.Alert, error) {
	r.mu.RLock()
	var out []*models.Alert
	for _, a := range r.alerts {
		if a.Status == models.StatusPending {
			out = append(out, a.Clone())
		}
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *MemoryAlertRepository) ListAlerts(ctx context.Context, tenantID string, filters models.AlertFilters, page, size int) ([]*models.Alert, int, error) {
	if tenantID == "" {
		return nil, 0, fmt.Errorf("tenant_id is required")
	}
	r.mu.RLock()
	var matched []*models.Alert
	for _, a := range r.alerts {
		if a.TenantID == tenantID && matchFilters(a, filters) {
			matched = append(matched, a.Clone())
		}
	}
	r.mu.RUnlock()
	sortNewestFirst(matched)

	total := len(matched)
	page, size = normalizePage(page, size)
	start := (page - 1) * size
	if start >= total {
		return []*models.Alert{}, total, nil
	}
	end := start + size
	if end > total {
		end = total
	}
	return matched[start:end], total, nil
}

func matchFilters(a *models.Alert, f models.AlertFilters) bool {
	if f.SubjectID != nil && a.Subject.ID != *f.SubjectID {
		return false
	}
	if f.AlertType != nil && a.AlertType != *f.AlertType {
		return false
	}
	if f.Level != nil && string(a.Level) != *f.Level {
		return false
	}
	if len(f.Statuses) > 0 {
		found := false
		for _, s := range f.Statuses {
			if a.Status == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.StartTime != nil && a.CreatedAt.Before(*f.StartTime) {
		return false
	}
	if f.EndTime != nil && a.CreatedAt.After(*f.EndTime) {
		return false
	}
	return true
}

func sortNewestFirst(alerts []*models.Alert) {
	sort.Slice(alerts, func(i, j int) bool { return alerts[i].CreatedAt.After(alerts[j].CreatedAt) })
}

// normalizePage 默认第 1 页，每页 20 条，最多 100 条
func normalizePage(page, size int) (int, int) {
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = 20
	}
	if size > 100 {
		size = 100
	}
	return page, size
}
