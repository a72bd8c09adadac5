package policy

import (
	"context"
	"sync"
	"time"

	"wisefido-alerting/internal/models"

	"github.com/google/uuid"
)

// Store 策略持久化（每个租户一份生效策略）
type Store interface {
	// GetPolicy 未配置时返回 models.ErrPolicyNotFound
	GetPolicy(ctx context.Context, tenantID string) (*models.Policy, error)
	// PutPolicy 取代旧策略，返回带新版本号的策略
	PutPolicy(ctx context.Context, tenantID string, policy *models.Policy) (*models.Policy, error)
}

// MemoryStore 进程内策略存储（测试和单机部署使用）
type MemoryStore struct {
	mu       sync.RWMutex
	policies map[string]*models.Policy
}

// NewMemoryStore 创建进程内策略存储
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{policies: make(map[string]*models.Policy)}
}

func (s *MemoryStore) GetPolicy(ctx context.Context, tenantID string) (*models.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.policies[tenantID]
	if !ok {
		return nil, models.ErrPolicyNotFound
	}
	return p.Clone(), nil
}

func (s *MemoryStore) PutPolicy(ctx context.Context, tenantID string, policy *models.Policy) (*models.Policy, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	next := policy.Clone()
	next.TenantID = tenantID
	next.PolicyID = uuid.New().String()
	next.Version = 1
	if prev, ok := s.policies[tenantID]; ok {
		next.Version = prev.Version + 1
	}
	next.UpdatedAt = time.Now()
	s.policies[tenantID] = next
	return next.Clone(), nil
}
