package policy

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"wisefido-alerting/internal/clock"
	"wisefido-alerting/internal/models"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

type cachedPolicy struct {
	policy   *models.Policy
	loadedAt time.Time
}

// Provider 带缓存的策略读取
// 存储未配置或读取失败时回退到默认策略，不中断评估流程
type Provider struct {
	store  Store
	ttl    time.Duration
	clock  clock.Clock
	logger *zap.Logger

	mu       sync.RWMutex
	cache    map[string]cachedPolicy
	template *models.Policy
}

// NewProvider 创建策略读取器；ttl <= 0 表示不缓存
func NewProvider(store Store, ttl time.Duration, clk clock.Clock, logger *zap.Logger) *Provider {
	return &Provider{
		store:    store,
		ttl:      ttl,
		clock:    clk,
		logger:   logger,
		cache:    make(map[string]cachedPolicy),
		template: models.DefaultPolicy(""),
	}
}

// GetPolicy 获取租户生效策略
func (p *Provider) GetPolicy(ctx context.Context, tenantID string) (*models.Policy, error) {
	now := p.clock.Now()

	p.mu.RLock()
	cached, ok := p.cache[tenantID]
	p.mu.RUnlock()
	if ok && p.ttl > 0 && now.Sub(cached.loadedAt) < p.ttl {
		return cached.policy, nil
	}

	policy, err := p.store.GetPolicy(ctx, tenantID)
	switch {
	case err == nil:
	case errors.Is(err, models.ErrPolicyNotFound):
		policy = p.Default(tenantID)
	default:
		if ok {
			p.logger.Warn("Failed to load policy, using cached copy",
				zap.String("tenant_id", tenantID),
				zap.Error(err),
			)
			return cached.policy, nil
		}
		p.logger.Warn("Failed to load policy, using default policy",
			zap.String("tenant_id", tenantID),
			zap.Error(err),
		)
		return p.Default(tenantID), nil
	}

	if p.ttl > 0 {
		p.mu.Lock()
		p.cache[tenantID] = cachedPolicy{policy: policy, loadedAt: now}
		p.mu.Unlock()
	}
	return policy, nil
}

// PutPolicy 校验并保存策略，刷新缓存
func (p *Provider) PutPolicy(ctx context.Context, tenantID string, policy *models.Policy) (*models.Policy, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenant_id is required")
	}
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	saved, err := p.store.PutPolicy(ctx, tenantID, policy)
	if err != nil {
		return nil, fmt.Errorf("failed to save policy: %w", err)
	}
	p.mu.Lock()
	p.cache[tenantID] = cachedPolicy{policy: saved, loadedAt: p.clock.Now()}
	p.mu.Unlock()

	p.logger.Info("Policy updated",
		zap.String("tenant_id", tenantID),
		zap.String("policy_id", saved.PolicyID),
		zap.Int("version", saved.Version),
	)
	return saved, nil
}

// Invalidate 清除租户缓存
func (p *Provider) Invalidate(tenantID string) {
	p.mu.Lock()
	delete(p.cache, tenantID)
	p.mu.Unlock()
}

// Default 租户默认策略
func (p *Provider) Default(tenantID string) *models.Policy {
	p.mu.RLock()
	tpl := p.template
	p.mu.RUnlock()

	policy := tpl.Clone()
	policy.TenantID = tenantID
	return policy
}

// SetDefault 替换默认策略模板，并清空缓存中的默认策略
func (p *Provider) SetDefault(policy *models.Policy) error {
	if err := policy.Validate(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.template = policy.Clone()
	for tenantID, cached := range p.cache {
		if cached.policy.Version == 0 {
			delete(p.cache, tenantID)
		}
	}
	return nil
}

// LoadDefaultFile 从 YAML 文件读取默认策略
func LoadDefaultFile(path string) (*models.Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}
	var policy models.Policy
	if err := yaml.Unmarshal(data, &policy); err != nil {
		return nil, fmt.Errorf("failed to parse policy file: %w", err)
	}
	if policy.PolicyID == "" {
		policy.PolicyID = "default"
	}
	policy.Version = 0
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	return &policy, nil
}

// WatchDefaultFile 监听默认策略文件变化并热加载，直到 ctx 取消
// 加载失败时保留旧策略
func (p *Provider) WatchDefaultFile(ctx context.Context, path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(path); err != nil {
		return fmt.Errorf("failed to watch %s: %w", path, err)
	}
	p.logger.Info("Watching default policy file", zap.String("path", path))

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}

			policy, err := LoadDefaultFile(path)
			if err == nil {
				err = p.SetDefault(policy)
			}
			if err != nil {
				p.logger.Error("Default policy reload failed, keeping previous",
					zap.String("path", path),
					zap.Error(err),
				)
				continue
			}
			p.logger.Info("Default policy reloaded", zap.String("path", path))

			// 原子保存会替换 inode
			_ = watcher.Add(path)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			p.logger.Error("Policy watcher error", zap.Error(err))
		}
	}
}
