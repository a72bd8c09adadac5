package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"wisefido-alerting/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// PostgresPolicyRepository 报警策略仓库（alert_policies 表）
// 每个租户只有一条 superseded = false 的记录，旧版本保留用于审计
type PostgresPolicyRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewPostgresPolicyRepository 创建策略仓库
func NewPostgresPolicyRepository(db *sql.DB, logger *zap.Logger) *PostgresPolicyRepository {
	return &PostgresPolicyRepository{
		db:     db,
		logger: logger,
	}
}

// GetPolicy 租户当前生效的策略，未配置返回 models.ErrPolicyNotFound
func (r *PostgresPolicyRepository) GetPolicy(ctx context.Context, tenantID string) (*models.Policy, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenant_id is required")
	}

	query := `
		SELECT
			policy_id::text,
			version,
			document,
			updated_at
		FROM alert_policies
		WHERE tenant_id = $1
		  AND superseded = false
		ORDER BY version DESC
		LIMIT 1
	`

	var policyID string
	var version int
	var document []byte
	var updatedAt time.Time
	err := r.db.QueryRowContext(ctx, query, tenantID).Scan(&policyID, &version, &document, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrPolicyNotFound
		}
		return nil, fmt.Errorf("failed to get alert policy: %w", err)
	}

	var policy models.Policy
	if err := json.Unmarshal(document, &policy); err != nil {
		return nil, fmt.Errorf("failed to unmarshal alert policy: %w", err)
	}
	policy.PolicyID = policyID
	policy.TenantID = tenantID
	policy.Version = version
	policy.UpdatedAt = updatedAt
	return &policy, nil
}

// PutPolicy 校验后写入新版本，并把旧版本标记为 superseded
func (r *PostgresPolicyRepository) PutPolicy(ctx context.Context, tenantID string, policy *models.Policy) (*models.Policy, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenant_id is required")
	}
	if err := policy.Validate(); err != nil {
		return nil, err
	}

	next := policy.Clone()
	next.TenantID = tenantID
	next.PolicyID = uuid.New().String()
	next.UpdatedAt = time.Now()

	// 开始事务
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// 锁住当前生效版本
	var current int
	err = tx.QueryRowContext(ctx, `
		SELECT version
		FROM alert_policies
		WHERE tenant_id = $1
		  AND superseded = false
		FOR UPDATE
	`, tenantID).Scan(&current)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to lock current alert policy: %w", err)
	}
	next.Version = current + 1

	if _, err := tx.ExecContext(ctx, `
		UPDATE alert_policies
		SET superseded = true
		WHERE tenant_id = $1
		  AND superseded = false
	`, tenantID); err != nil {
		return nil, fmt.Errorf("failed to supersede alert policy: %w", err)
	}

	document, err := json.Marshal(next)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal alert policy: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO alert_policies (
			policy_id,
			tenant_id,
			version,
			document,
			superseded,
			updated_at
		) VALUES ($1, $2, $3, $4::jsonb, false, $5)
	`, next.PolicyID, tenantID, next.Version, string(document), next.UpdatedAt); err != nil {
		return nil, fmt.Errorf("failed to insert alert policy: %w", err)
	}

	// 提交事务
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	r.logger.Info("Alert policy updated",
		zap.String("tenant_id", tenantID),
		zap.String("policy_id", next.PolicyID),
		zap.Int("version", next.Version),
	)
	return next, nil
}
