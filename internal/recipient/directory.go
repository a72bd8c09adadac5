package recipient

import (
	"context"

	"wisefido-alerting/internal/models"
)

// Directory 机构人员 / 住户关系数据
type Directory interface {
	ListStaff(ctx context.Context, tenantID string) ([]models.StaffMember, error)
	// GetStaff 不存在返回 nil, nil
	GetStaff(ctx context.Context, tenantID, userID string) (*models.StaffMember, error)
	// GetCaregiverAssignments 负责该对象的用户 ID
	GetCaregiverAssignments(ctx context.Context, tenantID, subjectID string) ([]string, error)
	// GetLocationTag 对象所在位置标签，没有返回空串
	GetLocationTag(ctx context.Context, tenantID, subjectID string) (string, error)
	GetUserTags(ctx context.Context, tenantID, userID string) ([]string, error)
	GetContactLinks(ctx context.Context, tenantID, subjectID string) ([]models.ContactLink, error)
}

// PolicySource 租户策略（读取默认范围）
type PolicySource interface {
	GetPolicy(ctx context.Context, tenantID string) (*models.Policy, error)
}
