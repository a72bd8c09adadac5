package recipient

import (
	"context"
	"fmt"

	"wisefido-alerting/internal/models"

	"go.uber.org/zap"
)

// 命中原因
const (
	ReasonAdmin   = "admin"
	ReasonContact = "contact"
)

// Resolver 接收人 / 可见性计算（报警发送与记录可见性共用一套范围规则）
type Resolver struct {
	dir      Directory
	policies PolicySource
	logger   *zap.Logger
}

// NewResolver 创建接收人解析器
func NewResolver(dir Directory, policies PolicySource, logger *zap.Logger) *Resolver {
	return &Resolver{
		dir:      dir,
		policies: policies,
		logger:   logger,
	}
}

// subjectContext 按需加载对象的分配关系和位置标签
type subjectContext struct {
	r        *Resolver
	tenantID string
	subject  models.SubjectRef

	assigned    map[string]bool
	locationTag *string
}

func (s *subjectContext) isAssigned(ctx context.Context, userID string) (bool, error) {
	if s.assigned == nil {
		ids, err := s.r.dir.GetCaregiverAssignments(ctx, s.tenantID, s.subject.ID)
		if err != nil {
			return false, fmt.Errorf("failed to get caregiver assignments: %w", err)
		}
		s.assigned = make(map[string]bool, len(ids))
		for _, id := range ids {
			s.assigned[id] = true
		}
	}
	return s.assigned[userID], nil
}

func (s *subjectContext) location(ctx context.Context) (string, error) {
	if s.locationTag == nil {
		tag, err := s.r.dir.GetLocationTag(ctx, s.tenantID, s.subject.ID)
		if err != nil {
			return "", fmt.Errorf("failed to get location tag: %w", err)
		}
		s.locationTag = &tag
	}
	return *s.locationTag, nil
}

// scopeFor 用户自己的范围优先，未设置时使用策略默认范围
func scopeFor(staff models.StaffMember, policy *models.Policy) models.AlertScope {
	if staff.AlertScope != "" {
		return staff.AlertScope
	}
	return policy.Scope()
}

// match 判断人员是否在对象的可见范围内，返回命中原因
func (r *Resolver) match(ctx context.Context, staff models.StaffMember, policy *models.Policy, sc *subjectContext) (string, bool, error) {
	if staff.Role == models.RoleAdmin {
		return ReasonAdmin, true, nil
	}

	scope := scopeFor(staff, policy)
	switch scope {
	case models.ScopeAll:
		return string(scope), true, nil

	case models.ScopeLocation:
		tag, err := sc.location(ctx)
		if err != nil || tag == "" {
			return "", false, err
		}
		tags := staff.Tags
		if tags == nil {
			tags, err = r.dir.GetUserTags(ctx, sc.tenantID, staff.UserID)
			if err != nil {
				return "", false, fmt.Errorf("failed to get user tags: %w", err)
			}
		}
		for _, t := range tags {
			if t == tag {
				return string(scope), true, nil
			}
		}
		return "", false, nil

	case models.ScopeAssignedOnly:
		ok, err := sc.isAssigned(ctx, staff.UserID)
		if err != nil || !ok {
			return "", false, err
		}
		return string(scope), true, nil

	default:
		r.logger.Warn("Unknown alert scope",
			zap.String("tenant_id", sc.tenantID),
			zap.String("user_id", staff.UserID),
			zap.String("alert_scope", string(scope)),
		)
		return "", false, nil
	}
}

func (r *Resolver) policy(ctx context.Context, tenantID string) *models.Policy {
	if r.policies != nil {
		if p, err := r.policies.GetPolicy(ctx, tenantID); err == nil && p != nil {
			return p
		}
	}
	return models.DefaultPolicy(tenantID)
}

// Resolve 计算报警接收人（按 ID 去重）
// 只有人员列表读取失败时返回错误，其他查询失败跳过对应接收人
// 人员的 AlarmLevels 过滤接收等级，AlarmChannels 收窄接收渠道
func (r *Resolver) Resolve(ctx context.Context, tenantID string, subject models.SubjectRef, level models.DangerLevel) ([]models.Recipient, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenant_id is required")
	}
	policy := r.policy(ctx, tenantID)

	staff, err := r.dir.ListStaff(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list staff: %w", err)
	}

	sc := &subjectContext{r: r, tenantID: tenantID, subject: subject}
	seen := make(map[string]bool)
	var recipients []models.Recipient

	for _, s := range staff {
		if !s.Active() || seen[s.UserID] {
			continue
		}
		reason, ok, err := r.match(ctx, s, policy, sc)
		if err != nil {
			// 单个人员查询失败只跳过该人员
			r.logger.Warn("Failed to match staff, skipping",
				zap.String("tenant_id", tenantID),
				zap.String("user_id", s.UserID),
				zap.String("subject", subject.String()),
				zap.Error(err),
			)
			continue
		}
		if !ok || !acceptsLevel(s, level) {
			continue
		}
		seen[s.UserID] = true
		recipients = append(recipients, models.Recipient{
			ID:       s.UserID,
			Kind:     models.RecipientStaff,
			Channels: s.AlarmChannels,
			Reason:   reason,
		})
	}

	if subject.Type == models.SubjectResident {
		links, err := r.dir.GetContactLinks(ctx, tenantID, subject.ID)
		if err != nil {
			r.logger.Warn("Failed to get contact links, notifying staff only",
				zap.String("tenant_id", tenantID),
				zap.String("subject", subject.String()),
				zap.Error(err),
			)
		}
		for _, l := range links {
			if !l.CanReceiveAlert || !l.IsActive || seen[l.ContactID] {
				continue
			}
			seen[l.ContactID] = true
			recipients = append(recipients, models.Recipient{
				ID:       l.ContactID,
				Kind:     models.RecipientContact,
				Channels: l.Channels,
				Reason:   ReasonContact,
			})
		}
	}

	if len(recipients) == 0 {
		r.logger.Info("No recipients matched",
			zap.String("tenant_id", tenantID),
			zap.String("subject", subject.String()),
			zap.String("alarm_level", string(level)),
		)
	}
	return recipients, nil
}

// CanView 用户是否可以查看该对象的报警 / 记录
func (r *Resolver) CanView(ctx context.Context, tenantID, userID string, subject models.SubjectRef) (bool, error) {
	if tenantID == "" {
		return false, fmt.Errorf("tenant_id is required")
	}
	if userID == "" {
		return false, fmt.Errorf("user_id is required")
	}
	staff, err := r.dir.GetStaff(ctx, tenantID, userID)
	if err != nil {
		return false, fmt.Errorf("failed to get staff: %w", err)
	}
	if staff == nil || !staff.Active() {
		return false, nil
	}

	sc := &subjectContext{r: r, tenantID: tenantID, subject: subject}
	_, ok, err := r.match(ctx, *staff, r.policy(ctx, tenantID), sc)
	return ok, err
}

func acceptsLevel(s models.StaffMember, level models.DangerLevel) bool {
	if len(s.AlarmLevels) == 0 {
		return true
	}
	for _, l := range s.AlarmLevels {
		if l == level {
			return true
		}
	}
	return false
}
