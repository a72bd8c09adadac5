package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"wisefido-alerting/internal/clock"
	"wisefido-alerting/internal/keylock"
	"wisefido-alerting/internal/metrics"
	"wisefido-alerting/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Outcome Create 的结果
type Outcome string

const (
	OutcomeCreated     Outcome = "created"
	OutcomeSuppressed  Outcome = "suppressed"
	OutcomeRateLimited Outcome = "rate_limited"
)

// Result Create 返回值
type Result struct {
	Alert   *models.Alert
	Outcome Outcome
	// 创建时立即发送的结果；未发送为 nil
	Report *models.DispatchReport
}

// TerminalHook 报警进入 Resolved / Dismissed 后回调
type TerminalHook func(ctx context.Context, alert *models.Alert)

// Manager 报警生命周期管理
// 锁顺序：三元组锁 → 报警锁
type Manager struct {
	repo     Repository
	notifier Notifier
	policies PolicySource
	clock    clock.Clock
	limiter  *RateLimiter
	metrics  *metrics.AlertingMetrics
	logger   *zap.Logger

	tripleLocks *keylock.KeyLock
	alertLocks  *keylock.KeyLock

	mu        sync.Mutex
	timers    map[string]clock.Timer
	snapshots map[string]*models.Policy
	hooks     []TerminalHook
}

// NewManager 创建生命周期管理器
func NewManager(
	repo Repository,
	notifier Notifier,
	policies PolicySource,
	clk clock.Clock,
	m *metrics.AlertingMetrics,
	logger *zap.Logger,
) *Manager {
	return &Manager{
		repo:        repo,
		notifier:    notifier,
		policies:    policies,
		clock:       clk,
		limiter:     NewRateLimiter(time.Hour),
		metrics:     m,
		logger:      logger,
		tripleLocks: keylock.New(),
		alertLocks:  keylock.New(),
		timers:      make(map[string]clock.Timer),
		snapshots:   make(map[string]*models.Policy),
	}
}

// OnTerminal 注册终态回调
func (m *Manager) OnTerminal(hook TerminalHook) {
	m.mu.Lock()
	m.hooks = append(m.hooks, hook)
	m.mu.Unlock()
}

func tripleKey(tenantID string, subject models.SubjectRef, alertType string) string {
	return fmt.Sprintf("%s|%s|%s", tenantID, subject.String(), alertType)
}

// Create 处理 raise 决策：去重窗口内合并，否则新建并按规则发送
func (m *Manager) Create(ctx context.Context, d models.AlertDecision) (*Result, error) {
	if d.TenantID == "" {
		return nil, fmt.Errorf("tenant_id is required")
	}
	if d.AlertType == "" {
		return nil, fmt.Errorf("alert_type is required")
	}
	if !d.Level.Raises() {
		return nil, fmt.Errorf("level %q does not raise an alert", d.Level)
	}
	policy := d.Policy
	if policy == nil {
		policy = m.policyFor(ctx, d.TenantID, "")
	}

	key := tripleKey(d.TenantID, d.Subject, d.AlertType)
	unlockTriple := m.tripleLocks.Lock(key)
	defer unlockTriple()

	now := m.clock.Now()

	if policy.Suppression.Enabled {
		open, err := m.repo.FindOpenAlert(ctx, d.TenantID, d.Subject, d.AlertType)
		if err != nil {
			return nil, fmt.Errorf("failed to find open alert: %w", err)
		}
		window := time.Duration(policy.Suppression.SuppressDuplicateSec) * time.Second
		if open != nil && now.Sub(open.CreatedAt) < window {
			return m.suppress(ctx, open.ID, now)
		}
	}

	alert := &models.Alert{
		ID:              uuid.New().String(),
		TenantID:        d.TenantID,
		Subject:         d.Subject,
		DeviceID:        d.DeviceID,
		AlertType:       d.AlertType,
		Level:           d.Level,
		Status:          models.StatusPending,
		CreatedAt:       now,
		UpdatedAt:       now,
		LastOccurredAt:  now,
		OccurrenceCount: 1,
		PolicyVersion:   policy.Version,
		TriggerData:     triggerData(d),
	}

	rule, hasRule := policy.Rule(alert.Level)
	immediate := hasRule && rule.Immediate
	outcome := OutcomeCreated
	limit := m.limit(policy)

	// 立即发送的报警在创建时占用配额；延迟发送的由重复发送占用
	switch {
	case immediate && policy.Silenced(alert.Level, models.ReasonInitial, now):
	case immediate && !m.limiter.Allow(key, now, limit):
		outcome = OutcomeRateLimited
	case !immediate && m.limiter.Exhausted(key, now, limit):
		outcome = OutcomeRateLimited
	}

	// 写入前加锁：报警可被查询到时，确认 / 关闭要等首次发送结果落库
	unlockAlert := m.alertLocks.Lock(alert.ID)
	defer unlockAlert()

	if err := m.repo.CreateAlert(ctx, alert); err != nil {
		return nil, fmt.Errorf("failed to create alert: %w", err)
	}

	m.mu.Lock()
	m.snapshots[alert.ID] = policy
	m.mu.Unlock()

	result := &Result{Outcome: outcome}
	if outcome == OutcomeCreated && immediate {
		report := m.notifier.Notify(ctx, alert.Clone(), policy, models.ReasonInitial)
		alert.ApplyReport(report)
		alert.UpdatedAt = m.clock.Now()
		if err := m.repo.UpdateAlert(ctx, alert); err != nil {
			m.logger.Error("Failed to record dispatch result",
				zap.String("alert_id", alert.ID),
				zap.Error(err),
			)
		}
		result.Report = &report
	}

	if policy.Escalation.Enabled {
		m.scheduleEscalation(alert.ID, time.Duration(policy.Escalation.EscalateAfterSec)*time.Second)
	}

	m.metrics.ObserveOutcome(alert.AlertType, string(alert.Level), string(outcome))
	m.logger.Info("Alert created",
		zap.String("tenant_id", alert.TenantID),
		zap.String("alert_id", alert.ID),
		zap.String("subject", alert.Subject.String()),
		zap.String("alert_type", alert.AlertType),
		zap.String("alarm_level", string(alert.Level)),
		zap.String("outcome", string(outcome)),
		zap.Bool("immediate", immediate),
	)

	result.Alert = alert.Clone()
	return result, nil
}

func (m *Manager) suppress(ctx context.Context, alertID string, now time.Time) (*Result, error) {
	unlock := m.alertLocks.Lock(alertID)
	defer unlock()

	alert, err := m.repo.GetAlert(ctx, alertID)
	if err != nil {
		return nil, fmt.Errorf("failed to get alert: %w", err)
	}
	alert.OccurrenceCount++
	alert.LastOccurredAt = now
	alert.UpdatedAt = now
	if err := m.repo.UpdateAlert(ctx, alert); err != nil {
		return nil, fmt.Errorf("failed to update alert: %w", err)
	}

	m.metrics.ObserveOutcome(alert.AlertType, string(alert.Level), string(OutcomeSuppressed))
	m.logger.Debug("Duplicate occurrence suppressed",
		zap.String("tenant_id", alert.TenantID),
		zap.String("alert_id", alert.ID),
		zap.String("alert_type", alert.AlertType),
		zap.Int("occurrence_count", alert.OccurrenceCount),
	)
	return &Result{Alert: alert.Clone(), Outcome: OutcomeSuppressed}, nil
}

// Acknowledge Pending → Acknowledged；重复确认不报错
func (m *Manager) Acknowledge(ctx context.Context, alertID, actor string) (*models.Alert, error) {
	if actor == "" {
		return nil, fmt.Errorf("actor is required")
	}
	unlock := m.alertLocks.Lock(alertID)
	defer unlock()

	alert, err := m.repo.GetAlert(ctx, alertID)
	if err != nil {
		return nil, err
	}
	switch alert.Status {
	case models.StatusAcknowledged:
		return alert, nil
	case models.StatusPending:
	default:
		return nil, fmt.Errorf("%w: cannot acknowledge %s alert", models.ErrInvalidTransition, alert.Status)
	}

	now := m.clock.Now()
	alert.Status = models.StatusAcknowledged
	alert.AcknowledgedBy = &actor
	alert.AcknowledgedAt = &now
	alert.UpdatedAt = now
	if err := m.repo.UpdateAlert(ctx, alert); err != nil {
		return nil, fmt.Errorf("failed to acknowledge alert: %w", err)
	}
	m.cancelEscalation(alertID)

	m.metrics.ObserveTransition(string(models.StatusAcknowledged))
	m.logger.Info("Alert acknowledged",
		zap.String("tenant_id", alert.TenantID),
		zap.String("alert_id", alert.ID),
		zap.String("actor", actor),
	)
	return alert, nil
}

// Resolve Pending/Acknowledged → Resolved
func (m *Manager) Resolve(ctx context.Context, alertID, actor, note string) (*models.Alert, error) {
	alert, err := m.close(ctx, alertID, actor, note, models.StatusResolved)
	if err != nil {
		return nil, err
	}
	m.fireHooks(ctx, alert)
	return alert, nil
}

// Dismiss Pending → Dismissed（误报）
func (m *Manager) Dismiss(ctx context.Context, alertID, actor, note string) (*models.Alert, error) {
	alert, err := m.close(ctx, alertID, actor, note, models.StatusDismissed)
	if err != nil {
		return nil, err
	}
	m.fireHooks(ctx, alert)
	return alert, nil
}

func (m *Manager) close(ctx context.Context, alertID, actor, note string, target models.AlertStatus) (*models.Alert, error) {
	if actor == "" {
		return nil, fmt.Errorf("actor is required")
	}
	unlock := m.alertLocks.Lock(alertID)
	defer unlock()

	alert, err := m.repo.GetAlert(ctx, alertID)
	if err != nil {
		return nil, err
	}
	return m.closeLocked(ctx, alert, actor, note, target)
}

// closeLocked 调用方持有报警锁
func (m *Manager) closeLocked(ctx context.Context, alert *models.Alert, actor, note string, target models.AlertStatus) (*models.Alert, error) {
	allowed := alert.Status == models.StatusPending ||
		(target == models.StatusResolved && alert.Status == models.StatusAcknowledged)
	if !allowed {
		return nil, fmt.Errorf("%w: cannot move %s alert to %s", models.ErrInvalidTransition, alert.Status, target)
	}

	now := m.clock.Now()
	alert.Status = target
	alert.ResolvedBy = &actor
	alert.ResolvedAt = &now
	if note != "" {
		alert.ResolveNote = &note
	}
	alert.UpdatedAt = now
	if err := m.repo.UpdateAlert(ctx, alert); err != nil {
		return nil, fmt.Errorf("failed to close alert: %w", err)
	}
	m.cancelEscalation(alert.ID)

	m.mu.Lock()
	delete(m.snapshots, alert.ID)
	m.mu.Unlock()

	m.metrics.ObserveTransition(string(target))
	m.logger.Info("Alert closed",
		zap.String("tenant_id", alert.TenantID),
		zap.String("alert_id", alert.ID),
		zap.String("status", string(target)),
		zap.String("actor", actor),
	)
	return alert, nil
}

// ResolveOpen 恢复时关闭三元组下的所有未关闭报警；没有时返回空
func (m *Manager) ResolveOpen(ctx context.Context, tenantID string, subject models.SubjectRef, alertType, actor string) ([]*models.Alert, error) {
	unlockTriple := m.tripleLocks.Lock(tripleKey(tenantID, subject, alertType))
	open, err := m.repo.ListOpenAlerts(ctx, tenantID, subject, alertType)
	if err != nil {
		unlockTriple()
		return nil, fmt.Errorf("failed to list open alerts: %w", err)
	}

	var resolved []*models.Alert
	for _, a := range open {
		unlock := m.alertLocks.Lock(a.ID)
		current, err := m.repo.GetAlert(ctx, a.ID)
		if err == nil && !current.Status.Terminal() {
			current, err = m.closeLocked(ctx, current, actor, "auto-resolved: metric back to normal", models.StatusResolved)
			if err == nil {
				resolved = append(resolved, current)
			}
		}
		unlock()
		if err != nil {
			m.logger.Warn("Failed to auto-resolve alert",
				zap.String("tenant_id", tenantID),
				zap.String("alert_id", a.ID),
				zap.Error(err),
			)
		}
	}
	unlockTriple()

	for _, a := range resolved {
		m.fireHooks(ctx, a)
	}
	return resolved, nil
}

// Redispatch 重复发送（只对 Pending 报警；未到间隔的渠道不发送）
func (m *Manager) Redispatch(ctx context.Context, alertID string) (*models.DispatchReport, error) {
	peek, err := m.repo.GetAlert(ctx, alertID)
	if err != nil {
		return nil, err
	}
	key := tripleKey(peek.TenantID, peek.Subject, peek.AlertType)
	unlockTriple := m.tripleLocks.Lock(key)
	defer unlockTriple()
	unlock := m.alertLocks.Lock(alertID)
	defer unlock()

	alert, err := m.repo.GetAlert(ctx, alertID)
	if err != nil {
		return nil, err
	}
	if alert.Status != models.StatusPending {
		return nil, nil
	}

	policy := m.policyFor(ctx, alert.TenantID, alert.ID)
	rule, ok := policy.Rule(alert.Level)
	if !ok {
		return nil, nil
	}
	now := m.clock.Now()
	if len(alert.DueChannels(rule, now, false)) == 0 || policy.Silenced(alert.Level, models.ReasonRepeat, now) {
		return nil, nil
	}
	if !m.limiter.Allow(key, now, m.limit(policy)) {
		m.metrics.ObserveOutcome(alert.AlertType, string(alert.Level), string(OutcomeRateLimited))
		m.logger.Info("Repeat dispatch rate limited",
			zap.String("tenant_id", alert.TenantID),
			zap.String("alert_id", alert.ID),
		)
		return nil, nil
	}

	report := m.notifier.Notify(ctx, alert.Clone(), policy, models.ReasonRepeat)
	alert.ApplyReport(report)
	alert.UpdatedAt = m.clock.Now()
	if err := m.repo.UpdateAlert(ctx, alert); err != nil {
		return &report, fmt.Errorf("failed to record dispatch result: %w", err)
	}
	return &report, nil
}

// escalate 定时器回调：只对仍为 Pending 的报警升级
func (m *Manager) escalate(alertID string) {
	ctx := context.Background()

	peek, err := m.repo.GetAlert(ctx, alertID)
	if err != nil {
		m.logger.Error("Escalation lookup failed", zap.String("alert_id", alertID), zap.Error(err))
		return
	}
	key := tripleKey(peek.TenantID, peek.Subject, peek.AlertType)
	unlockTriple := m.tripleLocks.Lock(key)
	defer unlockTriple()
	unlock := m.alertLocks.Lock(alertID)
	defer unlock()

	m.mu.Lock()
	_, scheduled := m.timers[alertID]
	delete(m.timers, alertID)
	pending := len(m.timers)
	m.mu.Unlock()
	m.metrics.SetPendingEscalations(pending)
	if !scheduled {
		return
	}

	alert, err := m.repo.GetAlert(ctx, alertID)
	if err != nil {
		m.logger.Error("Escalation lookup failed", zap.String("alert_id", alertID), zap.Error(err))
		return
	}
	if alert.Status != models.StatusPending {
		return
	}

	policy := m.policyFor(ctx, alert.TenantID, alert.ID)
	now := m.clock.Now()
	previous := alert.Level
	alert.Level = policy.Escalation.EscalateToLevel
	alert.EscalationCount++
	alert.UpdatedAt = now

	if m.limiter.Allow(key, now, m.limit(policy)) {
		report := m.notifier.Notify(ctx, alert.Clone(), policy, models.ReasonEscalation)
		alert.ApplyReport(report)
	} else {
		m.metrics.ObserveOutcome(alert.AlertType, string(alert.Level), string(OutcomeRateLimited))
		m.logger.Info("Escalation dispatch rate limited",
			zap.String("tenant_id", alert.TenantID),
			zap.String("alert_id", alert.ID),
		)
	}

	if err := m.repo.UpdateAlert(ctx, alert); err != nil {
		m.logger.Error("Failed to persist escalation",
			zap.String("alert_id", alert.ID),
			zap.Error(err),
		)
		return
	}

	m.metrics.ObserveEscalation(alert.AlertType)
	m.logger.Warn("Alert escalated",
		zap.String("tenant_id", alert.TenantID),
		zap.String("alert_id", alert.ID),
		zap.String("alert_type", alert.AlertType),
		zap.String("from_level", string(previous)),
		zap.String("alarm_level", string(alert.Level)),
		zap.Int("escalation_count", alert.EscalationCount),
	)
}

func (m *Manager) scheduleEscalation(alertID string, after time.Duration) {
	m.mu.Lock()
	if old, ok := m.timers[alertID]; ok {
		old.Stop()
	}
	m.timers[alertID] = m.clock.AfterFunc(after, func() { m.escalate(alertID) })
	pending := len(m.timers)
	m.mu.Unlock()
	m.metrics.SetPendingEscalations(pending)
}

// cancelEscalation 调用方持有报警锁
func (m *Manager) cancelEscalation(alertID string) {
	m.mu.Lock()
	if t, ok := m.timers[alertID]; ok {
		t.Stop()
		delete(m.timers, alertID)
	}
	pending := len(m.timers)
	m.mu.Unlock()
	m.metrics.SetPendingEscalations(pending)
}

// PendingEscalations 已排程的升级数
func (m *Manager) PendingEscalations() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.timers)
}

// RestoreEscalations 进程重启后为未升级的 Pending 报警恢复定时器
func (m *Manager) RestoreEscalations(ctx context.Context) (int, error) {
	alerts, err := m.repo.ListPendingAlerts(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list pending alerts: %w", err)
	}
	now := m.clock.Now()
	restored := 0
	for _, a := range alerts {
		if a.EscalationCount > 0 {
			continue
		}
		policy := m.policyFor(ctx, a.TenantID, a.ID)
		if !policy.Escalation.Enabled {
			continue
		}
		m.mu.Lock()
		_, exists := m.timers[a.ID]
		m.mu.Unlock()
		if exists {
			continue
		}
		due := a.CreatedAt.Add(time.Duration(policy.Escalation.EscalateAfterSec) * time.Second)
		wait := due.Sub(now)
		if wait < 0 {
			wait = 0
		}
		m.scheduleEscalation(a.ID, wait)
		restored++
	}
	if restored > 0 {
		m.logger.Info("Escalation timers restored", zap.Int("count", restored))
	}
	return restored, nil
}

// Close 停止所有定时器
func (m *Manager) Close() {
	m.mu.Lock()
	for id, t := range m.timers {
		t.Stop()
		delete(m.timers, id)
	}
	m.mu.Unlock()
	m.metrics.SetPendingEscalations(0)
}

func (m *Manager) fireHooks(ctx context.Context, alert *models.Alert) {
	m.mu.Lock()
	hooks := append([]TerminalHook(nil), m.hooks...)
	m.mu.Unlock()
	for _, h := range hooks {
		h(ctx, alert.Clone())
	}
}

// policyFor 优先使用创建时的策略快照
func (m *Manager) policyFor(ctx context.Context, tenantID, alertID string) *models.Policy {
	if alertID != "" {
		m.mu.Lock()
		snap, ok := m.snapshots[alertID]
		m.mu.Unlock()
		if ok {
			return snap
		}
	}
	if m.policies != nil {
		policy, err := m.policies.GetPolicy(ctx, tenantID)
		if err == nil && policy != nil {
			return policy
		}
		m.logger.Warn("Policy lookup failed, using default policy",
			zap.String("tenant_id", tenantID),
			zap.Error(err),
		)
	}
	return models.DefaultPolicy(tenantID)
}

// PruneRateLimits 清除过期的限流记录（由定时扫描调用）
func (m *Manager) PruneRateLimits() int {
	return m.limiter.PruneExpired(m.clock.Now())
}

func (m *Manager) limit(policy *models.Policy) int {
	if !policy.Suppression.Enabled {
		return 0
	}
	return policy.Suppression.MaxAlertsPerHour
}

func triggerData(d models.AlertDecision) json.RawMessage {
	data, err := json.Marshal(models.TriggerData{
		Metric:    d.Metric,
		Value:     d.Value,
		EventType: eventTypeOf(d),
		DeviceID:  d.DeviceID,
		Timestamp: d.Timestamp.Unix(),
	})
	if err != nil {
		return nil
	}
	return data
}

func eventTypeOf(d models.AlertDecision) string {
	if d.Metric != "" {
		return ""
	}
	return d.AlertType
}

// IsNotFound 报警不存在
func IsNotFound(err error) bool {
	return errors.Is(err, models.ErrAlertNotFound)
}
