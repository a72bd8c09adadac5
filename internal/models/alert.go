package models

import (
	"encoding/json"
	"time"
)

// Alert 报警记录（对应 alert_events 表，只做逻辑关闭，不物理删除）
type Alert struct {
	ID        string      `json:"alert_id"`
	TenantID  string      `json:"tenant_id"`
	Subject   SubjectRef  `json:"subject"`
	DeviceID  string      `json:"device_id,omitempty"`
	AlertType string      `json:"alert_type"`
	Level     DangerLevel `json:"alarm_level"`
	Status    AlertStatus `json:"status"`

	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
	LastOccurredAt time.Time `json:"last_occurred_at"`

	AcknowledgedBy *string    `json:"acknowledged_by,omitempty"`
	AcknowledgedAt *time.Time `json:"acknowledged_at,omitempty"`
	ResolvedBy     *string    `json:"resolved_by,omitempty"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty"`
	ResolveNote    *string    `json:"resolve_note,omitempty"`

	EscalationCount int `json:"escalation_count"`
	OccurrenceCount int `json:"occurrence_count"`

	LastDispatchAt    *time.Time            `json:"last_dispatch_at,omitempty"`
	ChannelDispatchAt map[Channel]time.Time `json:"channel_dispatch_at,omitempty"`
	DeliveryFailures  []DeliveryFailure     `json:"delivery_failures,omitempty"`

	// 创建时生效的策略版本
	PolicyVersion int `json:"policy_version"`

	// 触发快照（指标、数值等）
	TriggerData json.RawMessage `json:"trigger_data,omitempty"`

	// 乐观锁版本号
	Version int `json:"version"`
}

// DeliveryFailure 单个渠道的投递失败记录
type DeliveryFailure struct {
	Channel Channel   `json:"channel"`
	Error   string    `json:"error"`
	At      time.Time `json:"at"`
}

// Clone 深拷贝（仓库与缓存之间传递时使用，避免共享 map/slice）
func (a *Alert) Clone() *Alert {
	if a == nil {
		return nil
	}
	cp := *a
	if a.ChannelDispatchAt != nil {
		cp.ChannelDispatchAt = make(map[Channel]time.Time, len(a.ChannelDispatchAt))
		for k, v := range a.ChannelDispatchAt {
			cp.ChannelDispatchAt[k] = v
		}
	}
	if a.DeliveryFailures != nil {
		cp.DeliveryFailures = append([]DeliveryFailure(nil), a.DeliveryFailures...)
	}
	if a.TriggerData != nil {
		cp.TriggerData = append(json.RawMessage(nil), a.TriggerData...)
	}
	return &cp
}

// TriggerData 触发数据快照
type TriggerData struct {
	Metric    string   `json:"metric,omitempty"`
	Value     *float64 `json:"value,omitempty"`
	EventType string   `json:"event_type,omitempty"`
	DeviceID  string   `json:"device_id,omitempty"`
	Timestamp int64    `json:"timestamp"`
}

// DecisionKind 策略引擎输出类型
type DecisionKind string

const (
	DecisionRaise   DecisionKind = "raise"
	DecisionResolve DecisionKind = "resolve"
)

// AlertDecision 策略引擎的判定结果
type AlertDecision struct {
	Kind      DecisionKind
	TenantID  string
	Subject   SubjectRef
	DeviceID  string
	AlertType string
	Level     DangerLevel
	Metric    string
	Value     *float64
	Timestamp time.Time
	// 判定时使用的策略快照
	Policy *Policy
}

// AlertFilters 报警历史查询条件
type AlertFilters struct {
	SubjectID *string
	AlertType *string
	Level     *string
	Statuses  []AlertStatus
	StartTime *time.Time
	EndTime   *time.Time
}
