package models

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Policy 租户报警策略（每个租户只有一份未被取代的生效策略）
type Policy struct {
	PolicyID  string    `json:"policy_id" yaml:"policy_id"`
	TenantID  string    `json:"tenant_id" yaml:"tenant_id"`
	Version   int       `json:"version" yaml:"version"`
	UpdatedAt time.Time `json:"updated_at" yaml:"-"`

	// 事件类报警：报警类型 → 等级（DISABLE 表示关闭）
	AlertTypeLevels map[string]DangerLevel `json:"alert_type_levels" yaml:"alert_type_levels" validate:"dive,keys,required,endkeys,oneof=L1 L2 DISABLE"`

	// 生命体征阈值：指标 → 分级区间
	VitalThresholds map[string]VitalThreshold `json:"vital_thresholds" yaml:"vital_thresholds" validate:"dive,keys,required,endkeys"`

	// 通知规则：等级 → 渠道
	NotificationRules map[DangerLevel]NotificationRule `json:"notification_rules" yaml:"notification_rules" validate:"required,dive,keys,oneof=L1 L2,endkeys"`

	Escalation  EscalationRule  `json:"escalation" yaml:"escalation"`
	Suppression SuppressionRule `json:"suppression" yaml:"suppression"`
	Silence     SilenceRule     `json:"silence" yaml:"silence"`

	// 用户未设置 alarm_scope 时使用的默认范围
	DefaultAlertScope AlertScope `json:"default_alert_scope,omitempty" yaml:"default_alert_scope" validate:"omitempty,oneof=ALL LOCATION ASSIGNED_ONLY"`
}

// VitalThreshold 单个生命体征指标的分级区间
type VitalThreshold struct {
	// 触发的报警类型，为空时按指标名推导
	AlertType string `json:"alert_type,omitempty" yaml:"alert_type"`
	Bands     []Band `json:"bands" yaml:"bands" validate:"required,min=1,dive"`
}

// Band 一个等级对应的区间集合及持续时间要求
type Band struct {
	Level       DangerLevel `json:"level" yaml:"level" validate:"required,oneof=L1 L2 Normal"`
	Ranges      []Range     `json:"ranges" yaml:"ranges" validate:"required,min=1,dive"`
	DurationSec int         `json:"duration_sec" yaml:"duration_sec" validate:"min=0"`
}

// Range 闭区间，Min/Max 为 nil 表示无界
type Range struct {
	Min *float64 `json:"min,omitempty" yaml:"min"`
	Max *float64 `json:"max,omitempty" yaml:"max"`
}

// Contains 判断 v 是否落在区间内
func (r Range) Contains(v float64) bool {
	if r.Min != nil && v < *r.Min {
		return false
	}
	if r.Max != nil && v > *r.Max {
		return false
	}
	return true
}

// Contains 判断 v 是否落在该等级的任一区间
func (b Band) Contains(v float64) bool {
	for _, r := range b.Ranges {
		if r.Contains(v) {
			return true
		}
	}
	return false
}

// Duration 持续时间要求
func (b Band) Duration() time.Duration {
	return time.Duration(b.DurationSec) * time.Second
}

// Match 返回 v 所在的区间；区间重叠时取更严重的等级
func (t VitalThreshold) Match(v float64) (Band, bool) {
	bands := make([]Band, len(t.Bands))
	copy(bands, t.Bands)
	sort.SliceStable(bands, func(i, j int) bool {
		return bands[i].Level.Rank() > bands[j].Level.Rank()
	})
	for _, b := range bands {
		if b.Contains(v) {
			return b, true
		}
	}
	return Band{}, false
}

// NotificationRule 某等级的通知规则
type NotificationRule struct {
	Channels          []Channel `json:"channels" yaml:"channels" validate:"required,min=1,dive,oneof=WEB APP PHONE EMAIL SMS"`
	Immediate         bool      `json:"immediate" yaml:"immediate"`
	RepeatIntervalSec int       `json:"repeat_interval_sec" yaml:"repeat_interval_sec" validate:"min=0"`
}

// RepeatInterval 重复发送间隔
func (r NotificationRule) RepeatInterval() time.Duration {
	return time.Duration(r.RepeatIntervalSec) * time.Second
}

// EscalationRule 升级规则
type EscalationRule struct {
	Enabled          bool        `json:"enabled" yaml:"enabled"`
	EscalateAfterSec int         `json:"escalate_after_sec" yaml:"escalate_after_sec" validate:"min=0,required_if=Enabled true"`
	EscalateToLevel  DangerLevel `json:"escalate_to_level" yaml:"escalate_to_level" validate:"required_if=Enabled true,omitempty,oneof=L1 L2"`
}

// SuppressionRule 抑制规则（去重 + 每小时限流，0 表示不限）
type SuppressionRule struct {
	Enabled              bool `json:"enabled" yaml:"enabled"`
	SuppressDuplicateSec int  `json:"suppress_duplicate_sec" yaml:"suppress_duplicate_sec" validate:"min=0"`
	MaxAlertsPerHour     int  `json:"max_alerts_per_hour" yaml:"max_alerts_per_hour" validate:"min=0"`
}

// SilenceRule 静默规则
type SilenceRule struct {
	Enabled  bool     `json:"enabled" yaml:"enabled"`
	Hours    []int    `json:"hours" yaml:"hours" validate:"dive,min=0,max=23"`
	Days     []string `json:"days" yaml:"days" validate:"dive,oneof=Monday Tuesday Wednesday Thursday Friday Saturday Sunday"`
	Timezone string   `json:"timezone,omitempty" yaml:"timezone"`
}

// Active 判断 t 是否处于静默窗口
// Hours 为空表示全天，Days 为空表示每天；两者都为空视为未配置
func (s SilenceRule) Active(t time.Time) bool {
	if !s.Enabled || (len(s.Hours) == 0 && len(s.Days) == 0) {
		return false
	}
	if s.Timezone != "" {
		if loc, err := time.LoadLocation(s.Timezone); err == nil {
			t = t.In(loc)
		}
	}

	hourMatch := len(s.Hours) == 0
	for _, h := range s.Hours {
		if h == t.Hour() {
			hourMatch = true
			break
		}
	}
	dayMatch := len(s.Days) == 0
	for _, d := range s.Days {
		if strings.EqualFold(d, t.Weekday().String()) {
			dayMatch = true
			break
		}
	}
	return hourMatch && dayMatch
}

// Validate 边界校验（写入和加载策略时调用）
func (p *Policy) Validate() error {
	if p == nil {
		return fmt.Errorf("%w: policy is required", ErrInvalidPolicy)
	}
	if err := validate.Struct(p); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPolicy, err)
	}
	for metric, th := range p.VitalThresholds {
		for _, b := range th.Bands {
			for _, r := range b.Ranges {
				if r.Min != nil && r.Max != nil && *r.Min > *r.Max {
					return fmt.Errorf("%w: %s %s range min %.2f > max %.2f", ErrInvalidPolicy, metric, b.Level, *r.Min, *r.Max)
				}
			}
		}
	}
	if p.Silence.Timezone != "" {
		if _, err := time.LoadLocation(p.Silence.Timezone); err != nil {
			return fmt.Errorf("%w: unknown silence timezone %q", ErrInvalidPolicy, p.Silence.Timezone)
		}
	}
	return nil
}

// Clone 深拷贝
func (p *Policy) Clone() *Policy {
	if p == nil {
		return nil
	}
	data, err := json.Marshal(p)
	if err != nil {
		cp := *p
		return &cp
	}
	var cp Policy
	if err := json.Unmarshal(data, &cp); err != nil {
		cp = *p
	}
	return &cp
}

// LevelFor 事件类报警的等级；未配置或 DISABLE 返回 false
func (p *Policy) LevelFor(alertType string) (DangerLevel, bool) {
	level, ok := p.AlertTypeLevels[alertType]
	if !ok || !level.Raises() {
		return "", false
	}
	return level, true
}

// Disabled 报警类型是否被显式关闭
func (p *Policy) Disabled(alertType string) bool {
	return p.AlertTypeLevels[alertType] == LevelDisable
}

// Threshold 指标阈值
func (p *Policy) Threshold(metric string) (VitalThreshold, bool) {
	th, ok := p.VitalThresholds[metric]
	return th, ok
}

// VitalAlertType 指标对应的报警类型
func (p *Policy) VitalAlertType(metric string) string {
	if th, ok := p.VitalThresholds[metric]; ok && th.AlertType != "" {
		return th.AlertType
	}
	return VitalAlertTypeFor(metric)
}

// Rule 等级对应的通知规则
func (p *Policy) Rule(level DangerLevel) (NotificationRule, bool) {
	rule, ok := p.NotificationRules[level]
	return rule, ok
}

// Scope 默认接收范围
func (p *Policy) Scope() AlertScope {
	if p.DefaultAlertScope == "" {
		return ScopeAssignedOnly
	}
	return p.DefaultAlertScope
}

// VitalAlertTypeFor heart_rate → AbnormalHeartRate
func VitalAlertTypeFor(metric string) string {
	switch metric {
	case MetricHeartRate:
		return AlertTypeAbnormalHeartRate
	case MetricRespiratoryRate:
		return AlertTypeAbnormalRespiratoryRate
	}
	var sb strings.Builder
	sb.WriteString("Abnormal")
	for _, part := range strings.Split(metric, "_") {
		if part == "" {
			continue
		}
		sb.WriteString(strings.ToUpper(part[:1]))
		sb.WriteString(part[1:])
	}
	return sb.String()
}

func bound(v float64) *float64 {
	return &v
}

// DefaultPolicy 系统默认策略（租户未配置时使用）
func DefaultPolicy(tenantID string) *Policy {
	return &Policy{
		PolicyID: "default",
		TenantID: tenantID,
		Version:  0,
		AlertTypeLevels: map[string]DangerLevel{
			AlertTypeOfflineAlarm:  LevelL2,
			AlertTypeLowBattery:    LevelL2,
			AlertTypeDeviceFailure: LevelL1,
			AlertTypeFall:          LevelL1,
			AlertTypeSuspectedFall: LevelL2,
		},
		VitalThresholds: map[string]VitalThreshold{
			MetricHeartRate: {
				AlertType: AlertTypeAbnormalHeartRate,
				Bands: []Band{
					{Level: LevelL1, DurationSec: 60, Ranges: []Range{{Min: bound(0), Max: bound(44)}, {Min: bound(116)}}},
					{Level: LevelL2, DurationSec: 300, Ranges: []Range{{Min: bound(45), Max: bound(54)}, {Min: bound(96), Max: bound(115)}}},
					{Level: LevelNormal, DurationSec: 60, Ranges: []Range{{Min: bound(55), Max: bound(95)}}},
				},
			},
			MetricRespiratoryRate: {
				AlertType: AlertTypeAbnormalRespiratoryRate,
				Bands: []Band{
					{Level: LevelL1, DurationSec: 60, Ranges: []Range{{Min: bound(0), Max: bound(7)}, {Min: bound(27)}}},
					{Level: LevelL2, DurationSec: 300, Ranges: []Range{{Min: bound(8), Max: bound(9)}, {Min: bound(24), Max: bound(26)}}},
					{Level: LevelNormal, DurationSec: 60, Ranges: []Range{{Min: bound(10), Max: bound(23)}}},
				},
			},
		},
		NotificationRules: map[DangerLevel]NotificationRule{
			LevelL1: {Channels: []Channel{ChannelWeb, ChannelApp, ChannelPhone}, Immediate: true, RepeatIntervalSec: 300},
			LevelL2: {Channels: []Channel{ChannelWeb, ChannelApp}, Immediate: false, RepeatIntervalSec: 600},
		},
		Escalation:        EscalationRule{Enabled: false, EscalateAfterSec: 300, EscalateToLevel: LevelL1},
		Suppression:       SuppressionRule{Enabled: true, SuppressDuplicateSec: 60, MaxAlertsPerHour: 10},
		Silence:           SilenceRule{Enabled: false},
		DefaultAlertScope: ScopeAssignedOnly,
	}
}
