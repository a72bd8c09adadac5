package models

import "fmt"

// DangerLevel 危险等级（L1 紧急 > L2 警报 > Normal）
type DangerLevel string

const (
	LevelL1      DangerLevel = "L1"      // EMERGENCY：紧急，高风险，高置信
	LevelL2      DangerLevel = "L2"      // ALERT：警报
	LevelNormal  DangerLevel = "Normal"  // 正常区间，只用于恢复判断
	LevelDisable DangerLevel = "DISABLE" // 关闭该类报警
)

// Rank 等级排序值，越大越严重；DISABLE 和未知等级为 -1
func (l DangerLevel) Rank() int {
	switch l {
	case LevelNormal:
		return 0
	case LevelL2:
		return 1
	case LevelL1:
		return 2
	default:
		return -1
	}
}

// Raises 是否是会产生报警的等级
func (l DangerLevel) Raises() bool {
	return l == LevelL1 || l == LevelL2
}

// Critical L1 视为关键等级（静默窗口不拦截）
func (l DangerLevel) Critical() bool {
	return l == LevelL1
}

// Channel 通知渠道
type Channel string

const (
	ChannelWeb   Channel = "WEB"
	ChannelApp   Channel = "APP"
	ChannelPhone Channel = "PHONE"
	ChannelEmail Channel = "EMAIL"
	ChannelSMS   Channel = "SMS"
)

// AlertScope 报警接收/可见范围
type AlertScope string

const (
	ScopeAll          AlertScope = "ALL"
	ScopeLocation     AlertScope = "LOCATION"
	ScopeAssignedOnly AlertScope = "ASSIGNED_ONLY"
)

// AlertStatus 报警状态
type AlertStatus string

const (
	StatusPending      AlertStatus = "Pending"
	StatusAcknowledged AlertStatus = "Acknowledged"
	StatusResolved     AlertStatus = "Resolved"
	StatusDismissed    AlertStatus = "Dismissed"
)

// Terminal Resolved / Dismissed 为终态
func (s AlertStatus) Terminal() bool {
	return s == StatusResolved || s == StatusDismissed
}

// SubjectType 报警对象类型
type SubjectType string

const (
	SubjectResident SubjectType = "resident"
	SubjectDevice   SubjectType = "device"
	SubjectLocation SubjectType = "location"
)

// SubjectRef 报警对象引用（住户 / 设备 / 位置）
type SubjectRef struct {
	Type SubjectType `json:"type"`
	ID   string      `json:"id"`
}

func (s SubjectRef) String() string {
	return fmt.Sprintf("%s:%s", s.Type, s.ID)
}

// 常用报警类型（与 alarm_cloud 字段保持一致）
const (
	AlertTypeOfflineAlarm            = "OfflineAlarm"
	AlertTypeLowBattery              = "LowBattery"
	AlertTypeDeviceFailure           = "DeviceFailure"
	AlertTypeFall                    = "Fall"
	AlertTypeSuspectedFall           = "SuspectedFall"
	AlertTypeLeftBed                 = "LeftBed"
	AlertTypeAbnormalHeartRate       = "AbnormalHeartRate"
	AlertTypeAbnormalRespiratoryRate = "AbnormalRespiratoryRate"
)

// 常用生命体征指标
const (
	MetricHeartRate       = "heart_rate"
	MetricRespiratoryRate = "respiratory_rate"
)
