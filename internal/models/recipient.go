package models

// RoleAdmin 管理员角色（不受范围限制）
const RoleAdmin = "Admin"

// StaffMember 机构人员（对应 users 表中与报警相关的字段）
type StaffMember struct {
	UserID   string
	TenantID string
	Role     string
	Status   string // active / disabled
	// 为空时使用策略的 DefaultAlertScope
	AlertScope AlertScope
	Tags       []string
	// 用户报警偏好：为空表示不过滤
	AlarmLevels   []DangerLevel
	AlarmChannels []Channel
}

// Active 账号是否有效（空状态视为 active）
func (s StaffMember) Active() bool {
	return s.Status == "" || s.Status == "active"
}

// ContactLink 住户联系人（家属）
type ContactLink struct {
	ContactID       string
	SubjectID       string
	CanReceiveAlert bool
	IsActive        bool
	Channels        []Channel
}

// RecipientKind 接收人类型
type RecipientKind string

const (
	RecipientStaff   RecipientKind = "staff"
	RecipientContact RecipientKind = "contact"
)

// Recipient 解析后的接收人
type Recipient struct {
	ID   string        `json:"id"`
	Kind RecipientKind `json:"kind"`
	// 为空表示接受所有渠道
	Channels []Channel `json:"channels,omitempty"`
	// 命中规则：admin / ALL / LOCATION / ASSIGNED_ONLY / contact
	Reason string `json:"reason"`
}

// Accepts 接收人是否接受该渠道
func (r Recipient) Accepts(ch Channel) bool {
	if len(r.Channels) == 0 {
		return true
	}
	for _, c := range r.Channels {
		if c == ch {
			return true
		}
	}
	return false
}
