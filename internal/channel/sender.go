package channel

import (
	"context"
	"encoding/json"
	"time"

	"wisefido-alerting/internal/models"
)

// Message 发送给渠道的报警通知
type Message struct {
	AlertID    string                `json:"alert_id"`
	TenantID   string                `json:"tenant_id"`
	Subject    models.SubjectRef     `json:"subject"`
	DeviceID   string                `json:"device_id,omitempty"`
	AlertType  string                `json:"alert_type"`
	Level      models.DangerLevel    `json:"alarm_level"`
	Status     models.AlertStatus    `json:"status"`
	Reason     models.DispatchReason `json:"reason"`
	Channel    models.Channel        `json:"channel"`
	Recipients []models.Recipient    `json:"recipients"`
	CreatedAt  time.Time             `json:"created_at"`
	SentAt     time.Time             `json:"sent_at"`

	EscalationCount int             `json:"escalation_count"`
	TriggerData     json.RawMessage `json:"trigger_data,omitempty"`
}

// NewMessage 根据报警构建通知
func NewMessage(alert *models.Alert, ch models.Channel, reason models.DispatchReason, recipients []models.Recipient, sentAt time.Time) Message {
	if recipients == nil {
		recipients = []models.Recipient{}
	}
	return Message{
		AlertID:         alert.ID,
		TenantID:        alert.TenantID,
		Subject:         alert.Subject,
		DeviceID:        alert.DeviceID,
		AlertType:       alert.AlertType,
		Level:           alert.Level,
		Status:          alert.Status,
		Reason:          reason,
		Channel:         ch,
		Recipients:      recipients,
		CreatedAt:       alert.CreatedAt,
		SentAt:          sentAt,
		EscalationCount: alert.EscalationCount,
		TriggerData:     alert.TriggerData,
	}
}

// Sender 渠道发送实现（推送 / 语音 / 邮件网关）
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// SenderFunc 函数适配
type SenderFunc func(ctx context.Context, msg Message) error

func (f SenderFunc) Send(ctx context.Context, msg Message) error {
	return f(ctx, msg)
}
