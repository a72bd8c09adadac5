package models

import (
	"fmt"
	"time"
)

// TelemetryEvent 解码后的遥测事件（数值类指标 + 事件类型二选一或同时存在）
type TelemetryEvent struct {
	DeviceID  string             `json:"device_id"`
	TenantID  string             `json:"tenant_id"`
	Subject   SubjectRef         `json:"subject"`
	Timestamp int64              `json:"timestamp"` // Unix 秒
	Metrics   map[string]float64 `json:"metrics,omitempty"`
	EventType string             `json:"event_type,omitempty"`
}

// Time 事件时间
func (e TelemetryEvent) Time() time.Time {
	return time.Unix(e.Timestamp, 0)
}

// Validate 基础字段校验
func (e TelemetryEvent) Validate() error {
	if e.TenantID == "" {
		return fmt.Errorf("tenant_id is required")
	}
	if e.Subject.ID == "" {
		return fmt.Errorf("subject id is required")
	}
	if len(e.Metrics) == 0 && e.EventType == "" {
		return fmt.Errorf("event carries neither metrics nor event_type")
	}
	return nil
}
