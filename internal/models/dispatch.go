package models

import "time"

// DispatchReason 发送原因
type DispatchReason string

const (
	ReasonInitial    DispatchReason = "initial"
	ReasonEscalation DispatchReason = "escalation"
	ReasonRepeat     DispatchReason = "repeat"
)

// DispatchReport 一次发送的结果
type DispatchReport struct {
	AlertID    string            `json:"alert_id"`
	Reason     DispatchReason    `json:"reason"`
	At         time.Time         `json:"at"`
	Recipients int               `json:"recipients"`
	Sent       []Channel         `json:"sent,omitempty"`
	Failures   []DeliveryFailure `json:"failures,omitempty"`
	// 未到重复间隔、无接收人渠道等被跳过的渠道
	Skipped  []Channel `json:"skipped,omitempty"`
	Silenced bool      `json:"silenced"`
}

// Attempted 是否实际调用了任何渠道
func (r DispatchReport) Attempted() bool {
	return len(r.Sent) > 0 || len(r.Failures) > 0
}

// maxDeliveryFailures 报警上保留的最近失败记录数
const maxDeliveryFailures = 50

// ApplyReport 把发送结果写回报警（调用方持有报警锁）
func (a *Alert) ApplyReport(r DispatchReport) {
	if len(r.Sent) > 0 {
		if a.ChannelDispatchAt == nil {
			a.ChannelDispatchAt = make(map[Channel]time.Time)
		}
		for _, ch := range r.Sent {
			a.ChannelDispatchAt[ch] = r.At
		}
		at := r.At
		a.LastDispatchAt = &at
	}
	if len(r.Failures) > 0 {
		a.DeliveryFailures = append(a.DeliveryFailures, r.Failures...)
		if n := len(a.DeliveryFailures); n > maxDeliveryFailures {
			a.DeliveryFailures = a.DeliveryFailures[n-maxDeliveryFailures:]
		}
	}
}

// DueChannels 返回需要发送的渠道
// 从未发送过的渠道总是需要发送；已发送的渠道在 RepeatIntervalSec 之后才重复，间隔为 0 表示只发一次
// bypassRepeat 用于升级：新等级的所有渠道都重新发送
func (a *Alert) DueChannels(rule NotificationRule, now time.Time, bypassRepeat bool) []Channel {
	var due []Channel
	interval := rule.RepeatInterval()
	for _, ch := range rule.Channels {
		last, sent := a.ChannelDispatchAt[ch]
		switch {
		case !sent, bypassRepeat:
			due = append(due, ch)
		case interval > 0 && now.Sub(last) >= interval:
			due = append(due, ch)
		}
	}
	return due
}

// Silenced 静默窗口内拦截非关键等级；升级发送不受静默限制
func (p *Policy) Silenced(level DangerLevel, reason DispatchReason, now time.Time) bool {
	if level.Critical() || reason == ReasonEscalation {
		return false
	}
	return p.Silence.Active(now)
}
