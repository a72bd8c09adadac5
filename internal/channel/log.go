package channel

import (
	"context"

	"go.uber.org/zap"
)

// LogSender 未配置网关时的兜底渠道，只记录日志
type LogSender struct {
	logger *zap.Logger
}

// NewLogSender 创建日志渠道
func NewLogSender(logger *zap.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(ctx context.Context, msg Message) error {
	s.logger.Info("Alert notification",
		zap.String("tenant_id", msg.TenantID),
		zap.String("alert_id", msg.AlertID),
		zap.String("channel", string(msg.Channel)),
		zap.String("alert_type", msg.AlertType),
		zap.String("alarm_level", string(msg.Level)),
		zap.String("reason", string(msg.Reason)),
		zap.Int("recipients", len(msg.Recipients)),
	)
	return nil
}
