package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"wisefido-alerting/common/mqtt"

	"go.uber.org/zap"
)

// MQTTSender WEB / APP 推送：发布到 {prefix}/{tenant_id}/{channel}
type MQTTSender struct {
	publisher mqtt.Publisher
	prefix    string
	qos       byte
	logger    *zap.Logger
}

// NewMQTTSender 创建 MQTT 推送
func NewMQTTSender(publisher mqtt.Publisher, prefix string, qos byte, logger *zap.Logger) *MQTTSender {
	return &MQTTSender{
		publisher: publisher,
		prefix:    strings.TrimSuffix(prefix, "/"),
		qos:       qos,
		logger:    logger,
	}
}

// Topic 租户 + 渠道主题
func (s *MQTTSender) Topic(msg Message) string {
	return fmt.Sprintf("%s/%s/%s", s.prefix, msg.TenantID, strings.ToLower(string(msg.Channel)))
}

func (s *MQTTSender) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	topic := s.Topic(msg)
	if err := s.publisher.Publish(topic, s.qos, false, payload); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}
	s.logger.Debug("Alert pushed",
		zap.String("topic", topic),
		zap.String("alert_id", msg.AlertID),
		zap.String("channel", string(msg.Channel)),
	)
	return nil
}
