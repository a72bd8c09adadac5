package channel

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// GatewayResponse 通知网关响应
type GatewayResponse struct {
	Status int    `json:"status"`
	Msg    string `json:"msg"`
}

// WebhookSender PHONE / EMAIL / SMS：调用通知网关 POST /notify/{channel}
type WebhookSender struct {
	httpClient *resty.Client
	logger     *zap.Logger
}

// NewWebhookSender 创建网关客户端
func NewWebhookSender(baseURL, token string, retries int, logger *zap.Logger) *WebhookSender {
	client := resty.New().
		SetBaseURL(strings.TrimSuffix(baseURL, "/")).
		SetTimeout(10 * time.Second).
		SetRetryCount(retries).
		SetRetryWaitTime(200 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if token != "" {
		client.SetAuthToken(token)
	}

	return &WebhookSender{
		httpClient: client,
		logger:     logger,
	}
}

func (s *WebhookSender) Send(ctx context.Context, msg Message) error {
	var response GatewayResponse
	path := "/notify/" + strings.ToLower(string(msg.Channel))

	resp, err := s.httpClient.R().
		SetContext(ctx).
		SetBody(msg).
		SetResult(&response).
		SetError(&response).
		Post(path)
	if err != nil {
		return fmt.Errorf("failed to call notification gateway: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("notification gateway returned HTTP %d: %s", resp.StatusCode(), response.Msg)
	}
	if response.Status != 0 {
		return fmt.Errorf("notification gateway error: %s (status: %d)", response.Msg, response.Status)
	}

	s.logger.Debug("Alert sent to gateway",
		zap.String("alert_id", msg.AlertID),
		zap.String("channel", string(msg.Channel)),
		zap.Int("recipients", len(msg.Recipients)),
	)
	return nil
}
