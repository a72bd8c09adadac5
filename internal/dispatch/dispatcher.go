package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"wisefido-alerting/internal/channel"
	"wisefido-alerting/internal/clock"
	"wisefido-alerting/internal/metrics"
	"wisefido-alerting/internal/models"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Report 发送结果
type Report = models.DispatchReport

// Dispatcher 按等级规则并发发送到各渠道
// 单个渠道失败只记录，不影响其他渠道
type Dispatcher struct {
	senders map[models.Channel]channel.Sender
	timeout time.Duration
	clock   clock.Clock
	metrics *metrics.AlertingMetrics
	logger  *zap.Logger
}

// NewDispatcher 创建发送器；timeout 为单渠道超时
func NewDispatcher(timeout time.Duration, clk clock.Clock, m *metrics.AlertingMetrics, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		senders: make(map[models.Channel]channel.Sender),
		timeout: timeout,
		clock:   clk,
		metrics: m,
		logger:  logger,
	}
}

// Register 注册渠道实现（启动时调用）
func (d *Dispatcher) Register(ch models.Channel, sender channel.Sender) {
	d.senders[ch] = sender
}

// Dispatch 发送报警
// 静默窗口拦截非关键等级；未到重复间隔的渠道跳过（升级发送不受间隔限制）
func (d *Dispatcher) Dispatch(ctx context.Context, alert *models.Alert, recipients []models.Recipient, policy *models.Policy, reason models.DispatchReason) Report {
	now := d.clock.Now()
	report := Report{
		AlertID:    alert.ID,
		Reason:     reason,
		At:         now,
		Recipients: len(recipients),
	}

	rule, ok := policy.Rule(alert.Level)
	if !ok {
		d.logger.Warn("No notification rule for level",
			zap.String("tenant_id", alert.TenantID),
			zap.String("alert_id", alert.ID),
			zap.String("alarm_level", string(alert.Level)),
		)
		return report
	}

	if policy.Silenced(alert.Level, reason, now) {
		report.Silenced = true
		d.logger.Info("Dispatch withheld by silence window",
			zap.String("tenant_id", alert.TenantID),
			zap.String("alert_id", alert.ID),
			zap.String("alarm_level", string(alert.Level)),
		)
		return report
	}

	due := alert.DueChannels(rule, now, reason == models.ReasonEscalation)
	dueSet := make(map[models.Channel]bool, len(due))
	for _, ch := range due {
		dueSet[ch] = true
	}
	for _, ch := range rule.Channels {
		if !dueSet[ch] {
			report.Skipped = append(report.Skipped, ch)
		}
	}

	var (
		mu      sync.Mutex
		sent    = make(map[models.Channel]bool)
		g       errgroup.Group
		results = make(map[models.Channel]error)
	)
	for _, ch := range due {
		sender, ok := d.senders[ch]
		if !ok {
			mu.Lock()
			results[ch] = fmt.Errorf("no sender configured for channel %s", ch)
			mu.Unlock()
			continue
		}
		msg := channel.NewMessage(alert, ch, reason, recipientsFor(recipients, ch), now)

		g.Go(func() error {
			cctx, cancel := context.WithTimeout(ctx, d.timeout)
			defer cancel()

			err := safeSend(cctx, sender, msg)
			mu.Lock()
			if err != nil {
				results[ch] = err
			} else {
				sent[ch] = true
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	// 按规则中的渠道顺序输出
	for _, ch := range due {
		if sent[ch] {
			report.Sent = append(report.Sent, ch)
			d.metrics.ObserveDispatch(string(ch), metrics.ResultSuccess)
			continue
		}
		err := results[ch]
		report.Failures = append(report.Failures, models.DeliveryFailure{
			Channel: ch,
			Error:   err.Error(),
			At:      now,
		})
		d.metrics.ObserveDispatch(string(ch), metrics.ResultFailed)
		d.logger.Warn("Channel delivery failed",
			zap.String("tenant_id", alert.TenantID),
			zap.String("alert_id", alert.ID),
			zap.String("channel", string(ch)),
			zap.Error(err),
		)
	}
	for _, ch := range report.Skipped {
		d.metrics.ObserveDispatch(string(ch), metrics.ResultSkipped)
	}

	d.logger.Info("Alert dispatched",
		zap.String("tenant_id", alert.TenantID),
		zap.String("alert_id", alert.ID),
		zap.String("alarm_level", string(alert.Level)),
		zap.String("reason", string(reason)),
		zap.Int("recipients", len(recipients)),
		zap.Int("sent", len(report.Sent)),
		zap.Int("failed", len(report.Failures)),
		zap.Int("skipped", len(report.Skipped)),
	)
	return report
}

// safeSend 渠道实现 panic 时转成错误
func safeSend(ctx context.Context, sender channel.Sender, msg channel.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sender panic: %v", r)
		}
	}()
	return sender.Send(ctx, msg)
}

// recipientsFor 接受该渠道的接收人
func recipientsFor(recipients []models.Recipient, ch models.Channel) []models.Recipient {
	out := make([]models.Recipient, 0, len(recipients))
	for _, r := range recipients {
		if r.Accepts(ch) {
			out = append(out, r)
		}
	}
	return out
}
