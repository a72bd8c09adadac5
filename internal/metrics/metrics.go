package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// 结果标签
const (
	ResultSuccess = "success"
	ResultFailed  = "failed"
	ResultSkipped = "skipped"
)

// AlertingMetrics 报警服务指标
// nil 接收者上的所有方法都是 no-op，组件可以不注入指标
type AlertingMetrics struct {
	// 报警创建结果（created / suppressed / rate_limited）
	AlertOutcomes *prometheus.CounterVec
	// 报警状态变更（acknowledged / resolved / dismissed）
	Transitions *prometheus.CounterVec
	// 报警升级次数
	Escalations *prometheus.CounterVec
	// 渠道发送结果
	Dispatches *prometheus.CounterVec
	// 分类器触发的等级
	Classifications *prometheus.CounterVec
	// 遥测事件处理结果
	EventsProcessed *prometheus.CounterVec
	// 等待升级的报警数
	PendingEscalations prometheus.Gauge
}

// New 创建指标并注册到 reg
func New(namespace string, reg prometheus.Registerer) (*AlertingMetrics, error) {
	m := &AlertingMetrics{
		AlertOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alert_outcomes_total",
			Help:      "Alert creation outcomes by alert type, level and outcome.",
		}, []string{"alert_type", "alarm_level", "outcome"}),
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alert_transitions_total",
			Help:      "Alert lifecycle transitions by target status.",
		}, []string{"status"}),
		Escalations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alert_escalations_total",
			Help:      "Alert escalations by alert type.",
		}, []string{"alert_type"}),
		Dispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatches_total",
			Help:      "Channel dispatch attempts by channel and result.",
		}, []string{"channel", "result"}),
		Classifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "classifications_total",
			Help:      "Sustained band classifications by metric and level.",
		}, []string{"metric", "alarm_level"}),
		EventsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "telemetry_events_total",
			Help:      "Telemetry events processed by result.",
		}, []string{"result"}),
		PendingEscalations: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_escalations",
			Help:      "Escalation timers currently scheduled.",
		}),
	}

	if reg != nil {
		for _, c := range []prometheus.Collector{
			m.AlertOutcomes, m.Transitions, m.Escalations, m.Dispatches,
			m.Classifications, m.EventsProcessed, m.PendingEscalations,
		} {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}

func (m *AlertingMetrics) ObserveOutcome(alertType, level, outcome string) {
	if m == nil {
		return
	}
	m.AlertOutcomes.WithLabelValues(alertType, level, outcome).Inc()
}

func (m *AlertingMetrics) ObserveTransition(status string) {
	if m == nil {
		return
	}
	m.Transitions.WithLabelValues(status).Inc()
}

func (m *AlertingMetrics) ObserveEscalation(alertType string) {
	if m == nil {
		return
	}
	m.Escalations.WithLabelValues(alertType).Inc()
}

func (m *AlertingMetrics) ObserveDispatch(channel, result string) {
	if m == nil {
		return
	}
	m.Dispatches.WithLabelValues(channel, result).Inc()
}

func (m *AlertingMetrics) ObserveClassification(metric, level string) {
	if m == nil {
		return
	}
	m.Classifications.WithLabelValues(metric, level).Inc()
}

func (m *AlertingMetrics) ObserveEvent(result string) {
	if m == nil {
		return
	}
	m.EventsProcessed.WithLabelValues(result).Inc()
}

// SetPendingEscalations 更新等待升级的报警数
func (m *AlertingMetrics) SetPendingEscalations(n int) {
	if m == nil {
		return
	}
	m.PendingEscalations.Set(float64(n))
}
