package metrics

import "github.com/prometheus/client_golang/prometheus"

// MessagingMetrics exposes counters/histograms for the outbound pipeline.
type MessagingMetrics struct {
	createdTotal   *prometheus.CounterVec
	dispatchTotal  *prometheus.CounterVec
	webhookTotal   *prometheus.CounterVec
	webhookLatency *prometheus.HistogramVec
}

func NewMessagingMetrics(reg prometheus.Registerer) *MessagingMetrics {
	m := &MessagingMetrics{
		createdTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "docshare",
			Subsystem: "messaging",
			Name:      "created_total",
			Help:      "Outbound messages created, by channel and dedupe suppression",
		}, []string{"channel", "suppressed"}),
		dispatchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "docshare",
			Subsystem: "messaging",
			Name:      "dispatch_total",
			Help:      "Dispatch attempts by channel and outcome (sent, retried, exhausted, failed)",
		}, []string{"channel", "outcome"}),
		webhookTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "docshare",
			Subsystem: "messaging",
			Name:      "webhook_total",
			Help:      "Provider webhook events by provider and result",
		}, []string{"provider", "result"}),
		webhookLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "docshare",
			Subsystem: "messaging",
			Name:      "webhook_latency_seconds",
			Help:      "Latency of provider webhook processing",
			Buckets:   prometheus.DefBuckets,
		}, []string{"provider"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.createdTotal, m.dispatchTotal, m.webhookTotal, m.webhookLatency)
	return m
}

func (m *MessagingMetrics) ObserveCreated(channel string, suppressed bool) {
	if m == nil {
		return
	}
	label := "false"
	if suppressed {
		label = "true"
	}
	m.createdTotal.WithLabelValues(channel, label).Inc()
}

func (m *MessagingMetrics) ObserveDispatch(channel, outcome string) {
	if m == nil {
		return
	}
	m.dispatchTotal.WithLabelValues(channel, outcome).Inc()
}

func (m *MessagingMetrics) ObserveWebhook(provider, result string) {
	if m == nil {
		return
	}
	m.webhookTotal.WithLabelValues(provider, result).Inc()
}

func (m *MessagingMetrics) ObserveWebhookLatency(provider string, seconds float64) {
	if m == nil {
		return
	}
	m.webhookLatency.WithLabelValues(provider).Observe(seconds)
}
