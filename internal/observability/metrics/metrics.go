package metrics

import "github.com/prometheus/client_golang/prometheus"

// AssistantMetrics exposes counters/histograms for the appointment assistant.
type AssistantMetrics struct {
	llmLatency     *prometheus.HistogramVec
	llmTokens      *prometheus.CounterVec
	toolCalls      *prometheus.CounterVec
	turnsTotal     *prometheus.CounterVec
	webhookTotal   *prometheus.CounterVec
	webhookLatency prometheus.Histogram
	storeTotal     *prometheus.CounterVec
}

func NewAssistantMetrics(reg prometheus.Registerer) *AssistantMetrics {
	m := &AssistantMetrics{
		llmLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "doctorbot",
			Subsystem: "conversation",
			Name:      "llm_latency_seconds",
			Help:      "Latency of LLM completions",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40, 60},
		}, []string{"model", "status"}),
		llmTokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "doctorbot",
			Subsystem: "conversation",
			Name:      "llm_tokens_total",
			Help:      "Tokens consumed by LLM completions",
		}, []string{"model", "type"}),
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "doctorbot",
			Subsystem: "agent",
			Name:      "tool_calls_total",
			Help:      "Tool invocations by outcome",
		}, []string{"tool", "outcome"}),
		turnsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "doctorbot",
			Subsystem: "agent",
			Name:      "turns_total",
			Help:      "Conversation turns by outcome",
		}, []string{"outcome"}),
		webhookTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "doctorbot",
			Subsystem: "notify",
			Name:      "webhook_total",
			Help:      "Doctor webhook calls by outcome",
		}, []string{"outcome"}),
		webhookLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "doctorbot",
			Subsystem: "notify",
			Name:      "webhook_latency_seconds",
			Help:      "Latency of doctor webhook calls",
			Buckets:   prometheus.DefBuckets,
		}),
		storeTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "doctorbot",
			Subsystem: "bookings",
			Name:      "store_total",
			Help:      "Appointment record writes by outcome",
		}, []string{"outcome"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.llmLatency, m.llmTokens, m.toolCalls, m.turnsTotal, m.webhookTotal, m.webhookLatency, m.storeTotal)
	return m
}

func (m *AssistantMetrics) ObserveLLM(model, status string, seconds float64) {
	if m == nil {
		return
	}
	m.llmLatency.WithLabelValues(model, status).Observe(seconds)
}

func (m *AssistantMetrics) AddTokens(model string, input, output int32) {
	if m == nil {
		return
	}
	if input > 0 {
		m.llmTokens.WithLabelValues(model, "input").Add(float64(input))
	}
	if output > 0 {
		m.llmTokens.WithLabelValues(model, "output").Add(float64(output))
	}
}

func (m *AssistantMetrics) ObserveToolCall(tool, outcome string) {
	if m == nil {
		return
	}
	m.toolCalls.WithLabelValues(tool, outcome).Inc()
}

func (m *AssistantMetrics) ObserveTurn(outcome string) {
	if m == nil {
		return
	}
	m.turnsTotal.WithLabelValues(outcome).Inc()
}

func (m *AssistantMetrics) ObserveWebhook(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.webhookTotal.WithLabelValues(outcome).Inc()
	m.webhookLatency.Observe(seconds)
}

func (m *AssistantMetrics) ObserveStore(outcome string) {
	if m == nil {
		return
	}
	m.storeTotal.WithLabelValues(outcome).Inc()
}
