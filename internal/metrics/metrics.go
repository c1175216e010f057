// Package metrics 对话引擎的 Prometheus 指标
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/run-bigpig/bizassist/internal/models"
)

const namespace = "bizassist"

// Metrics 实现 assistant.Recorder
type Metrics struct {
	reg prometheus.Registerer

	Turns           *prometheus.CounterVec
	TurnLatency     prometheus.Histogram
	RetrievalSize   prometheus.Histogram
	MeetingsBooked  prometheus.Counter
	LeadCaptures    *prometheus.CounterVec
	RateLimited     prometheus.Counter
	SessionFailures prometheus.Counter
}

// New 在 reg 上注册指标，reg 为空时使用默认注册表
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		reg: reg,

		Turns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Conversation turns handled, by classified intent and resulting phase",
		}, []string{"intent", "phase"}),

		// LLM 调用可能需要数十秒
		TurnLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_duration_seconds",
			Help:      "Time to handle one conversation turn",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}),

		RetrievalSize: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "retrieval_passages",
			Help:      "Passages returned per knowledge retrieval",
			Buckets:   []float64{0, 1, 2, 3, 5, 10},
		}),

		MeetingsBooked: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "meetings_scheduled_total",
			Help:      "Meetings created through the scheduling gateway",
		}),

		LeadCaptures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lead_captures_total",
			Help:      "Lead capture outcomes after a scheduled meeting",
		}, []string{"status"}),

		RateLimited: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_total",
			Help:      "Messages rejected by the per-conversation rate limit",
		}),

		SessionFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_persist_failures_total",
			Help:      "Turns whose state could not be saved",
		}),
	}
}

func (m *Metrics) TurnHandled(intent models.Intent, phase models.Phase, elapsed time.Duration) {
	if intent == "" {
		intent = "none"
	}
	m.Turns.WithLabelValues(string(intent), string(phase)).Inc()
	m.TurnLatency.Observe(elapsed.Seconds())
}

func (m *Metrics) RetrievalServed(passages int) {
	m.RetrievalSize.Observe(float64(passages))
}

func (m *Metrics) MeetingScheduled() {
	m.MeetingsBooked.Inc()
}

func (m *Metrics) LeadCaptured(status models.CaptureStatus) {
	m.LeadCaptures.WithLabelValues(string(status)).Inc()
}

// ObserveSessions 注册当前会话数的 gauge
func (m *Metrics) ObserveSessions(count func() int) {
	m.reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "conversations_active",
		Help:      "Conversations currently held by the session store",
	}, func() float64 {
		return float64(count())
	}))
}
