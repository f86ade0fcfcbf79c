package scrape

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes session lifecycle counters. A nil *Metrics is a valid no-op.
type Metrics struct {
	created     prometheus.Counter
	released    *prometheus.CounterVec
	active      prometheus.Gauge
	steps       *prometheus.CounterVec
	stepLatency *prometheus.HistogramVec
	reaperSkips prometheus.Counter
}

// NewMetrics registers the scrape collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		created: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sahl",
			Subsystem: "scrape",
			Name:      "sessions_created_total",
			Help:      "Automation sessions created.",
		}),
		released: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sahl",
			Subsystem: "scrape",
			Name:      "sessions_released_total",
			Help:      "Automation sessions released, by reason.",
		}, []string{"reason"}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "sahl",
			Subsystem: "scrape",
			Name:      "sessions_active",
			Help:      "Automation sessions currently held.",
		}),
		steps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sahl",
			Subsystem: "scrape",
			Name:      "steps_total",
			Help:      "Protocol steps executed, by step and outcome code.",
		}, []string{"step", "outcome"}),
		stepLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "sahl",
			Subsystem: "scrape",
			Name:      "step_duration_seconds",
			Help:      "Wall time of protocol steps.",
			Buckets:   []float64{1, 2.5, 5, 10, 15, 20, 30, 45, 60},
		}, []string{"step"}),
		reaperSkips: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sahl",
			Subsystem: "scrape",
			Name:      "reaper_busy_skips_total",
			Help:      "Idle sessions the reaper skipped because a step held the lock.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.created, m.released, m.active, m.steps, m.stepLatency, m.reaperSkips)
	}
	return m
}

func (m *Metrics) sessionCreated() {
	if m == nil {
		return
	}
	m.created.Inc()
	m.active.Inc()
}

func (m *Metrics) sessionReleased(reason string) {
	if m == nil {
		return
	}
	m.released.WithLabelValues(reason).Inc()
	m.active.Dec()
}

func (m *Metrics) stepFinished(step string, err error, took time.Duration) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = Code(err)
	}
	m.steps.WithLabelValues(step, outcome).Inc()
	m.stepLatency.WithLabelValues(step).Observe(took.Seconds())
}

func (m *Metrics) reaperSkipped() {
	if m == nil {
		return
	}
	m.reaperSkips.Inc()
}
