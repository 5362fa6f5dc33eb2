package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	// Traffic: команды по типу и исходу (ACCEPTED/REJECTED/FAILED)
	Commands *prometheus.CounterVec

	// Latency: полный цикл load -> decide -> append -> apply
	CommandDuration *prometheus.HistogramVec

	// Конфликты версий (оптимистичная блокировка), каждый ведёт к повтору
	Conflicts prometheus.Counter

	// Saturation: состояние Circuit Breaker журнала (0 - closed, 1 - half-open, 2 - open)
	BreakerState prometheus.Gauge

	// Audit: заполненность буфера (backpressure)
	AuditBufferFill prometheus.Gauge

	PublishFailures *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	// Null Object: без реестра пишем в локальный, никуда не подключенный
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Metrics{
		Commands: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "constraint_commands_total",
			Help: "Total number of dispatched commands by outcome.",
		}, []string{"command", "outcome"}),

		CommandDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "constraint_command_duration_seconds",
			Help:    "Histogram of command dispatch latencies.",
			Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}, []string{"command"}),

		Conflicts: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "constraint_conflicts_total",
			Help: "Optimistic concurrency conflicts on append.",
		}),

		BreakerState: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "constraint_eventlog_breaker_state",
			Help: "Current state of the event log circuit breaker (0=closed, 1=half-open, 2=open).",
		}),

		AuditBufferFill: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "constraint_audit_buffer_utilization",
			Help: "Current number of records in the audit buffer.",
		}),

		PublishFailures: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "constraint_publish_failures_total",
			Help: "Events that could not be delivered to the bus.",
		}, []string{"type"}),
	}
}
