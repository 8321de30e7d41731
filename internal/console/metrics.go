package console

import (
	"sync"

	"github.com/celeratec/cipp-console/internal/shared"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the console
type Metrics struct {
	// Counters
	RequestsTotal      prometheus.CounterVec
	FindingsTotal      prometheus.CounterVec
	GateDecisionsTotal prometheus.CounterVec
	FixesTotal         prometheus.CounterVec
	TransitionsTotal   prometheus.CounterVec
	NotificationsTotal prometheus.CounterVec
	ErrorsTotal        prometheus.CounterVec

	// Gauges
	SessionsActive prometheus.Gauge
	StreamClients  prometheus.Gauge

	// Histograms
	RequestDuration prometheus.HistogramVec
	ActionDuration  prometheus.HistogramVec
}

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// InitMetrics initializes global Prometheus metrics
func InitMetrics() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = &Metrics{
			RequestsTotal: *promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "cipp_console_http_requests_total",
					Help: "Total API requests by route and status code",
				},
				[]string{"route", "code"},
			),
			FindingsTotal: *promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "cipp_console_findings_total",
					Help: "Findings produced by source and severity",
				},
				[]string{"source", "severity"},
			),
			GateDecisionsTotal: *promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "cipp_console_gate_decisions_total",
					Help: "Settings save attempts by area and outcome",
				},
				[]string{"area", "outcome"},
			),
			FixesTotal: *promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "cipp_console_fixes_total",
					Help: "Automatic fixes applied by kind and outcome",
				},
				[]string{"kind", "outcome"},
			),
			TransitionsTotal: *promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "cipp_console_session_transitions_total",
					Help: "Remediation session transitions by target state",
				},
				[]string{"state"},
			),
			NotificationsTotal: *promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "cipp_console_notifications_total",
					Help: "Escalation notifications by channel and status",
				},
				[]string{"channel", "status"},
			),
			ErrorsTotal: *promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "cipp_console_errors_total",
					Help: "Total errors by component",
				},
				[]string{"component", "type"},
			),
			SessionsActive: promauto.NewGauge(
				prometheus.GaugeOpts{
					Name: "cipp_console_sessions_active",
					Help: "Remediation sessions currently held in memory",
				},
			),
			StreamClients: promauto.NewGauge(
				prometheus.GaugeOpts{
					Name: "cipp_console_stream_clients",
					Help: "Connected session stream clients",
				},
			),
			RequestDuration: *promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "cipp_console_http_request_duration_seconds",
					Help:    "API request duration",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"route"},
			),
			ActionDuration: *promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "cipp_console_directory_action_duration_seconds",
					Help:    "Duration of writes against the directory API",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"action"},
			),
		}
	})
	return globalMetrics
}

// GetMetrics returns the global metrics instance
func GetMetrics() *Metrics {
	if globalMetrics == nil {
		return InitMetrics()
	}
	return globalMetrics
}

func (m *Metrics) RecordRequest(route string, code int, seconds float64) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(route, statusLabel(code)).Inc()
	m.RequestDuration.WithLabelValues(route).Observe(seconds)
}

// RecordFindings counts every finding in a result set by severity.
func (m *Metrics) RecordFindings(source string, counts shared.SeverityCounts) {
	if m == nil {
		return
	}
	for severity, n := range map[shared.Severity]int{
		shared.SeverityError:   counts.Error,
		shared.SeverityWarning: counts.Warning,
		shared.SeverityInfo:    counts.Info,
	} {
		if n > 0 {
			m.FindingsTotal.WithLabelValues(source, string(severity)).Add(float64(n))
		}
	}
}

func (m *Metrics) RecordGateDecision(area, outcome string) {
	if m == nil {
		return
	}
	m.GateDecisionsTotal.WithLabelValues(area, outcome).Inc()
}

func (m *Metrics) RecordFix(kind, outcome string) {
	if m == nil {
		return
	}
	m.FixesTotal.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) RecordTransition(state string) {
	if m == nil {
		return
	}
	m.TransitionsTotal.WithLabelValues(state).Inc()
}

func (m *Metrics) RecordNotification(channel, status string) {
	if m == nil {
		return
	}
	m.NotificationsTotal.WithLabelValues(channel, status).Inc()
}

func (m *Metrics) RecordActionDuration(action string, seconds float64) {
	if m == nil {
		return
	}
	m.ActionDuration.WithLabelValues(action).Observe(seconds)
}

func (m *Metrics) SetActiveSessions(count int) {
	if m == nil {
		return
	}
	m.SessionsActive.Set(float64(count))
}

func (m *Metrics) SetStreamClients(count int) {
	if m == nil {
		return
	}
	m.StreamClients.Set(float64(count))
}

// RecordError records an error
func (m *Metrics) RecordError(component string, errorType string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(component, errorType).Inc()
}

func statusLabel(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
