package main

import (
	"go-emrtd-connector/models"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ServerMetrics tracks validation sessions and their verdicts.
type ServerMetrics struct {
	SessionsOpened prometheus.Counter
	Verdicts       *prometheus.CounterVec
	ActiveSockets  prometheus.Gauge
}

func NewServerMetrics(reg prometheus.Registerer) *ServerMetrics {
	f := promauto.With(reg)
	return &ServerMetrics{
		SessionsOpened: f.NewCounter(prometheus.CounterOpts{
			Name: "emrtd_validation_sessions_opened_total",
			Help: "Validation sessions opened",
		}),
		Verdicts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "emrtd_validation_verdicts_total",
			Help: "Submissions by outcome: authentic, rejected or error",
		}, []string{"outcome"}),
		ActiveSockets: f.NewGauge(prometheus.GaugeOpts{
			Name: "emrtd_validation_sockets_active",
			Help: "Open validation sockets",
		}),
	}
}

// observeVerdict counts v; nil counts a submission answered with an error.
func (m *ServerMetrics) observeVerdict(v *models.Verdict) {
	outcome := "error"
	switch {
	case v == nil:
	case v.AuthenticContent:
		outcome = "authentic"
	default:
		outcome = "rejected"
	}
	m.Verdicts.WithLabelValues(outcome).Inc()
}
