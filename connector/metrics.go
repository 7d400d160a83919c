package connector

import (
	"time"

	"go-emrtd-connector/mrtderr"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts reads by outcome and records how long they took.
type Metrics struct {
	Reads        *prometheus.CounterVec
	ReadDuration prometheus.Histogram
	ActiveReads  prometheus.Gauge
}

// NewMetrics registers the connector metrics with reg. A nil reg leaves them
// unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Reads: f.NewCounterVec(prometheus.CounterOpts{
			Name: "emrtd_reads_total",
			Help: "Passport reads by outcome (ok or the error kind)",
		}, []string{"outcome"}),
		ReadDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "emrtd_read_duration_seconds",
			Help:    "Duration of passport reads from start to completion",
			Buckets: []float64{0.25, 0.5, 1, 2, 3, 5, 8, 13, 21, 34},
		}),
		ActiveReads: f.NewGauge(prometheus.GaugeOpts{
			Name: "emrtd_reads_active",
			Help: "Passport reads in flight",
		}),
	}
}

func (m *Metrics) started() {
	m.ActiveReads.Inc()
}

// ObserveRead records one completed read. Call with time.Now() at the start
// of the read.
func (m *Metrics) ObserveRead(start time.Time, err error) {
	m.ActiveReads.Dec()
	m.ReadDuration.Observe(time.Since(start).Seconds())
	outcome := "ok"
	if err != nil {
		outcome = string(mrtderr.KindOf(err))
		if outcome == "" {
			outcome = "unknown"
		}
	}
	m.Reads.WithLabelValues(outcome).Inc()
}
