package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SchedulerMetrics exposes counters/histograms for transitions, sweeps and
// provider-day lock contention. A nil *SchedulerMetrics is a valid no-op.
type SchedulerMetrics struct {
	transitions *prometheus.CounterVec
	sweepItems  *prometheus.CounterVec
	lockWait    prometheus.Histogram
}

func NewSchedulerMetrics(reg prometheus.Registerer) *SchedulerMetrics {
	m := &SchedulerMetrics{
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinicq",
			Subsystem: "appointment",
			Name:      "transitions_total",
			Help:      "Appointment state transitions by event and result",
		}, []string{"event", "result"}),
		sweepItems: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinicq",
			Subsystem: "sweeper",
			Name:      "items_total",
			Help:      "Appointments handled by sweeper jobs by job and result",
		}, []string{"job", "result"}),
		lockWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "clinicq",
			Subsystem: "appointment",
			Name:      "lock_wait_seconds",
			Help:      "Time spent waiting for a provider-day lock",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.transitions, m.sweepItems, m.lockWait)
	return m
}

func (m *SchedulerMetrics) ObserveTransition(event, result string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(event, result).Inc()
}

func (m *SchedulerMetrics) ObserveSweepItem(job, result string) {
	if m == nil {
		return
	}
	m.sweepItems.WithLabelValues(job, result).Inc()
}

func (m *SchedulerMetrics) ObserveLockWait(d time.Duration) {
	if m == nil {
		return
	}
	m.lockWait.Observe(d.Seconds())
}
