package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "chainchat"

// Fetch results.
const (
	FetchApplied = "applied"
	FetchStale   = "stale"
	FetchError   = "error"
)

// Metrics holds the controller's prometheus collectors. A nil *Metrics is a
// valid no-op recorder.
type Metrics struct {
	submissions   prometheus.Counter
	confirmations prometheus.Counter
	failures      *prometheus.CounterVec
	fetches       *prometheus.CounterVec
	fetchDuration prometheus.Histogram
	visible       prometheus.Gauge
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		submissions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submissions_total",
			Help:      "Messages accepted for on-chain submission.",
		}),
		confirmations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "confirmations_total",
			Help:      "Message transactions mined successfully.",
		}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "failures_total",
			Help:      "Message submissions that ended failed, by reason.",
		}, []string{"reason"}),
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "history_fetches_total",
			Help:      "History fetches, by result.",
		}, []string{"result"}),
		fetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "history_fetch_duration_seconds",
			Help:      "Duration of history fetches.",
			Buckets:   prometheus.DefBuckets,
		}),
		visible: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "visible_messages",
			Help:      "Messages in the visible timeline after the last refresh.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.submissions, m.confirmations, m.failures, m.fetches, m.fetchDuration, m.visible)
	}
	return m
}

func (m *Metrics) Submitted() {
	if m == nil {
		return
	}
	m.submissions.Inc()
}

func (m *Metrics) Confirmed() {
	if m == nil {
		return
	}
	m.confirmations.Inc()
}

func (m *Metrics) Failed(reason string) {
	if m == nil {
		return
	}
	m.failures.WithLabelValues(reason).Inc()
}

// Fetched records one history fetch outcome and its duration.
func (m *Metrics) Fetched(result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.fetches.WithLabelValues(result).Inc()
	m.fetchDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) SetVisible(n int) {
	if m == nil {
		return
	}
	m.visible.Set(float64(n))
}
