package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registry = prometheus.NewRegistry()
	once     sync.Once

	messagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cfebook_messages_total",
			Help: "Total number of PITCH messages applied, by type.",
		},
		[]string{"type"},
	)
	bboChangesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cfebook_bbo_changes_total",
			Help: "Total number of top-of-book changes, by event tag.",
		},
		[]string{"tag"},
	)
	gapsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cfebook_gaps_total",
		Help: "Total number of sequence gaps detected.",
	})
	sessionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cfebook_sessions_total",
			Help: "Total number of sessions processed, by final status.",
		},
		[]string{"status"},
	)
	sessionDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cfebook_session_duration_seconds",
		Help:    "Wall time spent replaying one session.",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
	})
	publishErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cfebook_publish_errors_total",
			Help: "Total number of failed publish batches, by sink.",
		},
		[]string{"sink"},
	)
)

// Init registers metrics with the registry once.
func Init() {
	once.Do(func() {
		registry.MustRegister(
			prometheus.NewGoCollector(),
			prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
			messagesTotal,
			bboChangesTotal,
			gapsTotal,
			sessionsTotal,
			sessionDuration,
			publishErrorsTotal,
		)
	})
}

// Handler exposes the Prometheus metrics endpoint handler.
func Handler() http.Handler {
	Init()
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// AddMessages adds n applied messages of the named type.
func AddMessages(msgType string, n uint64) {
	Init()
	if n == 0 {
		return
	}
	messagesTotal.WithLabelValues(msgType).Add(float64(n))
}

// IncBBOChange counts one BBO change for tag.
func IncBBOChange(tag string) {
	Init()
	bboChangesTotal.WithLabelValues(tag).Inc()
}

// AddGaps adds n detected gaps.
func AddGaps(n int) {
	Init()
	if n <= 0 {
		return
	}
	gapsTotal.Add(float64(n))
}

// ObserveSession records a finished session.
func ObserveSession(status string, d time.Duration) {
	Init()
	sessionsTotal.WithLabelValues(status).Inc()
	sessionDuration.Observe(d.Seconds())
}

// IncPublishError counts one failed publish for sink.
func IncPublishError(sink string) {
	Init()
	publishErrorsTotal.WithLabelValues(sink).Inc()
}
