package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	messagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "haven_messages_total",
			Help: "Messages appended to conversation logs by sender.",
		},
		[]string{"sender"},
	)

	generationTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "haven_generation_requests_total",
			Help: "Text generation calls by provider and success.",
		},
		[]string{"provider", "success"},
	)

	generationLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "haven_generation_latency_seconds",
			Help:    "Text generation latency distribution.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 4, 8, 16},
		},
		[]string{"provider"},
	)

	storeErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "haven_store_errors_total",
			Help: "Chat history store failures by operation (load/save/corrupt).",
		},
		[]string{"op"},
	)

	escalationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "haven_escalations_total",
			Help: "User messages whose sentiment crossed the escalation threshold.",
		},
	)

	noticesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "haven_notices_total",
			Help: "Escalation notices by kind and delivery success.",
		},
		[]string{"kind", "success"},
	)
)

// MustRegister registers collectors with the default registry (idempotent).
func MustRegister() {
	once.Do(func() {
		prometheus.MustRegister(
			messagesTotal, generationTotal, generationLatency,
			storeErrorsTotal, escalationsTotal, noticesTotal,
		)
	})
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

func IncMessage(sender string) {
	messagesTotal.WithLabelValues(sender).Inc()
}

func ObserveGeneration(provider string, success bool, d time.Duration) {
	generationTotal.WithLabelValues(provider, strconv.FormatBool(success)).Inc()
	generationLatency.WithLabelValues(provider).Observe(d.Seconds())
}

func IncStoreError(op string) {
	storeErrorsTotal.WithLabelValues(op).Inc()
}

func IncEscalation() {
	escalationsTotal.Inc()
}

func IncNotice(kind string, success bool) {
	noticesTotal.WithLabelValues(kind, strconv.FormatBool(success)).Inc()
}
