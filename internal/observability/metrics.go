package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bittyctl",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total control surface HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "bittyctl",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Control surface HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
	commands = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bittyctl",
			Subsystem: "link",
			Name:      "commands_total",
			Help:      "Commands sent per token and outcome.",
		},
		[]string{"token", "outcome"},
	)
	echoLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "bittyctl",
			Subsystem: "link",
			Name:      "echo_latency_seconds",
			Help:      "Time from command write to matched echo.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 3, 5},
		},
		[]string{"token"},
	)
	evictions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bittyctl",
			Subsystem: "link",
			Name:      "evictions_total",
			Help:      "Links removed from the registry.",
		},
		[]string{"reason"},
	)
	activeLinks = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "bittyctl",
			Subsystem: "link",
			Name:      "active",
			Help:      "Links currently admitted.",
		},
	)
	validations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bittyctl",
			Subsystem: "discovery",
			Name:      "validations_total",
			Help:      "Candidate validations by result.",
		},
		[]string{"result"},
	)
	replugTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bittyctl",
			Subsystem: "discovery",
			Name:      "replug_transitions_total",
			Help:      "Replug recovery state transitions.",
		},
		[]string{"state"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			httpDuration,
			commands,
			echoLatency,
			evictions,
			activeLinks,
			validations,
			replugTransitions,
		)
	})
}

func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(method, path, statusLabel).Observe(duration.Seconds())
}

// RecordCommand counts one command outcome; latency is observed only for
// matched echoes.
func RecordCommand(token, outcome string, latency time.Duration) {
	RegisterMetrics()
	commands.WithLabelValues(token, outcome).Inc()
	if outcome == "ok" {
		echoLatency.WithLabelValues(token).Observe(latency.Seconds())
	}
}

func RecordEviction(reason string) {
	RegisterMetrics()
	evictions.WithLabelValues(reason).Inc()
}

func SetActiveLinks(n int) {
	RegisterMetrics()
	activeLinks.Set(float64(n))
}

func RecordValidation(result string) {
	RegisterMetrics()
	validations.WithLabelValues(result).Inc()
}

func RecordReplugState(state string) {
	RegisterMetrics()
	replugTransitions.WithLabelValues(state).Inc()
}
