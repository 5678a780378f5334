package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Stream and submission outcomes used as metric labels.
const (
	OutcomeOK             = "ok"
	OutcomeHandlerError   = "handler_error"
	OutcomeInvalidEvent   = "invalid_event"
	OutcomeFrameError     = "frame_error"
	OutcomeTransportError = "transport_error"
	OutcomeTimeout        = "timeout"
	OutcomeTLSError       = "tls_error"
	OutcomeProtocolError  = "protocol_error"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "reportgate",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "reportgate",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
	gatewayConnections = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "reportgate",
			Subsystem: "gateway",
			Name:      "active_connections",
			Help:      "QUIC connections currently being served.",
		},
		[]string{"gateway"},
	)
	gatewayStreams = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "reportgate",
			Subsystem: "gateway",
			Name:      "streams_total",
			Help:      "Request streams handled by the gateway.",
		},
		[]string{"gateway", "outcome"},
	)
	gatewayStreamDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "reportgate",
			Subsystem: "gateway",
			Name:      "stream_duration_seconds",
			Help:      "Time from stream accept to response written.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"gateway", "outcome"},
	)
	clientSubmissions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "reportgate",
			Subsystem: "client",
			Name:      "submissions_total",
			Help:      "Worker report submissions by outcome.",
		},
		[]string{"outcome"},
	)
	clientSubmitDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "reportgate",
			Subsystem: "client",
			Name:      "submit_duration_seconds",
			Help:      "Submit wall time including dial.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"outcome"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			httpDuration,
			gatewayConnections,
			gatewayStreams,
			gatewayStreamDuration,
			clientSubmissions,
			clientSubmitDuration,
		)
	})
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}

// TrackGatewayConnection increments the active gauge and returns its release.
func TrackGatewayConnection(gateway string) func() {
	RegisterMetrics()
	g := gatewayConnections.WithLabelValues(gateway)
	g.Inc()
	return g.Dec
}

func RecordGatewayStream(gateway, outcome string, duration time.Duration) {
	RegisterMetrics()
	gatewayStreams.WithLabelValues(gateway, outcome).Inc()
	gatewayStreamDuration.WithLabelValues(gateway, outcome).Observe(duration.Seconds())
}

func RecordSubmission(outcome string, duration time.Duration) {
	RegisterMetrics()
	clientSubmissions.WithLabelValues(outcome).Inc()
	clientSubmitDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}
