package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	sessionConnectAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wsclient",
			Subsystem: "session",
			Name:      "connect_attempts_total",
			Help:      "Transport open attempts, split by fresh open vs reopen.",
		},
		[]string{"mode"},
	)
	sessionOpens = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "wsclient",
			Subsystem: "session",
			Name:      "transport_opens_total",
			Help:      "Successful transport opens.",
		},
	)
	sessionVerified = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "wsclient",
			Subsystem: "session",
			Name:      "verified_total",
			Help:      "Accepted session handshakes.",
		},
	)
	sessionDisconnects = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wsclient",
			Subsystem: "session",
			Name:      "disconnects_total",
			Help:      "Transport closes by close code and origin.",
		},
		[]string{"code", "remote"},
	)
	sessionReconnects = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "wsclient",
			Subsystem: "session",
			Name:      "reconnects_scheduled_total",
			Help:      "Reconnect attempts scheduled after a non-terminal close.",
		},
	)
	sessionPackets = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wsclient",
			Subsystem: "session",
			Name:      "packets_total",
			Help:      "Packets sent or received.",
		},
		[]string{"direction"},
	)
	sessionBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wsclient",
			Subsystem: "session",
			Name:      "bytes_total",
			Help:      "Frame bytes sent or received.",
		},
		[]string{"direction"},
	)
	sessionSendFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "wsclient",
			Subsystem: "session",
			Name:      "send_failures_total",
			Help:      "Transport writes that failed and were requeued.",
		},
	)
	sessionQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "wsclient",
			Subsystem: "session",
			Name:      "send_queue_depth",
			Help:      "Packets waiting in the outbound queue.",
		},
	)
	sessionPingRTT = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "wsclient",
			Subsystem: "session",
			Name:      "ping_rtt_seconds",
			Help:      "Keepalive ping round-trip time in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
	)
	sessionLivenessTimeouts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "wsclient",
			Subsystem: "session",
			Name:      "liveness_timeouts_total",
			Help:      "Connections closed after too many missed pongs.",
		},
	)
	sessionProtocolErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wsclient",
			Subsystem: "session",
			Name:      "protocol_errors_total",
			Help:      "Received frames rejected by the session layer.",
		},
		[]string{"kind"},
	)

	hubClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "wsclient",
			Subsystem: "hub",
			Name:      "clients",
			Help:      "Connected hub clients.",
		},
	)
	hubPackets = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wsclient",
			Subsystem: "hub",
			Name:      "packets_total",
			Help:      "Packets handled by the hub.",
		},
		[]string{"direction"},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wsclient",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "wsclient",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			sessionConnectAttempts,
			sessionOpens,
			sessionVerified,
			sessionDisconnects,
			sessionReconnects,
			sessionPackets,
			sessionBytes,
			sessionSendFailures,
			sessionQueueDepth,
			sessionPingRTT,
			sessionLivenessTimeouts,
			sessionProtocolErrors,
			hubClients,
			hubPackets,
			httpRequests,
			httpDuration,
		)
	})
}

func RecordConnectAttempt(reopen bool) {
	RegisterMetrics()
	mode := "open"
	if reopen {
		mode = "reopen"
	}
	sessionConnectAttempts.WithLabelValues(mode).Inc()
}

func RecordTransportOpen() {
	RegisterMetrics()
	sessionOpens.Inc()
}

func RecordVerified() {
	RegisterMetrics()
	sessionVerified.Inc()
}

func RecordDisconnect(code int, remote bool) {
	RegisterMetrics()
	sessionDisconnects.WithLabelValues(strconv.Itoa(code), strconv.FormatBool(remote)).Inc()
}

func RecordReconnectScheduled() {
	RegisterMetrics()
	sessionReconnects.Inc()
}

func RecordPacketSent(frameBytes int) {
	RegisterMetrics()
	sessionPackets.WithLabelValues("sent").Inc()
	sessionBytes.WithLabelValues("sent").Add(float64(frameBytes))
}

func RecordPacketReceived(frameBytes int) {
	RegisterMetrics()
	sessionPackets.WithLabelValues("received").Inc()
	sessionBytes.WithLabelValues("received").Add(float64(frameBytes))
}

func RecordSendFailure() {
	RegisterMetrics()
	sessionSendFailures.Inc()
}

func SetQueueDepth(n int) {
	RegisterMetrics()
	sessionQueueDepth.Set(float64(n))
}

func ObservePingRTT(rtt time.Duration) {
	RegisterMetrics()
	sessionPingRTT.Observe(rtt.Seconds())
}

func RecordLivenessTimeout() {
	RegisterMetrics()
	sessionLivenessTimeouts.Inc()
}

func RecordProtocolError(kind string) {
	RegisterMetrics()
	sessionProtocolErrors.WithLabelValues(kind).Inc()
}

func AddHubClients(delta int) {
	RegisterMetrics()
	hubClients.Add(float64(delta))
}

func RecordHubPacket(direction string) {
	RegisterMetrics()
	hubPackets.WithLabelValues(direction).Inc()
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}
