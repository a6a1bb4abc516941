package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	OFDSendTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ofd_send_total",
			Help: "OFD send attempts by outcome.",
		},
		[]string{"status"},
	)

	OFDSendDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ofd_send_duration_seconds",
			Help:    "Duration of OFD exchanges including retries.",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
	)

	OFDBreakerState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ofd_breaker_state",
			Help: "Circuit breaker state: 0 closed, 1 open, 2 half-open.",
		},
	)

	OFDThrottledDevices = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ofd_throttled_devices",
			Help: "Devices currently inside their reconnect interval.",
		},
	)

	QueueEnqueuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queue_enqueued_total",
			Help: "Queue insert attempts by lane and whether the command was new.",
		},
		[]string{"lane", "accepted"},
	)

	QueueDispatchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queue_dispatch_total",
			Help: "Queued command deliveries by result.",
		},
		[]string{"result"},
	)

	GuardConflictsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guard_conflicts_total",
			Help: "Operations refused by a compliance guard.",
		},
		[]string{"reason"},
	)

	IdempotentReplaysTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "idempotent_replays_total",
			Help: "Operations answered from an existing idempotency record.",
		},
		[]string{"operation"},
	)

	AuthenticationAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authentication_attempts_total",
			Help: "Bearer token checks by result.",
		},
		[]string{"result"},
	)

	DomainEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "domain_events_total",
			Help: "Domain events published after commit, by event name.",
		},
		[]string{"event"},
	)
)

// MustRegister registers every collector on the default registry with a
// constant service label.
func MustRegister(serviceName string) {
	reg := prometheus.WrapRegistererWith(prometheus.Labels{"service": serviceName}, prometheus.DefaultRegisterer)
	reg.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDurationSeconds,
		OFDSendTotal,
		OFDSendDurationSeconds,
		OFDBreakerState,
		OFDThrottledDevices,
		QueueEnqueuedTotal,
		QueueDispatchTotal,
		GuardConflictsTotal,
		IdempotentReplaysTotal,
		AuthenticationAttemptsTotal,
		DomainEventsTotal,
	)
}
