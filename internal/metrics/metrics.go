package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "solebook"

const (
	LabelMethod = "method"
	LabelRoute  = "route"
	LabelStatus = "status"
	LabelResult = "result"
	LabelKind   = "kind"
)

// Poll outcomes for PollConnections.
const (
	ResultOK      = "ok"
	ResultError   = "error"
	ResultSkipped = "skipped"
	ResultTimeout = "timeout"
)

// HTTP
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{LabelMethod, LabelRoute, LabelStatus},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{LabelMethod, LabelRoute},
	)
)

// Email polling
var (
	PollRuns = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "poll_runs_total",
		Help:      "Completed email poll invocations",
	})

	PollRunDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "poll_run_duration_seconds",
		Help:      "Wall time of one email poll invocation",
		Buckets:   []float64{1, 5, 15, 30, 60, 120, 240, 480},
	})

	PollConnections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_connections_total",
			Help:      "Mailbox connections processed, by outcome",
		},
		[]string{LabelResult},
	)

	EmailNotificationsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "email_notifications_created_total",
		Help:      "Email notifications inserted by the poller",
	})
)

// Notifications
var (
	NotificationsDismissed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_dismissed_total",
			Help:      "Notifications dismissed, by reference kind",
		},
		[]string{LabelKind},
	)
)
