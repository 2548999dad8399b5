package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Poll Loop Metrics
var (
	// PollCyclesTotal tracks poll cycles by outcome (completed, failed, skipped_in_progress, skipped_bad_config)
	PollCyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "restream_poll_cycles_total",
			Help: "Total poll cycles by result",
		},
		[]string{"result"},
	)

	// PollDuration tracks the duration of completed poll cycles in seconds
	PollDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "restream_poll_duration_seconds",
			Help:    "Poll cycle duration in seconds",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
	)

	// ChannelMetaErrors tracks per-channel metadata fetch failures
	ChannelMetaErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "restream_channel_meta_errors_total",
			Help: "Total channel metadata fetch failures",
		},
	)
)

// Token Lifecycle Metrics
var (
	// TokenRefreshTotal tracks refresh exchanges by result
	TokenRefreshTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "restream_token_refresh_total",
			Help: "Total token refresh attempts by result",
		},
		[]string{"result"},
	)

	// UnauthorizedRetries tracks requests resent after a 401 and a refresh
	UnauthorizedRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "restream_unauthorized_retries_total",
			Help: "Total requests retried after a 401 response",
		},
	)

	// APIErrorsTotal tracks non-2xx responses from the Restream API by status code
	APIErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "restream_api_errors_total",
			Help: "Total error responses from the Restream API by status code",
		},
		[]string{"status_code"},
	)

	// ConnectionStatus is 1 for the current connection status label and 0 otherwise
	ConnectionStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "restream_connection_status",
			Help: "Current connection status (1 = active)",
		},
		[]string{"status"},
	)
)

// Downstream Metrics
var (
	// SnapshotSubscribers tracks connected websocket snapshot consumers
	SnapshotSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "restream_snapshot_subscribers",
			Help: "Number of connected snapshot feed clients",
		},
	)
)
