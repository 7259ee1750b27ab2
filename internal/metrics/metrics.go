// Package metrics defines the Prometheus instrumentation for the live client.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Wire protocol metrics
var (
	// FramesDecodedTotal tracks decoded frames by operation
	FramesDecodedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "live_frames_decoded_total",
			Help: "Total wire frames decoded by operation",
		},
		[]string{"operation"},
	)

	// FrameDecodeErrorsTotal tracks frames dropped due to decode failures
	FrameDecodeErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "live_frame_decode_errors_total",
			Help: "Total frames dropped due to decode or decompression failures",
		},
	)

	// FramesSentTotal tracks client-originated frames by operation
	FramesSentTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "live_frames_sent_total",
			Help: "Total client-originated frames sent by operation",
		},
		[]string{"operation"},
	)
)

// Event dispatch metrics
var (
	// EventsDispatchedTotal tracks successfully parsed live events by cmd
	EventsDispatchedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "live_events_dispatched_total",
			Help: "Total live events dispatched by cmd",
		},
		[]string{"cmd"},
	)

	// EventsMalformedTotal tracks event documents skipped as malformed
	EventsMalformedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "live_events_malformed_total",
			Help: "Total event documents skipped because they failed to parse",
		},
	)

	// EventQueueDropsTotal tracks events dropped because the consumer queue was full
	EventQueueDropsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "live_event_queue_drops_total",
			Help: "Total events dropped because the consumer queue was full or closed",
		},
	)
)

// REST lifecycle metrics
var (
	// APIRequestsTotal tracks open-platform REST calls by endpoint and status
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "live_api_requests_total",
			Help: "Total open-platform REST calls by endpoint and status",
		},
		[]string{"endpoint", "status"},
	)

	// APIRequestDuration tracks open-platform REST call latency in seconds
	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "live_api_request_duration_seconds",
			Help:    "Open-platform REST call duration in seconds",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"endpoint"},
	)
)

// Session metrics
var (
	// SessionState tracks the current session state
	// (0=idle, 1=starting, 2=connected, 3=listening, 4=shutting_down, 5=closed, 6=failed)
	SessionState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "live_session_state",
			Help: "Current live session state (0=idle, 1=starting, 2=connected, 3=listening, 4=shutting_down, 5=closed, 6=failed)",
		},
	)

	// SessionsStartedTotal tracks sessions started
	SessionsStartedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "live_sessions_started_total",
			Help: "Total live sessions started",
		},
	)

	// HeartbeatsSentTotal tracks keep-alives by kind (ws or api)
	HeartbeatsSentTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "live_heartbeats_sent_total",
			Help: "Total keep-alive heartbeats sent by kind",
		},
		[]string{"kind"},
	)

	// HeartbeatFailuresTotal tracks keep-alive failures by kind (ws or api)
	HeartbeatFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "live_heartbeat_failures_total",
			Help: "Total keep-alive heartbeat failures by kind",
		},
		[]string{"kind"},
	)
)

// Stream server metrics
var (
	// StreamClientsConnected tracks currently connected event stream clients
	StreamClientsConnected = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "stream_clients_connected",
			Help: "Currently connected websocket event stream clients",
		},
	)

	// StreamMessagesSentTotal tracks envelopes written to stream clients
	StreamMessagesSentTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "stream_messages_sent_total",
			Help: "Total envelopes written to event stream clients",
		},
	)

	// BusSubscriberDropsTotal tracks envelopes dropped for slow bus subscribers
	BusSubscriberDropsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bus_subscriber_drops_total",
			Help: "Total envelopes dropped because a bus subscriber was too slow",
		},
	)
)
