package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the relay
type Metrics struct {
	// Session lifecycle
	ActiveSessions  prometheus.Gauge
	SessionsCreated prometheus.Counter
	SessionsClosed  prometheus.Counter

	// Message routing
	ClientMessages    *prometheus.CounterVec
	Notifications     *prometheus.CounterVec
	QueuedReplays     prometheus.Counter
	RejectedWhileBusy prometheus.Counter
	DroppedWhileMuted prometheus.Counter

	// Upstream
	UpstreamEvents     *prometheus.CounterVec
	UpstreamErrors     prometheus.Counter
	CredentialFailures prometheus.Counter

	// Tool bridge
	ToolInvocations prometheus.Counter
	ToolFailures    prometheus.Counter
}

// New creates and registers all relay metrics on the given registerer
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "relay_active_sessions",
			Help: "Current number of active relay sessions",
		}),
		SessionsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "relay_sessions_created_total",
			Help: "Total number of relay sessions created",
		}),
		SessionsClosed: factory.NewCounter(prometheus.CounterOpts{
			Name: "relay_sessions_closed_total",
			Help: "Total number of relay sessions closed",
		}),
		ClientMessages: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_client_messages_total",
			Help: "Client messages routed, by message type",
		}, []string{"type"}),
		Notifications: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_notifications_total",
			Help: "Notifications sent to clients, by notification type",
		}, []string{"type"}),
		QueuedReplays: factory.NewCounter(prometheus.CounterOpts{
			Name: "relay_queued_replays_total",
			Help: "Pending messages replayed after the session became ready",
		}),
		RejectedWhileBusy: factory.NewCounter(prometheus.CounterOpts{
			Name: "relay_rejected_while_responding_total",
			Help: "Generation requests rejected because a response was in flight",
		}),
		DroppedWhileMuted: factory.NewCounter(prometheus.CounterOpts{
			Name: "relay_audio_dropped_muted_total",
			Help: "Audio chunks dropped while the session was muted",
		}),
		UpstreamEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_upstream_events_total",
			Help: "Normalized upstream events processed, by kind",
		}, []string{"kind"}),
		UpstreamErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "relay_upstream_errors_total",
			Help: "Error events reported by the upstream service",
		}),
		CredentialFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "relay_credential_failures_total",
			Help: "Ephemeral credential acquisition failures",
		}),
		ToolInvocations: factory.NewCounter(prometheus.CounterOpts{
			Name: "relay_tool_invocations_total",
			Help: "Tool calls bridged to external capabilities",
		}),
		ToolFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "relay_tool_failures_total",
			Help: "Tool invocations that returned a fallback result",
		}),
	}
}
