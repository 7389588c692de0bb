package observer

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricsEnabled = true // Flag to control metric collection

	// Labels for inbound message metrics
	inboundLabels = []string{"channel", "tenant_id"}
	// Labels for routing outcome metrics
	routeOutcomeLabels = []string{"channel", "tenant_id", "outcome"}

	// Inbound counters per channel
	InboundMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lead_router_inbound_messages_total",
			Help: "Total number of inbound messages received, labeled by channel.",
		},
		inboundLabels,
	)
	InboundDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lead_router_inbound_dropped_total",
			Help: "Total number of inbound messages dropped (unresolved tenant, invalid payload).",
		},
		[]string{"channel", "reason"},
	)
	RouteOutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lead_router_route_outcomes_total",
			Help: "Total count of routing pipeline outcomes per inbound message.",
		},
		routeOutcomeLabels,
	)
	RoutingDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lead_router_routing_duration_seconds",
			Help:    "Histogram of inbound message routing durations.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~10s
		},
		inboundLabels,
	)
)

// Lead lifecycle metrics
var (
	leadLabels = []string{"tenant_id", "source"}

	LeadsCreatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lead_router_leads_created_total",
			Help: "Total number of leads created.",
		},
		leadLabels,
	)
	LeadsDedupedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lead_router_leads_deduped_total",
			Help: "Total number of lead creations suppressed by dedup, labeled by dedup key.",
		},
		[]string{"tenant_id", "dedup_key"},
	)
	LeadsAssignedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lead_router_leads_assigned_total",
			Help: "Total number of leads assigned, labeled by strategy.",
		},
		[]string{"tenant_id", "strategy"},
	)
	UnassignedLeadsGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "lead_router_unassigned_leads",
			Help: "Current number of unassigned leads per tenant.",
		},
		[]string{"tenant_id"},
	)
)

// AI responder metrics
var (
	aiLabels = []string{"tenant_id", "status"}

	AIRepliesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lead_router_ai_replies_total",
			Help: "Total number of AI reply attempts, labeled by final status.",
		},
		aiLabels,
	)
	AIMutedTurnsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lead_router_ai_muted_turns_total",
			Help: "Total number of inbound turns suppressed by the AI mute state.",
		},
		[]string{"tenant_id"},
	)
	AIRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lead_router_ai_request_duration_seconds",
			Help:    "Histogram of AI completion round-trip durations.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~25s
		},
		[]string{"tenant_id"},
	)
	AIPoolQueueLength = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lead_router_ai_pool_queue_length",
		Help: "Approximate number of tasks waiting in the AI responder pool.",
	})
)

// Follow-up worker metrics
var (
	FollowupsDispatchedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lead_router_followups_dispatched_total",
			Help: "Total number of follow-up messages dispatched, labeled by status.",
		},
		[]string{"tenant_id", "status"},
	)
	FollowupsCancelledTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lead_router_followups_cancelled_total",
			Help: "Total number of pending follow-ups cancelled, labeled by reason.",
		},
		[]string{"tenant_id", "reason"},
	)
	FollowupTickDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "lead_router_followup_tick_duration_seconds",
		Help:    "Histogram of follow-up scheduler tick durations.",
		Buckets: prometheus.DefBuckets,
	})
	WorkerLastBeatTimestamp = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "lead_router_worker_last_beat_timestamp_seconds",
			Help: "Unix timestamp of the last recorded worker heartbeat.",
		},
		[]string{"worker"},
	)
)

// Labels for database operations
var (
	dbOperationLabels = []string{"operation", "entity", "status"}

	DatabaseOperationDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lead_router_db_operation_duration_seconds",
			Help:    "Histogram of database operation durations.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms to ~16s
		},
		dbOperationLabels,
	)
)

// InitMetrics controls metric collection. Call during application startup.
func InitMetrics(enabled bool) {
	metricsEnabled = enabled
}

// tenantLabel renders a tenant id as a metric label, "unknown" when unresolved.
func tenantLabel(tenantID int64) string {
	if tenantID <= 0 {
		return "unknown"
	}
	return strconv.FormatInt(tenantID, 10)
}

// IncInboundMessage increments the inbound message counter.
func IncInboundMessage(channel string, tenantID int64) {
	if !metricsEnabled {
		return
	}
	InboundMessagesTotal.WithLabelValues(channel, tenantLabel(tenantID)).Inc()
}

// IncInboundDropped increments the dropped inbound counter.
func IncInboundDropped(channel, reason string) {
	if !metricsEnabled {
		return
	}
	InboundDroppedTotal.WithLabelValues(channel, reason).Inc()
}

// IncRouteOutcome increments the routing outcome counter.
func IncRouteOutcome(channel string, tenantID int64, outcome string) {
	if !metricsEnabled {
		return
	}
	RouteOutcomesTotal.WithLabelValues(channel, tenantLabel(tenantID), outcome).Inc()
}

// ObserveRoutingDuration records the time spent routing one inbound message.
func ObserveRoutingDuration(channel string, tenantID int64, duration time.Duration) {
	if !metricsEnabled {
		return
	}
	RoutingDurationSeconds.WithLabelValues(channel, tenantLabel(tenantID)).Observe(duration.Seconds())
}

// IncLeadCreated increments the created-lead counter.
func IncLeadCreated(tenantID int64, source string) {
	if !metricsEnabled {
		return
	}
	LeadsCreatedTotal.WithLabelValues(tenantLabel(tenantID), source).Inc()
}

// IncLeadDeduped increments the dedup-suppressed counter.
func IncLeadDeduped(tenantID int64, dedupKey string) {
	if !metricsEnabled {
		return
	}
	LeadsDedupedTotal.WithLabelValues(tenantLabel(tenantID), dedupKey).Inc()
}

// IncLeadAssigned increments the assigned-lead counter.
func IncLeadAssigned(tenantID int64, strategy string) {
	if !metricsEnabled {
		return
	}
	LeadsAssignedTotal.WithLabelValues(tenantLabel(tenantID), strategy).Inc()
}

// SetUnassignedLeads sets the unassigned-lead gauge for a tenant.
func SetUnassignedLeads(tenantID int64, count int64) {
	if !metricsEnabled {
		return
	}
	UnassignedLeadsGauge.WithLabelValues(tenantLabel(tenantID)).Set(float64(count))
}

// IncAIReply increments the AI reply counter.
func IncAIReply(tenantID int64, status string) {
	if !metricsEnabled {
		return
	}
	AIRepliesTotal.WithLabelValues(tenantLabel(tenantID), status).Inc()
}

// IncAIMutedTurn increments the muted-turn counter.
func IncAIMutedTurn(tenantID int64) {
	if !metricsEnabled {
		return
	}
	AIMutedTurnsTotal.WithLabelValues(tenantLabel(tenantID)).Inc()
}

// ObserveAIRequestDuration records one AI completion round-trip.
func ObserveAIRequestDuration(tenantID int64, duration time.Duration) {
	if !metricsEnabled {
		return
	}
	AIRequestDurationSeconds.WithLabelValues(tenantLabel(tenantID)).Observe(duration.Seconds())
}

// SetAIPoolQueueLength sets the AI pool queue gauge.
func SetAIPoolQueueLength(length int) {
	if !metricsEnabled {
		return
	}
	AIPoolQueueLength.Set(float64(length))
}

// IncFollowupDispatched increments the dispatched follow-up counter.
func IncFollowupDispatched(tenantID int64, status string) {
	if !metricsEnabled {
		return
	}
	FollowupsDispatchedTotal.WithLabelValues(tenantLabel(tenantID), status).Inc()
}

// IncFollowupCancelled increments the cancelled follow-up counter.
func IncFollowupCancelled(tenantID int64, reason string) {
	if !metricsEnabled {
		return
	}
	FollowupsCancelledTotal.WithLabelValues(tenantLabel(tenantID), reason).Inc()
}

// ObserveFollowupTickDuration records one scheduler tick.
func ObserveFollowupTickDuration(duration time.Duration) {
	if !metricsEnabled {
		return
	}
	FollowupTickDurationSeconds.Observe(duration.Seconds())
}

// SetWorkerLastBeat records the last heartbeat timestamp for a worker.
func SetWorkerLastBeat(worker string, at time.Time) {
	if !metricsEnabled {
		return
	}
	WorkerLastBeatTimestamp.WithLabelValues(worker).Set(float64(at.Unix()))
}

// ObserveDbOperationDuration records the duration for a database operation.
func ObserveDbOperationDuration(operation, entity string, duration time.Duration, err error) {
	if !metricsEnabled {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	DatabaseOperationDurationSeconds.WithLabelValues(operation, entity, status).Observe(duration.Seconds())
}
