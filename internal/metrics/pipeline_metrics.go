package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Analysis pipeline metrics.
// All metrics are low-cardinality (no camera_id/event_id labels)

var (
	// EventsReceivedTotal counts detection events accepted at intake
	EventsReceivedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_events_received_total",
			Help: "Detection events accepted by source",
		},
		[]string{"source", "trigger_kind"},
	)

	// EventsDedupedTotal counts intake duplicates dropped before queueing
	EventsDedupedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_events_deduped_total",
			Help: "Detection events dropped as duplicates",
		},
		[]string{"source"},
	)

	// PipelineQueueDepth tracks queued events awaiting a camera worker
	PipelineQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vigil_pipeline_queue_depth",
			Help: "Events queued across all per-camera FIFOs",
		},
	)

	// PipelineStageLatency tracks per-stage wall time
	PipelineStageLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vigil_pipeline_stage_latency_ms",
			Help:    "Stage latency in milliseconds",
			Buckets: []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000, 20000},
		},
		[]string{"stage"},
	)

	// PipelineOutcomesTotal counts terminal pipeline outcomes per event
	PipelineOutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_pipeline_outcomes_total",
			Help: "Terminal pipeline outcomes",
		},
		[]string{"outcome"},
	)

	// ProviderAttemptsTotal counts provider invocations by result
	ProviderAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_provider_attempts_total",
			Help: "Provider invocations by provider and result",
		},
		[]string{"provider", "result"},
	)

	// ProviderLatency tracks provider call latency
	ProviderLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vigil_provider_latency_ms",
			Help:    "Provider call latency in milliseconds",
			Buckets: []float64{100, 250, 500, 1000, 2500, 5000, 10000},
		},
		[]string{"provider"},
	)

	// EvidenceDegradationsTotal counts evidence tier downgrades
	EvidenceDegradationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_evidence_degradations_total",
			Help: "Evidence tier downgrades by origin tier and reason",
		},
		[]string{"from_mode", "reason"},
	)

	// CorrelationGroupsTotal counts correlation groups formed
	CorrelationGroupsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vigil_correlation_groups_total",
			Help: "Correlation groups formed",
		},
	)

	// RuleTriggersTotal counts rule firings
	RuleTriggersTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vigil_rule_triggers_total",
			Help: "Alert rule firings",
		},
	)

	// RuleCooldownSkipsTotal counts matches suppressed by cooldown
	RuleCooldownSkipsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vigil_rule_cooldown_skips_total",
			Help: "Rule matches suppressed by an active cooldown",
		},
	)

	// ActionDeliveriesTotal counts notification action outcomes
	ActionDeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_action_deliveries_total",
			Help: "Notification action deliveries by channel and result",
		},
		[]string{"channel", "result"},
	)

	// StreamClients is the number of connected alert-stream clients
	StreamClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vigil_stream_clients",
			Help: "Connected alert stream websocket clients",
		},
	)
)

// Helper functions for metrics recording

func RecordEventReceived(source, triggerKind string) {
	EventsReceivedTotal.WithLabelValues(source, triggerKind).Inc()
}

func RecordEventDeduped(source string) {
	EventsDedupedTotal.WithLabelValues(source).Inc()
}

func SetQueueDepth(depth int) {
	PipelineQueueDepth.Set(float64(depth))
}

func RecordStageLatency(stage string, latencyMs float64) {
	PipelineStageLatency.WithLabelValues(stage).Observe(latencyMs)
}

func RecordOutcome(outcome string) {
	PipelineOutcomesTotal.WithLabelValues(outcome).Inc()
}

func RecordProviderAttempt(provider, result string) {
	ProviderAttemptsTotal.WithLabelValues(provider, result).Inc()
}

func RecordProviderLatency(provider string, latencyMs float64) {
	ProviderLatency.WithLabelValues(provider).Observe(latencyMs)
}

func RecordDegradation(fromMode, reason string) {
	EvidenceDegradationsTotal.WithLabelValues(fromMode, reason).Inc()
}

func RecordCorrelationGroup() {
	CorrelationGroupsTotal.Inc()
}

func RecordRuleTrigger() {
	RuleTriggersTotal.Inc()
}

func RecordCooldownSkip() {
	RuleCooldownSkipsTotal.Inc()
}

func RecordActionDelivery(channel, result string) {
	ActionDeliveriesTotal.WithLabelValues(channel, result).Inc()
}

func SetStreamClients(n int) {
	StreamClients.Set(float64(n))
}
