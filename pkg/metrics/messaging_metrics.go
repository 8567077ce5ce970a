package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Messaging metrics for the send pipeline, reconciliation and escalation lifecycle
var (
	// Send pipeline
	MessagesSentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "messaging_messages_sent_total",
		Help: "Total number of messages accepted, by the store that took the write",
	}, []string{"provenance", "message_type"})

	MessageSendFallbackTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "messaging_send_fallback_total",
		Help: "Total number of sends that fell back to the legacy store",
	})

	MessageSendFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "messaging_send_failed_total",
		Help: "Total number of rejected or failed sends",
	}, []string{"code"})

	MessageReadReceiptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "messaging_read_receipts_total",
		Help: "Total number of markRead calls",
	}, []string{"result"}) // "added", "noop"

	PreviewUpdateFailedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "messaging_preview_update_failed_total",
		Help: "Total number of accepted messages whose conversation preview could not be updated",
	})

	// Reconciliation
	ReconcileDuplicatesDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "messaging_reconcile_duplicates_dropped_total",
		Help: "Total number of legacy records dropped as duplicates of enhanced records",
	})

	ReconcileStaleSnapshotsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "messaging_reconcile_stale_snapshots_total",
		Help: "Total number of timelines built while a store was unavailable",
	}, []string{"store"})

	// Escalation lifecycle
	EscalationTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "messaging_escalation_transitions_total",
		Help: "Total number of escalation state machine transitions",
	}, []string{"action", "result"})

	// Attachments
	AttachmentRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "messaging_attachment_rejected_total",
		Help: "Total number of attachments rejected by validation",
	}, []string{"reason"})

	AttachmentUploadedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "messaging_attachment_uploaded_total",
		Help: "Total number of attachment uploads",
	}, []string{"status"})

	// Fan-out
	FanoutSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "messaging_fanout_subscribers",
		Help: "Current number of active fan-out subscriptions",
	})

	FanoutDeliveriesDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "messaging_fanout_deliveries_dropped_total",
		Help: "Total number of queued updates replaced by a newer snapshot",
	})

	FanoutBridgePublishTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "messaging_fanout_bridge_publish_total",
		Help: "Total number of Redis bridge publishes",
	}, []string{"status"})

	// Access gate
	BanGateBlockedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "messaging_ban_gate_blocked_total",
		Help: "Total number of requests blocked by an active account restriction",
	}, []string{"ban_type"})
)
