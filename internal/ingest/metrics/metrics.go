package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EventsProcessedTotal tracks projector outcomes per event type.
	// outcome is "applied", "skipped" (idempotent no-op) or "failed".
	EventsProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainsync_events_processed_total",
			Help: "Total events run through the projector",
		},
		[]string{"event_type", "outcome"},
	)

	// JobsEnqueuedTotal tracks jobs accepted by the durable queue.
	JobsEnqueuedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainsync_jobs_enqueued_total",
			Help: "Total jobs enqueued from the live subscription",
		},
		[]string{"event_type"},
	)

	// JobRetriesTotal tracks delivery retries scheduled by the queue.
	JobRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainsync_job_retries_total",
			Help: "Total job delivery retries",
		},
		[]string{"event_type"},
	)

	// DeadLettersTotal tracks jobs that exhausted their retry budget.
	DeadLettersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainsync_dead_letters_total",
			Help: "Total jobs moved to the dead-letter state",
		},
		[]string{"event_type"},
	)

	// DeadLetterReplaysTotal tracks operator-requested replays.
	DeadLetterReplaysTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chainsync_dead_letter_replays_total",
			Help: "Total dead-lettered jobs requeued via replay requests",
		},
	)

	// DecodeFailuresTotal tracks logs dropped because they failed to decode.
	DecodeFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainsync_decode_failures_total",
			Help: "Total raw logs dropped as undecodable",
		},
		[]string{"contract"},
	)

	// SubscriptionReconnectsTotal tracks live subscription reconnects.
	SubscriptionReconnectsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainsync_subscription_reconnects_total",
			Help: "Total live subscription reconnect attempts",
		},
		[]string{"contract"},
	)

	// SyncCursorBlock tracks each contract's catch-up watermark.
	SyncCursorBlock = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chainsync_sync_cursor_block",
			Help: "Highest fully scanned block per contract",
		},
		[]string{"contract"},
	)

	// ChainHeadBlock tracks the chain head seen by the scanner.
	ChainHeadBlock = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chainsync_chain_head_block",
			Help: "Latest chain head block number",
		},
	)
)
