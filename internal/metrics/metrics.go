// Package metrics exposes Prometheus collectors for the push channel and
// the playback session.
package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "waves_connect"

var (
	// dealerFramesTotal counts inbound envelopes by type.
	dealerFramesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dealer",
			Name:      "frames_total",
			Help:      "Total number of inbound dealer envelopes",
		},
		[]string{"type"}, // message, request, ping, pong, unknown
	)

	// dealerClosesTotal counts connection teardowns by reason.
	dealerClosesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dealer",
			Name:      "closes_total",
			Help:      "Total number of dealer connection teardowns",
		},
		[]string{"reason"},
	)

	// dealerDroppedTotal counts messages dropped because their payload
	// could not be decoded.
	dealerDroppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dealer",
			Name:      "dropped_messages_total",
			Help:      "Total number of messages dropped on payload decoding failure",
		},
	)

	// listenerFailuresTotal counts listener errors and panics.
	listenerFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dealer",
			Name:      "listener_failures_total",
			Help:      "Total number of failed listener dispatches",
		},
		[]string{"kind"}, // message, request
	)

	// commandsTotal counts session commands by type.
	commandsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "commands_total",
			Help:      "Total number of playback commands handled",
		},
		[]string{"type", "status"}, // status: applied, rejected, error
	)

	// statePushesTotal counts state push attempts by outcome.
	statePushesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "state_pushes_total",
			Help:      "Total number of state push triggers by outcome",
		},
		[]string{"outcome"}, // sent, suppressed, coalesced, failed
	)

	// conflictBatchesTotal counts conflict resolution calls by outcome.
	conflictBatchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "conflict_batches_total",
			Help:      "Total number of state conflict calls",
		},
		[]string{"status"}, // success, error
	)

	// rejectedRefsTotal counts refs queued for conflict resolution.
	rejectedRefsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "rejected_refs_total",
			Help:      "Total number of state refs rejected by the session",
		},
	)

	// sequenceNumber is the last sequence number handed out.
	sequenceNumber = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "sequence_number",
			Help:      "Last sequence number attached to an outbound payload",
		},
	)

	allMetrics = []prometheus.Collector{
		dealerFramesTotal,
		dealerClosesTotal,
		dealerDroppedTotal,
		listenerFailuresTotal,
		commandsTotal,
		statePushesTotal,
		conflictBatchesTotal,
		rejectedRefsTotal,
		sequenceNumber,
	}
)

// Register registers all collectors with reg. Collectors that are
// already registered are skipped.
func Register(reg prometheus.Registerer) error {
	for _, c := range allMetrics {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	return nil
}

// Envelope types as reported on dealer metrics.
var envelopeTypes = map[string]bool{
	"message": true,
	"request": true,
	"ping":    true,
	"pong":    true,
}

// RecordFrame counts an inbound envelope.
func RecordFrame(envelopeType string) {
	if !envelopeTypes[envelopeType] {
		envelopeType = "unknown"
	}
	dealerFramesTotal.WithLabelValues(envelopeType).Inc()
}

// RecordClose counts a connection teardown.
func RecordClose(reason string) {
	dealerClosesTotal.WithLabelValues(reason).Inc()
}

// RecordDropped counts a message dropped on decoding failure.
func RecordDropped() {
	dealerDroppedTotal.Inc()
}

// RecordListenerFailure counts a failed listener dispatch.
func RecordListenerFailure(kind string) {
	listenerFailuresTotal.WithLabelValues(kind).Inc()
}

// RecordCommand counts a handled session command.
func RecordCommand(commandType, status string) {
	commandsTotal.WithLabelValues(commandType, status).Inc()
}

// RecordStatePush counts a state push trigger.
func RecordStatePush(outcome string) {
	statePushesTotal.WithLabelValues(outcome).Inc()
}

// RecordConflictBatch counts a conflict resolution call.
func RecordConflictBatch(status string) {
	conflictBatchesTotal.WithLabelValues(status).Inc()
}

// RecordRejected counts a rejected state ref.
func RecordRejected() {
	rejectedRefsTotal.Inc()
}

// SetSequence records the last sequence number handed out.
func SetSequence(seq int64) {
	sequenceNumber.Set(float64(seq))
}
