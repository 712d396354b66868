package mailer

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "mailroom"

var (
	queueSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "items",
			Help:      "Number of queue items by status",
		},
		[]string{"status"},
	)

	deliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "deliveries_total",
			Help:      "Total delivery attempts by outcome",
		},
		[]string{"outcome"},
	)

	sendDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "send_duration_seconds",
			Help:      "Time to deliver one item through the transport",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
	)

	ticksSkipped = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "ticks_skipped_total",
			Help:      "Drain passes skipped because a previous pass was still running",
		},
	)

	cleanupRemoved = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "cleanup_removed_total",
			Help:      "Failed items removed by cleanup",
		},
	)
)

// Delivery outcomes recorded on the deliveries counter.
const (
	outcomeSent   = "sent"
	outcomeRetry  = "retry"
	outcomeFailed = "failed"
)

func recordDelivery(outcome string) {
	deliveries.WithLabelValues(outcome).Inc()
}

func recordSendDuration(d time.Duration) {
	sendDuration.Observe(d.Seconds())
}

// RecordQueueStats updates the queue size gauges.
func RecordQueueStats(stats QueueStats) {
	queueSize.WithLabelValues(string(StatusPending)).Set(float64(stats.Pending))
	queueSize.WithLabelValues(string(StatusProcessing)).Set(float64(stats.Processing))
	queueSize.WithLabelValues(string(StatusSent)).Set(float64(stats.Sent))
	queueSize.WithLabelValues(string(StatusFailed)).Set(float64(stats.Failed))
}
