// Package metrics registers the Prometheus collectors exposed on the
// listener's /metrics endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// BuildsReceived counts push events accepted by the webhook listener.
	BuildsReceived = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "zeus",
		Name:      "builds_received_total",
		Help:      "Push events accepted and persisted as builds.",
	})

	// BuildsFinished counts builds by terminal status.
	BuildsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "zeus",
		Name:      "builds_finished_total",
		Help:      "Builds that reached a terminal status.",
	}, []string{"status"})

	// ContainersInUse tracks containers currently allocated per user.
	ContainersInUse = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "zeus",
		Name:      "containers_in_use",
		Help:      "Containers currently counted against each user's quota.",
	}, []string{"username"})

	// StageDuration observes wall-clock seconds per finished stage.
	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "zeus",
		Name:      "stage_duration_seconds",
		Help:      "Container wall-clock time per finished stage.",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
	}, []string{"stage"})
)
