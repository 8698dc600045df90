package app

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	purchasesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "number_purchases_total",
		Help: "Purchase attempts by outcome.",
	}, []string{"provider", "outcome"})

	purchaseDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "number_purchase_duration_seconds",
		Help:    "End-to-end purchase latency including the provider call.",
		Buckets: prometheus.DefBuckets,
	})

	outboxPublished = promauto.NewCounter(prometheus.CounterOpts{
		Name: "outbox_events_published_total",
		Help: "Outbox events published to the message broker.",
	})
)
