// Package observability exposes prometheus metrics for the enrollment core.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	claimsCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "enrollment_service",
		Subsystem: "core",
		Name:      "claims_total",
		Help:      "Number of successful claims, labeled by outcome.",
	}, []string{"outcome"})

	promotionsCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "enrollment_service",
		Subsystem: "core",
		Name:      "waitlist_promotions_total",
		Help:      "Number of waitlisted records promoted into freed slots.",
	})

	rosterReplacedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "enrollment_service",
		Subsystem: "core",
		Name:      "roster_replacements_total",
		Help:      "Number of bulk roster replacements applied.",
	})

	rosterSizeHistogram = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "enrollment_service",
		Subsystem: "core",
		Name:      "roster_replacement_size",
		Help:      "Roster sizes installed by bulk replacement.",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
	})

	conflictCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "enrollment_service",
		Subsystem: "core",
		Name:      "transaction_conflicts_total",
		Help:      "Number of operations rejected by serialization conflicts.",
	})

	lastClaimGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "enrollment_service",
		Subsystem: "core",
		Name:      "last_claim_timestamp_seconds",
		Help:      "Unix timestamp of the most recent accepted claim.",
	})
)

func init() {
	prometheus.MustRegister(claimsCounter, promotionsCounter, rosterReplacedCounter, rosterSizeHistogram, conflictCounter, lastClaimGauge)
}

// RecordClaim counts an accepted claim and advances the claim watermark.
func RecordClaim(outcome string, ts time.Time) {
	claimsCounter.WithLabelValues(outcome).Inc()
	if !ts.IsZero() {
		lastClaimGauge.Set(float64(ts.Unix()))
	}
}

// RecordPromotion counts one waitlist promotion.
func RecordPromotion() {
	promotionsCounter.Inc()
}

// RecordRosterReplaced counts one bulk replacement of the given size.
func RecordRosterReplaced(size int) {
	rosterReplacedCounter.Inc()
	rosterSizeHistogram.Observe(float64(size))
}

// RecordConflict counts a serialization failure surfaced to a caller.
func RecordConflict() {
	conflictCounter.Inc()
}
