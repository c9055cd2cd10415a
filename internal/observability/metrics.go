package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	DispatchesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ride_matching", Name: "dispatches_total",
		Help: "Ride requests that entered dispatch"})
	NoCandidatesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ride_matching", Name: "no_candidates_total",
		Help: "Ride requests with an empty candidate set"})
	AssignmentsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ride_matching", Name: "assignments_total",
		Help: "Requests resolved with a winning driver"})
	RaceLossesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ride_matching", Name: "race_losses_total",
		Help: "Accept attempts that lost the acceptance race"})
	CapacityRejectionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ride_matching", Name: "capacity_rejections_total",
		Help: "Accept attempts rejected on capacity re-validation"})
	ExpiredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ride_matching", Name: "expired_total",
		Help: "Requests that expired with no acceptance"})
	CancelledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ride_matching", Name: "cancelled_total",
		Help: "Requests cancelled by the passenger"})
	ReconciliationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ride_matching", Name: "reconciliations_total",
		Help: "Winning accepts whose persistence failed and need manual reconciliation"})
	ActiveDispatches = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "ride_matching", Name: "active_dispatches",
		Help: "Requests currently open for acceptance"})
	LocationUpdatesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ride_matching", Name: "location_updates_total",
		Help: "Driver location updates accepted"})
	LocationThrottledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ride_matching", Name: "location_throttled_total",
		Help: "Driver location updates dropped by the rate limiter"})
	SurgeMultiplier = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "ride_matching", Name: "surge_multiplier",
		Help:    "Distribution of resolved surge multipliers",
		Buckets: []float64{1.0, 1.25, 1.5, 2.0, 2.5, 3.0}})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_matching", Name: "http_requests_total",
			Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ride_matching",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
