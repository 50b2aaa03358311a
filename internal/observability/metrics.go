package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	MatchesTotal     = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "matches_total", Help: "Total number of committed matches"})
	NoMatchTotal     = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "no_match_total", Help: "Ride requests that found no available driver"})
	MatchLatency     = promauto.NewHistogram(prometheus.HistogramOpts{Namespace: "ride_dispatch", Name: "match_latency_seconds", Help: "Match latency seconds"})
	DriversAvailable = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "ride_dispatch", Name: "drivers_available", Help: "Number of drivers available for matching"})
	RideFare         = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "ride_dispatch",
		Name:      "ride_fare",
		Help:      "Fare of committed rides in currency units",
		Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 5000},
	})
	PersistenceErrors = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "persistence_errors_total", Help: "Failed durable writes"})
	NotifyErrors      = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "notify_errors_total", Help: "Best-effort notifications that failed after commit"},
		[]string{"kind"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ride_dispatch",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	CompletionsConsumed = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "completions_consumed_total", Help: "Total ride completion messages consumed"})
	CompletionsInvalid  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "completions_invalid_total", Help: "Total invalid completion messages received"})
	CompletionsApplied  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "completions_applied_total", Help: "Total completions that released a driver"})
	CompletionsFailed   = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "completions_failed_total", Help: "Total completions that could not be applied"})

	SimulationTicks = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "simulation_ticks_total", Help: "Simulation steps by outcome"},
		[]string{"outcome"},
	)
)
