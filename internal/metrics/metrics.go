package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TokensIssuedTotal counts tokens handed out for selected assets
	TokensIssuedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "randmedia_tokens_issued_total",
		Help: "Total number of asset tokens issued",
	})

	// TokenResolutionsTotal counts token lookups by outcome
	TokenResolutionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "randmedia_token_resolutions_total",
		Help: "Total number of token lookups",
	}, []string{"result"}) // "hit" or "miss"

	// TokensPrunedTotal counts expired mappings dropped from the in-memory store,
	// whether on insertion or by the sweeper. Redis expires keys on its own.
	TokensPrunedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "randmedia_tokens_pruned_total",
		Help: "Total number of expired token mappings removed from the in-memory store",
	})

	// TokenStoreSize tracks resident mappings, expired ones included.
	// It is refreshed by sweeps and stats reads, never per selection.
	TokenStoreSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "randmedia_token_store_size",
		Help: "Number of token mappings held at the last sweep or stats read",
	})

	// ListingScansTotal counts directory scans by outcome
	ListingScansTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "randmedia_listing_scans_total",
		Help: "Total number of category directory scans",
	}, []string{"result"}) // "refreshed", "empty" or "failed"

	// ListingCacheSize tracks cached category listings
	ListingCacheSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "randmedia_listing_cache_size",
		Help: "Current number of cached category listings",
	})

	// SelectionsTotal counts random selections by group and outcome
	SelectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "randmedia_selections_total",
		Help: "Total number of random asset selections",
	}, []string{"group", "result"})

	// SelectionDuration tracks time spent holding the shared lock for a selection
	SelectionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "randmedia_selection_duration_seconds",
		Help:    "Random selection duration in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// AssetFetchesTotal counts fetch-by-token requests by outcome
	AssetFetchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "randmedia_asset_fetches_total",
		Help: "Total number of asset fetches",
	}, []string{"result"})

	// RequestDuration tracks HTTP handling latency per route
	RequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "randmedia_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"route", "status"})

	// AuthFailuresTotal counts rejected listing requests
	AuthFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "randmedia_auth_failures_total",
		Help: "Total number of requests rejected for a wrong or missing key",
	})

	// RateLimitedTotal counts requests refused by the rate limiter
	RateLimitedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "randmedia_rate_limited_total",
		Help: "Total number of requests refused by the rate limiter",
	})
)

// RecordTokenResolution records a token lookup
func RecordTokenResolution(hit bool) {
	if hit {
		TokenResolutionsTotal.WithLabelValues("hit").Inc()
		return
	}
	TokenResolutionsTotal.WithLabelValues("miss").Inc()
}

// RecordListingScan records a directory scan outcome
func RecordListingScan(result string) {
	ListingScansTotal.WithLabelValues(result).Inc()
}

// RecordSelection records a selection outcome and how long it took
func RecordSelection(group, result string, seconds float64) {
	CountSelection(group, result)
	SelectionDuration.Observe(seconds)
}

// CountSelection records a selection outcome that never reached the selector
func CountSelection(group, result string) {
	SelectionsTotal.WithLabelValues(group, result).Inc()
}

// RecordFetch records a fetch outcome
func RecordFetch(result string) {
	AssetFetchesTotal.WithLabelValues(result).Inc()
}

// RecordRequestDuration records HTTP handling duration
func RecordRequestDuration(route, status string, seconds float64) {
	RequestDuration.WithLabelValues(route, status).Observe(seconds)
}

// SetListingCacheSize publishes the number of cached listings
func SetListingCacheSize(n int) {
	ListingCacheSize.Set(float64(n))
}

// SetStoreSizes publishes the current state sizes
func SetStoreSizes(tokens, listings int) {
	TokenStoreSize.Set(float64(tokens))
	ListingCacheSize.Set(float64(listings))
}
