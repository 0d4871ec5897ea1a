// Package metrics exposes the Prometheus collectors for the speech service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "aria_audio_cache_hits_total",
		Help: "Speech requests served from the audio cache.",
	})

	CacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "aria_audio_cache_misses_total",
		Help: "Speech requests that required a provider generation.",
	})

	GenerationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "aria_tts_generation_duration_seconds",
		Help:    "Wall time of provider audio generation.",
		Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30},
	}, []string{"provider"})

	GenerationErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aria_tts_generation_errors_total",
		Help: "Provider generation failures after retries, by provider and error kind.",
	}, []string{"provider", "kind"})

	CacheEvictions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aria_audio_cache_evictions_total",
		Help: "Cache entries removed by cleanup, by reason (age or size).",
	}, []string{"reason"})

	QuotaRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "aria_quota_rejections_total",
		Help: "Speech requests rejected because the monthly generation limit was reached.",
	})
)
