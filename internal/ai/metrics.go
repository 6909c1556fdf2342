package ai

import (
	"storywriter/internal/interfaces"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	aiRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storywriter_ai_requests_total",
			Help: "Total number of requests to the text generation provider.",
		},
		[]string{"provider", "model", "status"},
	)
	aiRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "storywriter_ai_request_duration_seconds",
			Help:    "Histogram of text generation request durations.",
			Buckets: []float64{1, 2.5, 5, 10, 20, 40, 60, 90, 120, 180, 300},
		},
		[]string{"provider", "model"},
	)
	aiPromptTokens = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "storywriter_ai_prompt_tokens",
			Help:    "Histogram of prompt token counts.",
			Buckets: prometheus.LinearBuckets(250, 250, 20),
		},
		[]string{"provider", "model"},
	)
	aiCompletionTokens = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "storywriter_ai_completion_tokens",
			Help:    "Histogram of completion token counts.",
			Buckets: prometheus.LinearBuckets(250, 250, 20),
		},
		[]string{"provider", "model"},
	)
	aiRateLimitWait = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "storywriter_ai_rate_limit_wait_seconds",
			Help:    "Time spent waiting for the provider rate limiter.",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
		},
	)
)

func observeUsage(provider, model string, usage interfaces.UsageInfo) {
	if usage.TotalTokens <= 0 {
		return
	}
	aiPromptTokens.WithLabelValues(provider, model).Observe(float64(usage.PromptTokens))
	aiCompletionTokens.WithLabelValues(provider, model).Observe(float64(usage.CompletionTokens))
}
