package worker

import (
	"context"
	"errors"
	"fmt"
	"os"

	"storywriter/internal/models"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
	"go.uber.org/zap"
)

var (
	chaptersGenerated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "storywriter_chapters_generated_total",
		Help: "Total number of chapters generated and persisted.",
	})
	chapterFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "storywriter_chapter_failures_total",
		Help: "Total number of chapter failures, partitioned by reason.",
	}, []string{"reason"})
	runDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "storywriter_pipeline_run_duration_seconds",
		Help:    "Duration of chapter pipeline runs.",
		Buckets: []float64{1, 10, 30, 60, 120, 300, 600, 1200, 3600},
	}, []string{"status"})
	chapterDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "storywriter_chapter_generation_duration_seconds",
		Help:    "Duration of a single chapter generation including persistence.",
		Buckets: prometheus.ExponentialBuckets(1, 2, 10),
	})
)

// failureReason классифицирует ошибку главы для метрик.
func failureReason(err error) string {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	case errors.Is(err, models.ErrValidation):
		return "validation"
	case errors.Is(err, models.ErrAIGenerationFailed):
		return "capability"
	default:
		return "persist"
	}
}

const pushJobName = "storywriter_cli"

// PushRunMetrics отправляет метрики короткоживущего CLI-прогона в Pushgateway.
func PushRunMetrics(ctx context.Context, gatewayURL string, logger *zap.Logger) error {
	if gatewayURL == "" {
		return nil
	}
	instance, err := os.Hostname()
	if err != nil {
		instance = "unknown"
	}
	pusher := push.New(gatewayURL, pushJobName).
		Gatherer(prometheus.DefaultGatherer).
		Grouping("instance", instance)
	if err := pusher.PushContext(ctx); err != nil {
		return fmt.Errorf("не удалось отправить метрики в Pushgateway: %w", err)
	}
	logger.Info("Run metrics pushed", zap.String("gateway", gatewayURL), zap.String("instance", instance))
	return nil
}
