// Package ai - клиенты текстовой генерации (OpenAI-совместимый и Ollama).
package ai

import (
	"context"
	"fmt"
	"strings"
	"time"

	"storywriter/internal/config"
	"storywriter/internal/interfaces"
	"storywriter/internal/models"

	"github.com/pkoukk/tiktoken-go"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Options - общие настройки клиентов, собираются из config.Config.
type Options struct {
	Provider          string
	Model             string
	BaseURL           string
	APIKey            string
	Timeout           time.Duration
	Temperature       float64
	MaxTokens         int
	RequestsPerMinute int
}

// OptionsFromConfig переносит поля AI_* из конфигурации.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Provider:          cfg.AIProvider,
		Model:             cfg.AIModel,
		BaseURL:           cfg.AIBaseURL,
		APIKey:            cfg.AIAPIKey,
		Timeout:           cfg.AITimeout,
		Temperature:       cfg.AITemperature,
		MaxTokens:         cfg.AIMaxTokens,
		RequestsPerMinute: cfg.AIRequestsPerMinute,
	}
}

// NewAIClient выбирает реализацию один раз, по имени провайдера.
func NewAIClient(opts Options, logger *zap.Logger) (interfaces.AIClient, error) {
	var (
		client interfaces.AIClient
		err    error
	)
	switch strings.ToLower(opts.Provider) {
	case config.AIProviderOpenAI:
		client = newOpenAIClient(opts, logger)
	case config.AIProviderOllama:
		client, err = newOllamaClient(opts, logger)
	default:
		return nil, fmt.Errorf("неизвестный тип AI клиента: '%s'", opts.Provider)
	}
	if err != nil {
		return nil, err
	}

	logger.Info("AI client created",
		zap.String("provider", opts.Provider),
		zap.String("model", opts.Model),
		zap.Duration("timeout", opts.Timeout),
		zap.Int("requests_per_minute", opts.RequestsPerMinute),
	)

	if opts.RequestsPerMinute > 0 {
		client = NewRateLimitedClient(client, opts.RequestsPerMinute)
	}
	return client, nil
}

// defaults подставляет значения по умолчанию для незаданных параметров.
func (o Options) defaults(params interfaces.GenerationParams) (temperature float64, maxTokens int) {
	temperature, maxTokens = o.Temperature, o.MaxTokens
	if params.Temperature != nil {
		temperature = *params.Temperature
	}
	if params.MaxTokens != nil {
		maxTokens = *params.MaxTokens
	}
	return temperature, maxTokens
}

func capabilityError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", models.ErrAIGenerationFailed, fmt.Sprintf(format, args...))
}

// rateLimitedClient ограничивает частоту обращений к провайдеру.
type rateLimitedClient struct {
	next    interfaces.AIClient
	limiter *rate.Limiter
}

// NewRateLimitedClient оборачивает клиента лимитом requestsPerMinute (burst 1).
func NewRateLimitedClient(next interfaces.AIClient, requestsPerMinute int) interfaces.AIClient {
	return &rateLimitedClient{
		next:    next,
		limiter: rate.NewLimiter(rate.Limit(float64(requestsPerMinute)/60.0), 1),
	}
}

func (c *rateLimitedClient) GenerateText(ctx context.Context, systemPrompt, userInput string, params interfaces.GenerationParams) (string, interfaces.UsageInfo, error) {
	start := time.Now()
	if err := c.limiter.Wait(ctx); err != nil {
		return "", interfaces.UsageInfo{}, fmt.Errorf("%w: ожидание лимита запросов: %v", models.ErrAIGenerationFailed, err)
	}
	aiRateLimitWait.Observe(time.Since(start).Seconds())
	return c.next.GenerateText(ctx, systemPrompt, userInput, params)
}

// estimateTokens оценивает число токенов, если провайдер не вернул usage.
// Без словаря tiktoken считаем слова.
func estimateTokens(model, text string) int {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
	}
	if err != nil {
		return len(strings.Fields(text))
	}
	return len(enc.Encode(text, nil, nil))
}
