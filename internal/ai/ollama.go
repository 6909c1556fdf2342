package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"storywriter/internal/config"
	"storywriter/internal/interfaces"

	"github.com/ollama/ollama/api"
	"go.uber.org/zap"
)

// ollamaClient - провайдер B: нативный API Ollama.
type ollamaClient struct {
	client *api.Client
	opts   Options
	logger *zap.Logger
}

var _ interfaces.AIClient = (*ollamaClient)(nil)

func newOllamaClient(opts Options, logger *zap.Logger) (*ollamaClient, error) {
	baseURL := strings.TrimSuffix(opts.BaseURL, "/")
	baseURL = strings.TrimSuffix(baseURL, "/v1")

	parsedURL, err := url.Parse(baseURL)
	if err != nil || parsedURL.Scheme == "" || parsedURL.Host == "" {
		return nil, fmt.Errorf("ошибка парсинга Ollama Base URL '%s': %v", opts.BaseURL, err)
	}

	return &ollamaClient{
		client: api.NewClient(parsedURL, &http.Client{Timeout: opts.Timeout}),
		opts:   opts,
		logger: logger.Named("OllamaClient"),
	}, nil
}

func (c *ollamaClient) GenerateText(ctx context.Context, systemPrompt, userInput string, params interfaces.GenerationParams) (string, interfaces.UsageInfo, error) {
	var usageInfo interfaces.UsageInfo
	model := c.opts.Model

	if strings.TrimSpace(userInput) == "" {
		aiRequestsTotal.WithLabelValues(config.AIProviderOllama, model, "error").Inc()
		return "", usageInfo, capabilityError("пустой промпт")
	}

	messages := make([]api.Message, 0, 2)
	if systemPrompt != "" {
		messages = append(messages, api.Message{Role: "system", Content: systemPrompt})
	}
	messages = append(messages, api.Message{Role: "user", Content: userInput})

	temperature, maxTokens := c.opts.defaults(params)
	stream := false
	req := &api.ChatRequest{
		Model:    model,
		Messages: messages,
		Stream:   &stream,
		Options: map[string]any{
			"temperature": temperature,
			"num_predict": maxTokens,
		},
	}

	timeout := c.opts.Timeout
	if params.Timeout > 0 {
		timeout = params.Timeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	c.logger.Debug("Sending chat request",
		zap.String("model", model),
		zap.Int("system_prompt_bytes", len(systemPrompt)),
		zap.Int("user_input_bytes", len(userInput)),
	)

	startTime := time.Now()
	var resp api.ChatResponse
	var content strings.Builder
	err := c.client.Chat(ctx, req, func(r api.ChatResponse) error {
		content.WriteString(r.Message.Content)
		resp = r
		return nil
	})
	duration := time.Since(startTime)

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			c.logger.Warn("Ollama request timed out", zap.Duration("timeout", timeout), zap.Error(err))
		} else {
			c.logger.Warn("Ollama request failed", zap.Duration("duration", duration), zap.Error(err))
		}
		aiRequestsTotal.WithLabelValues(config.AIProviderOllama, model, "error").Inc()
		return "", usageInfo, capabilityError("%v", err)
	}

	text := content.String()
	if strings.TrimSpace(text) == "" {
		aiRequestsTotal.WithLabelValues(config.AIProviderOllama, model, "error_empty_response").Inc()
		return "", usageInfo, capabilityError("получен пустой ответ")
	}

	aiRequestsTotal.WithLabelValues(config.AIProviderOllama, model, "success").Inc()
	aiRequestDuration.WithLabelValues(config.AIProviderOllama, model).Observe(duration.Seconds())

	usageInfo.PromptTokens = resp.PromptEvalCount
	usageInfo.CompletionTokens = resp.EvalCount
	usageInfo.TotalTokens = resp.PromptEvalCount + resp.EvalCount
	observeUsage(config.AIProviderOllama, model, usageInfo)

	c.logger.Info("Ollama response received",
		zap.Duration("duration", duration),
		zap.Int("response_chars", len(text)),
		zap.Int("total_tokens", usageInfo.TotalTokens),
		zap.String("done_reason", resp.DoneReason),
	)
	return text, usageInfo, nil
}
