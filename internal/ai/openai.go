package ai

import (
	"context"
	"net/http"
	"strings"
	"time"

	"storywriter/internal/config"
	"storywriter/internal/interfaces"

	openaigo "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// openAIClient - провайдер A: OpenAI-совместимый Chat Completions API.
type openAIClient struct {
	client *openaigo.Client
	opts   Options
	logger *zap.Logger
}

var _ interfaces.AIClient = (*openAIClient)(nil)

func newOpenAIClient(opts Options, logger *zap.Logger) *openAIClient {
	openaiConfig := openaigo.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		openaiConfig.BaseURL = opts.BaseURL
	}
	openaiConfig.HTTPClient = &http.Client{Timeout: opts.Timeout}

	return &openAIClient{
		client: openaigo.NewClientWithConfig(openaiConfig),
		opts:   opts,
		logger: logger.Named("OpenAIClient"),
	}
}

func (c *openAIClient) GenerateText(ctx context.Context, systemPrompt, userInput string, params interfaces.GenerationParams) (string, interfaces.UsageInfo, error) {
	var usageInfo interfaces.UsageInfo
	model := c.opts.Model

	if strings.TrimSpace(userInput) == "" {
		aiRequestsTotal.WithLabelValues(config.AIProviderOpenAI, model, "error").Inc()
		return "", usageInfo, capabilityError("пустой промпт")
	}

	messages := make([]openaigo.ChatCompletionMessage, 0, 2)
	if systemPrompt != "" {
		messages = append(messages, openaigo.ChatCompletionMessage{Role: openaigo.ChatMessageRoleSystem, Content: systemPrompt})
	}
	messages = append(messages, openaigo.ChatCompletionMessage{Role: openaigo.ChatMessageRoleUser, Content: userInput})

	temperature, maxTokens := c.opts.defaults(params)
	if params.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, params.Timeout)
		defer cancel()
	}

	c.logger.Debug("Sending chat completion request",
		zap.String("model", model),
		zap.Int("system_prompt_bytes", len(systemPrompt)),
		zap.Int("user_input_bytes", len(userInput)),
	)

	startTime := time.Now()
	resp, err := c.client.CreateChatCompletion(ctx, openaigo.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		Temperature: float32(temperature),
		MaxTokens:   maxTokens,
	})
	duration := time.Since(startTime)

	if err != nil {
		c.logger.Warn("Chat completion request failed", zap.Duration("duration", duration), zap.Error(err))
		aiRequestsTotal.WithLabelValues(config.AIProviderOpenAI, model, "error").Inc()
		return "", usageInfo, capabilityError("%v", err)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		c.logger.Warn("Chat completion returned empty response", zap.Duration("duration", duration))
		aiRequestsTotal.WithLabelValues(config.AIProviderOpenAI, model, "error_empty_response").Inc()
		return "", usageInfo, capabilityError("получен пустой ответ")
	}

	text := resp.Choices[0].Message.Content
	aiRequestsTotal.WithLabelValues(config.AIProviderOpenAI, model, "success").Inc()
	aiRequestDuration.WithLabelValues(config.AIProviderOpenAI, model).Observe(duration.Seconds())

	if resp.Usage.TotalTokens > 0 {
		usageInfo = interfaces.UsageInfo{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		}
	} else {
		usageInfo.PromptTokens = estimateTokens(model, systemPrompt+"\n"+userInput)
		usageInfo.CompletionTokens = estimateTokens(model, text)
		usageInfo.TotalTokens = usageInfo.PromptTokens + usageInfo.CompletionTokens
	}
	observeUsage(config.AIProviderOpenAI, model, usageInfo)

	c.logger.Info("Chat completion received",
		zap.Duration("duration", duration),
		zap.Int("response_chars", len(text)),
		zap.Int("total_tokens", usageInfo.TotalTokens),
		zap.String("finish_reason", string(resp.Choices[0].FinishReason)),
	)
	return text, usageInfo, nil
}
