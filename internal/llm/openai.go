package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	openai "github.com/sashabaranov/go-openai"

	"github.com/lexiqai/meeting-agent/internal/resilience"
)

// OpenAIConfig configures any OpenAI compatible chat completions endpoint
// (Groq, Perplexity, OpenAI itself)
type OpenAIConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float32

	Retry   *resilience.RetryConfig
	Breaker *resilience.CircuitBreaker
}

// OpenAICompleter implements Completer with go-openai
type OpenAICompleter struct {
	client *openai.Client
	cfg    OpenAIConfig
}

// NewOpenAICompleter creates a completer for the configured endpoint
func NewOpenAICompleter(cfg OpenAIConfig) (*OpenAICompleter, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("llm: api key is required")
	}
	if cfg.Model == "" {
		return nil, errors.New("llm: model is required")
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	return &OpenAICompleter{
		client: openai.NewClientWithConfig(clientCfg),
		cfg:    cfg,
	}, nil
}

// Complete implements Completer
func (c *OpenAICompleter) Complete(ctx context.Context, req Request) (string, error) {
	chatReq := openai.ChatCompletionRequest{
		Model:       c.cfg.Model,
		Temperature: c.cfg.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	if req.System != "" {
		chatReq.Messages = append(chatReq.Messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	chatReq.Messages = append(chatReq.Messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.Prompt,
	})
	if req.JSON {
		chatReq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	var text string
	call := func() error {
		return resilience.Retry(ctx, c.cfg.Retry, isRetryableAPIError, func(ctx context.Context) error {
			resp, err := c.client.CreateChatCompletion(ctx, chatReq)
			if err != nil {
				return err
			}
			if len(resp.Choices) == 0 {
				return ErrEmptyCompletion
			}
			text = resp.Choices[0].Message.Content
			return nil
		})
	}

	var err error
	if c.cfg.Breaker != nil {
		err = c.cfg.Breaker.Call(call)
	} else {
		err = call()
	}
	if err != nil {
		return "", fmt.Errorf("chat completion (%s): %w", c.cfg.Model, err)
	}
	return cleanCompletion(text)
}

// isRetryableAPIError retries rate limits, server errors and transient network failures
func isRetryableAPIError(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusTooManyRequests || apiErr.HTTPStatusCode >= 500
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == http.StatusTooManyRequests || reqErr.HTTPStatusCode >= 500
	}
	return resilience.IsRetryableNetworkError(err)
}
