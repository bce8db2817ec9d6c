// Package llm wraps the OpenAI chat-completion API for classification and
// reply drafting.
package llm

import (
	"context"
	"errors"
	"time"

	"github.com/goccy/go-json"
	openai "github.com/sashabaranov/go-openai"

	"assistant_server/pkg/apperr"
	"assistant_server/pkg/logger"
	"assistant_server/pkg/ratelimit"
	"assistant_server/pkg/tokenizer"
)

const DefaultModel = "gpt-4o-mini"

// Client implements out.LLMClient on the OpenAI API with retries and a
// tokens-per-minute budget shared across callers.
type Client struct {
	client      *openai.Client
	model       string
	maxTokens   int
	temperature float32
	maxRetries  int
	budget      *ratelimit.TokenBudget
	counter     *tokenizer.Counter
	log         *logger.Logger
}

// ClientConfig holds LLM client configuration.
type ClientConfig struct {
	APIKey          string
	Model           string
	MaxTokens       int
	Temperature     float64
	MaxRetries      int
	TokensPerMinute int
}

// NewClient creates a client from config, applying defaults.
func NewClient(cfg ClientConfig) *Client {
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	maxTokens := cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = 2048
	}
	temperature := cfg.Temperature
	if temperature == 0 {
		temperature = 0.3
	}
	maxRetries := cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = 3
	}

	return &Client{
		client:      openai.NewClient(cfg.APIKey),
		model:       model,
		maxTokens:   maxTokens,
		temperature: float32(temperature),
		maxRetries:  maxRetries,
		budget:      ratelimit.NewTokenBudget(cfg.TokensPerMinute, time.Minute),
		counter:     tokenizer.NewCounter(),
		log:         logger.Default().WithField("component", "llm"),
	}
}

// CompleteJSON runs a completion in JSON mode and unmarshals the reply.
// A reply that is not valid JSON is a non-retryable error: the caller
// decides whether to re-prompt.
func (c *Client) CompleteJSON(ctx context.Context, systemPrompt, userPrompt string, out any) error {
	content, err := c.complete(ctx, systemPrompt, userPrompt, true)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(content), out); err != nil {
		return apperr.ValidationFailed("llm returned invalid JSON").WithError(err)
	}
	return nil
}

// CompleteText runs a completion in plain text mode.
func (c *Client) CompleteText(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return c.complete(ctx, systemPrompt, userPrompt, false)
}

func (c *Client) complete(ctx context.Context, systemPrompt, userPrompt string, jsonMode bool) (string, error) {
	promptTokens := c.counter.Count(systemPrompt) + c.counter.Count(userPrompt)
	if err := c.budget.Reserve(ctx, promptTokens+c.maxTokens); err != nil {
		return "", err
	}

	req := openai.ChatCompletionRequest{
		Model:       c.model,
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt},
		},
	}
	if jsonMode {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<uint(attempt-1)) * time.Second
			c.log.Warn("llm retry %d/%d after %s: %v", attempt, c.maxRetries, backoff, lastErr)
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(backoff):
			}
		}

		resp, err := c.client.CreateChatCompletion(ctx, req)
		if err != nil {
			lastErr = c.wrapError(err)
			if !apperr.IsTransient(lastErr) {
				return "", lastErr
			}
			continue
		}
		if len(resp.Choices) == 0 {
			lastErr = apperr.ServerError("openai", errors.New("empty choices"))
			continue
		}
		return resp.Choices[0].Message.Content, nil
	}
	return "", lastErr
}

// wrapError maps OpenAI API failures onto the application taxonomy.
func (c *Client) wrapError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.HTTPStatusCode {
		case 401:
			return apperr.AuthExpired("openai", err)
		case 429:
			return apperr.RateLimited("openai", err)
		case 400:
			return apperr.InvalidRequest("openai rejected request", err)
		case 500, 502, 503:
			return apperr.ServerError("openai", err)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return err
	}
	return apperr.NetworkError("openai", err)
}
