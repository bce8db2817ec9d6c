// Package rag implements retrieval-augmented context assembly: embedding,
// vector retrieval and token-budgeted context building.
package rag

import (
	"context"
	"errors"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"assistant_server/pkg/apperr"
	"assistant_server/pkg/ratelimit"
)

// embeddingDimensions is the width of text-embedding-3-small vectors.
const embeddingDimensions = 1536

// maxEmbedBatch is the largest batch sent in one provider call.
const maxEmbedBatch = 50

// OpenAIEmbedder implements out.Embedder on the OpenAI embeddings API,
// rate-limited through a shared Redis sliding window.
type OpenAIEmbedder struct {
	client  *openai.Client
	model   openai.EmbeddingModel
	limiter *ratelimit.SlidingWindowLimiter
}

// EmbedderConfig holds embedder configuration.
type EmbedderConfig struct {
	APIKey string
	Model  string
}

// NewOpenAIEmbedder creates the embedder. limiter may be nil in tests.
func NewOpenAIEmbedder(cfg EmbedderConfig, limiter *ratelimit.SlidingWindowLimiter) *OpenAIEmbedder {
	model := cfg.Model
	if model == "" {
		model = string(openai.SmallEmbedding3)
	}
	return &OpenAIEmbedder{
		client:  openai.NewClient(cfg.APIKey),
		model:   openai.EmbeddingModel(model),
		limiter: limiter,
	}
}

// Dimensions returns the embedding width.
func (e *OpenAIEmbedder) Dimensions() int {
	return embeddingDimensions
}

// EmbedQuery embeds a single query string.
func (e *OpenAIEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch embeds texts in provider-sized chunks, preserving order.
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	vectors := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += maxEmbedBatch {
		end := start + maxEmbedBatch
		if end > len(texts) {
			end = len(texts)
		}

		if e.limiter != nil {
			if err := e.limiter.Wait(ctx, "embeddings"); err != nil {
				return nil, err
			}
		}

		resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
			Model: e.model,
			Input: texts[start:end],
		})
		if err != nil {
			return nil, e.wrapError(err)
		}
		if len(resp.Data) != end-start {
			return nil, apperr.ServerError("openai", errors.New("embedding count mismatch"))
		}
		for _, d := range resp.Data {
			vectors = append(vectors, d.Embedding)
		}
	}
	return vectors, nil
}

func (e *OpenAIEmbedder) wrapError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.HTTPStatusCode {
		case 401:
			return apperr.AuthExpired("openai", err)
		case 429:
			return apperr.RateLimited("openai", err).WithRetryAfter(time.Minute)
		case 400:
			return apperr.InvalidRequest("openai rejected embedding input", err)
		case 500, 502, 503:
			return apperr.ServerError("openai", err)
		}
	}
	return apperr.NetworkError("openai", err)
}
