package out

import "context"

// LLMClient is the outbound port for chat-completion calls.
type LLMClient interface {
	// CompleteJSON runs a completion in JSON mode and unmarshals the reply
	// into out. A reply that is not valid JSON is an error.
	CompleteJSON(ctx context.Context, systemPrompt, userPrompt string, out any) error

	// CompleteText runs a completion in plain text mode.
	CompleteText(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Embedder is the outbound port for text embeddings.
type Embedder interface {
	// EmbedQuery embeds a single query string.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch embeds up to the model's batch limit of texts, preserving
	// order. The implementation rate-limits between provider calls.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding width.
	Dimensions() int
}
