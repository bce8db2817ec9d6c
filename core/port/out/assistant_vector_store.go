package out

import (
	"context"
	"time"
)

// VectorStore is the outbound port for embedding storage and similarity
// search over indexed mail.
type VectorStore interface {
	// Upsert stores or replaces a record by id (provider message id, or a
	// synthetic id for sent replies).
	Upsert(ctx context.Context, item VectorItem) error

	// BatchUpsert stores a batch in one round trip.
	BatchUpsert(ctx context.Context, items []VectorItem) error

	// Search returns the topK nearest records. Filter keys are metadata
	// fields matched by equality; all must hold (conjunctive).
	Search(ctx context.Context, embedding []float32, topK int, filter map[string]string) ([]VectorMatch, error)

	// DeleteOlderThan removes a user's records with timestamp before cutoff.
	// Returns the number of records removed.
	DeleteOlderThan(ctx context.Context, userID string, cutoff time.Time) (int64, error)

	Delete(ctx context.Context, id string) error
}

// VectorMetadata is the payload stored next to each embedding. The body
// itself is not stored; Snippet is enough to display, full bodies are
// re-fetched from the provider.
type VectorMetadata struct {
	UserID         string `json:"user_id"`
	ThreadID       string `json:"thread_id"`
	Sender         string `json:"sender"`
	Subject        string `json:"subject"`
	Date           string `json:"date"` // YYYY-MM-DD
	Timestamp      int64  `json:"timestamp"`
	Language       string `json:"language,omitempty"`
	Snippet        string `json:"snippet"`
	IsSentResponse bool   `json:"is_sent_response,omitempty"`
}

// VectorItem is a record for storage.
type VectorItem struct {
	ID        string
	Embedding []float32
	Metadata  VectorMetadata
}

// VectorMatch is a search hit. Distance is cosine distance: lower is closer.
type VectorMatch struct {
	ID       string
	Distance float64
	Metadata VectorMetadata
}
