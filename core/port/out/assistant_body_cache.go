package out

import (
	"context"
	"time"
)

// CachedBody is a provider message body kept out of Postgres.
type CachedBody struct {
	MessageID string    `bson:"message_id"`
	UserID    int64     `bson:"user_id"`
	Body      string    `bson:"body"`
	IsHTML    bool      `bson:"is_html"`
	FetchedAt time.Time `bson:"fetched_at"`
}

// BodyCache caches full message bodies so repeated prompt assembly does
// not re-hit the provider. A miss returns (nil, nil).
type BodyCache interface {
	Get(ctx context.Context, userID int64, messageID string) (*CachedBody, error)
	Put(ctx context.Context, body *CachedBody) error
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}
