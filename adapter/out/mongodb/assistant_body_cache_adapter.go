// Package mongodb implements MongoDB adapters for the application.
package mongodb

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"assistant_server/core/port/out"
)

const collectionBodyCache = "email_bodies"

// BodyCacheAdapter implements out.BodyCache using MongoDB. Full message
// bodies stay out of Postgres; the cache saves provider round trips when
// the same body is needed by classification, context assembly and drafting.
type BodyCacheAdapter struct {
	collection *mongo.Collection
}

// NewBodyCacheAdapter creates a new body cache adapter.
func NewBodyCacheAdapter(db *mongo.Database) *BodyCacheAdapter {
	return &BodyCacheAdapter{collection: db.Collection(collectionBodyCache)}
}

// EnsureIndexes creates the collection's indexes.
func (a *BodyCacheAdapter) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "message_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "fetched_at", Value: 1}},
		},
	}
	_, err := a.collection.Indexes().CreateMany(ctx, indexes)
	return err
}

// Get returns the cached body, or (nil, nil) on a miss.
func (a *BodyCacheAdapter) Get(ctx context.Context, userID int64, messageID string) (*out.CachedBody, error) {
	var body out.CachedBody
	err := a.collection.FindOne(ctx, bson.M{
		"user_id":    userID,
		"message_id": messageID,
	}).Decode(&body)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &body, nil
}

// Put stores or refreshes a cached body.
func (a *BodyCacheAdapter) Put(ctx context.Context, body *out.CachedBody) error {
	if body.FetchedAt.IsZero() {
		body.FetchedAt = time.Now().UTC()
	}

	filter := bson.M{"user_id": body.UserID, "message_id": body.MessageID}
	update := bson.M{"$set": body}
	opts := options.Update().SetUpsert(true)

	_, err := a.collection.UpdateOne(ctx, filter, update, opts)
	return err
}

// DeleteOlderThan evicts entries fetched before cutoff.
func (a *BodyCacheAdapter) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := a.collection.DeleteMany(ctx, bson.M{
		"fetched_at": bson.M{"$lt": cutoff},
	})
	if err != nil {
		return 0, err
	}
	return result.DeletedCount, nil
}

var _ out.BodyCache = (*BodyCacheAdapter)(nil)
