// Package vector implements the vector store on PostgreSQL + pgvector.
package vector

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"assistant_server/core/port/out"
)

// filterColumns whitelists metadata fields usable in search filters.
var filterColumns = map[string]string{
	"user_id":   "user_id",
	"sender":    "sender",
	"thread_id": "thread_id",
	"language":  "language",
}

// PgVectorStore implements out.VectorStore on an email_vectors table with
// a pgvector column. Cosine distance (<=>) orders results.
type PgVectorStore struct {
	db *pgxpool.Pool
}

// NewPgVectorStore creates a pgvector-backed store.
func NewPgVectorStore(db *pgxpool.Pool) *PgVectorStore {
	return &PgVectorStore{db: db}
}

// Upsert stores or replaces a record by id.
func (s *PgVectorStore) Upsert(ctx context.Context, item out.VectorItem) error {
	query := `
		INSERT INTO email_vectors
			(id, user_id, thread_id, sender, subject, date, ts, language, snippet, is_sent_response, embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			thread_id = EXCLUDED.thread_id,
			sender = EXCLUDED.sender,
			subject = EXCLUDED.subject,
			date = EXCLUDED.date,
			ts = EXCLUDED.ts,
			language = EXCLUDED.language,
			snippet = EXCLUDED.snippet,
			is_sent_response = EXCLUDED.is_sent_response,
			embedding = EXCLUDED.embedding
	`
	m := item.Metadata
	_, err := s.db.Exec(ctx, query,
		item.ID, m.UserID, m.ThreadID, m.Sender, m.Subject, m.Date,
		m.Timestamp, m.Language, m.Snippet, m.IsSentResponse,
		pgVector(item.Embedding))
	return err
}

// BatchUpsert stores a batch in one pipelined round trip.
func (s *PgVectorStore) BatchUpsert(ctx context.Context, items []out.VectorItem) error {
	if len(items) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	query := `
		INSERT INTO email_vectors
			(id, user_id, thread_id, sender, subject, date, ts, language, snippet, is_sent_response, embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			thread_id = EXCLUDED.thread_id,
			sender = EXCLUDED.sender,
			subject = EXCLUDED.subject,
			date = EXCLUDED.date,
			ts = EXCLUDED.ts,
			language = EXCLUDED.language,
			snippet = EXCLUDED.snippet,
			is_sent_response = EXCLUDED.is_sent_response,
			embedding = EXCLUDED.embedding
	`
	for _, item := range items {
		m := item.Metadata
		batch.Queue(query,
			item.ID, m.UserID, m.ThreadID, m.Sender, m.Subject, m.Date,
			m.Timestamp, m.Language, m.Snippet, m.IsSentResponse,
			pgVector(item.Embedding))
	}

	results := s.db.SendBatch(ctx, batch)
	defer results.Close()

	for range items {
		if _, err := results.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// Search returns the topK nearest records. All filter keys must match by
// equality; unknown keys are rejected rather than silently ignored.
func (s *PgVectorStore) Search(ctx context.Context, embedding []float32, topK int, filter map[string]string) ([]out.VectorMatch, error) {
	if topK <= 0 {
		return nil, nil
	}

	query := `
		SELECT id, embedding <=> $1 AS distance,
		       user_id, thread_id, sender, subject, date, ts, language, snippet, is_sent_response
		FROM email_vectors
		WHERE embedding IS NOT NULL
	`
	args := []any{pgVector(embedding)}
	for key, value := range filter {
		col, ok := filterColumns[key]
		if !ok {
			return nil, fmt.Errorf("unsupported filter field %q", key)
		}
		args = append(args, value)
		query += fmt.Sprintf(" AND %s = $%d", col, len(args))
	}

	args = append(args, topK)
	query += fmt.Sprintf(" ORDER BY embedding <=> $1 LIMIT $%d", len(args))

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var matches []out.VectorMatch
	for rows.Next() {
		var m out.VectorMatch
		if err := rows.Scan(&m.ID, &m.Distance,
			&m.Metadata.UserID, &m.Metadata.ThreadID, &m.Metadata.Sender,
			&m.Metadata.Subject, &m.Metadata.Date, &m.Metadata.Timestamp,
			&m.Metadata.Language, &m.Metadata.Snippet, &m.Metadata.IsSentResponse); err != nil {
			return nil, err
		}
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

// DeleteOlderThan removes a user's records older than cutoff (retention).
func (s *PgVectorStore) DeleteOlderThan(ctx context.Context, userID string, cutoff time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx,
		`DELETE FROM email_vectors WHERE user_id = $1 AND ts < $2`,
		userID, cutoff.Unix())
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// Delete removes a single record.
func (s *PgVectorStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.Exec(ctx, `DELETE FROM email_vectors WHERE id = $1`, id)
	return err
}

// pgVector converts a float32 slice to the pgvector text format.
func pgVector(v []float32) string {
	if len(v) == 0 {
		return "[0]"
	}

	buf := make([]byte, 0, len(v)*13+2)
	buf = append(buf, '[')
	for i, f := range v {
		if i > 0 {
			buf = append(buf, ',')
		}
		buf = strconv.AppendFloat(buf, float64(f), 'f', 6, 32)
	}
	buf = append(buf, ']')
	return string(buf)
}
