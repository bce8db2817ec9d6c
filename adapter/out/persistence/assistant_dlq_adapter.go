package persistence

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"

	"assistant_server/core/domain"
)

// DLQAdapter implements out.DLQRepository using PostgreSQL.
type DLQAdapter struct {
	db *sqlx.DB
}

// NewDLQAdapter creates a new dead-letter queue adapter.
func NewDLQAdapter(db *sqlx.DB) *DLQAdapter {
	return &DLQAdapter{db: db}
}

type dlqRow struct {
	ID                int64          `db:"id"`
	EmailQueueID      int64          `db:"email_queue_id"`
	OperationType     string         `db:"operation_type"`
	ProviderMessageID string         `db:"provider_message_id"`
	LabelID           sql.NullString `db:"label_id"`
	ErrorType         string         `db:"error_type"`
	ErrorMessage      string         `db:"error_message"`
	RetryCount        int            `db:"retry_count"`
	LastRetryAt       sql.NullTime   `db:"last_retry_at"`
	ContextJSON       string         `db:"context_json"`
	Resolved          bool           `db:"resolved"`
	CreatedAt         time.Time      `db:"created_at"`
}

func (r *dlqRow) toDomain() *domain.DeadLetterItem {
	item := &domain.DeadLetterItem{
		ID:                r.ID,
		EmailQueueID:      r.EmailQueueID,
		OperationType:     r.OperationType,
		ProviderMessageID: r.ProviderMessageID,
		ErrorType:         r.ErrorType,
		ErrorMessage:      r.ErrorMessage,
		RetryCount:        r.RetryCount,
		ContextJSON:       r.ContextJSON,
		Resolved:          r.Resolved,
		CreatedAt:         r.CreatedAt,
	}
	if r.LabelID.Valid {
		s := r.LabelID.String
		item.LabelID = &s
	}
	if r.LastRetryAt.Valid {
		t := r.LastRetryAt.Time
		item.LastRetryAt = &t
	}
	return item
}

// Insert writes a dead-letter row for a permanently failed operation.
func (a *DLQAdapter) Insert(ctx context.Context, item *domain.DeadLetterItem) error {
	var labelID sql.NullString
	if item.LabelID != nil {
		labelID = sql.NullString{String: *item.LabelID, Valid: true}
	}
	var lastRetry sql.NullTime
	if item.LastRetryAt != nil {
		lastRetry = sql.NullTime{Time: *item.LastRetryAt, Valid: true}
	}

	query := `
		INSERT INTO dead_letter_queue
			(email_queue_id, operation_type, provider_message_id, label_id,
			 error_type, error_message, retry_count, last_retry_at, context_json, resolved, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, false, NOW())
		RETURNING id, created_at
	`
	return a.db.QueryRowxContext(ctx, query,
		item.EmailQueueID, item.OperationType, item.ProviderMessageID, labelID,
		item.ErrorType, item.ErrorMessage, item.RetryCount, lastRetry, item.ContextJSON).
		Scan(&item.ID, &item.CreatedAt)
}

// ListUnresolved returns open dead-letter rows, oldest first.
func (a *DLQAdapter) ListUnresolved(ctx context.Context, limit int) ([]domain.DeadLetterItem, error) {
	var rows []dlqRow
	query := `
		SELECT id, email_queue_id, operation_type, provider_message_id, label_id,
		       error_type, error_message, retry_count, last_retry_at, context_json, resolved, created_at
		FROM dead_letter_queue
		WHERE resolved = false
		ORDER BY created_at
		LIMIT $1
	`
	if err := a.db.SelectContext(ctx, &rows, query, limit); err != nil {
		return nil, err
	}

	items := make([]domain.DeadLetterItem, 0, len(rows))
	for i := range rows {
		items = append(items, *rows[i].toDomain())
	}
	return items, nil
}

// MarkResolved closes a dead-letter row after manual replay.
func (a *DLQAdapter) MarkResolved(ctx context.Context, id int64) error {
	result, err := a.db.ExecContext(ctx,
		`UPDATE dead_letter_queue SET resolved = true WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
