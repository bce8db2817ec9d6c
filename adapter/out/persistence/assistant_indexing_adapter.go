package persistence

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"assistant_server/core/domain"
)

// IndexingAdapter implements out.IndexingRepository using PostgreSQL.
type IndexingAdapter struct {
	db *sqlx.DB
}

// NewIndexingAdapter creates a new indexing progress adapter.
func NewIndexingAdapter(db *sqlx.DB) *IndexingAdapter {
	return &IndexingAdapter{db: db}
}

type indexingRow struct {
	ID                     int64          `db:"id"`
	UserID                 int64          `db:"user_id"`
	TotalEmails            int            `db:"total_emails"`
	ProcessedCount         int            `db:"processed_count"`
	LastProcessedMessageID sql.NullString `db:"last_processed_message_id"`
	Status                 string         `db:"status"`
	RetryCount             int            `db:"retry_count"`
	RetryAfter             sql.NullTime   `db:"retry_after"`
	ErrorMessage           sql.NullString `db:"error_message"`
	StartedAt              time.Time      `db:"started_at"`
	CompletedAt            sql.NullTime   `db:"completed_at"`
	UpdatedAt              time.Time      `db:"updated_at"`
}

const indexingColumns = `
	id, user_id, total_emails, processed_count, last_processed_message_id,
	status, retry_count, retry_after, error_message, started_at, completed_at, updated_at
`

func (r *indexingRow) toDomain() *domain.IndexingProgress {
	p := &domain.IndexingProgress{
		ID:             r.ID,
		UserID:         r.UserID,
		TotalEmails:    r.TotalEmails,
		ProcessedCount: r.ProcessedCount,
		Status:         domain.IndexingStatus(r.Status),
		RetryCount:     r.RetryCount,
		StartedAt:      r.StartedAt,
		UpdatedAt:      r.UpdatedAt,
	}
	if r.LastProcessedMessageID.Valid {
		s := r.LastProcessedMessageID.String
		p.LastProcessedMessageID = &s
	}
	if r.RetryAfter.Valid {
		t := r.RetryAfter.Time
		p.RetryAfter = &t
	}
	if r.ErrorMessage.Valid {
		s := r.ErrorMessage.String
		p.ErrorMessage = &s
	}
	if r.CompletedAt.Valid {
		t := r.CompletedAt.Time
		p.CompletedAt = &t
	}
	return p
}

// GetByUserID returns the user's backfill row.
func (a *IndexingAdapter) GetByUserID(ctx context.Context, userID int64) (*domain.IndexingProgress, error) {
	var row indexingRow
	query := `SELECT ` + indexingColumns + ` FROM indexing_progress WHERE user_id = $1`
	if err := a.db.GetContext(ctx, &row, query, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return row.toDomain(), nil
}

// Create inserts a new backfill row. A duplicate user_id is ErrDuplicate.
func (a *IndexingAdapter) Create(ctx context.Context, p *domain.IndexingProgress) error {
	query := `
		INSERT INTO indexing_progress (user_id, total_emails, processed_count, status, started_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
		ON CONFLICT (user_id) DO NOTHING
		RETURNING id, started_at, updated_at
	`
	err := a.db.QueryRowxContext(ctx, query,
		p.UserID, p.TotalEmails, p.ProcessedCount, string(p.Status)).
		Scan(&p.ID, &p.StartedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrDuplicate
	}
	return err
}

// UpdateProgress checkpoints batch progress.
func (a *IndexingAdapter) UpdateProgress(ctx context.Context, userID int64, processedCount int, lastMessageID string, totalEmails int) error {
	result, err := a.db.ExecContext(ctx, `
		UPDATE indexing_progress
		SET processed_count = $1,
		    last_processed_message_id = $2,
		    total_emails = $3,
		    updated_at = NOW()
		WHERE user_id = $4
	`, processedCount, lastMessageID, totalEmails, userID)
	if err != nil {
		return err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateStatus sets the job status and optional error message.
func (a *IndexingAdapter) UpdateStatus(ctx context.Context, userID int64, status domain.IndexingStatus, errorMessage *string) error {
	var msg sql.NullString
	if errorMessage != nil {
		msg = sql.NullString{String: *errorMessage, Valid: true}
	}
	result, err := a.db.ExecContext(ctx, `
		UPDATE indexing_progress
		SET status = $1, error_message = $2, updated_at = NOW()
		WHERE user_id = $3
	`, string(status), msg, userID)
	if err != nil {
		return err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ScheduleRetry pauses the job until retry_after.
func (a *IndexingAdapter) ScheduleRetry(ctx context.Context, userID int64, retryCount int, retryAfter time.Time, errorMessage string) error {
	result, err := a.db.ExecContext(ctx, `
		UPDATE indexing_progress
		SET status = $1,
		    retry_count = $2,
		    retry_after = $3,
		    error_message = $4,
		    updated_at = NOW()
		WHERE user_id = $5
	`, string(domain.IndexingPaused), retryCount, retryAfter, errorMessage, userID)
	if err != nil {
		return err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkCompleted finishes the backfill.
func (a *IndexingAdapter) MarkCompleted(ctx context.Context, userID int64, completedAt time.Time) error {
	result, err := a.db.ExecContext(ctx, `
		UPDATE indexing_progress
		SET status = $1, completed_at = $2, error_message = NULL, updated_at = NOW()
		WHERE user_id = $3
	`, string(domain.IndexingCompleted), completedAt, userID)
	if err != nil {
		return err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListResumable returns paused/in_progress rows whose retry window elapsed
// and which were not touched within cooldown. The updated_at guard keeps
// overlapping supervisor ticks from re-enqueueing the same job.
func (a *IndexingAdapter) ListResumable(ctx context.Context, now time.Time, cooldown time.Duration) ([]domain.IndexingProgress, error) {
	var rows []indexingRow
	query := `
		SELECT ` + indexingColumns + `
		FROM indexing_progress
		WHERE status IN ('paused', 'in_progress')
		  AND (retry_after IS NULL OR retry_after <= $1)
		  AND updated_at <= $2
		ORDER BY updated_at
	`
	if err := a.db.SelectContext(ctx, &rows, query, now, now.Add(-cooldown)); err != nil {
		return nil, err
	}

	jobs := make([]domain.IndexingProgress, 0, len(rows))
	for i := range rows {
		jobs = append(jobs, *rows[i].toDomain())
	}
	return jobs, nil
}
