package persistence

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"assistant_server/core/domain"
)

// QueueAdapter implements out.QueueRepository using PostgreSQL.
type QueueAdapter struct {
	db *sqlx.DB
}

// NewQueueAdapter creates a new queue adapter.
func NewQueueAdapter(db *sqlx.DB) *QueueAdapter {
	return &QueueAdapter{db: db}
}

type queueRow struct {
	ID                      int64          `db:"id"`
	UserID                  int64          `db:"user_id"`
	ProviderMessageID       string         `db:"provider_message_id"`
	ProviderThreadID        string         `db:"provider_thread_id"`
	Sender                  string         `db:"sender"`
	Subject                 string         `db:"subject"`
	ReceivedAt              time.Time      `db:"received_at"`
	Status                  string         `db:"status"`
	Classification          sql.NullString `db:"classification"`
	ProposedFolderID        sql.NullInt64  `db:"proposed_folder_id"`
	ClassificationReasoning sql.NullString `db:"classification_reasoning"`
	PriorityScore           int            `db:"priority_score"`
	IsPriority              bool           `db:"is_priority"`
	DetectedLanguage        sql.NullString `db:"detected_language"`
	Tone                    sql.NullString `db:"tone"`
	DraftResponse           sql.NullString `db:"draft_response"`
	RetryCount              int            `db:"retry_count"`
	ErrorType               sql.NullString `db:"error_type"`
	ErrorMessage            sql.NullString `db:"error_message"`
	ErrorTimestamp          sql.NullTime   `db:"error_timestamp"`
	DLQReason               sql.NullString `db:"dlq_reason"`
	EmailSentAt             sql.NullTime   `db:"email_sent_at"`
	CreatedAt               time.Time      `db:"created_at"`
	UpdatedAt               time.Time      `db:"updated_at"`
}

const queueColumns = `
	id, user_id, provider_message_id, provider_thread_id, sender, subject,
	received_at, status, classification, proposed_folder_id,
	classification_reasoning, priority_score, is_priority, detected_language,
	tone, draft_response, retry_count, error_type, error_message,
	error_timestamp, dlq_reason, email_sent_at, created_at, updated_at
`

func (r *queueRow) toDomain() *domain.EmailQueueItem {
	item := &domain.EmailQueueItem{
		ID:                r.ID,
		UserID:            r.UserID,
		ProviderMessageID: r.ProviderMessageID,
		ProviderThreadID:  r.ProviderThreadID,
		Sender:            r.Sender,
		Subject:           r.Subject,
		ReceivedAt:        r.ReceivedAt,
		Status:            domain.EmailStatus(r.Status),
		PriorityScore:     r.PriorityScore,
		IsPriority:        r.IsPriority,
		RetryCount:        r.RetryCount,
		CreatedAt:         r.CreatedAt,
		UpdatedAt:         r.UpdatedAt,
	}
	if r.Classification.Valid {
		c := domain.Classification(r.Classification.String)
		item.Classification = &c
	}
	if r.ProposedFolderID.Valid {
		id := r.ProposedFolderID.Int64
		item.ProposedFolderID = &id
	}
	if r.ClassificationReasoning.Valid {
		item.ClassificationReasoning = r.ClassificationReasoning.String
	}
	if r.DetectedLanguage.Valid {
		item.DetectedLanguage = r.DetectedLanguage.String
	}
	if r.Tone.Valid {
		t := domain.Tone(r.Tone.String)
		item.Tone = &t
	}
	if r.DraftResponse.Valid {
		d := r.DraftResponse.String
		item.DraftResponse = &d
	}
	if r.ErrorType.Valid {
		s := r.ErrorType.String
		item.ErrorType = &s
	}
	if r.ErrorMessage.Valid {
		s := r.ErrorMessage.String
		item.ErrorMessage = &s
	}
	if r.ErrorTimestamp.Valid {
		t := r.ErrorTimestamp.Time
		item.ErrorTimestamp = &t
	}
	if r.DLQReason.Valid {
		s := r.DLQReason.String
		item.DLQReason = &s
	}
	if r.EmailSentAt.Valid {
		t := r.EmailSentAt.Time
		item.EmailSentAt = &t
	}
	return item
}

// GetByID returns the queue row with the given id.
func (a *QueueAdapter) GetByID(ctx context.Context, id int64) (*domain.EmailQueueItem, error) {
	var row queueRow
	query := `SELECT ` + queueColumns + ` FROM email_processing_queue WHERE id = $1`
	if err := a.db.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return row.toDomain(), nil
}

// InsertIfAbsent inserts the row unless (user_id, provider_message_id)
// already exists. The ON CONFLICT clause makes concurrent pollers safe:
// the unique constraint decides, not application state.
func (a *QueueAdapter) InsertIfAbsent(ctx context.Context, item *domain.EmailQueueItem) (*domain.EmailQueueItem, bool, error) {
	query := `
		INSERT INTO email_processing_queue
			(user_id, provider_message_id, provider_thread_id, sender, subject,
			 received_at, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
		ON CONFLICT (user_id, provider_message_id) DO NOTHING
		RETURNING id, created_at, updated_at
	`

	status := item.Status
	if status == "" {
		status = domain.StatusPending
	}

	err := a.db.QueryRowxContext(ctx, query,
		item.UserID,
		item.ProviderMessageID,
		item.ProviderThreadID,
		item.Sender,
		item.Subject,
		item.ReceivedAt,
		string(status),
	).Scan(&item.ID, &item.CreatedAt, &item.UpdatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		// Conflict: the row already exists. Not an error.
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	item.Status = status
	return item, true, nil
}

// UpdateStatus flips the lifecycle status.
func (a *QueueAdapter) UpdateStatus(ctx context.Context, id int64, status domain.EmailStatus) error {
	result, err := a.db.ExecContext(ctx,
		`UPDATE email_processing_queue SET status = $1, updated_at = NOW() WHERE id = $2`,
		string(status), id)
	if err != nil {
		return err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SaveClassification persists classification output onto the row.
func (a *QueueAdapter) SaveClassification(ctx context.Context, item *domain.EmailQueueItem) error {
	var classification, tone, draft, language sql.NullString
	var folderID sql.NullInt64

	if item.Classification != nil {
		classification = sql.NullString{String: string(*item.Classification), Valid: true}
	}
	if item.Tone != nil {
		tone = sql.NullString{String: string(*item.Tone), Valid: true}
	}
	if item.DraftResponse != nil {
		draft = sql.NullString{String: *item.DraftResponse, Valid: true}
	}
	if item.DetectedLanguage != "" {
		language = sql.NullString{String: item.DetectedLanguage, Valid: true}
	}
	if item.ProposedFolderID != nil {
		folderID = sql.NullInt64{Int64: *item.ProposedFolderID, Valid: true}
	}

	query := `
		UPDATE email_processing_queue
		SET classification = $1,
		    proposed_folder_id = $2,
		    classification_reasoning = $3,
		    priority_score = $4,
		    is_priority = $5,
		    detected_language = $6,
		    tone = $7,
		    draft_response = $8,
		    updated_at = NOW()
		WHERE id = $9
	`
	result, err := a.db.ExecContext(ctx, query,
		classification, folderID, item.ClassificationReasoning,
		item.PriorityScore, item.IsPriority, language, tone, draft, item.ID)
	if err != nil {
		return err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SaveDraft replaces the stored reply draft (used by the edit flow).
func (a *QueueAdapter) SaveDraft(ctx context.Context, id int64, draft string) error {
	result, err := a.db.ExecContext(ctx,
		`UPDATE email_processing_queue SET draft_response = $1, updated_at = NOW() WHERE id = $2`,
		draft, id)
	if err != nil {
		return err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetPriority stores the rule-based priority result.
func (a *QueueAdapter) SetPriority(ctx context.Context, id int64, score int, isPriority bool) error {
	result, err := a.db.ExecContext(ctx,
		`UPDATE email_processing_queue SET priority_score = $1, is_priority = $2, updated_at = NOW() WHERE id = $3`,
		score, isPriority, id)
	if err != nil {
		return err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkSent sets email_sent_at exactly once. The WHERE guard makes a
// duplicate resume observe false and skip the provider call.
func (a *QueueAdapter) MarkSent(ctx context.Context, id int64, sentAt time.Time) (bool, error) {
	result, err := a.db.ExecContext(ctx, `
		UPDATE email_processing_queue
		SET email_sent_at = $1, updated_at = NOW()
		WHERE id = $2 AND email_sent_at IS NULL
	`, sentAt, id)
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// MarkError records the failure taxonomy and flips status to error.
func (a *QueueAdapter) MarkError(ctx context.Context, id int64, errorType, errorMessage string, dlqReason *string) error {
	var reason sql.NullString
	if dlqReason != nil {
		reason = sql.NullString{String: *dlqReason, Valid: true}
	}

	result, err := a.db.ExecContext(ctx, `
		UPDATE email_processing_queue
		SET status = $1,
		    error_type = $2,
		    error_message = $3,
		    error_timestamp = NOW(),
		    dlq_reason = $4,
		    updated_at = NOW()
		WHERE id = $5
	`, string(domain.StatusError), errorType, errorMessage, reason, id)
	if err != nil {
		return err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// RecordNotificationFailure stores the failure taxonomy without touching
// status: the row stays parked while the manual queue retries delivery.
func (a *QueueAdapter) RecordNotificationFailure(ctx context.Context, id int64, errorType, errorMessage string) error {
	result, err := a.db.ExecContext(ctx, `
		UPDATE email_processing_queue
		SET error_type = $1,
		    error_message = $2,
		    error_timestamp = NOW(),
		    updated_at = NOW()
		WHERE id = $3
	`, errorType, errorMessage, id)
	if err != nil {
		return err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// IncrementRetry bumps retry_count and returns the new value.
func (a *QueueAdapter) IncrementRetry(ctx context.Context, id int64) (int, error) {
	var count int
	err := a.db.QueryRowxContext(ctx, `
		UPDATE email_processing_queue
		SET retry_count = retry_count + 1, updated_at = NOW()
		WHERE id = $1
		RETURNING retry_count
	`, id).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, err
	}
	return count, nil
}

// ListByStatus returns rows in the given status, oldest first.
func (a *QueueAdapter) ListByStatus(ctx context.Context, status domain.EmailStatus, limit int) ([]domain.EmailQueueItem, error) {
	var rows []queueRow
	query := `SELECT ` + queueColumns + `
		FROM email_processing_queue
		WHERE status = $1
		ORDER BY created_at
		LIMIT $2`
	if err := a.db.SelectContext(ctx, &rows, query, string(status), limit); err != nil {
		return nil, err
	}
	return rowsToItems(rows), nil
}

// ListErrored returns rows in error state, newest failure first.
func (a *QueueAdapter) ListErrored(ctx context.Context, userID *int64, limit, offset int) ([]domain.EmailQueueItem, error) {
	var rows []queueRow
	var err error
	if userID != nil {
		query := `SELECT ` + queueColumns + `
			FROM email_processing_queue
			WHERE status = 'error' AND user_id = $1
			ORDER BY error_timestamp DESC
			LIMIT $2 OFFSET $3`
		err = a.db.SelectContext(ctx, &rows, query, *userID, limit, offset)
	} else {
		query := `SELECT ` + queueColumns + `
			FROM email_processing_queue
			WHERE status = 'error'
			ORDER BY error_timestamp DESC
			LIMIT $1 OFFSET $2`
		err = a.db.SelectContext(ctx, &rows, query, limit, offset)
	}
	if err != nil {
		return nil, err
	}
	return rowsToItems(rows), nil
}

// CountByStatus returns row counts grouped by status.
func (a *QueueAdapter) CountByStatus(ctx context.Context) (map[domain.EmailStatus]int64, error) {
	rows, err := a.db.QueryxContext(ctx,
		`SELECT status, COUNT(*) FROM email_processing_queue GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[domain.EmailStatus]int64)
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		counts[domain.EmailStatus(status)] = count
	}
	return counts, rows.Err()
}

// CountErrorsByType returns error-state row counts grouped by error_type.
func (a *QueueAdapter) CountErrorsByType(ctx context.Context) (map[string]int64, error) {
	rows, err := a.db.QueryxContext(ctx, `
		SELECT COALESCE(error_type, 'unknown'), COUNT(*)
		FROM email_processing_queue
		WHERE status = 'error'
		GROUP BY error_type
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var errorType string
		var count int64
		if err := rows.Scan(&errorType, &count); err != nil {
			return nil, err
		}
		counts[errorType] = count
	}
	return counts, rows.Err()
}

// ResetForRetry re-arms an errored row for a fresh workflow run.
func (a *QueueAdapter) ResetForRetry(ctx context.Context, id int64) error {
	result, err := a.db.ExecContext(ctx, `
		UPDATE email_processing_queue
		SET status = 'pending',
		    retry_count = 0,
		    error_type = NULL,
		    error_message = NULL,
		    error_timestamp = NULL,
		    dlq_reason = NULL,
		    updated_at = NOW()
		WHERE id = $1 AND status = 'error'
	`, id)
	if err != nil {
		return err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func rowsToItems(rows []queueRow) []domain.EmailQueueItem {
	items := make([]domain.EmailQueueItem, 0, len(rows))
	for i := range rows {
		items = append(items, *rows[i].toDomain())
	}
	return items
}
