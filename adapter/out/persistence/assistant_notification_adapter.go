package persistence

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"

	"assistant_server/core/domain"
)

// ManualNotificationAdapter implements out.NotificationRepository using
// PostgreSQL. Rows are chat messages that exhausted delivery retries.
type ManualNotificationAdapter struct {
	db *sqlx.DB
}

// NewManualNotificationAdapter creates a new manual notification adapter.
func NewManualNotificationAdapter(db *sqlx.DB) *ManualNotificationAdapter {
	return &ManualNotificationAdapter{db: db}
}

type manualNotificationRow struct {
	ID          int64          `db:"id"`
	EmailID     int64          `db:"email_id"`
	TelegramID  int64          `db:"telegram_id"`
	MessageText string         `db:"message_text"`
	ButtonsJSON sql.NullString `db:"buttons_json"`
	ErrorType   string         `db:"error_type"`
	RetryCount  int            `db:"retry_count"`
	Status      string         `db:"status"`
	CreatedAt   time.Time      `db:"created_at"`
	UpdatedAt   time.Time      `db:"updated_at"`
}

func (r *manualNotificationRow) toDomain() *domain.ManualNotification {
	n := &domain.ManualNotification{
		ID:          r.ID,
		EmailID:     r.EmailID,
		TelegramID:  r.TelegramID,
		MessageText: r.MessageText,
		ErrorType:   r.ErrorType,
		RetryCount:  r.RetryCount,
		Status:      domain.NotificationStatus(r.Status),
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
	if r.ButtonsJSON.Valid {
		s := r.ButtonsJSON.String
		n.ButtonsJSON = &s
	}
	return n
}

// Insert persists a failed chat message for out-of-band replay.
func (a *ManualNotificationAdapter) Insert(ctx context.Context, n *domain.ManualNotification) error {
	var buttons sql.NullString
	if n.ButtonsJSON != nil {
		buttons = sql.NullString{String: *n.ButtonsJSON, Valid: true}
	}

	status := n.Status
	if status == "" {
		status = domain.NotificationPending
	}

	query := `
		INSERT INTO manual_notifications
			(email_id, telegram_id, message_text, buttons_json, error_type, retry_count, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
		RETURNING id, created_at, updated_at
	`
	err := a.db.QueryRowxContext(ctx, query,
		n.EmailID, n.TelegramID, n.MessageText, buttons, n.ErrorType, n.RetryCount, string(status)).
		Scan(&n.ID, &n.CreatedAt, &n.UpdatedAt)
	if err != nil {
		return err
	}
	n.Status = status
	return nil
}

// ListPending returns undelivered rows, oldest first.
func (a *ManualNotificationAdapter) ListPending(ctx context.Context, limit int) ([]domain.ManualNotification, error) {
	var rows []manualNotificationRow
	query := `
		SELECT id, email_id, telegram_id, message_text, buttons_json,
		       error_type, retry_count, status, created_at, updated_at
		FROM manual_notifications
		WHERE status = 'pending'
		ORDER BY created_at
		LIMIT $1
	`
	if err := a.db.SelectContext(ctx, &rows, query, limit); err != nil {
		return nil, err
	}

	items := make([]domain.ManualNotification, 0, len(rows))
	for i := range rows {
		items = append(items, *rows[i].toDomain())
	}
	return items, nil
}

// MarkSent closes a replayed row.
func (a *ManualNotificationAdapter) MarkSent(ctx context.Context, id int64) error {
	return a.setStatus(ctx, id, domain.NotificationSent)
}

// MarkFailed marks a row whose replay also failed.
func (a *ManualNotificationAdapter) MarkFailed(ctx context.Context, id int64) error {
	return a.setStatus(ctx, id, domain.NotificationFailed)
}

func (a *ManualNotificationAdapter) setStatus(ctx context.Context, id int64, status domain.NotificationStatus) error {
	result, err := a.db.ExecContext(ctx,
		`UPDATE manual_notifications SET status = $1, updated_at = NOW() WHERE id = $2`,
		string(status), id)
	if err != nil {
		return err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
