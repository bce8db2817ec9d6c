package persistence

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"

	"assistant_server/core/domain"
)

// ApprovalAdapter implements out.ApprovalRepository using PostgreSQL.
// The table is append-only; rows feed per-user accuracy analysis.
type ApprovalAdapter struct {
	db *sqlx.DB
}

// NewApprovalAdapter creates a new approval history adapter.
func NewApprovalAdapter(db *sqlx.DB) *ApprovalAdapter {
	return &ApprovalAdapter{db: db}
}

type approvalRow struct {
	ID                   int64         `db:"id"`
	UserID               int64         `db:"user_id"`
	EmailQueueID         int64         `db:"email_queue_id"`
	ActionType           string        `db:"action_type"`
	AISuggestedFolderID  sql.NullInt64 `db:"ai_suggested_folder_id"`
	UserSelectedFolderID sql.NullInt64 `db:"user_selected_folder_id"`
	Approved             bool          `db:"approved"`
	Timestamp            time.Time     `db:"timestamp"`
}

func (r *approvalRow) toDomain() *domain.ApprovalHistory {
	h := &domain.ApprovalHistory{
		ID:           r.ID,
		UserID:       r.UserID,
		EmailQueueID: r.EmailQueueID,
		ActionType:   domain.ApprovalAction(r.ActionType),
		Approved:     r.Approved,
		Timestamp:    r.Timestamp,
	}
	if r.AISuggestedFolderID.Valid {
		id := r.AISuggestedFolderID.Int64
		h.AISuggestedFolderID = &id
	}
	if r.UserSelectedFolderID.Valid {
		id := r.UserSelectedFolderID.Int64
		h.UserSelectedFolderID = &id
	}
	return h
}

// Record appends a decision row.
func (a *ApprovalAdapter) Record(ctx context.Context, h *domain.ApprovalHistory) error {
	var suggested, selected sql.NullInt64
	if h.AISuggestedFolderID != nil {
		suggested = sql.NullInt64{Int64: *h.AISuggestedFolderID, Valid: true}
	}
	if h.UserSelectedFolderID != nil {
		selected = sql.NullInt64{Int64: *h.UserSelectedFolderID, Valid: true}
	}

	query := `
		INSERT INTO approval_history
			(user_id, email_queue_id, action_type, ai_suggested_folder_id, user_selected_folder_id, approved, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		RETURNING id, timestamp
	`
	return a.db.QueryRowxContext(ctx, query,
		h.UserID, h.EmailQueueID, string(h.ActionType), suggested, selected, h.Approved).
		Scan(&h.ID, &h.Timestamp)
}

// ListByUser returns the user's recent decisions, newest first.
func (a *ApprovalAdapter) ListByUser(ctx context.Context, userID int64, limit int) ([]domain.ApprovalHistory, error) {
	var rows []approvalRow
	query := `
		SELECT id, user_id, email_queue_id, action_type, ai_suggested_folder_id,
		       user_selected_folder_id, approved, timestamp
		FROM approval_history
		WHERE user_id = $1
		ORDER BY timestamp DESC
		LIMIT $2
	`
	if err := a.db.SelectContext(ctx, &rows, query, userID, limit); err != nil {
		return nil, err
	}

	history := make([]domain.ApprovalHistory, 0, len(rows))
	for i := range rows {
		history = append(history, *rows[i].toDomain())
	}
	return history, nil
}
