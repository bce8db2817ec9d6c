package persistence

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"assistant_server/core/domain"
)

// FolderAdapter implements out.FolderRepository using PostgreSQL.
type FolderAdapter struct {
	db *sqlx.DB
}

// NewFolderAdapter creates a new folder adapter.
func NewFolderAdapter(db *sqlx.DB) *FolderAdapter {
	return &FolderAdapter{db: db}
}

type folderRow struct {
	ID              int64          `db:"id"`
	UserID          int64          `db:"user_id"`
	Name            string         `db:"name"`
	ExternalLabelID sql.NullString `db:"external_label_id"`
	Keywords        pq.StringArray `db:"keywords"`
	CreatedAt       time.Time      `db:"created_at"`
	UpdatedAt       time.Time      `db:"updated_at"`
}

const folderColumns = `id, user_id, name, external_label_id, keywords, created_at, updated_at`

func (r *folderRow) toDomain() *domain.FolderCategory {
	f := &domain.FolderCategory{
		ID:        r.ID,
		UserID:    r.UserID,
		Name:      r.Name,
		Keywords:  r.Keywords,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
	if r.ExternalLabelID.Valid {
		id := r.ExternalLabelID.String
		f.ExternalLabelID = &id
	}
	return f
}

// GetByID returns the folder with the given id.
func (a *FolderAdapter) GetByID(ctx context.Context, id int64) (*domain.FolderCategory, error) {
	var row folderRow
	query := `SELECT ` + folderColumns + ` FROM folder_categories WHERE id = $1`
	if err := a.db.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return row.toDomain(), nil
}

// ListByUser returns the user's folders ordered by creation.
func (a *FolderAdapter) ListByUser(ctx context.Context, userID int64) ([]domain.FolderCategory, error) {
	var rows []folderRow
	query := `SELECT ` + folderColumns + ` FROM folder_categories WHERE user_id = $1 ORDER BY id`
	if err := a.db.SelectContext(ctx, &rows, query, userID); err != nil {
		return nil, err
	}

	folders := make([]domain.FolderCategory, 0, len(rows))
	for i := range rows {
		folders = append(folders, *rows[i].toDomain())
	}
	return folders, nil
}

// GetByName returns the user's folder with the exact given name.
func (a *FolderAdapter) GetByName(ctx context.Context, userID int64, name string) (*domain.FolderCategory, error) {
	var row folderRow
	query := `SELECT ` + folderColumns + ` FROM folder_categories WHERE user_id = $1 AND name = $2`
	if err := a.db.GetContext(ctx, &row, query, userID, name); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return row.toDomain(), nil
}

// SetExternalLabelID stores the provider label id after lazy creation.
func (a *FolderAdapter) SetExternalLabelID(ctx context.Context, folderID int64, labelID string) error {
	result, err := a.db.ExecContext(ctx,
		`UPDATE folder_categories SET external_label_id = $1, updated_at = NOW() WHERE id = $2`,
		labelID, folderID)
	if err != nil {
		return err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
