// Package persistence implements the PostgreSQL repositories.
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

// UserAdapter implements out.UserRepository using PostgreSQL.
type UserAdapter struct {
	db *sqlx.DB
}

// NewUserAdapter creates a new user adapter.
func NewUserAdapter(db *sqlx.DB) *UserAdapter {
	return &UserAdapter{db: db}
}

type userRow struct {
	ID                    int64          `db:"id"`
	Email                 string         `db:"email"`
	EncryptedAccessToken  sql.NullString `db:"encrypted_access_token"`
	EncryptedRefreshToken sql.NullString `db:"encrypted_refresh_token"`
	TokenExpiry           sql.NullTime   `db:"token_expiry"`
	ChatID                sql.NullInt64  `db:"chat_id"`
	Active                bool           `db:"active"`
	PrioritySenders       pq.StringArray `db:"priority_senders"`
	CreatedAt             time.Time      `db:"created_at"`
	UpdatedAt             time.Time      `db:"updated_at"`
}

const userColumns = `
	id, email, encrypted_access_token, encrypted_refresh_token,
	token_expiry, chat_id, active, priority_senders, created_at, updated_at
`

func (r *userRow) toDomain() *domain.User {
	u := &domain.User{
		ID:              r.ID,
		Email:           r.Email,
		Active:          r.Active,
		PrioritySenders: r.PrioritySenders,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
	if r.EncryptedAccessToken.Valid {
		u.EncryptedAccessToken = r.EncryptedAccessToken.String
	}
	if r.EncryptedRefreshToken.Valid {
		u.EncryptedRefreshToken = r.EncryptedRefreshToken.String
	}
	if r.TokenExpiry.Valid {
		t := r.TokenExpiry.Time
		u.TokenExpiry = &t
	}
	if r.ChatID.Valid {
		id := r.ChatID.Int64
		u.ChatID = &id
	}
	return u
}

// GetByID returns the user with the given id.
func (a *UserAdapter) GetByID(ctx context.Context, id int64) (*domain.User, error) {
	var row userRow
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	if err := a.db.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return row.toDomain(), nil
}

// GetByChatID returns the user linked to the given chat channel.
func (a *UserAdapter) GetByChatID(ctx context.Context, chatID int64) (*domain.User, error) {
	var row userRow
	query := `SELECT ` + userColumns + ` FROM users WHERE chat_id = $1`
	if err := a.db.GetContext(ctx, &row, query, chatID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return row.toDomain(), nil
}

// ListActiveWithTokens returns active users with mail tokens, ordered by id.
func (a *UserAdapter) ListActiveWithTokens(ctx context.Context) ([]domain.User, error) {
	var rows []userRow
	query := `
		SELECT ` + userColumns + `
		FROM users
		WHERE active = true
		  AND encrypted_access_token IS NOT NULL
		  AND encrypted_refresh_token IS NOT NULL
		ORDER BY id
	`
	if err := a.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, err
	}

	users := make([]domain.User, 0, len(rows))
	for i := range rows {
		users = append(users, *rows[i].toDomain())
	}
	return users, nil
}

// UpdateTokens stores rotated OAuth tokens. Tokens arrive encrypted.
func (a *UserAdapter) UpdateTokens(ctx context.Context, userID int64, encryptedAccess, encryptedRefresh string, expiry time.Time) error {
	query := `
		UPDATE users
		SET encrypted_access_token = $2,
		    encrypted_refresh_token = $3,
		    token_expiry = $4,
		    updated_at = NOW()
		WHERE id = $1
	`
	result, err := a.db.ExecContext(ctx, query, userID, encryptedAccess, encryptedRefresh, expiry)
	if err != nil {
		return err
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}
