package domain

import "time"

// User owns a mailbox. Rows are created by the onboarding flow; the
// assistant core consumes them read-only.
type User struct {
	ID                    int64      `json:"id"`
	Email                 string     `json:"email"`
	EncryptedAccessToken  string     `json:"-"`
	EncryptedRefreshToken string     `json:"-"`
	TokenExpiry           *time.Time `json:"token_expiry,omitempty"`
	ChatID                *int64     `json:"chat_id,omitempty"` // Telegram chat, nil until linked
	Active                bool       `json:"active"`

	// Priority senders configured by the user (exact addresses or domains)
	PrioritySenders []string `json:"priority_senders,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasChatChannel returns true if the user linked a chat channel for approvals.
func (u *User) HasChatChannel() bool {
	return u.ChatID != nil && *u.ChatID != 0
}

// HasMailTokens returns true if both OAuth tokens are present.
func (u *User) HasMailTokens() bool {
	return u.EncryptedAccessToken != "" && u.EncryptedRefreshToken != ""
}
