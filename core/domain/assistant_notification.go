package domain

import "time"

// NotificationStatus tracks a manual-notification replay row.
type NotificationStatus string

const (
	NotificationPending NotificationStatus = "pending"
	NotificationSent    NotificationStatus = "sent"
	NotificationFailed  NotificationStatus = "failed"
)

// ManualNotification is a chat message the delivery tier could not send
// after retries and truncation. An operator (or a replay job) sends it
// out of band; the owning workflow continues without it.
type ManualNotification struct {
	ID          int64              `json:"id"`
	EmailID     int64              `json:"email_id"`
	TelegramID  int64              `json:"telegram_id"`
	MessageText string             `json:"message_text"`
	ButtonsJSON *string            `json:"buttons_json,omitempty"`
	ErrorType   string             `json:"error_type"`
	RetryCount  int                `json:"retry_count"`
	Status      NotificationStatus `json:"status"`
	CreatedAt   time.Time          `json:"created_at"`
	UpdatedAt   time.Time          `json:"updated_at"`
}
