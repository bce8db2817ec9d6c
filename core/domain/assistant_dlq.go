package domain

import "time"

// DeadLetterItem records a provider operation that exhausted retries.
// ContextJSON freezes the relevant queue fields at failure time so the row
// can be replayed even after the live row moved on.
type DeadLetterItem struct {
	ID                int64      `json:"id"`
	EmailQueueID      int64      `json:"email_queue_id"`
	OperationType     string     `json:"operation_type"` // apply_label, send_email, ...
	ProviderMessageID string     `json:"provider_message_id"`
	LabelID           *string    `json:"label_id,omitempty"`
	ErrorType         string     `json:"error_type"`
	ErrorMessage      string     `json:"error_message"`
	RetryCount        int        `json:"retry_count"`
	LastRetryAt       *time.Time `json:"last_retry_at,omitempty"`
	ContextJSON       string     `json:"context_json"`
	Resolved          bool       `json:"resolved"`
	CreatedAt         time.Time  `json:"created_at"`
}
