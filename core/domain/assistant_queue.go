package domain

import "time"

// EmailStatus tracks an email queue row through its lifecycle.
type EmailStatus string

const (
	StatusPending               EmailStatus = "pending"
	StatusProcessing            EmailStatus = "processing"
	StatusAwaitingApproval      EmailStatus = "awaiting_approval"
	StatusAwaitingDraftApproval EmailStatus = "awaiting_draft_approval"
	StatusCompleted             EmailStatus = "completed"
	StatusRejected              EmailStatus = "rejected"
	StatusResponseSent          EmailStatus = "response_sent"
	StatusError                 EmailStatus = "error"
)

// IsTerminal returns true if the row will not be processed further.
func (s EmailStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusRejected, StatusResponseSent, StatusError:
		return true
	}
	return false
}

// Classification is the LLM-assigned handling class.
type Classification string

const (
	ClassificationSortOnly      Classification = "sort_only"
	ClassificationNeedsResponse Classification = "needs_response"
)

// Tone is the writing tone detected for (and used in) reply drafts.
type Tone string

const (
	ToneFormal       Tone = "formal"
	ToneProfessional Tone = "professional"
	ToneCasual       Tone = "casual"
)

// EmailQueueItem is the unit of work. One row per (user, provider message);
// (UserID, ProviderMessageID) is unique in the database, which is what makes
// concurrent polling safe. Rows are never deleted.
type EmailQueueItem struct {
	ID                int64     `json:"id"`
	UserID            int64     `json:"user_id"`
	ProviderMessageID string    `json:"provider_message_id"`
	ProviderThreadID  string    `json:"provider_thread_id"`
	Sender            string    `json:"sender"`
	Subject           string    `json:"subject"`
	ReceivedAt        time.Time `json:"received_at"`

	Status                  EmailStatus     `json:"status"`
	Classification          *Classification `json:"classification,omitempty"`
	ProposedFolderID        *int64          `json:"proposed_folder_id,omitempty"`
	ClassificationReasoning string          `json:"classification_reasoning,omitempty"`
	PriorityScore           int             `json:"priority_score"`
	IsPriority              bool            `json:"is_priority"`
	DetectedLanguage        string          `json:"detected_language,omitempty"`
	Tone                    *Tone           `json:"tone,omitempty"`
	DraftResponse           *string         `json:"draft_response,omitempty"`

	RetryCount     int        `json:"retry_count"`
	ErrorType      *string    `json:"error_type,omitempty"`
	ErrorMessage   *string    `json:"error_message,omitempty"`
	ErrorTimestamp *time.Time `json:"error_timestamp,omitempty"`
	DLQReason      *string    `json:"dlq_reason,omitempty"`

	// EmailSentAt is set exactly once when the reply goes out. The send
	// node checks it before calling the provider, so a replayed resume
	// cannot send twice.
	EmailSentAt *time.Time `json:"email_sent_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NeedsResponse returns true if classification asked for a reply draft.
func (e *EmailQueueItem) NeedsResponse() bool {
	return e.Classification != nil && *e.Classification == ClassificationNeedsResponse
}

// HasDraft returns true if a non-empty reply draft is stored.
func (e *EmailQueueItem) HasDraft() bool {
	return e.DraftResponse != nil && *e.DraftResponse != ""
}

// ReplySent returns true if the reply was already delivered.
func (e *EmailQueueItem) ReplySent() bool {
	return e.EmailSentAt != nil
}
