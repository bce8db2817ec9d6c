package domain

import "time"

// IndexingStatus tracks a per-user vector backfill job.
type IndexingStatus string

const (
	IndexingInProgress IndexingStatus = "in_progress"
	IndexingPaused     IndexingStatus = "paused"
	IndexingCompleted  IndexingStatus = "completed"
	IndexingFailed     IndexingStatus = "failed"
)

// IndexingProgress is the checkpoint row for a user's backfill. One row
// per user. ProcessedCount and LastProcessedMessageID are informational:
// resume re-fetches the full range and skips the first ProcessedCount.
type IndexingProgress struct {
	ID                     int64          `json:"id"`
	UserID                 int64          `json:"user_id"`
	TotalEmails            int            `json:"total_emails"`
	ProcessedCount         int            `json:"processed_count"`
	LastProcessedMessageID *string        `json:"last_processed_message_id,omitempty"`
	Status                 IndexingStatus `json:"status"`
	RetryCount             int            `json:"retry_count"`
	RetryAfter             *time.Time     `json:"retry_after,omitempty"`
	ErrorMessage           *string        `json:"error_message,omitempty"`
	StartedAt              time.Time      `json:"started_at"`
	CompletedAt            *time.Time     `json:"completed_at,omitempty"`
	UpdatedAt              time.Time      `json:"updated_at"`
}

// IsActive returns true if the job is running or can still be resumed.
func (p *IndexingProgress) IsActive() bool {
	return p.Status == IndexingInProgress || p.Status == IndexingPaused
}

// CanResume returns true if a paused job's retry window has elapsed.
func (p *IndexingProgress) CanResume(now time.Time) bool {
	if p.Status != IndexingPaused && p.Status != IndexingInProgress {
		return false
	}
	if p.RetryAfter != nil && p.RetryAfter.After(now) {
		return false
	}
	return true
}
