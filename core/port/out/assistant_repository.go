package out

import (
	"context"
	"time"

	"assistant_server/core/domain"
)

// UserRepository reads mailbox owners. Rows are created out of band.
type UserRepository interface {
	GetByID(ctx context.Context, id int64) (*domain.User, error)
	GetByChatID(ctx context.Context, chatID int64) (*domain.User, error)

	// ListActiveWithTokens returns active users holding mail tokens,
	// ordered by id. The poller fans out over this set.
	ListActiveWithTokens(ctx context.Context) ([]domain.User, error)

	// UpdateTokens stores freshly rotated (already encrypted) OAuth tokens.
	UpdateTokens(ctx context.Context, userID int64, encryptedAccess, encryptedRefresh string, expiry time.Time) error
}

// FolderRepository manages user destination folders.
type FolderRepository interface {
	GetByID(ctx context.Context, id int64) (*domain.FolderCategory, error)
	ListByUser(ctx context.Context, userID int64) ([]domain.FolderCategory, error)
	GetByName(ctx context.Context, userID int64, name string) (*domain.FolderCategory, error)
	SetExternalLabelID(ctx context.Context, folderID int64, labelID string) error
}

// QueueRepository manages email processing queue rows.
type QueueRepository interface {
	GetByID(ctx context.Context, id int64) (*domain.EmailQueueItem, error)

	// InsertIfAbsent inserts the row unless (user_id, provider_message_id)
	// already exists. Returns (nil, false, nil) on conflict. The unique
	// constraint, not this method, is what makes concurrent polling safe.
	InsertIfAbsent(ctx context.Context, item *domain.EmailQueueItem) (*domain.EmailQueueItem, bool, error)

	UpdateStatus(ctx context.Context, id int64, status domain.EmailStatus) error
	SaveClassification(ctx context.Context, item *domain.EmailQueueItem) error
	SaveDraft(ctx context.Context, id int64, draft string) error
	SetPriority(ctx context.Context, id int64, score int, isPriority bool) error

	// MarkSent sets email_sent_at once. Returns false if it was already set.
	MarkSent(ctx context.Context, id int64, sentAt time.Time) (bool, error)

	// MarkError records the failure taxonomy and flips status to error.
	MarkError(ctx context.Context, id int64, errorType, errorMessage string, dlqReason *string) error

	// RecordNotificationFailure stores the failure taxonomy without
	// changing status: the workflow stays parked, delivery is retried
	// through the manual queue.
	RecordNotificationFailure(ctx context.Context, id int64, errorType, errorMessage string) error

	IncrementRetry(ctx context.Context, id int64) (int, error)

	ListByStatus(ctx context.Context, status domain.EmailStatus, limit int) ([]domain.EmailQueueItem, error)
	ListErrored(ctx context.Context, userID *int64, limit, offset int) ([]domain.EmailQueueItem, error)
	CountByStatus(ctx context.Context) (map[domain.EmailStatus]int64, error)
	CountErrorsByType(ctx context.Context) (map[string]int64, error)

	// ResetForRetry re-arms an errored row for a fresh workflow run.
	ResetForRetry(ctx context.Context, id int64) error
}

// WorkflowRepository manages workflow mappings (chat message <-> run).
type WorkflowRepository interface {
	Create(ctx context.Context, m *domain.WorkflowMapping) error
	GetByEmailID(ctx context.Context, emailID int64) (*domain.WorkflowMapping, error)
	GetByThreadID(ctx context.Context, threadID string) (*domain.WorkflowMapping, error)
	UpdateState(ctx context.Context, emailID int64, state domain.WorkflowState) error
	SetChatMessageID(ctx context.Context, emailID int64, messageID int) error
}

// CheckpointStore persists workflow engine state between nodes.
type CheckpointStore interface {
	// Save writes a checkpoint for (threadID, step). Steps are monotonic
	// within a run; Save with an existing step overwrites it.
	Save(ctx context.Context, cp *domain.WorkflowCheckpoint) error

	// Latest returns the highest-step checkpoint, or nil if none exists.
	Latest(ctx context.Context, threadID string) (*domain.WorkflowCheckpoint, error)
}

// IndexingRepository manages per-user backfill progress rows.
type IndexingRepository interface {
	GetByUserID(ctx context.Context, userID int64) (*domain.IndexingProgress, error)
	Create(ctx context.Context, p *domain.IndexingProgress) error
	UpdateProgress(ctx context.Context, userID int64, processedCount int, lastMessageID string, totalEmails int) error
	UpdateStatus(ctx context.Context, userID int64, status domain.IndexingStatus, errorMessage *string) error
	ScheduleRetry(ctx context.Context, userID int64, retryCount int, retryAfter time.Time, errorMessage string) error
	MarkCompleted(ctx context.Context, userID int64, completedAt time.Time) error

	// ListResumable returns paused/in_progress rows whose retry_after has
	// elapsed and whose updated_at is older than cooldown (storm guard).
	ListResumable(ctx context.Context, now time.Time, cooldown time.Duration) ([]domain.IndexingProgress, error)
}

// ApprovalRepository appends to the decision audit log.
type ApprovalRepository interface {
	Record(ctx context.Context, h *domain.ApprovalHistory) error
	ListByUser(ctx context.Context, userID int64, limit int) ([]domain.ApprovalHistory, error)
}

// DLQRepository manages dead-letter rows for failed provider operations.
type DLQRepository interface {
	Insert(ctx context.Context, item *domain.DeadLetterItem) error
	ListUnresolved(ctx context.Context, limit int) ([]domain.DeadLetterItem, error)
	MarkResolved(ctx context.Context, id int64) error
}

// NotificationRepository manages the manual-notification replay queue.
type NotificationRepository interface {
	Insert(ctx context.Context, n *domain.ManualNotification) error
	ListPending(ctx context.Context, limit int) ([]domain.ManualNotification, error)
	MarkSent(ctx context.Context, id int64) error
	MarkFailed(ctx context.Context, id int64) error
}
