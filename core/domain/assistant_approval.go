package domain

import "time"

// ApprovalAction is the decision a user took on a sorting proposal.
type ApprovalAction string

const (
	ActionApprove      ApprovalAction = "approve"
	ActionReject       ApprovalAction = "reject"
	ActionChangeFolder ApprovalAction = "change_folder"
)

// DraftAction is the decision a user took on a reply draft.
type DraftAction string

const (
	DraftActionSend   DraftAction = "send_response"
	DraftActionEdit   DraftAction = "edit_response"
	DraftActionReject DraftAction = "reject_response"
)

// ApprovalHistory is an append-only audit row per user decision. Feeds
// future accuracy analysis (which folders the AI gets wrong per user).
type ApprovalHistory struct {
	ID                   int64          `json:"id"`
	UserID               int64          `json:"user_id"`
	EmailQueueID         int64          `json:"email_queue_id"`
	ActionType           ApprovalAction `json:"action_type"`
	AISuggestedFolderID  *int64         `json:"ai_suggested_folder_id,omitempty"`
	UserSelectedFolderID *int64         `json:"user_selected_folder_id,omitempty"`
	Approved             bool           `json:"approved"`
	Timestamp            time.Time      `json:"timestamp"`
}
