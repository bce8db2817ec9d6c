package domain

import "time"

// WorkflowState mirrors the externally visible state of a workflow run.
type WorkflowState string

const (
	WorkflowStateCreated               WorkflowState = "created"
	WorkflowStateAwaitingApproval      WorkflowState = "awaiting_approval"
	WorkflowStateAwaitingDraftApproval WorkflowState = "awaiting_draft_approval"
	WorkflowStateSent                  WorkflowState = "sent"
	WorkflowStateRejected              WorkflowState = "rejected"
)

// WorkflowMapping connects a paused workflow run to its chat message so a
// button callback can find the run to resume. EmailID is unique.
type WorkflowMapping struct {
	ID            int64         `json:"id"`
	EmailID       int64         `json:"email_id"`
	UserID        int64         `json:"user_id"`
	ThreadID      string        `json:"thread_id"`
	ChatMessageID *int          `json:"chat_message_id,omitempty"`
	State         WorkflowState `json:"workflow_state"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// WorkflowCheckpoint is the engine-managed persisted state of a run. One
// row per (ThreadID, Step); only the latest step is needed to resume.
type WorkflowCheckpoint struct {
	ID        int64          `json:"id"`
	ThreadID  string         `json:"thread_id"`
	Step      int            `json:"step"`
	Node      string         `json:"node"`
	State     map[string]any `json:"state"`
	CreatedAt time.Time      `json:"created_at"`
}
