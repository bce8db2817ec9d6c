// Package worker runs background jobs: mailbox polls, workflow starts
// and resumes, indexing, and notification replay. Jobs arrive from the
// Redis stream consumer and from the in-process schedulers.
package worker

import (
	"time"

	"github.com/google/uuid"
)

// Priority levels for job scheduling.
type Priority int

const (
	PriorityLow      Priority = 0
	PriorityNormal   Priority = 1
	PriorityHigh     Priority = 2
	PriorityCritical Priority = 3
)

// JobType represents the type of a job.
type JobType = string

// Job types
const (
	// Mail jobs
	JobMailPoll JobType = "mail.poll"

	// Workflow jobs
	JobWorkflowStart  = "workflow.start"
	JobWorkflowResume = "workflow.resume"

	// Indexing jobs
	JobIndexingStart     = "indexing.start"
	JobIndexingResume    = "indexing.resume"
	JobIndexingSupervise = "indexing.supervise"
	JobIndexingCleanup   = "indexing.cleanup"

	// Notification jobs
	JobNotifyFlush = "notify.flush"
)

type Message struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Payload   map[string]any `json:"payload"`
	Priority  Priority       `json:"priority"`
	CreatedAt time.Time      `json:"created_at"`
	Retries   int            `json:"retries"`
}

func NewMessage(jobType string, payload map[string]any) *Message {
	return &Message{
		ID:        uuid.New().String(),
		Type:      jobType,
		Payload:   payload,
		Priority:  PriorityNormal,
		CreatedAt: time.Now(),
		Retries:   0,
	}
}

// NewPriorityMessage creates a message with specific priority.
func NewPriorityMessage(jobType string, payload map[string]any, priority Priority) *Message {
	m := NewMessage(jobType, payload)
	m.Priority = priority
	return m
}

// IsPriority checks if message should go to priority queue.
func (m *Message) IsPriority() bool {
	return m.Priority >= PriorityHigh
}

// Mail payloads. UserID zero means "all active users".
type MailPollPayload struct {
	UserID int64 `json:"user_id,omitempty"`
}

// Workflow payloads
type WorkflowStartPayload struct {
	EmailID int64 `json:"email_id"`
}

type WorkflowResumePayload struct {
	ThreadID string         `json:"thread_id"`
	Decision map[string]any `json:"decision,omitempty"`
}

// Indexing payloads
type IndexingPayload struct {
	UserID int64 `json:"user_id"`
}
