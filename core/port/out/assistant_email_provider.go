// Package out defines outbound ports (driven ports) for the application.
package out

import (
	"context"
	"time"
)

// BodyType selects the MIME type of an outgoing body.
type BodyType string

const (
	BodyTypePlain BodyType = "plain"
	BodyTypeHTML  BodyType = "html"
)

// MailProvider is the typed abstraction over the mail provider, scoped to
// a single user's mailbox (the adapter carries the user's token source).
type MailProvider interface {
	// ListMessages returns message stubs matching a provider query
	// ("is:unread", "after:1700000000"). Stubs carry headers and snippet
	// only; use GetMessage for the body.
	ListMessages(ctx context.Context, query string, maxResults int) ([]MailMessage, error)

	// ListMessagesPage is ListMessages with pagination, for backfill.
	ListMessagesPage(ctx context.Context, query string, pageSize int, pageToken string) (*MailPage, error)

	// GetMessage fetches a single message including the decoded body.
	GetMessage(ctx context.Context, messageID string) (*MailMessage, error)

	// GetThread returns all messages of a thread in chronological order.
	GetThread(ctx context.Context, threadID string) ([]MailMessage, error)

	ListLabels(ctx context.Context) ([]MailLabel, error)

	// CreateLabel is idempotent: a name conflict resolves to the existing
	// label instead of failing.
	CreateLabel(ctx context.Context, name string, color *string) (*MailLabel, error)

	ApplyLabel(ctx context.Context, messageID, labelID string) (bool, error)
	RemoveLabel(ctx context.Context, messageID, labelID string) (bool, error)

	// SendEmail composes an RFC-2822 message and sends it. When ThreadID
	// is set and no explicit headers are given, threading headers are
	// derived from the thread's Message-IDs.
	SendEmail(ctx context.Context, msg *OutgoingMail) (*SendResult, error)
}

// MailMessage is a normalized provider message.
type MailMessage struct {
	ID         string
	ThreadID   string
	MessageID  string // RFC-822 Message-ID header
	InReplyTo  string
	References string

	From    string
	To      []string
	Subject string
	Snippet string
	Body    string
	IsHTML  bool

	LabelIDs []string
	Date     time.Time
}

// MailPage is one page of a paginated listing.
type MailPage struct {
	Messages      []MailMessage
	NextPageToken string
	TotalEstimate int
}

// MailLabel is a provider label.
type MailLabel struct {
	ID    string
	Name  string
	Color *string
}

// OutgoingMail is a reply or fresh message to send.
type OutgoingMail struct {
	To       string
	Subject  string
	Body     string
	BodyType BodyType

	// Threading. Explicit headers win over ThreadID derivation.
	InReplyTo  string
	References string
	ThreadID   string
}

// SendResult reports the provider-assigned ids of a sent message.
type SendResult struct {
	MessageID string
	ThreadID  string
	SentAt    time.Time
}

// MailProviderFactory builds a provider client bound to one user's tokens.
type MailProviderFactory interface {
	ForUser(ctx context.Context, userID int64) (MailProvider, error)
}
