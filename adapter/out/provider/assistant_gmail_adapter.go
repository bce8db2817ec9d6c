// Package provider implements mail provider adapters.
package provider

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/mail"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"assistant_server/core/port/out"
	"assistant_server/pkg/apperr"
	"assistant_server/pkg/logger"
)

// fetchConcurrency bounds parallel per-message fetches within a listing.
const fetchConcurrency = 5

// GmailConfig holds OAuth client configuration.
type GmailConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

// GmailClient implements out.MailProvider for one user's mailbox.
type GmailClient struct {
	config *oauth2.Config
	source oauth2.TokenSource
	cb     *gobreaker.CircuitBreaker
	log    *logger.Logger
}

// NewGmailClient creates a client bound to the given token. The circuit
// breaker is shared across clients: Gmail availability is API-wide, not
// per user. onRefresh (optional) fires when the token source hands out a
// refreshed access token, so the caller can persist it.
func NewGmailClient(cfg *GmailConfig, token *oauth2.Token, cb *gobreaker.CircuitBreaker, onRefresh func(*oauth2.Token)) *GmailClient {
	config := newOAuthConfig(cfg)
	return &GmailClient{
		config: config,
		source: &persistingTokenSource{
			src:        config.TokenSource(context.Background(), token),
			lastAccess: token.AccessToken,
			onRefresh:  onRefresh,
		},
		cb:  cb,
		log: logger.Default().WithField("component", "gmail"),
	}
}

// persistingTokenSource reports refreshed access tokens back to the
// caller. Without it a refreshed token lives only in memory and the next
// process start repeats the refresh against an already-rotated credential.
type persistingTokenSource struct {
	mu         sync.Mutex
	src        oauth2.TokenSource
	lastAccess string
	onRefresh  func(*oauth2.Token)
}

func (s *persistingTokenSource) Token() (*oauth2.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tok, err := s.src.Token()
	if err != nil {
		return nil, err
	}
	if tok.AccessToken != s.lastAccess {
		s.lastAccess = tok.AccessToken
		if s.onRefresh != nil {
			s.onRefresh(tok)
		}
	}
	return tok, nil
}

func newOAuthConfig(cfg *GmailConfig) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURL,
		Scopes: []string{
			gmail.GmailReadonlyScope,
			gmail.GmailSendScope,
			gmail.GmailModifyScope,
			gmail.GmailLabelsScope,
		},
		Endpoint: google.Endpoint,
	}
}

// NewGmailBreaker creates the shared circuit breaker for Gmail calls.
func NewGmailBreaker() *gobreaker.CircuitBreaker {
	log := logger.Default().WithField("component", "gmail")
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "gmail-api",
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.ConsecutiveFailures > 5 ||
				(counts.Requests >= 10 && failureRatio >= 0.6)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker %s: %s -> %s", name, from.String(), to.String())
		},
	})
}

func (c *GmailClient) getService(ctx context.Context) (*gmail.Service, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
	}

	// The source refreshes expired access tokens transparently.
	return gmail.NewService(ctx, option.WithTokenSource(c.source))
}

// execute wraps an API call with circuit breaker protection. Client
// errors (4xx other than 429) must not trip the breaker: they say
// nothing about Gmail's health.
func (c *GmailClient) execute(operation string, fn func() error) error {
	_, err := c.cb.Execute(func() (interface{}, error) {
		if err := fn(); err != nil {
			if apiErr, ok := err.(*googleapi.Error); ok {
				switch apiErr.Code {
				case 500, 502, 503, 429:
					return nil, err
				case 400, 401, 403, 404, 409:
					return nil, &nonCircuitError{err: err}
				}
			}
			return nil, err
		}
		return nil, nil
	})

	if nce, ok := err.(*nonCircuitError); ok {
		return nce.err
	}
	if err != nil {
		c.log.WithError(err).Warn("gmail %s failed (breaker %s)", operation, c.cb.State().String())
	}
	return err
}

// nonCircuitError wraps errors that should not trip the circuit breaker.
type nonCircuitError struct {
	err error
}

func (e *nonCircuitError) Error() string {
	return e.err.Error()
}

// ListMessages returns message stubs matching the query.
func (c *GmailClient) ListMessages(ctx context.Context, query string, maxResults int) ([]out.MailMessage, error) {
	page, err := c.ListMessagesPage(ctx, query, maxResults, "")
	if err != nil {
		return nil, err
	}
	return page.Messages, nil
}

// ListMessagesPage is ListMessages with pagination.
func (c *GmailClient) ListMessagesPage(ctx context.Context, query string, pageSize int, pageToken string) (*out.MailPage, error) {
	svc, err := c.getService(ctx)
	if err != nil {
		return nil, c.wrapError(err, "create service")
	}

	call := svc.Users.Messages.List("me").Q(query).MaxResults(int64(pageSize)).Context(ctx)
	if pageToken != "" {
		call = call.PageToken(pageToken)
	}

	var resp *gmail.ListMessagesResponse
	cbErr := c.execute("ListMessages", func() error {
		var apiErr error
		resp, apiErr = call.Do()
		return apiErr
	})
	if cbErr != nil {
		return nil, c.wrapError(cbErr, "list messages")
	}

	page := &out.MailPage{
		NextPageToken: resp.NextPageToken,
		TotalEstimate: int(resp.ResultSizeEstimate),
	}
	page.Messages = c.fetchParallel(ctx, svc, resp.Messages)
	return page, nil
}

// fetchParallel fetches message metadata with bounded concurrency,
// preserving list order. Individual failures are logged and skipped.
func (c *GmailClient) fetchParallel(ctx context.Context, svc *gmail.Service, refs []*gmail.Message) []out.MailMessage {
	if len(refs) == 0 {
		return nil
	}

	results := make([]*out.MailMessage, len(refs))
	sem := make(chan struct{}, fetchConcurrency)
	var wg sync.WaitGroup

	for i, ref := range refs {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			msg, err := svc.Users.Messages.Get("me", id).
				Format("metadata").
				MetadataHeaders("From", "To", "Subject", "Date", "Message-ID", "In-Reply-To", "References").
				Context(ctx).Do()
			if err != nil {
				c.log.WithError(err).Warn("fetch message %s failed, skipping", id)
				return
			}
			m := c.convertMessage(msg, false)
			results[i] = &m
		}(i, ref.Id)
	}
	wg.Wait()

	messages := make([]out.MailMessage, 0, len(refs))
	for _, m := range results {
		if m != nil {
			messages = append(messages, *m)
		}
	}
	return messages
}

// GetMessage fetches a single message including the decoded body.
func (c *GmailClient) GetMessage(ctx context.Context, messageID string) (*out.MailMessage, error) {
	svc, err := c.getService(ctx)
	if err != nil {
		return nil, c.wrapError(err, "create service")
	}

	var msg *gmail.Message
	cbErr := c.execute("GetMessage", func() error {
		var apiErr error
		msg, apiErr = svc.Users.Messages.Get("me", messageID).Format("full").Context(ctx).Do()
		return apiErr
	})
	if cbErr != nil {
		return nil, c.wrapError(cbErr, "get message")
	}

	result := c.convertMessage(msg, true)
	return &result, nil
}

// GetThread returns all messages of a thread in chronological order.
func (c *GmailClient) GetThread(ctx context.Context, threadID string) ([]out.MailMessage, error) {
	svc, err := c.getService(ctx)
	if err != nil {
		return nil, c.wrapError(err, "create service")
	}

	var thread *gmail.Thread
	cbErr := c.execute("GetThread", func() error {
		var apiErr error
		thread, apiErr = svc.Users.Threads.Get("me", threadID).Format("full").Context(ctx).Do()
		return apiErr
	})
	if cbErr != nil {
		return nil, c.wrapError(cbErr, "get thread")
	}

	messages := make([]out.MailMessage, 0, len(thread.Messages))
	for _, msg := range thread.Messages {
		messages = append(messages, c.convertMessage(msg, true))
	}
	sort.Slice(messages, func(i, j int) bool {
		return messages[i].Date.Before(messages[j].Date)
	})
	return messages, nil
}

// ListLabels returns the mailbox's labels.
func (c *GmailClient) ListLabels(ctx context.Context) ([]out.MailLabel, error) {
	svc, err := c.getService(ctx)
	if err != nil {
		return nil, c.wrapError(err, "create service")
	}

	var resp *gmail.ListLabelsResponse
	cbErr := c.execute("ListLabels", func() error {
		var apiErr error
		resp, apiErr = svc.Users.Labels.List("me").Context(ctx).Do()
		return apiErr
	})
	if cbErr != nil {
		return nil, c.wrapError(cbErr, "list labels")
	}

	labels := make([]out.MailLabel, 0, len(resp.Labels))
	for _, l := range resp.Labels {
		labels = append(labels, out.MailLabel{ID: l.Id, Name: l.Name})
	}
	return labels, nil
}

// CreateLabel creates a label, resolving name conflicts to the existing
// label so repeated calls converge on the same id.
func (c *GmailClient) CreateLabel(ctx context.Context, name string, color *string) (*out.MailLabel, error) {
	svc, err := c.getService(ctx)
	if err != nil {
		return nil, c.wrapError(err, "create service")
	}

	label := &gmail.Label{
		Name:                  name,
		LabelListVisibility:   "labelShow",
		MessageListVisibility: "show",
	}
	if color != nil {
		label.Color = &gmail.LabelColor{BackgroundColor: *color, TextColor: "#ffffff"}
	}

	var created *gmail.Label
	cbErr := c.execute("CreateLabel", func() error {
		var apiErr error
		created, apiErr = svc.Users.Labels.Create("me", label).Context(ctx).Do()
		return apiErr
	})
	if cbErr != nil {
		if apiErr, ok := cbErr.(*googleapi.Error); ok && apiErr.Code == 409 {
			return c.findLabelByName(ctx, name)
		}
		return nil, c.wrapError(cbErr, "create label")
	}

	return &out.MailLabel{ID: created.Id, Name: created.Name}, nil
}

func (c *GmailClient) findLabelByName(ctx context.Context, name string) (*out.MailLabel, error) {
	labels, err := c.ListLabels(ctx)
	if err != nil {
		return nil, err
	}
	for i := range labels {
		if labels[i].Name == name {
			return &labels[i], nil
		}
	}
	return nil, apperr.NotFound("label " + name)
}

// ApplyLabel adds a label to a message.
func (c *GmailClient) ApplyLabel(ctx context.Context, messageID, labelID string) (bool, error) {
	if err := c.modifyLabels(ctx, messageID, []string{labelID}, nil); err != nil {
		return false, err
	}
	return true, nil
}

// RemoveLabel removes a label from a message.
func (c *GmailClient) RemoveLabel(ctx context.Context, messageID, labelID string) (bool, error) {
	if err := c.modifyLabels(ctx, messageID, nil, []string{labelID}); err != nil {
		return false, err
	}
	return true, nil
}

func (c *GmailClient) modifyLabels(ctx context.Context, messageID string, add, remove []string) error {
	svc, err := c.getService(ctx)
	if err != nil {
		return c.wrapError(err, "create service")
	}

	req := &gmail.ModifyMessageRequest{
		AddLabelIds:    add,
		RemoveLabelIds: remove,
	}
	cbErr := c.execute("ModifyLabels", func() error {
		_, apiErr := svc.Users.Messages.Modify("me", messageID, req).Context(ctx).Do()
		return apiErr
	})
	if cbErr != nil {
		return c.wrapError(cbErr, "modify labels")
	}
	return nil
}

// SendEmail composes and sends an RFC-2822 message. Threading headers are
// derived from the thread when not given explicitly.
func (c *GmailClient) SendEmail(ctx context.Context, msg *out.OutgoingMail) (*out.SendResult, error) {
	if msg.To == "" {
		return nil, apperr.RecipientInvalid(msg.To, nil)
	}

	if msg.ThreadID != "" && msg.InReplyTo == "" && msg.References == "" {
		inReplyTo, references, err := c.threadingHeaders(ctx, msg.ThreadID)
		if err != nil {
			return nil, err
		}
		msg.InReplyTo = inReplyTo
		msg.References = references
	}

	raw := BuildRawMessage(msg)
	encoded := base64.URLEncoding.EncodeToString([]byte(raw))

	svc, err := c.getService(ctx)
	if err != nil {
		return nil, c.wrapError(err, "create service")
	}

	gmsg := &gmail.Message{Raw: encoded}
	if msg.ThreadID != "" {
		gmsg.ThreadId = msg.ThreadID
	}

	var sent *gmail.Message
	cbErr := c.execute("SendEmail", func() error {
		var apiErr error
		sent, apiErr = svc.Users.Messages.Send("me", gmsg).Context(ctx).Do()
		return apiErr
	})
	if cbErr != nil {
		return nil, c.wrapError(cbErr, "send email")
	}

	return &out.SendResult{
		MessageID: sent.Id,
		ThreadID:  sent.ThreadId,
		SentAt:    time.Now().UTC(),
	}, nil
}

// threadingHeaders derives In-Reply-To and References from the thread's
// RFC-822 Message-IDs: In-Reply-To is the latest, References all of them.
func (c *GmailClient) threadingHeaders(ctx context.Context, threadID string) (string, string, error) {
	messages, err := c.GetThread(ctx, threadID)
	if err != nil {
		return "", "", err
	}

	var ids []string
	for _, m := range messages {
		if m.MessageID != "" {
			ids = append(ids, m.MessageID)
		}
	}
	if len(ids) == 0 {
		return "", "", nil
	}
	return ids[len(ids)-1], strings.Join(ids, " "), nil
}

// BuildRawMessage composes the RFC-2822 wire form of an outgoing message.
func BuildRawMessage(msg *out.OutgoingMail) string {
	var buf strings.Builder

	buf.WriteString(fmt.Sprintf("To: %s\r\n", msg.To))
	buf.WriteString(fmt.Sprintf("Subject: %s\r\n", msg.Subject))
	if msg.InReplyTo != "" {
		buf.WriteString(fmt.Sprintf("In-Reply-To: %s\r\n", msg.InReplyTo))
	}
	if msg.References != "" {
		buf.WriteString(fmt.Sprintf("References: %s\r\n", msg.References))
	}
	buf.WriteString("MIME-Version: 1.0\r\n")

	contentType := "text/plain"
	if msg.BodyType == out.BodyTypeHTML {
		contentType = "text/html"
	}
	buf.WriteString(fmt.Sprintf("Content-Type: %s; charset=UTF-8\r\n", contentType))
	buf.WriteString("\r\n")
	buf.WriteString(msg.Body)

	return buf.String()
}

func (c *GmailClient) convertMessage(msg *gmail.Message, withBody bool) out.MailMessage {
	result := out.MailMessage{
		ID:       msg.Id,
		ThreadID: msg.ThreadId,
		Snippet:  msg.Snippet,
		LabelIDs: msg.LabelIds,
	}

	if msg.Payload != nil {
		for _, h := range msg.Payload.Headers {
			switch h.Name {
			case "From":
				result.From = parseAddress(h.Value)
			case "To":
				result.To = parseAddressList(h.Value)
			case "Subject":
				result.Subject = h.Value
			case "Date":
				if t, err := mail.ParseDate(h.Value); err == nil {
					result.Date = t
				}
			case "Message-ID":
				result.MessageID = h.Value
			case "In-Reply-To":
				result.InReplyTo = h.Value
			case "References":
				result.References = h.Value
			}
		}
	}
	if result.Date.IsZero() && msg.InternalDate > 0 {
		result.Date = time.UnixMilli(msg.InternalDate).UTC()
	}

	if withBody && msg.Payload != nil {
		text, html := extractBody(msg.Payload)
		if text != "" {
			result.Body = text
		} else {
			result.Body = html
			result.IsHTML = html != ""
		}
	}
	return result
}

// extractBody walks MIME parts recursively collecting the first text/plain
// and text/html bodies.
func extractBody(part *gmail.MessagePart) (text, html string) {
	if part == nil {
		return "", ""
	}

	if part.Body != nil && part.Body.Data != "" {
		if data, err := base64.URLEncoding.DecodeString(part.Body.Data); err == nil {
			switch part.MimeType {
			case "text/plain":
				text = string(data)
			case "text/html":
				html = string(data)
			}
		}
	}

	for _, p := range part.Parts {
		t, h := extractBody(p)
		if text == "" {
			text = t
		}
		if html == "" {
			html = h
		}
	}
	return text, html
}

func parseAddress(s string) string {
	if addr, err := mail.ParseAddress(s); err == nil {
		return addr.Address
	}
	return strings.TrimSpace(s)
}

func parseAddressList(s string) []string {
	addrs, err := mail.ParseAddressList(s)
	if err != nil {
		return []string{strings.TrimSpace(s)}
	}
	result := make([]string, len(addrs))
	for i, a := range addrs {
		result[i] = a.Address
	}
	return result
}

// wrapError maps Gmail API errors onto the application taxonomy. The
// Transient flag on the taxonomy code drives retry decisions upstream.
func (c *GmailClient) wrapError(err error, operation string) error {
	if err == nil {
		return nil
	}
	if apperr.IsAppError(err) {
		return err
	}

	if apiErr, ok := err.(*googleapi.Error); ok {
		switch apiErr.Code {
		case 401:
			return apperr.AuthExpired("gmail", err)
		case 403:
			if strings.Contains(apiErr.Message, "Rate Limit") || strings.Contains(apiErr.Message, "quota") {
				return apperr.QuotaExceeded("gmail", time.Minute, err)
			}
			return apperr.Unauthorized("gmail access denied").WithError(err)
		case 404:
			return apperr.NotFound("gmail " + operation).WithError(err)
		case 429:
			return apperr.RateLimited("gmail", err).WithRetryAfter(retryAfterOf(apiErr))
		case 400:
			return apperr.InvalidRequest(fmt.Sprintf("gmail %s rejected", operation), err)
		case 413:
			return apperr.MessageTooLarge(err)
		case 500, 502, 503:
			return apperr.ServerError("gmail", err)
		}
	}
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return apperr.ServerError("gmail", err)
	}
	return apperr.NetworkError("gmail "+operation, err)
}

func retryAfterOf(apiErr *googleapi.Error) time.Duration {
	for _, h := range apiErr.Header.Values("Retry-After") {
		var seconds int
		if _, err := fmt.Sscanf(h, "%d", &seconds); err == nil && seconds > 0 {
			return time.Duration(seconds) * time.Second
		}
	}
	return 30 * time.Second
}

var _ out.MailProvider = (*GmailClient)(nil)
