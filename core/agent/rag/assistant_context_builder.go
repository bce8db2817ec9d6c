package rag

import (
	"context"
	"fmt"
	"sort"
	"time"

	"assistant_server/core/domain"
	"assistant_server/core/port/out"
	"assistant_server/pkg/apperr"
	"assistant_server/pkg/logger"
	"assistant_server/pkg/tokenizer"
)

// queryBodyLimit bounds the body excerpt inside the composed search query.
const queryBodyLimit = 500

// ContextConfig holds the context assembly knobs.
type ContextConfig struct {
	ThreadHistoryLimit int // messages kept from the thread
	ShortThreadK       int // k when the thread is short (< 3)
	StandardK          int // k for mid-size threads (3..5)
	LongThreadK        int // k when the thread already carries context (> 5)
	MaxContextTokens   int // hard token budget for the assembled context
}

// DefaultContextConfig returns the production defaults.
func DefaultContextConfig() ContextConfig {
	return ContextConfig{
		ThreadHistoryLimit: 5,
		ShortThreadK:       7,
		StandardK:          3,
		LongThreadK:        0,
		MaxContextTokens:   6500,
	}
}

// ContextBuilder assembles bounded prior-correspondence context for an
// email: thread history plus adaptively sized semantic retrieval.
type ContextBuilder struct {
	queue     out.QueueRepository
	providers out.MailProviderFactory
	embedder  out.Embedder
	vectors   out.VectorStore
	bodies    out.BodyCache
	counter   *tokenizer.Counter
	cfg       ContextConfig
	log       *logger.Logger
}

// NewContextBuilder creates the builder. bodies may be nil (no caching).
func NewContextBuilder(
	queue out.QueueRepository,
	providers out.MailProviderFactory,
	embedder out.Embedder,
	vectors out.VectorStore,
	bodies out.BodyCache,
	cfg ContextConfig,
) *ContextBuilder {
	return &ContextBuilder{
		queue:     queue,
		providers: providers,
		embedder:  embedder,
		vectors:   vectors,
		bodies:    bodies,
		counter:   tokenizer.NewCounter(),
		cfg:       cfg,
		log:       logger.Default().WithField("component", "rag"),
	}
}

// Build assembles the context for a queue row and returns it together
// with the email's cleaned body. Thread fetch failure is fatal; semantic
// retrieval failure degrades to thread-only context.
func (b *ContextBuilder) Build(ctx context.Context, emailID int64) (*domain.RAGContext, string, error) {
	item, err := b.queue.GetByID(ctx, emailID)
	if err != nil {
		return nil, "", err
	}

	provider, err := b.providers.ForUser(ctx, item.UserID)
	if err != nil {
		return nil, "", err
	}

	body, err := b.fetchBody(ctx, provider, item.UserID, item.ProviderMessageID)
	if err != nil {
		return nil, "", err
	}

	// Thread history: last N messages, chronological. A failure here is
	// fatal for context assembly.
	thread, err := provider.GetThread(ctx, item.ProviderThreadID)
	if err != nil {
		return nil, "", apperr.ContextFatal(err)
	}

	originalLength := len(thread)
	if len(thread) > b.cfg.ThreadHistoryLimit {
		thread = thread[len(thread)-b.cfg.ThreadHistoryLimit:]
	}
	threadHistory := toEmailMessages(thread)

	k := b.AdaptiveK(originalLength)

	var semantic []domain.EmailMessage
	if k > 0 {
		semantic = b.semanticSearch(ctx, provider, item, body, k)
	}

	result := &domain.RAGContext{
		ThreadHistory:   threadHistory,
		SemanticResults: semantic,
		Metadata: domain.ContextMetadata{
			ThreadLength:  originalLength,
			SemanticCount: len(semantic),
			AdaptiveK:     k,
		},
	}
	b.applyTokenBudget(result)

	if len(result.ThreadHistory) > 0 {
		result.Metadata.OldestThreadDate = result.ThreadHistory[0].Date
	}
	return result, body, nil
}

// AdaptiveK sizes semantic retrieval by how much the thread already says:
// short threads lean on retrieval, long threads carry their own context.
func (b *ContextBuilder) AdaptiveK(threadLength int) int {
	switch {
	case threadLength < 3:
		return b.cfg.ShortThreadK
	case threadLength <= 5:
		return b.cfg.StandardK
	default:
		return b.cfg.LongThreadK
	}
}

// ComposeQuery builds the semantic search query from the email itself.
func ComposeQuery(sender, subject, body string) string {
	excerpt := TruncateChars(CleanBody(body), queryBodyLimit)
	return fmt.Sprintf("From %s about %s: %s", SenderLocalPart(sender), subject, excerpt)
}

func (b *ContextBuilder) semanticSearch(ctx context.Context, provider out.MailProvider, item *domain.EmailQueueItem, body string, k int) []domain.EmailMessage {
	query := ComposeQuery(item.Sender, item.Subject, body)

	embedding, err := b.embedder.EmbedQuery(ctx, query)
	if err != nil {
		b.log.WithEmail(item.ID).WithError(err).Warn("query embedding failed, thread-only context")
		return nil
	}

	filter := map[string]string{
		"user_id": fmt.Sprintf("%d", item.UserID),
		"sender":  SenderAddress(item.Sender),
	}
	matches, err := b.vectors.Search(ctx, embedding, k, filter)
	if err != nil {
		b.log.WithEmail(item.ID).WithError(err).Warn("semantic search failed, thread-only context")
		return nil
	}

	// Rank by ascending distance, ties broken by newer date.
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Distance != matches[j].Distance {
			return matches[i].Distance < matches[j].Distance
		}
		return matches[i].Metadata.Timestamp > matches[j].Metadata.Timestamp
	})

	// The store keeps only snippets; full bodies come from the provider.
	// Per-message failures are skipped.
	results := make([]domain.EmailMessage, 0, len(matches))
	for _, m := range matches {
		msgBody, err := b.fetchBody(ctx, provider, item.UserID, m.ID)
		if err != nil {
			b.log.WithEmail(item.ID).WithError(err).Warn("semantic body fetch failed for %s, skipping", m.ID)
			continue
		}
		results = append(results, domain.EmailMessage{
			MessageID: m.ID,
			Sender:    m.Metadata.Sender,
			Subject:   m.Metadata.Subject,
			Body:      msgBody,
			Date:      m.Metadata.Date,
			ThreadID:  m.Metadata.ThreadID,
		})
	}
	return results
}

// fetchBody returns the cleaned message body, consulting the cache first.
func (b *ContextBuilder) fetchBody(ctx context.Context, provider out.MailProvider, userID int64, messageID string) (string, error) {
	if b.bodies != nil {
		cached, err := b.bodies.Get(ctx, userID, messageID)
		if err != nil {
			b.log.WithUser(userID).WithError(err).Warn("body cache read failed")
		} else if cached != nil {
			return CleanBody(cached.Body), nil
		}
	}

	msg, err := provider.GetMessage(ctx, messageID)
	if err != nil {
		return "", err
	}

	if b.bodies != nil {
		put := &out.CachedBody{
			MessageID: messageID,
			UserID:    userID,
			Body:      msg.Body,
			IsHTML:    msg.IsHTML,
			FetchedAt: time.Now().UTC(),
		}
		if err := b.bodies.Put(ctx, put); err != nil {
			b.log.WithUser(userID).WithError(err).Warn("body cache write failed")
		}
	}
	return CleanBody(msg.Body), nil
}

// applyTokenBudget trims the context to the token budget: oldest thread
// messages go first, then lowest-ranked semantic results.
func (b *ContextBuilder) applyTokenBudget(c *domain.RAGContext) {
	threadTokens := b.countMessages(c.ThreadHistory)
	semanticTokens := b.countMessages(c.SemanticResults)

	for threadTokens+semanticTokens > b.cfg.MaxContextTokens && len(c.ThreadHistory) > 0 {
		threadTokens -= b.countMessage(c.ThreadHistory[0])
		c.ThreadHistory = c.ThreadHistory[1:]
	}
	for threadTokens+semanticTokens > b.cfg.MaxContextTokens && len(c.SemanticResults) > 0 {
		last := len(c.SemanticResults) - 1
		semanticTokens -= b.countMessage(c.SemanticResults[last])
		c.SemanticResults = c.SemanticResults[:last]
	}

	c.Metadata.ThreadTokens = threadTokens
	c.Metadata.SemanticTokens = semanticTokens
	c.Metadata.TotalTokensUsed = threadTokens + semanticTokens
	c.Metadata.SemanticCount = len(c.SemanticResults)
}

func (b *ContextBuilder) countMessages(msgs []domain.EmailMessage) int {
	total := 0
	for i := range msgs {
		total += b.countMessage(msgs[i])
	}
	return total
}

func (b *ContextBuilder) countMessage(m domain.EmailMessage) int {
	return b.counter.Count(m.Sender) + b.counter.Count(m.Subject) + b.counter.Count(m.Body)
}

func toEmailMessages(messages []out.MailMessage) []domain.EmailMessage {
	result := make([]domain.EmailMessage, 0, len(messages))
	for _, m := range messages {
		result = append(result, domain.EmailMessage{
			MessageID: m.ID,
			Sender:    m.From,
			Subject:   m.Subject,
			Body:      CleanBody(m.Body),
			Date:      m.Date.UTC().Format(time.RFC3339),
			ThreadID:  m.ThreadID,
		})
	}
	return result
}
