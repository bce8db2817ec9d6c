// Package indexing maintains the per-user vector index of recent mail:
// historical backfill with checkpointed resume, incremental indexing of
// new messages and sent replies, and retention cleanup.
package indexing

import (
	"context"
	"fmt"
	"time"

	"assistant_server/core/agent/rag"
	"assistant_server/core/domain"
	"assistant_server/core/port/out"
	"assistant_server/core/service/response"
	"assistant_server/pkg/apperr"
	"assistant_server/pkg/logger"
	"assistant_server/pkg/tokenizer"
)

const (
	// maxEmbedTokens bounds the text embedded per email.
	maxEmbedTokens = 2048

	// snippetLen is the stored metadata snippet length.
	snippetLen = 200
)

// Config holds the backfill knobs.
type Config struct {
	PageSize        int           // provider page size for the backfill scan
	BatchSize       int           // emails embedded and upserted per batch
	InterBatchDelay time.Duration // pause between batches (embedding rate limits)
	DaysBack        int           // retention and backfill window
	MaxRetries      int           // paused-retry attempts before the job fails
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		PageSize:        100,
		BatchSize:       50,
		InterBatchDelay: 60 * time.Second,
		DaysBack:        90,
		MaxRetries:      3,
	}
}

// Indexer runs vector-index maintenance for users.
type Indexer struct {
	users     out.UserRepository
	providers out.MailProviderFactory
	embedder  out.Embedder
	vectors   out.VectorStore
	progress  out.IndexingRepository
	chat      out.ChatPort
	counter   *tokenizer.Counter
	cfg       Config
	log       *logger.Logger
}

// NewIndexer creates the indexer. chat may be nil (no completion notice).
func NewIndexer(
	users out.UserRepository,
	providers out.MailProviderFactory,
	embedder out.Embedder,
	vectors out.VectorStore,
	progress out.IndexingRepository,
	chat out.ChatPort,
	cfg Config,
) *Indexer {
	return &Indexer{
		users:     users,
		providers: providers,
		embedder:  embedder,
		vectors:   vectors,
		progress:  progress,
		chat:      chat,
		counter:   tokenizer.NewCounter(),
		cfg:       cfg,
		log:       logger.Default().WithField("component", "indexer"),
	}
}

// StartIndexing backfills the user's last DaysBack days of mail. Refuses
// when a backfill is already running or paused.
func (ix *Indexer) StartIndexing(ctx context.Context, userID int64) error {
	existing, err := ix.progress.GetByUserID(ctx, userID)
	if err != nil {
		return err
	}
	if existing != nil && existing.IsActive() {
		return apperr.InvalidRequest(fmt.Sprintf("indexing already active for user %d", userID), nil)
	}

	if existing == nil {
		row := &domain.IndexingProgress{
			UserID:    userID,
			Status:    domain.IndexingInProgress,
			StartedAt: time.Now().UTC(),
		}
		if err := ix.progress.Create(ctx, row); err != nil {
			return err
		}
	} else {
		// Completed or failed earlier: reset the row for a fresh run.
		if err := ix.progress.UpdateStatus(ctx, userID, domain.IndexingInProgress, nil); err != nil {
			return err
		}
		if err := ix.progress.UpdateProgress(ctx, userID, 0, "", 0); err != nil {
			return err
		}
	}

	return ix.run(ctx, userID, 0)
}

// ResumeIndexing continues a paused or interrupted backfill. The
// checkpoint is positional: the full range is fetched again and the
// first processed_count messages are skipped.
func (ix *Indexer) ResumeIndexing(ctx context.Context, userID int64) error {
	row, err := ix.progress.GetByUserID(ctx, userID)
	if err != nil {
		return err
	}
	if row == nil {
		return apperr.NotFound(fmt.Sprintf("indexing progress for user %d", userID))
	}
	if !row.CanResume(time.Now().UTC()) {
		return apperr.InvalidRequest(fmt.Sprintf("indexing for user %d is not resumable", userID), nil)
	}

	if err := ix.progress.UpdateStatus(ctx, userID, domain.IndexingInProgress, nil); err != nil {
		return err
	}
	return ix.run(ctx, userID, row.ProcessedCount)
}

// run scans the backfill window and processes it in batches, skipping
// the first skip messages. Transient failures park the job for retry.
func (ix *Indexer) run(ctx context.Context, userID int64, skip int) error {
	provider, err := ix.providers.ForUser(ctx, userID)
	if err != nil {
		return ix.handleFailure(ctx, userID, err)
	}

	ids, err := ix.scanRange(ctx, provider, userID)
	if err != nil {
		return ix.handleFailure(ctx, userID, err)
	}

	processed := skip
	if processed > len(ids) {
		processed = len(ids)
	}

	for processed < len(ids) {
		end := processed + ix.cfg.BatchSize
		if end > len(ids) {
			end = len(ids)
		}
		batch := ids[processed:end]

		lastID, err := ix.processBatch(ctx, provider, userID, batch)
		if err != nil {
			return ix.handleFailure(ctx, userID, err)
		}

		processed = end
		if err := ix.progress.UpdateProgress(ctx, userID, processed, lastID, len(ids)); err != nil {
			return err
		}
		ix.log.WithUser(userID).Info("indexed %d/%d messages", processed, len(ids))

		if processed < len(ids) {
			select {
			case <-ctx.Done():
				return ix.handleFailure(ctx, userID, ctx.Err())
			case <-time.After(ix.cfg.InterBatchDelay):
			}
		}
	}

	if err := ix.progress.MarkCompleted(ctx, userID, time.Now().UTC()); err != nil {
		return err
	}
	ix.notifyCompleted(ctx, userID, processed)
	return nil
}

// scanRange pages through the backfill window, updating total_emails as
// pages arrive so progress is visible while the scan runs.
func (ix *Indexer) scanRange(ctx context.Context, provider out.MailProvider, userID int64) ([]string, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -ix.cfg.DaysBack)
	query := fmt.Sprintf("after:%d", cutoff.Unix())

	var ids []string
	pageToken := ""
	for {
		page, err := provider.ListMessagesPage(ctx, query, ix.cfg.PageSize, pageToken)
		if err != nil {
			return nil, err
		}
		for _, m := range page.Messages {
			ids = append(ids, m.ID)
		}
		if err := ix.progress.UpdateProgress(ctx, userID, 0, "", len(ids)); err != nil {
			return nil, err
		}
		if page.NextPageToken == "" {
			break
		}
		pageToken = page.NextPageToken
	}
	return ids, nil
}

// processBatch fetches, embeds and upserts one batch. Per-message fetch
// failures are skipped; the batch position still advances so the
// positional checkpoint stays aligned. Returns the last message id seen.
func (ix *Indexer) processBatch(ctx context.Context, provider out.MailProvider, userID int64, ids []string) (string, error) {
	items := make([]out.VectorItem, 0, len(ids))
	texts := make([]string, 0, len(ids))
	lastID := ""

	for _, id := range ids {
		lastID = id
		msg, err := provider.GetMessage(ctx, id)
		if err != nil {
			if apperr.IsTransient(err) {
				return "", err
			}
			ix.log.WithUser(userID).WithError(err).Warn("skipping unfetchable message %s", id)
			continue
		}

		text := ix.counter.Truncate(rag.CleanBody(msg.Body), maxEmbedTokens)
		if text == "" {
			continue
		}
		texts = append(texts, text)
		items = append(items, out.VectorItem{
			ID:       msg.ID,
			Metadata: messageMetadata(userID, msg, text),
		})
	}

	if len(items) == 0 {
		return lastID, nil
	}

	embeddings, err := ix.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return "", err
	}
	for i := range items {
		items[i].Embedding = embeddings[i]
	}

	if err := ix.vectors.BatchUpsert(ctx, items); err != nil {
		return "", err
	}
	return lastID, nil
}

// IndexNewMail indexes a single freshly processed message. Runs only
// once the user's backfill is completed; never batched, never delayed.
func (ix *Indexer) IndexNewMail(ctx context.Context, userID int64, messageID string) error {
	row, err := ix.progress.GetByUserID(ctx, userID)
	if err != nil {
		return err
	}
	if row == nil || row.Status != domain.IndexingCompleted {
		ix.log.WithUser(userID).Debug("backfill not completed, skipping incremental index of %s", messageID)
		return nil
	}

	provider, err := ix.providers.ForUser(ctx, userID)
	if err != nil {
		return err
	}
	msg, err := provider.GetMessage(ctx, messageID)
	if err != nil {
		return err
	}

	text := ix.counter.Truncate(rag.CleanBody(msg.Body), maxEmbedTokens)
	if text == "" {
		return nil
	}
	embedding, err := ix.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return err
	}

	return ix.vectors.Upsert(ctx, out.VectorItem{
		ID:        msg.ID,
		Embedding: embedding,
		Metadata:  messageMetadata(userID, msg, text),
	})
}

// IndexSentReply indexes an outgoing reply so future retrieval sees both
// sides of the conversation. The record's sender is the original
// recipient, which keeps the sender-filtered search symmetric.
func (ix *Indexer) IndexSentReply(ctx context.Context, item *domain.EmailQueueItem, body string) error {
	text := ix.counter.Truncate(rag.CleanBody(body), maxEmbedTokens)
	if text == "" {
		return nil
	}
	embedding, err := ix.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	return ix.vectors.Upsert(ctx, out.VectorItem{
		ID:        fmt.Sprintf("sent_%d_%d", item.ID, now.Unix()),
		Embedding: embedding,
		Metadata: out.VectorMetadata{
			UserID:         fmt.Sprintf("%d", item.UserID),
			ThreadID:       item.ProviderThreadID,
			Sender:         rag.SenderAddress(item.Sender),
			Subject:        "Re: " + item.Subject,
			Date:           now.Format("2006-01-02"),
			Timestamp:      now.Unix(),
			Language:       item.DetectedLanguage,
			Snippet:        rag.TruncateChars(text, snippetLen),
			IsSentResponse: true,
		},
	})
}

// CleanupOld deletes the user's vector records older than the retention
// window and returns how many were removed.
func (ix *Indexer) CleanupOld(ctx context.Context, userID int64) (int64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -ix.cfg.DaysBack)
	return ix.vectors.DeleteOlderThan(ctx, fmt.Sprintf("%d", userID), cutoff)
}

// Resumable lists paused jobs whose retry window has elapsed. The
// supervisor re-enqueues these; the cooldown keeps a crashed-and-restarted
// worker from storming the same job.
func (ix *Indexer) Resumable(ctx context.Context, cooldown time.Duration) ([]domain.IndexingProgress, error) {
	return ix.progress.ListResumable(ctx, time.Now().UTC(), cooldown)
}

// handleFailure parks the job for retry with exponential pause, or fails
// it terminally once retries are exhausted.
func (ix *Indexer) handleFailure(ctx context.Context, userID int64, cause error) error {
	row, err := ix.progress.GetByUserID(ctx, userID)
	if err != nil {
		return err
	}
	if row == nil {
		return cause
	}

	retryCount := row.RetryCount + 1
	msg := cause.Error()

	if retryCount >= ix.cfg.MaxRetries {
		ix.log.WithUser(userID).WithError(cause).Error("indexing failed terminally after %d retries", row.RetryCount)
		if err := ix.progress.UpdateStatus(ctx, userID, domain.IndexingFailed, &msg); err != nil {
			return err
		}
		return cause
	}

	retryAfter := time.Now().UTC().Add(time.Duration(1<<uint(retryCount)) * time.Minute)
	ix.log.WithUser(userID).WithError(cause).Warn("indexing paused, retry %d at %s", retryCount, retryAfter.Format(time.RFC3339))
	if err := ix.progress.ScheduleRetry(ctx, userID, retryCount, retryAfter, msg); err != nil {
		return err
	}
	return cause
}

// notifyCompleted sends the backfill-done chat message. Best effort.
func (ix *Indexer) notifyCompleted(ctx context.Context, userID int64, count int) {
	if ix.chat == nil {
		return
	}
	user, err := ix.users.GetByID(ctx, userID)
	if err != nil || !user.HasChatChannel() {
		return
	}
	_, err = ix.chat.SendMessage(ctx, &out.ChatMessage{
		ChatID: *user.ChatID,
		Text:   fmt.Sprintf("📚 Mailbox indexing finished: %d emails indexed.", count),
	})
	if err != nil {
		ix.log.WithUser(userID).WithError(err).Warn("completion notification failed")
	}
}

// messageMetadata builds the stored metadata for an indexed message.
func messageMetadata(userID int64, msg *out.MailMessage, text string) out.VectorMetadata {
	return out.VectorMetadata{
		UserID:    fmt.Sprintf("%d", userID),
		ThreadID:  msg.ThreadID,
		Sender:    rag.SenderAddress(msg.From),
		Subject:   msg.Subject,
		Date:      msg.Date.UTC().Format("2006-01-02"),
		Timestamp: msg.Date.UTC().Unix(),
		Language:  response.DetectLanguage(text),
		Snippet:   rag.TruncateChars(text, snippetLen),
	}
}
