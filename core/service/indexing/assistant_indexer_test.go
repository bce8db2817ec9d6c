package indexing

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"assistant_server/core/domain"
	"assistant_server/core/port/out"
	"assistant_server/pkg/apperr"
)

type memProgress struct {
	row *domain.IndexingProgress
}

func (m *memProgress) GetByUserID(ctx context.Context, userID int64) (*domain.IndexingProgress, error) {
	return m.row, nil
}

func (m *memProgress) Create(ctx context.Context, p *domain.IndexingProgress) error {
	m.row = p
	return nil
}

func (m *memProgress) UpdateProgress(ctx context.Context, userID int64, processedCount int, lastMessageID string, totalEmails int) error {
	if processedCount > 0 {
		m.row.ProcessedCount = processedCount
	}
	if lastMessageID != "" {
		m.row.LastProcessedMessageID = &lastMessageID
	}
	m.row.TotalEmails = totalEmails
	return nil
}

func (m *memProgress) UpdateStatus(ctx context.Context, userID int64, status domain.IndexingStatus, errorMessage *string) error {
	m.row.Status = status
	m.row.ErrorMessage = errorMessage
	return nil
}

func (m *memProgress) ScheduleRetry(ctx context.Context, userID int64, retryCount int, retryAfter time.Time, errorMessage string) error {
	m.row.Status = domain.IndexingPaused
	m.row.RetryCount = retryCount
	m.row.RetryAfter = &retryAfter
	m.row.ErrorMessage = &errorMessage
	return nil
}

func (m *memProgress) MarkCompleted(ctx context.Context, userID int64, completedAt time.Time) error {
	m.row.Status = domain.IndexingCompleted
	m.row.CompletedAt = &completedAt
	return nil
}

func (m *memProgress) ListResumable(ctx context.Context, now time.Time, cooldown time.Duration) ([]domain.IndexingProgress, error) {
	if m.row != nil && m.row.CanResume(now) && m.row.Status == domain.IndexingPaused {
		return []domain.IndexingProgress{*m.row}, nil
	}
	return nil, nil
}

type pagingProvider struct {
	out.MailProvider
	ids     []string
	fetched []string
	getErr  map[string]error
}

func (p *pagingProvider) ListMessagesPage(ctx context.Context, query string, pageSize int, pageToken string) (*out.MailPage, error) {
	start := 0
	if pageToken != "" {
		fmt.Sscanf(pageToken, "%d", &start)
	}
	end := start + pageSize
	if end > len(p.ids) {
		end = len(p.ids)
	}
	page := &out.MailPage{}
	for _, id := range p.ids[start:end] {
		page.Messages = append(page.Messages, out.MailMessage{ID: id})
	}
	if end < len(p.ids) {
		page.NextPageToken = fmt.Sprintf("%d", end)
	}
	return page, nil
}

func (p *pagingProvider) GetMessage(ctx context.Context, messageID string) (*out.MailMessage, error) {
	if err := p.getErr[messageID]; err != nil {
		return nil, err
	}
	p.fetched = append(p.fetched, messageID)
	return &out.MailMessage{
		ID:       messageID,
		ThreadID: "t-" + messageID,
		From:     "sender@example.com",
		Subject:  "subject " + messageID,
		Body:     "body of " + messageID + " with some words",
		Date:     time.Now(),
	}, nil
}

type singleProviderFactory struct{ provider out.MailProvider }

func (f *singleProviderFactory) ForUser(ctx context.Context, userID int64) (out.MailProvider, error) {
	return f.provider, nil
}

type countingEmbedder struct {
	queries int
	batches int
}

func (e *countingEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	e.queries++
	return []float32{0.1}, nil
}

func (e *countingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.batches++
	vecs := make([][]float32, len(texts))
	for i := range vecs {
		vecs[i] = []float32{0.1}
	}
	return vecs, nil
}

func (e *countingEmbedder) Dimensions() int { return 1 }

type memVectors struct {
	items   map[string]out.VectorItem
	deleted int64
}

func newMemVectors() *memVectors { return &memVectors{items: map[string]out.VectorItem{}} }

func (v *memVectors) Upsert(ctx context.Context, item out.VectorItem) error {
	v.items[item.ID] = item
	return nil
}

func (v *memVectors) BatchUpsert(ctx context.Context, items []out.VectorItem) error {
	for _, it := range items {
		v.items[it.ID] = it
	}
	return nil
}

func (v *memVectors) Search(ctx context.Context, embedding []float32, topK int, filter map[string]string) ([]out.VectorMatch, error) {
	return nil, nil
}

func (v *memVectors) DeleteOlderThan(ctx context.Context, userID string, cutoff time.Time) (int64, error) {
	return v.deleted, nil
}

func (v *memVectors) Delete(ctx context.Context, id string) error { return nil }

func newTestIndexer(provider out.MailProvider, progress *memProgress, vectors *memVectors) *Indexer {
	return NewIndexer(
		nil,
		&singleProviderFactory{provider: provider},
		&countingEmbedder{},
		vectors,
		progress,
		nil,
		Config{PageSize: 2, BatchSize: 2, InterBatchDelay: 0, DaysBack: 90, MaxRetries: 3},
	)
}

func TestStartIndexingBackfillsInBatches(t *testing.T) {
	provider := &pagingProvider{ids: []string{"m1", "m2", "m3"}}
	progress := &memProgress{}
	vectors := newMemVectors()
	ix := newTestIndexer(provider, progress, vectors)

	if err := ix.StartIndexing(context.Background(), 5); err != nil {
		t.Fatalf("StartIndexing: %v", err)
	}

	if progress.row.Status != domain.IndexingCompleted {
		t.Errorf("expected completed, got %s", progress.row.Status)
	}
	if progress.row.ProcessedCount != 3 || progress.row.TotalEmails != 3 {
		t.Errorf("expected 3/3 processed, got %d/%d", progress.row.ProcessedCount, progress.row.TotalEmails)
	}
	if len(vectors.items) != 3 {
		t.Errorf("expected 3 upserted vectors, got %d", len(vectors.items))
	}
	meta := vectors.items["m1"].Metadata
	if meta.UserID != "5" || meta.Sender != "sender@example.com" {
		t.Errorf("unexpected metadata: %+v", meta)
	}
}

func TestStartIndexingRefusesWhenActive(t *testing.T) {
	progress := &memProgress{row: &domain.IndexingProgress{
		UserID: 5,
		Status: domain.IndexingInProgress,
	}}
	ix := newTestIndexer(&pagingProvider{}, progress, newMemVectors())

	err := ix.StartIndexing(context.Background(), 5)
	if !apperr.IsCode(err, apperr.CodeInvalidRequest) {
		t.Errorf("expected invalid_request for active job, got %v", err)
	}
}

func TestResumeIndexingSkipsProcessedMessages(t *testing.T) {
	provider := &pagingProvider{ids: []string{"m1", "m2", "m3", "m4"}}
	progress := &memProgress{row: &domain.IndexingProgress{
		UserID:         5,
		Status:         domain.IndexingPaused,
		ProcessedCount: 2,
	}}
	vectors := newMemVectors()
	ix := newTestIndexer(provider, progress, vectors)

	if err := ix.ResumeIndexing(context.Background(), 5); err != nil {
		t.Fatalf("ResumeIndexing: %v", err)
	}

	for _, fetched := range provider.fetched {
		if fetched == "m1" || fetched == "m2" {
			t.Errorf("already-processed message %s was fetched again", fetched)
		}
	}
	if len(vectors.items) != 2 {
		t.Errorf("expected only the 2 remaining messages indexed, got %d", len(vectors.items))
	}
	if progress.row.Status != domain.IndexingCompleted {
		t.Errorf("expected completed, got %s", progress.row.Status)
	}
}

func TestIndexingFailureSchedulesRetry(t *testing.T) {
	provider := &pagingProvider{
		ids:    []string{"m1"},
		getErr: map[string]error{"m1": apperr.QuotaExceeded("mail", time.Minute, nil)},
	}
	progress := &memProgress{}
	ix := newTestIndexer(provider, progress, newMemVectors())

	before := time.Now().UTC()
	err := ix.StartIndexing(context.Background(), 5)
	if err == nil {
		t.Fatal("expected the quota error to surface")
	}

	if progress.row.Status != domain.IndexingPaused {
		t.Fatalf("expected paused, got %s", progress.row.Status)
	}
	if progress.row.RetryCount != 1 {
		t.Errorf("expected retry count 1, got %d", progress.row.RetryCount)
	}
	// First retry is scheduled 2^1 minutes out.
	if progress.row.RetryAfter == nil || progress.row.RetryAfter.Before(before.Add(time.Minute)) {
		t.Errorf("unexpected retry_after: %v", progress.row.RetryAfter)
	}
}

func TestIndexingFailsTerminallyAfterMaxRetries(t *testing.T) {
	provider := &pagingProvider{
		ids:    []string{"m1"},
		getErr: map[string]error{"m1": apperr.ServerError("mail", nil)},
	}
	progress := &memProgress{row: &domain.IndexingProgress{
		UserID:     5,
		Status:     domain.IndexingPaused,
		RetryCount: 2,
	}}
	ix := newTestIndexer(provider, progress, newMemVectors())

	if err := ix.ResumeIndexing(context.Background(), 5); err == nil {
		t.Fatal("expected the error to surface")
	}
	if progress.row.Status != domain.IndexingFailed {
		t.Errorf("expected failed after max retries, got %s", progress.row.Status)
	}
}

func TestIndexSentReply(t *testing.T) {
	vectors := newMemVectors()
	ix := newTestIndexer(&pagingProvider{}, &memProgress{}, vectors)

	item := &domain.EmailQueueItem{
		ID:               42,
		UserID:           5,
		ProviderThreadID: "pt1",
		Sender:           "Alice <alice@example.com>",
		Subject:          "Invoice 42",
		DetectedLanguage: "en",
	}
	draft := "Hello Alice, thank you for the invoice. Best regards, John"

	if err := ix.IndexSentReply(context.Background(), item, draft); err != nil {
		t.Fatalf("IndexSentReply: %v", err)
	}
	if len(vectors.items) != 1 {
		t.Fatalf("expected one vector, got %d", len(vectors.items))
	}
	for id, it := range vectors.items {
		if !strings.HasPrefix(id, "sent_42_") {
			t.Errorf("unexpected synthetic id %q", id)
		}
		if !it.Metadata.IsSentResponse {
			t.Error("sent reply must be flagged is_sent_response")
		}
		if it.Metadata.Sender != "alice@example.com" {
			t.Errorf("sent reply keeps the counterparty as sender, got %q", it.Metadata.Sender)
		}
		if it.Metadata.Subject != "Re: Invoice 42" {
			t.Errorf("unexpected subject %q", it.Metadata.Subject)
		}
	}
}

func TestIndexNewMailRequiresCompletedBackfill(t *testing.T) {
	provider := &pagingProvider{}
	vectors := newMemVectors()
	progress := &memProgress{row: &domain.IndexingProgress{UserID: 5, Status: domain.IndexingInProgress}}
	ix := newTestIndexer(provider, progress, vectors)

	if err := ix.IndexNewMail(context.Background(), 5, "m9"); err != nil {
		t.Fatalf("IndexNewMail: %v", err)
	}
	if len(vectors.items) != 0 {
		t.Error("incremental indexing must be skipped until backfill completes")
	}

	progress.row.Status = domain.IndexingCompleted
	if err := ix.IndexNewMail(context.Background(), 5, "m9"); err != nil {
		t.Fatalf("IndexNewMail after completion: %v", err)
	}
	if len(vectors.items) != 1 {
		t.Errorf("expected one vector after completion, got %d", len(vectors.items))
	}
}
