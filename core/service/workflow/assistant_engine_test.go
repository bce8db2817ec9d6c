package workflow

import (
	"context"
	"strings"
	"testing"
	"time"

	json "github.com/goccy/go-json"

	"assistant_server/core/agent/rag"
	"assistant_server/core/domain"
	"assistant_server/core/port/out"
	"assistant_server/core/service/classification"
	"assistant_server/core/service/response"
	"assistant_server/pkg/apperr"
)

// --- in-memory fakes -------------------------------------------------------

type fakeQueue struct {
	item *domain.EmailQueueItem
}

func (q *fakeQueue) GetByID(ctx context.Context, id int64) (*domain.EmailQueueItem, error) {
	cp := *q.item
	return &cp, nil
}

func (q *fakeQueue) InsertIfAbsent(ctx context.Context, item *domain.EmailQueueItem) (*domain.EmailQueueItem, bool, error) {
	return nil, false, nil
}

func (q *fakeQueue) UpdateStatus(ctx context.Context, id int64, status domain.EmailStatus) error {
	q.item.Status = status
	return nil
}

func (q *fakeQueue) SaveClassification(ctx context.Context, item *domain.EmailQueueItem) error {
	q.item.Classification = item.Classification
	q.item.ClassificationReasoning = item.ClassificationReasoning
	q.item.ProposedFolderID = item.ProposedFolderID
	q.item.PriorityScore = item.PriorityScore
	q.item.DetectedLanguage = item.DetectedLanguage
	q.item.Tone = item.Tone
	q.item.DraftResponse = item.DraftResponse
	return nil
}

func (q *fakeQueue) SaveDraft(ctx context.Context, id int64, draft string) error {
	q.item.DraftResponse = &draft
	return nil
}

func (q *fakeQueue) SetPriority(ctx context.Context, id int64, score int, isPriority bool) error {
	q.item.PriorityScore = score
	q.item.IsPriority = isPriority
	return nil
}

func (q *fakeQueue) MarkSent(ctx context.Context, id int64, sentAt time.Time) (bool, error) {
	if q.item.EmailSentAt != nil {
		return false, nil
	}
	q.item.EmailSentAt = &sentAt
	return true, nil
}

func (q *fakeQueue) MarkError(ctx context.Context, id int64, errorType, errorMessage string, dlqReason *string) error {
	q.item.Status = domain.StatusError
	q.item.ErrorType = &errorType
	q.item.ErrorMessage = &errorMessage
	q.item.DLQReason = dlqReason
	return nil
}

func (q *fakeQueue) RecordNotificationFailure(ctx context.Context, id int64, errorType, errorMessage string) error {
	return nil
}

func (q *fakeQueue) IncrementRetry(ctx context.Context, id int64) (int, error) {
	q.item.RetryCount++
	return q.item.RetryCount, nil
}

func (q *fakeQueue) ListByStatus(ctx context.Context, status domain.EmailStatus, limit int) ([]domain.EmailQueueItem, error) {
	return nil, nil
}

func (q *fakeQueue) ListErrored(ctx context.Context, userID *int64, limit, offset int) ([]domain.EmailQueueItem, error) {
	return nil, nil
}

func (q *fakeQueue) CountByStatus(ctx context.Context) (map[domain.EmailStatus]int64, error) {
	return nil, nil
}

func (q *fakeQueue) CountErrorsByType(ctx context.Context) (map[string]int64, error) {
	return nil, nil
}

func (q *fakeQueue) ResetForRetry(ctx context.Context, id int64) error { return nil }

type fakeUsers struct{ user *domain.User }

func (u *fakeUsers) GetByID(ctx context.Context, id int64) (*domain.User, error) {
	return u.user, nil
}

func (u *fakeUsers) GetByChatID(ctx context.Context, chatID int64) (*domain.User, error) {
	return u.user, nil
}

func (u *fakeUsers) ListActiveWithTokens(ctx context.Context) ([]domain.User, error) {
	return []domain.User{*u.user}, nil
}

func (u *fakeUsers) UpdateTokens(ctx context.Context, userID int64, encryptedAccess, encryptedRefresh string, expiry time.Time) error {
	return nil
}

type fakeFolders struct{ folders []domain.FolderCategory }

func (f *fakeFolders) GetByID(ctx context.Context, id int64) (*domain.FolderCategory, error) {
	for i := range f.folders {
		if f.folders[i].ID == id {
			return &f.folders[i], nil
		}
	}
	return nil, nil
}

func (f *fakeFolders) ListByUser(ctx context.Context, userID int64) ([]domain.FolderCategory, error) {
	return f.folders, nil
}

func (f *fakeFolders) GetByName(ctx context.Context, userID int64, name string) (*domain.FolderCategory, error) {
	return domain.FindFolderByName(f.folders, name), nil
}

func (f *fakeFolders) SetExternalLabelID(ctx context.Context, folderID int64, labelID string) error {
	for i := range f.folders {
		if f.folders[i].ID == folderID {
			f.folders[i].ExternalLabelID = &labelID
		}
	}
	return nil
}

type fakeWorkflows struct{ m *domain.WorkflowMapping }

func (w *fakeWorkflows) Create(ctx context.Context, m *domain.WorkflowMapping) error {
	w.m = m
	return nil
}

func (w *fakeWorkflows) GetByEmailID(ctx context.Context, emailID int64) (*domain.WorkflowMapping, error) {
	if w.m != nil && w.m.EmailID == emailID {
		return w.m, nil
	}
	return nil, nil
}

func (w *fakeWorkflows) GetByThreadID(ctx context.Context, threadID string) (*domain.WorkflowMapping, error) {
	if w.m != nil && w.m.ThreadID == threadID {
		return w.m, nil
	}
	return nil, nil
}

func (w *fakeWorkflows) UpdateState(ctx context.Context, emailID int64, state domain.WorkflowState) error {
	w.m.State = state
	return nil
}

func (w *fakeWorkflows) SetChatMessageID(ctx context.Context, emailID int64, messageID int) error {
	w.m.ChatMessageID = &messageID
	return nil
}

// fakeCheckpoints round-trips state through JSON like the real store, so
// resumed runs see float64 where they stored ints.
type fakeCheckpoints struct{ cps []*domain.WorkflowCheckpoint }

func (s *fakeCheckpoints) Save(ctx context.Context, cp *domain.WorkflowCheckpoint) error {
	raw, err := json.Marshal(cp.State)
	if err != nil {
		return err
	}
	var state map[string]any
	if err := json.Unmarshal(raw, &state); err != nil {
		return err
	}
	saved := &domain.WorkflowCheckpoint{ThreadID: cp.ThreadID, Step: cp.Step, Node: cp.Node, State: state}
	for i, existing := range s.cps {
		if existing.ThreadID == cp.ThreadID && existing.Step == cp.Step {
			s.cps[i] = saved
			return nil
		}
	}
	s.cps = append(s.cps, saved)
	return nil
}

func (s *fakeCheckpoints) Latest(ctx context.Context, threadID string) (*domain.WorkflowCheckpoint, error) {
	var latest *domain.WorkflowCheckpoint
	for _, cp := range s.cps {
		if cp.ThreadID != threadID {
			continue
		}
		if latest == nil || cp.Step > latest.Step {
			latest = cp
		}
	}
	return latest, nil
}

type fakeApprovals struct{ records []*domain.ApprovalHistory }

func (a *fakeApprovals) Record(ctx context.Context, h *domain.ApprovalHistory) error {
	a.records = append(a.records, h)
	return nil
}

func (a *fakeApprovals) ListByUser(ctx context.Context, userID int64, limit int) ([]domain.ApprovalHistory, error) {
	return nil, nil
}

type fakeDLQ struct{ items []*domain.DeadLetterItem }

func (d *fakeDLQ) Insert(ctx context.Context, item *domain.DeadLetterItem) error {
	d.items = append(d.items, item)
	return nil
}

func (d *fakeDLQ) ListUnresolved(ctx context.Context, limit int) ([]domain.DeadLetterItem, error) {
	return nil, nil
}

func (d *fakeDLQ) MarkResolved(ctx context.Context, id int64) error { return nil }

type fakeProvider struct {
	body    string
	thread  []out.MailMessage
	sent    []*out.OutgoingMail
	applied []string

	// errors consumed one per call before the operation succeeds
	sendErrs  []error
	applyErrs []error
}

func (p *fakeProvider) ListMessages(ctx context.Context, query string, maxResults int) ([]out.MailMessage, error) {
	return nil, nil
}

func (p *fakeProvider) ListMessagesPage(ctx context.Context, query string, pageSize int, pageToken string) (*out.MailPage, error) {
	return &out.MailPage{}, nil
}

func (p *fakeProvider) GetMessage(ctx context.Context, messageID string) (*out.MailMessage, error) {
	return &out.MailMessage{ID: messageID, Body: p.body, Date: time.Now()}, nil
}

func (p *fakeProvider) GetThread(ctx context.Context, threadID string) ([]out.MailMessage, error) {
	return p.thread, nil
}

func (p *fakeProvider) ListLabels(ctx context.Context) ([]out.MailLabel, error) { return nil, nil }

func (p *fakeProvider) CreateLabel(ctx context.Context, name string, color *string) (*out.MailLabel, error) {
	return &out.MailLabel{ID: "L-" + name, Name: name}, nil
}

func (p *fakeProvider) ApplyLabel(ctx context.Context, messageID, labelID string) (bool, error) {
	if len(p.applyErrs) > 0 {
		err := p.applyErrs[0]
		p.applyErrs = p.applyErrs[1:]
		return false, err
	}
	p.applied = append(p.applied, labelID)
	return true, nil
}

func (p *fakeProvider) RemoveLabel(ctx context.Context, messageID, labelID string) (bool, error) {
	return true, nil
}

func (p *fakeProvider) SendEmail(ctx context.Context, msg *out.OutgoingMail) (*out.SendResult, error) {
	if len(p.sendErrs) > 0 {
		err := p.sendErrs[0]
		p.sendErrs = p.sendErrs[1:]
		return nil, err
	}
	p.sent = append(p.sent, msg)
	return &out.SendResult{MessageID: "sent-1", SentAt: time.Now()}, nil
}

type fakeFactory struct{ provider *fakeProvider }

func (f *fakeFactory) ForUser(ctx context.Context, userID int64) (out.MailProvider, error) {
	return f.provider, nil
}

type fakeLLM struct {
	classifyJSON string
	draft        string
}

func (l *fakeLLM) CompleteJSON(ctx context.Context, systemPrompt, userPrompt string, out any) error {
	return json.Unmarshal([]byte(l.classifyJSON), out)
}

func (l *fakeLLM) CompleteText(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return l.draft, nil
}

type fakeEmbedder struct{}

func (e *fakeEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return []float32{0}, nil
}

func (e *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return make([][]float32, len(texts)), nil
}

func (e *fakeEmbedder) Dimensions() int { return 1 }

type fakeVectors struct{}

func (v *fakeVectors) Upsert(ctx context.Context, item out.VectorItem) error { return nil }

func (v *fakeVectors) BatchUpsert(ctx context.Context, items []out.VectorItem) error { return nil }
func (v *fakeVectors) Search(ctx context.Context, embedding []float32, topK int, filter map[string]string) ([]out.VectorMatch, error) {
	return nil, nil
}
func (v *fakeVectors) DeleteOlderThan(ctx context.Context, userID string, cutoff time.Time) (int64, error) {
	return 0, nil
}
func (v *fakeVectors) Delete(ctx context.Context, id string) error { return nil }

type fakeNotifier struct {
	proposals       int
	drafts          int
	edits           int
	confirmations   int
	errs            int
	deletedIDs      []int
	appliedFolderID *int64
}

func (n *fakeNotifier) SendProposal(ctx context.Context, item *domain.EmailQueueItem, bodyPreview string) (int, error) {
	n.proposals++
	return 101, nil
}

func (n *fakeNotifier) SendDraft(ctx context.Context, item *domain.EmailQueueItem) (int, error) {
	n.drafts++
	return 102, nil
}

func (n *fakeNotifier) EditDraft(ctx context.Context, item *domain.EmailQueueItem, messageID int) error {
	n.edits++
	return nil
}

func (n *fakeNotifier) SendConfirmation(ctx context.Context, item *domain.EmailQueueItem, appliedFolderID *int64, deleteMessageIDs []int) error {
	n.confirmations++
	n.appliedFolderID = appliedFolderID
	n.deletedIDs = deleteMessageIDs
	return nil
}

func (n *fakeNotifier) SendErrorNotification(ctx context.Context, item *domain.EmailQueueItem) error {
	n.errs++
	return nil
}

// --- harness ----------------------------------------------------------------

type engineFixture struct {
	engine      *Engine
	queue       *fakeQueue
	workflows   *fakeWorkflows
	checkpoints *fakeCheckpoints
	approvals   *fakeApprovals
	dlq         *fakeDLQ
	provider    *fakeProvider
	notifier    *fakeNotifier
	folders     *fakeFolders
}

const testClassifyJSON = `{
	"suggested_folder": "Invoices",
	"reasoning": "vendor invoice",
	"priority_score": 20,
	"confidence": 0.9,
	"needs_response": true,
	"response_draft": null,
	"detected_language": "en",
	"tone": "professional"
}`

const testDraft = "Hello Alice, thank you for your message. The signed invoice is attached for your records. Best regards, John"

func newEngineFixture(needsResponse bool) *engineFixture {
	classifyJSON := testClassifyJSON
	if !needsResponse {
		classifyJSON = `{
			"suggested_folder": "Invoices",
			"reasoning": "vendor invoice",
			"priority_score": 20,
			"confidence": 0.9,
			"needs_response": false,
			"response_draft": null,
			"detected_language": "en",
			"tone": "professional"
		}`
	}

	queue := &fakeQueue{item: &domain.EmailQueueItem{
		ID:                1,
		UserID:            10,
		ProviderMessageID: "pm1",
		ProviderThreadID:  "pt1",
		Sender:            "Alice <alice@example.com>",
		Subject:           "Invoice 42",
		Status:            domain.StatusPending,
		ReceivedAt:        time.Now(),
	}}
	users := &fakeUsers{user: &domain.User{ID: 10, Email: "owner@example.com", Active: true}}
	folders := &fakeFolders{folders: []domain.FolderCategory{{ID: 7, UserID: 10, Name: "Invoices"}}}
	workflows := &fakeWorkflows{}
	checkpoints := &fakeCheckpoints{}
	approvals := &fakeApprovals{}
	dlq := &fakeDLQ{}
	provider := &fakeProvider{
		body: "Please find attached invoice 42. Could you confirm receipt?",
		thread: []out.MailMessage{
			{ID: "pm1", ThreadID: "pt1", From: "alice@example.com", Subject: "Invoice 42", Body: "invoice body", Date: time.Now()},
		},
	}
	factory := &fakeFactory{provider: provider}
	llm := &fakeLLM{classifyJSON: classifyJSON, draft: testDraft}
	notifier := &fakeNotifier{}

	// LongThreadK/ShortThreadK zero: no semantic retrieval, the embedder
	// and vector store stay untouched.
	builder := rag.NewContextBuilder(queue, factory, &fakeEmbedder{}, &fakeVectors{}, nil, rag.ContextConfig{
		ThreadHistoryLimit: 5,
		MaxContextTokens:   100000,
	})

	engine := NewEngine(EngineDeps{
		Queue:          queue,
		Users:          users,
		Folders:        folders,
		Workflows:      workflows,
		Checkpoints:    checkpoints,
		Approvals:      approvals,
		DLQ:            dlq,
		Providers:      factory,
		ContextBuilder: builder,
		Classifier:     classification.NewClassifier(llm, queue, folders),
		Priority:       classification.NewPriorityDetector(0),
		Drafter:        response.NewDrafter(llm, queue, response.NewValidator(0, 0)),
		Notifier:       notifier,
	}, EngineConfig{MaxNodeRetries: 2, BackoffBase: time.Millisecond})

	return &engineFixture{
		engine:      engine,
		queue:       queue,
		workflows:   workflows,
		checkpoints: checkpoints,
		approvals:   approvals,
		dlq:         dlq,
		provider:    provider,
		notifier:    notifier,
		folders:     folders,
	}
}

// --- tests -------------------------------------------------------------------

func TestEngineFullReplyFlow(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(true)

	// Start runs until the proposal interrupt.
	if err := f.engine.Start(ctx, 1); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if f.queue.item.Status != domain.StatusAwaitingApproval {
		t.Fatalf("expected awaiting_approval, got %s", f.queue.item.Status)
	}
	if f.workflows.m == nil || f.workflows.m.State != domain.WorkflowStateAwaitingApproval {
		t.Fatalf("unexpected workflow mapping: %+v", f.workflows.m)
	}
	if f.notifier.proposals != 1 {
		t.Fatalf("expected one proposal, got %d", f.notifier.proposals)
	}
	cp, _ := f.checkpoints.Latest(ctx, f.workflows.m.ThreadID)
	if cp == nil || cp.Node != NodeSendProposal {
		t.Fatalf("expected checkpoint at send_proposal, got %+v", cp)
	}

	threadID := f.workflows.m.ThreadID

	// Approve the proposal: the run continues to the draft interrupt.
	if err := f.engine.Resume(ctx, threadID, map[string]any{"user_decision": "approve"}); err != nil {
		t.Fatalf("Resume(approve): %v", err)
	}
	if f.queue.item.Status != domain.StatusAwaitingDraftApproval {
		t.Fatalf("expected awaiting_draft_approval, got %s", f.queue.item.Status)
	}
	if !f.queue.item.HasDraft() {
		t.Fatal("expected a stored draft after the draft node")
	}
	if f.notifier.drafts != 1 {
		t.Fatalf("expected one draft message, got %d", f.notifier.drafts)
	}

	// Approve the draft: reply goes out, label is applied, run finishes.
	if err := f.engine.Resume(ctx, threadID, map[string]any{"draft_decision": "send_response"}); err != nil {
		t.Fatalf("Resume(send): %v", err)
	}
	if len(f.provider.sent) != 1 {
		t.Fatalf("expected exactly one sent email, got %d", len(f.provider.sent))
	}
	sent := f.provider.sent[0]
	if sent.To != "alice@example.com" {
		t.Errorf("reply addressed to %q", sent.To)
	}
	if sent.Subject != "Re: Invoice 42" {
		t.Errorf("reply subject %q", sent.Subject)
	}
	if sent.ThreadID != "pt1" {
		t.Errorf("reply thread %q", sent.ThreadID)
	}
	if f.queue.item.Status != domain.StatusResponseSent {
		t.Errorf("expected response_sent, got %s", f.queue.item.Status)
	}
	if f.workflows.m.State != domain.WorkflowStateSent {
		t.Errorf("expected workflow state sent, got %s", f.workflows.m.State)
	}
	if len(f.provider.applied) != 1 || f.provider.applied[0] != "L-Invoices" {
		t.Errorf("expected label L-Invoices applied once, got %v", f.provider.applied)
	}
	if !f.folders.folders[0].HasExternalLabel() {
		t.Error("expected the provider label id cached on the folder")
	}
	if len(f.approvals.records) != 1 || !f.approvals.records[0].Approved {
		t.Errorf("expected one approved audit record, got %+v", f.approvals.records)
	}
	if f.notifier.confirmations != 1 {
		t.Errorf("expected one confirmation, got %d", f.notifier.confirmations)
	}
	if len(f.notifier.deletedIDs) != 2 {
		t.Errorf("expected proposal and draft messages deleted, got %v", f.notifier.deletedIDs)
	}

	// A duplicate callback after the run finished is a no-op.
	if err := f.engine.Resume(ctx, threadID, map[string]any{"draft_decision": "send_response"}); err != nil {
		t.Fatalf("duplicate Resume: %v", err)
	}
	if len(f.provider.sent) != 1 {
		t.Errorf("duplicate resume sent a second email: %d", len(f.provider.sent))
	}
	if len(f.approvals.records) != 1 {
		t.Errorf("duplicate resume added audit records: %d", len(f.approvals.records))
	}
}

func TestEngineRejectFlow(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(false)

	if err := f.engine.Start(ctx, 1); err != nil {
		t.Fatalf("Start: %v", err)
	}
	threadID := f.workflows.m.ThreadID

	if err := f.engine.Resume(ctx, threadID, map[string]any{"user_decision": "reject"}); err != nil {
		t.Fatalf("Resume(reject): %v", err)
	}

	if f.queue.item.Status != domain.StatusRejected {
		t.Errorf("expected rejected, got %s", f.queue.item.Status)
	}
	if f.workflows.m.State != domain.WorkflowStateRejected {
		t.Errorf("expected workflow state rejected, got %s", f.workflows.m.State)
	}
	if len(f.provider.sent) != 0 || len(f.provider.applied) != 0 {
		t.Error("reject must neither send mail nor apply labels")
	}
	if len(f.approvals.records) != 1 || f.approvals.records[0].Approved {
		t.Errorf("expected one non-approved audit record, got %+v", f.approvals.records)
	}
	if f.notifier.confirmations != 1 {
		t.Errorf("expected a confirmation, got %d", f.notifier.confirmations)
	}
}

func TestEngineSortOnlyApproveFlow(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(false)

	if err := f.engine.Start(ctx, 1); err != nil {
		t.Fatalf("Start: %v", err)
	}
	threadID := f.workflows.m.ThreadID

	if err := f.engine.Resume(ctx, threadID, map[string]any{"user_decision": "approve"}); err != nil {
		t.Fatalf("Resume(approve): %v", err)
	}

	if f.queue.item.Status != domain.StatusCompleted {
		t.Errorf("expected completed, got %s", f.queue.item.Status)
	}
	if len(f.provider.sent) != 0 {
		t.Error("sort-only flow must not send email")
	}
	if len(f.provider.applied) != 1 {
		t.Errorf("expected one label application, got %d", len(f.provider.applied))
	}
	if f.notifier.drafts != 0 {
		t.Error("sort-only flow must not send a draft")
	}
}

func TestEngineChangeFolderFlow(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(false)
	f.folders.folders = append(f.folders.folders, domain.FolderCategory{ID: 9, UserID: 10, Name: "Travel"})

	if err := f.engine.Start(ctx, 1); err != nil {
		t.Fatalf("Start: %v", err)
	}
	threadID := f.workflows.m.ThreadID

	err := f.engine.Resume(ctx, threadID, map[string]any{
		"user_decision":      "change_folder",
		"selected_folder_id": int64(9),
	})
	if err != nil {
		t.Fatalf("Resume(change_folder): %v", err)
	}

	if len(f.provider.applied) != 1 || f.provider.applied[0] != "L-Travel" {
		t.Errorf("expected the user-selected folder label, got %v", f.provider.applied)
	}
	if f.notifier.appliedFolderID == nil || *f.notifier.appliedFolderID != 9 {
		t.Errorf("confirmation should name the user-selected folder, got %v", f.notifier.appliedFolderID)
	}
	rec := f.approvals.records[0]
	if rec.UserSelectedFolderID == nil || *rec.UserSelectedFolderID != 9 {
		t.Errorf("audit record should carry the selected folder, got %+v", rec)
	}
	if rec.Approved {
		t.Error("change_folder counts as a correction, not an approval")
	}
}

func TestEngineSendRetriesTransientFailure(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(true)
	f.provider.sendErrs = []error{apperr.ServerError("gmail", nil)}

	if err := f.engine.Start(ctx, 1); err != nil {
		t.Fatalf("Start: %v", err)
	}
	threadID := f.workflows.m.ThreadID
	if err := f.engine.Resume(ctx, threadID, map[string]any{"user_decision": "approve"}); err != nil {
		t.Fatalf("Resume(approve): %v", err)
	}

	if err := f.engine.Resume(ctx, threadID, map[string]any{"draft_decision": "send_response"}); err != nil {
		t.Fatalf("Resume(send) should recover from a transient send failure: %v", err)
	}

	if len(f.provider.sent) != 1 {
		t.Fatalf("expected exactly one delivered email, got %d", len(f.provider.sent))
	}
	if f.queue.item.EmailSentAt == nil {
		t.Error("email_sent_at must be set after the successful attempt")
	}
	if f.queue.item.Status != domain.StatusResponseSent {
		t.Errorf("expected response_sent, got %s", f.queue.item.Status)
	}
	if len(f.dlq.items) != 0 {
		t.Errorf("a recovered send must not dead-letter, got %d rows", len(f.dlq.items))
	}
	if f.notifier.errs != 0 {
		t.Errorf("a recovered send must not alert the user, got %d alerts", f.notifier.errs)
	}
}

func TestEngineSendExhaustionKeepsReplyRetryable(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(true)
	f.provider.sendErrs = []error{
		apperr.ServerError("gmail", nil),
		apperr.ServerError("gmail", nil),
	}

	if err := f.engine.Start(ctx, 1); err != nil {
		t.Fatalf("Start: %v", err)
	}
	threadID := f.workflows.m.ThreadID
	if err := f.engine.Resume(ctx, threadID, map[string]any{"user_decision": "approve"}); err != nil {
		t.Fatalf("Resume(approve): %v", err)
	}

	if err := f.engine.Resume(ctx, threadID, map[string]any{"draft_decision": "send_response"}); err == nil {
		t.Fatal("Resume(send) should fail after exhausting retries")
	}

	if len(f.provider.sent) != 0 {
		t.Errorf("no email should have been delivered, got %d", len(f.provider.sent))
	}
	if f.queue.item.EmailSentAt != nil {
		t.Error("a failed send must not claim email_sent_at")
	}
	if f.queue.item.Status != domain.StatusError {
		t.Errorf("expected error status, got %s", f.queue.item.Status)
	}
	if len(f.dlq.items) != 1 || f.dlq.items[0].OperationType != "send_email" {
		t.Fatalf("expected one send_email dead-letter row, got %+v", f.dlq.items)
	}
	if f.queue.item.DLQReason == nil || !strings.Contains(*f.queue.item.DLQReason, "send email response") {
		t.Errorf("dlq_reason should name the failed action, got %v", f.queue.item.DLQReason)
	}
	if f.notifier.errs != 1 {
		t.Errorf("expected one error notification, got %d", f.notifier.errs)
	}
}

func TestEngineLabelFailureRecordsFormattedReason(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(false)
	f.provider.applyErrs = []error{
		apperr.ServerError("gmail", nil),
		apperr.ServerError("gmail", nil),
	}

	if err := f.engine.Start(ctx, 1); err != nil {
		t.Fatalf("Start: %v", err)
	}
	threadID := f.workflows.m.ThreadID

	if err := f.engine.Resume(ctx, threadID, map[string]any{"user_decision": "approve"}); err == nil {
		t.Fatal("Resume(approve) should fail after exhausting label retries")
	}

	if f.queue.item.Status != domain.StatusError {
		t.Errorf("expected error status, got %s", f.queue.item.Status)
	}
	if len(f.dlq.items) != 1 || f.dlq.items[0].OperationType != "apply_label" {
		t.Fatalf("expected one apply_label dead-letter row, got %+v", f.dlq.items)
	}
	if f.dlq.items[0].ErrorType != apperr.CodeServerError {
		t.Errorf("dead-letter error type %q", f.dlq.items[0].ErrorType)
	}
	reason := f.queue.item.DLQReason
	if reason == nil {
		t.Fatal("dlq_reason must be populated on exhaustion")
	}
	for _, want := range []string{"apply Gmail label", "after 2 attempts", "email_queue_id=1", "provider_message_id=pm1", "folder=Invoices"} {
		if !strings.Contains(*reason, want) {
			t.Errorf("dlq_reason missing %q: %s", want, *reason)
		}
	}
	if f.notifier.errs != 1 {
		t.Errorf("expected one error notification, got %d", f.notifier.errs)
	}
}

func TestEngineStartSkipsTerminalRows(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(false)
	f.queue.item.Status = domain.StatusCompleted

	if err := f.engine.Start(ctx, 1); err != nil {
		t.Fatalf("Start on terminal row: %v", err)
	}
	if f.workflows.m != nil {
		t.Error("terminal row must not create a workflow run")
	}
	if f.notifier.proposals != 0 {
		t.Error("terminal row must not notify")
	}
}
