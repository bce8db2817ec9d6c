package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"

	"assistant_server/core/agent/rag"
	"assistant_server/core/domain"
	"assistant_server/core/port/out"
	"assistant_server/core/service/classification"
	"assistant_server/core/service/indexing"
	"assistant_server/core/service/response"
	"assistant_server/pkg/apperr"
	"assistant_server/pkg/logger"
	"assistant_server/pkg/metrics"
)

// Notifier is the approval-channel surface the engine drives. The
// implementation owns message rendering and delivery reliability; a nil
// message id from a Send means the message went to the manual queue.
type Notifier interface {
	SendProposal(ctx context.Context, item *domain.EmailQueueItem, bodyPreview string) (int, error)
	SendDraft(ctx context.Context, item *domain.EmailQueueItem) (int, error)
	EditDraft(ctx context.Context, item *domain.EmailQueueItem, messageID int) error
	SendConfirmation(ctx context.Context, item *domain.EmailQueueItem, appliedFolderID *int64, deleteMessageIDs []int) error
	SendErrorNotification(ctx context.Context, item *domain.EmailQueueItem) error
}

// EngineConfig holds the retry knobs.
type EngineConfig struct {
	MaxNodeRetries int           // attempts per node for transient errors
	BackoffBase    time.Duration // first retry delay, doubled per attempt
	LockTTL        time.Duration
}

// DefaultEngineConfig returns the production defaults.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{MaxNodeRetries: 3, BackoffBase: 2 * time.Second, LockTTL: 5 * time.Minute}
}

// Engine runs the per-email workflow. Each node executes against fresh
// database state, checkpoints frame every node, and the two interrupt
// nodes park the run until a chat callback resumes it.
type Engine struct {
	queue       out.QueueRepository
	users       out.UserRepository
	folders     out.FolderRepository
	workflows   out.WorkflowRepository
	checkpoints out.CheckpointStore
	approvals   out.ApprovalRepository
	dlq         out.DLQRepository
	providers   out.MailProviderFactory

	contextBuilder *rag.ContextBuilder
	classifier     *classification.Classifier
	priority       *classification.PriorityDetector
	drafter        *response.Drafter
	notifier       Notifier
	indexer        *indexing.Indexer

	lock *RunLock
	cfg  EngineConfig
	log  *logger.Logger
}

// EngineDeps bundles the engine's collaborators.
type EngineDeps struct {
	Queue       out.QueueRepository
	Users       out.UserRepository
	Folders     out.FolderRepository
	Workflows   out.WorkflowRepository
	Checkpoints out.CheckpointStore
	Approvals   out.ApprovalRepository
	DLQ         out.DLQRepository
	Providers   out.MailProviderFactory

	ContextBuilder *rag.ContextBuilder
	Classifier     *classification.Classifier
	Priority       *classification.PriorityDetector
	Drafter        *response.Drafter
	Notifier       Notifier
	Indexer        *indexing.Indexer

	Lock *RunLock
}

// NewEngine creates the engine.
func NewEngine(deps EngineDeps, cfg EngineConfig) *Engine {
	if deps.Lock == nil {
		deps.Lock = NewRunLock(nil, cfg.LockTTL)
	}
	return &Engine{
		queue:          deps.Queue,
		users:          deps.Users,
		folders:        deps.Folders,
		workflows:      deps.Workflows,
		checkpoints:    deps.Checkpoints,
		approvals:      deps.Approvals,
		dlq:            deps.DLQ,
		providers:      deps.Providers,
		contextBuilder: deps.ContextBuilder,
		classifier:     deps.Classifier,
		priority:       deps.Priority,
		drafter:        deps.Drafter,
		notifier:       deps.Notifier,
		indexer:        deps.Indexer,
		lock:           deps.Lock,
		cfg:            cfg,
		log:            logger.Default().WithField("component", "workflow"),
	}
}

// run carries one execution's working set through the node loop.
type run struct {
	threadID string
	emailID  int64
	state    map[string]any
	step     int
}

// Start begins (or, for a redelivered job, continues) the workflow for a
// queue row.
func (e *Engine) Start(ctx context.Context, emailID int64) error {
	item, err := e.queue.GetByID(ctx, emailID)
	if err != nil {
		return err
	}
	if item.Status.IsTerminal() {
		e.log.WithEmail(emailID).Info("start skipped, status %s is terminal", item.Status)
		return nil
	}

	mapping, err := e.workflows.GetByEmailID(ctx, emailID)
	if err != nil {
		return err
	}
	if mapping != nil {
		// Redelivered start: continue the existing run from its checkpoint.
		return e.Resume(ctx, mapping.ThreadID, nil)
	}

	threadID := uuid.NewString()
	mapping = &domain.WorkflowMapping{
		EmailID:  emailID,
		UserID:   item.UserID,
		ThreadID: threadID,
		State:    domain.WorkflowStateCreated,
	}
	if err := e.workflows.Create(ctx, mapping); err != nil {
		return err
	}
	if err := e.queue.UpdateStatus(ctx, emailID, domain.StatusProcessing); err != nil {
		return err
	}

	release, acquired, err := e.lock.Acquire(ctx, threadID)
	if err != nil {
		return err
	}
	if !acquired {
		return apperr.RateLimited("workflow thread "+threadID, nil)
	}
	defer release()

	r := &run{threadID: threadID, emailID: emailID, state: map[string]any{}}
	return e.execute(ctx, r, NodeExtractContext)
}

// Resume continues a parked run. payload (decision fields from the
// approval channel) is merged into the checkpointed state. A resume for
// a finished run is a duplicate callback and short-circuits.
func (e *Engine) Resume(ctx context.Context, threadID string, payload map[string]any) error {
	mapping, err := e.workflows.GetByThreadID(ctx, threadID)
	if err != nil {
		return err
	}
	if mapping == nil {
		return apperr.NotFound("workflow thread " + threadID)
	}
	if mapping.State == domain.WorkflowStateSent || mapping.State == domain.WorkflowStateRejected {
		e.log.WithEmail(mapping.EmailID).Info("duplicate resume for finished run, ignoring")
		return nil
	}

	item, err := e.queue.GetByID(ctx, mapping.EmailID)
	if err != nil {
		return err
	}
	if item.Status.IsTerminal() {
		e.log.WithEmail(mapping.EmailID).Info("duplicate resume, status %s is terminal", item.Status)
		return nil
	}

	release, acquired, err := e.lock.Acquire(ctx, threadID)
	if err != nil {
		return err
	}
	if !acquired {
		return apperr.RateLimited("workflow thread "+threadID, nil)
	}
	defer release()

	cp, err := e.checkpoints.Latest(ctx, threadID)
	if err != nil {
		return err
	}

	r := &run{threadID: threadID, emailID: mapping.EmailID, state: map[string]any{}}
	node := NodeExtractContext
	if cp != nil {
		r.state = cp.State
		r.step = cp.Step
		node = cp.Node
	}
	if r.state == nil {
		r.state = map[string]any{}
	}
	for k, v := range payload {
		r.state[k] = v
	}

	return e.execute(ctx, r, node)
}

// execute drives the node loop from node until the run ends, interrupts,
// or fails. A checkpoint is written before each node (which doubles as
// the after-checkpoint of the previous one) and once at the end.
func (e *Engine) execute(ctx context.Context, r *run, node string) error {
	for node != nodeEnd {
		if err := e.checkpoint(ctx, r, node); err != nil {
			return err
		}

		next, err := e.runNodeWithRetry(ctx, r, node)
		if errors.Is(err, errInterrupt) {
			// Parked. State already carries everything a resume needs.
			return e.checkpoint(ctx, r, node)
		}
		if err != nil {
			return e.fail(ctx, r, node, err)
		}
		node = next
	}
	return e.checkpoint(ctx, r, nodeEnd)
}

func (e *Engine) checkpoint(ctx context.Context, r *run, node string) error {
	r.step++
	return e.checkpoints.Save(ctx, &domain.WorkflowCheckpoint{
		ThreadID: r.threadID,
		Step:     r.step,
		Node:     node,
		State:    r.state,
	})
}

// runNodeWithRetry executes one node, retrying transient failures with
// exponential backoff. Each attempt reloads the queue row so the node
// sees fresh state.
func (e *Engine) runNodeWithRetry(ctx context.Context, r *run, node string) (string, error) {
	var lastErr error
	for attempt := 0; attempt < e.cfg.MaxNodeRetries; attempt++ {
		if attempt > 0 {
			delay := e.cfg.BackoffBase * time.Duration(1<<uint(attempt-1))
			e.log.WithEmail(r.emailID).Warn("retrying node %s in %s (attempt %d)", node, delay, attempt+1)
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(delay):
			}
		}

		item, err := e.queue.GetByID(ctx, r.emailID)
		if err != nil {
			lastErr = err
			continue
		}

		next, err := e.runNode(ctx, r, node, item)
		if err == nil || errors.Is(err, errInterrupt) {
			metrics.RetryCount.Observe(float64(attempt))
			return next, err
		}
		lastErr = err
		if !apperr.IsTransient(err) {
			break
		}
	}
	return "", lastErr
}

func (e *Engine) runNode(ctx context.Context, r *run, node string, item *domain.EmailQueueItem) (string, error) {
	switch node {
	case NodeExtractContext:
		return e.nodeExtractContext(ctx, r, item)
	case NodeClassify:
		return e.nodeClassify(ctx, r, item)
	case NodeDetectPriority:
		return e.nodeDetectPriority(ctx, r, item)
	case NodeSendProposal:
		return e.nodeSendProposal(ctx, r, item)
	case NodeSendDraft:
		return e.nodeSendDraft(ctx, r, item)
	case NodeSendEmail:
		return e.nodeSendEmail(ctx, r, item)
	case NodeExecuteAction:
		return e.nodeExecuteAction(ctx, r, item)
	case NodeSendConfirmation:
		return e.nodeSendConfirmation(ctx, r, item)
	default:
		return "", apperr.Internal(fmt.Sprintf("unknown workflow node %q", node))
	}
}

// fail routes an exhausted node to the error path: queue row flipped to
// error, a dead-letter row for replay, and metrics.
func (e *Engine) fail(ctx context.Context, r *run, node string, cause error) error {
	appErr := apperr.AsAppError(cause)
	e.log.WithEmail(r.emailID).WithError(cause).Error("node %s failed terminally", node)

	item, err := e.queue.GetByID(ctx, r.emailID)
	if err != nil {
		return cause
	}

	dlqReason := e.dlqReason(ctx, node, item, appErr)
	if err := e.queue.MarkError(ctx, r.emailID, appErr.Code, appErr.Message, &dlqReason); err != nil {
		e.log.WithEmail(r.emailID).WithError(err).Error("mark error failed")
	}

	userLabel := fmt.Sprintf("%d", item.UserID)
	metrics.ProcessingErrors.WithLabelValues(appErr.Code, userLabel).Inc()

	// Provider-side actions get a replayable dead-letter row.
	if node == NodeSendEmail || node == NodeExecuteAction {
		ctxJSON, _ := json.Marshal(map[string]any{
			"sender":  item.Sender,
			"subject": item.Subject,
			"status":  item.Status,
			"node":    node,
		})
		dlqItem := &domain.DeadLetterItem{
			EmailQueueID:      item.ID,
			OperationType:     operationOf(node),
			ProviderMessageID: item.ProviderMessageID,
			ErrorType:         appErr.Code,
			ErrorMessage:      appErr.Message,
			RetryCount:        e.cfg.MaxNodeRetries,
			ContextJSON:       string(ctxJSON),
		}
		if err := e.dlq.Insert(ctx, dlqItem); err != nil {
			e.log.WithEmail(r.emailID).WithError(err).Error("dlq insert failed")
		} else {
			metrics.DLQInserts.WithLabelValues(appErr.Code, userLabel).Inc()
		}
	}

	// Tell the user. The row already carries the error; the local copy is
	// patched so the notifier renders what was just persisted.
	item.Status = domain.StatusError
	item.ErrorType = &appErr.Code
	item.ErrorMessage = &appErr.Message
	item.RetryCount = e.cfg.MaxNodeRetries
	if err := e.notifier.SendErrorNotification(ctx, item); err != nil {
		e.log.WithEmail(r.emailID).WithError(err).Warn("error notification failed")
	}
	return cause
}

// dlqReason renders the human-readable failure summary stored on the queue
// row next to the structured error fields. Folder and label resolution is
// best effort; the row may fail before a folder was ever proposed.
func (e *Engine) dlqReason(ctx context.Context, node string, item *domain.EmailQueueItem, appErr *apperr.AppError) string {
	folderName := "unknown"
	labelID := "unknown"
	if item.ProposedFolderID != nil {
		if folder, err := e.folders.GetByID(ctx, *item.ProposedFolderID); err == nil {
			folderName = folder.Name
			if folder.HasExternalLabel() {
				labelID = *folder.ExternalLabelID
			}
		}
	}
	return fmt.Sprintf(
		"Failed to %s after %d attempts: [%s] %s (email_queue_id=%d, provider_message_id=%s, folder=%s, label=%s)",
		actionDescription(node), e.cfg.MaxNodeRetries, appErr.Code, appErr.Message,
		item.ID, item.ProviderMessageID, folderName, labelID,
	)
}

func actionDescription(node string) string {
	switch node {
	case NodeSendEmail:
		return "send email response"
	case NodeExecuteAction:
		return "apply Gmail label"
	default:
		return "run node " + node
	}
}

func operationOf(node string) string {
	switch node {
	case NodeSendEmail:
		return "send_email"
	case NodeExecuteAction:
		return "apply_label"
	default:
		return node
	}
}
