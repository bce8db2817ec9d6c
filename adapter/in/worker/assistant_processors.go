package worker

import (
	"context"
	"time"

	"assistant_server/core/port/out"
	"assistant_server/core/service/approval"
	"assistant_server/core/service/indexing"
	"assistant_server/core/service/poller"
	"assistant_server/core/service/workflow"
	"assistant_server/pkg/logger"
	"assistant_server/pkg/metrics"
)

// supervisorCooldown guards resumable jobs against re-enqueue storms:
// a row touched within the window is left alone.
const supervisorCooldown = 30 * time.Second

// Enqueuer publishes follow-up jobs. Implemented by the stream producer;
// declared here so processors stay decoupled from the transport.
type Enqueuer interface {
	PublishWorkflowStart(ctx context.Context, emailID int64) (string, error)
	PublishIndexingResume(ctx context.Context, userID int64) (string, error)
}

// MailProcessor handles mailbox poll jobs.
type MailProcessor struct {
	poller   *poller.Poller
	enqueuer Enqueuer
	log      *logger.Logger
}

func NewMailProcessor(p *poller.Poller, enqueuer Enqueuer) *MailProcessor {
	return &MailProcessor{
		poller:   p,
		enqueuer: enqueuer,
		log:      logger.Default().WithField("component", "mail_processor"),
	}
}

// ProcessPoll polls one user (or all) and enqueues a workflow start for
// every newly queued email.
func (p *MailProcessor) ProcessPoll(ctx context.Context, msg *Message) error {
	payload, err := ParsePayload[MailPollPayload](msg)
	if err != nil {
		return err
	}

	var results []poller.PollResult
	if payload.UserID != 0 {
		res, err := p.poller.PollUserMails(ctx, payload.UserID)
		if err != nil {
			return err
		}
		results = []poller.PollResult{*res}
	} else {
		results, err = p.poller.PollAllUsers(ctx)
		if err != nil {
			return err
		}
	}

	for _, res := range results {
		for _, emailID := range res.NewIDs {
			if _, err := p.enqueuer.PublishWorkflowStart(ctx, emailID); err != nil {
				p.log.WithUser(res.UserID).WithError(err).Error("workflow start enqueue failed for email %d", emailID)
			}
		}
	}
	return nil
}

// WorkflowProcessor handles workflow start and resume jobs.
type WorkflowProcessor struct {
	engine *workflow.Engine
	log    *logger.Logger
}

func NewWorkflowProcessor(engine *workflow.Engine) *WorkflowProcessor {
	return &WorkflowProcessor{
		engine: engine,
		log:    logger.Default().WithField("component", "workflow_processor"),
	}
}

func (p *WorkflowProcessor) ProcessStart(ctx context.Context, msg *Message) error {
	payload, err := ParsePayload[WorkflowStartPayload](msg)
	if err != nil {
		return err
	}
	return p.engine.Start(ctx, payload.EmailID)
}

func (p *WorkflowProcessor) ProcessResume(ctx context.Context, msg *Message) error {
	payload, err := ParsePayload[WorkflowResumePayload](msg)
	if err != nil {
		return err
	}
	return p.engine.Resume(ctx, payload.ThreadID, payload.Decision)
}

// IndexingProcessor handles backfill, resume, supervision and retention.
type IndexingProcessor struct {
	indexer  *indexing.Indexer
	users    out.UserRepository
	enqueuer Enqueuer
	log      *logger.Logger
}

func NewIndexingProcessor(indexer *indexing.Indexer, users out.UserRepository, enqueuer Enqueuer) *IndexingProcessor {
	return &IndexingProcessor{
		indexer:  indexer,
		users:    users,
		enqueuer: enqueuer,
		log:      logger.Default().WithField("component", "indexing_processor"),
	}
}

func (p *IndexingProcessor) ProcessStart(ctx context.Context, msg *Message) error {
	payload, err := ParsePayload[IndexingPayload](msg)
	if err != nil {
		return err
	}
	return p.indexer.StartIndexing(ctx, payload.UserID)
}

func (p *IndexingProcessor) ProcessResume(ctx context.Context, msg *Message) error {
	payload, err := ParsePayload[IndexingPayload](msg)
	if err != nil {
		return err
	}
	return p.indexer.ResumeIndexing(ctx, payload.UserID)
}

// ProcessSupervise re-enqueues paused backfills whose retry window has
// elapsed.
func (p *IndexingProcessor) ProcessSupervise(ctx context.Context, msg *Message) error {
	rows, err := p.indexer.Resumable(ctx, supervisorCooldown)
	if err != nil {
		return err
	}
	for _, row := range rows {
		if _, err := p.enqueuer.PublishIndexingResume(ctx, row.UserID); err != nil {
			p.log.WithUser(row.UserID).WithError(err).Error("indexing resume enqueue failed")
		}
	}
	return nil
}

// ProcessCleanup deletes out-of-retention vectors for all active users.
func (p *IndexingProcessor) ProcessCleanup(ctx context.Context, msg *Message) error {
	users, err := p.users.ListActiveWithTokens(ctx)
	if err != nil {
		return err
	}
	for _, u := range users {
		deleted, err := p.indexer.CleanupOld(ctx, u.ID)
		if err != nil {
			p.log.WithUser(u.ID).WithError(err).Warn("vector retention cleanup failed")
			continue
		}
		if deleted > 0 {
			p.log.WithUser(u.ID).Info("retention cleanup removed %d vectors", deleted)
		}
	}
	return nil
}

// NotifyProcessor replays queued manual notifications and refreshes the
// error-state gauge on the same cadence.
type NotifyProcessor struct {
	approvals *approval.Service
	queue     out.QueueRepository
	batch     int
	log       *logger.Logger
}

func NewNotifyProcessor(approvals *approval.Service, queue out.QueueRepository) *NotifyProcessor {
	return &NotifyProcessor{
		approvals: approvals,
		queue:     queue,
		batch:     20,
		log:       logger.Default().WithField("component", "notify_processor"),
	}
}

func (p *NotifyProcessor) ProcessFlush(ctx context.Context, msg *Message) error {
	if err := p.refreshErrorGauge(ctx); err != nil {
		p.log.WithError(err).Warn("error gauge refresh failed")
	}
	return p.approvals.FlushManualNotifications(ctx, p.batch)
}

// refreshErrorGauge resets and repopulates emails_in_error_state from the
// queue. Reset first: an error type that drained to zero must not keep
// its stale sample.
func (p *NotifyProcessor) refreshErrorGauge(ctx context.Context) error {
	counts, err := p.queue.CountErrorsByType(ctx)
	if err != nil {
		return err
	}
	metrics.EmailsInErrorState.Reset()
	for errorType, n := range counts {
		metrics.EmailsInErrorState.WithLabelValues(errorType).Set(float64(n))
	}
	return nil
}
