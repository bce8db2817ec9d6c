package workflow

import (
	"context"
	"strings"
	"time"

	"assistant_server/core/agent/rag"
	"assistant_server/core/domain"
	"assistant_server/core/port/out"
	"assistant_server/pkg/apperr"
)

// nodeExtractContext assembles the RAG context and the cleaned body.
// Both go into checkpointed state so later nodes survive a restart.
func (e *Engine) nodeExtractContext(ctx context.Context, r *run, item *domain.EmailQueueItem) (string, error) {
	ragCtx, body, err := e.contextBuilder.Build(ctx, item.ID)
	if err != nil {
		return "", err
	}
	r.state[keyContext] = ragCtx
	r.state[keyBody] = body
	return NodeClassify, nil
}

// nodeClassify runs (and persists) the classification.
func (e *Engine) nodeClassify(ctx context.Context, r *run, item *domain.EmailQueueItem) (string, error) {
	body, _ := stateString(r.state, keyBody)

	var ragCtx domain.RAGContext
	var ctxPtr *domain.RAGContext
	if decodeState(r.state, keyContext, &ragCtx) {
		ctxPtr = &ragCtx
	}

	if _, err := e.classifier.Classify(ctx, item, body, ctxPtr); err != nil {
		return "", err
	}
	return NodeDetectPriority, nil
}

// nodeDetectPriority adds the deterministic rule score on top of the
// model's score and persists the combined result.
func (e *Engine) nodeDetectPriority(ctx context.Context, r *run, item *domain.EmailQueueItem) (string, error) {
	user, err := e.users.GetByID(ctx, item.UserID)
	if err != nil {
		return "", err
	}

	body, _ := stateString(r.state, keyBody)
	ruleScore := e.priority.Score(item.Sender, item.Subject, body, user.PrioritySenders)

	total := item.PriorityScore + ruleScore
	if total > 100 {
		total = 100
	}
	isPriority := e.priority.IsPriority(total)

	if err := e.queue.SetPriority(ctx, item.ID, total, isPriority); err != nil {
		return "", err
	}
	return NodeSendProposal, nil
}

// nodeSendProposal sends the sorting proposal and parks the run. On
// resume the user's decision routes to the draft path or straight to
// action execution.
func (e *Engine) nodeSendProposal(ctx context.Context, r *run, item *domain.EmailQueueItem) (string, error) {
	decision, ok := stateString(r.state, keyUserDecision)
	if !ok {
		if err := e.queue.UpdateStatus(ctx, item.ID, domain.StatusAwaitingApproval); err != nil {
			return "", err
		}
		if err := e.workflows.UpdateState(ctx, item.ID, domain.WorkflowStateAwaitingApproval); err != nil {
			return "", err
		}

		body, _ := stateString(r.state, keyBody)
		msgID, err := e.notifier.SendProposal(ctx, item, rag.TruncateChars(body, 100))
		if err != nil {
			return "", err
		}
		if msgID != 0 {
			r.state[keyProposalMessageID] = msgID
			if err := e.workflows.SetChatMessageID(ctx, item.ID, msgID); err != nil {
				return "", err
			}
		}
		return "", errInterrupt
	}

	switch domain.ApprovalAction(decision) {
	case domain.ActionReject:
		return NodeExecuteAction, nil
	case domain.ActionApprove, domain.ActionChangeFolder:
		if item.NeedsResponse() {
			return NodeSendDraft, nil
		}
		return NodeExecuteAction, nil
	default:
		return "", apperr.ValidationFailed("unknown approval decision " + decision)
	}
}

// nodeSendDraft sends the reply draft for approval and parks the run.
// The edit flow re-enters this node: the new text is already on the row,
// so the existing chat message is edited instead of resent.
func (e *Engine) nodeSendDraft(ctx context.Context, r *run, item *domain.EmailQueueItem) (string, error) {
	decision, ok := stateString(r.state, keyDraftDecision)
	if !ok {
		if !item.HasDraft() {
			body, _ := stateString(r.state, keyBody)
			var ragCtx domain.RAGContext
			var ctxPtr *domain.RAGContext
			if decodeState(r.state, keyContext, &ragCtx) {
				ctxPtr = &ragCtx
			}
			if _, err := e.drafter.Generate(ctx, item, body, ctxPtr); err != nil {
				return "", err
			}
		}

		if err := e.queue.UpdateStatus(ctx, item.ID, domain.StatusAwaitingDraftApproval); err != nil {
			return "", err
		}
		if err := e.workflows.UpdateState(ctx, item.ID, domain.WorkflowStateAwaitingDraftApproval); err != nil {
			return "", err
		}

		msgID, err := e.notifier.SendDraft(ctx, item)
		if err != nil {
			return "", err
		}
		if msgID != 0 {
			r.state[keyDraftMessageID] = msgID
			if err := e.workflows.SetChatMessageID(ctx, item.ID, msgID); err != nil {
				return "", err
			}
		}
		return "", errInterrupt
	}

	switch domain.DraftAction(decision) {
	case domain.DraftActionSend:
		return NodeSendEmail, nil
	case domain.DraftActionReject:
		return NodeExecuteAction, nil
	case domain.DraftActionEdit:
		// The approval channel stored the edited text before resuming.
		// Update the existing chat message and wait for send/reject.
		delete(r.state, keyDraftDecision)
		if msgID, ok := stateInt(r.state, keyDraftMessageID); ok && msgID != 0 {
			if err := e.notifier.EditDraft(ctx, item, msgID); err != nil {
				e.log.WithEmail(item.ID).WithError(err).Warn("draft message edit failed")
			}
		}
		return "", errInterrupt
	default:
		return "", apperr.ValidationFailed("unknown draft decision " + decision)
	}
}

// nodeSendEmail sends the approved reply. email_sent_at is set only
// after the provider accepted the message, so a transient send failure
// is retried with the draft intact; the retry reloads the row and the
// ReplySent check keeps a replayed resume from sending twice.
func (e *Engine) nodeSendEmail(ctx context.Context, r *run, item *domain.EmailQueueItem) (string, error) {
	if item.ReplySent() {
		return NodeExecuteAction, nil
	}
	if !item.HasDraft() {
		return "", apperr.ValidationFailed("send requested but no draft stored")
	}

	provider, err := e.providers.ForUser(ctx, item.UserID)
	if err != nil {
		return "", err
	}

	subject := item.Subject
	if !strings.HasPrefix(strings.ToLower(subject), "re:") {
		subject = "Re: " + subject
	}
	draft := *item.DraftResponse

	_, err = provider.SendEmail(ctx, &out.OutgoingMail{
		To:       rag.SenderAddress(item.Sender),
		Subject:  subject,
		Body:     draft,
		BodyType: out.BodyTypePlain,
		ThreadID: item.ProviderThreadID,
	})
	if err != nil {
		return "", err
	}

	// The reply is out. Failing the node now would resend on retry, so a
	// broken mark is logged instead of returned.
	if _, err := e.queue.MarkSent(ctx, item.ID, time.Now().UTC()); err != nil {
		e.log.WithEmail(item.ID).WithError(err).Error("marking reply as sent failed")
	}

	if e.indexer != nil {
		if err := e.indexer.IndexSentReply(ctx, item, draft); err != nil {
			e.log.WithEmail(item.ID).WithError(err).Warn("sent-reply indexing failed")
		}
	}
	return NodeExecuteAction, nil
}

// nodeExecuteAction applies the approved label (creating it on the
// provider when needed), sets the terminal status and records the
// decision in the audit log.
func (e *Engine) nodeExecuteAction(ctx context.Context, r *run, item *domain.EmailQueueItem) (string, error) {
	decision, ok := stateString(r.state, keyUserDecision)
	if !ok {
		return "", apperr.Internal("execute_action reached without a decision")
	}
	action := domain.ApprovalAction(decision)

	if action == domain.ActionReject {
		if err := e.queue.UpdateStatus(ctx, item.ID, domain.StatusRejected); err != nil {
			return "", err
		}
		if err := e.workflows.UpdateState(ctx, item.ID, domain.WorkflowStateRejected); err != nil {
			return "", err
		}
		err := e.approvals.Record(ctx, &domain.ApprovalHistory{
			UserID:              item.UserID,
			EmailQueueID:        item.ID,
			ActionType:          action,
			AISuggestedFolderID: item.ProposedFolderID,
			Approved:            false,
			Timestamp:           time.Now().UTC(),
		})
		if err != nil {
			return "", err
		}
		return NodeSendConfirmation, nil
	}

	folderID := item.ProposedFolderID
	if action == domain.ActionChangeFolder {
		selected, ok := stateInt64(r.state, keySelectedFolderID)
		if !ok {
			return "", apperr.ValidationFailed("change_folder without selected_folder_id")
		}
		folderID = &selected
	}
	if folderID == nil {
		return "", apperr.Internal("no folder to apply")
	}

	labelID, err := e.ensureLabel(ctx, item.UserID, *folderID)
	if err != nil {
		return "", err
	}

	provider, err := e.providers.ForUser(ctx, item.UserID)
	if err != nil {
		return "", err
	}
	applied, err := provider.ApplyLabel(ctx, item.ProviderMessageID, labelID)
	if err != nil {
		return "", err
	}
	if !applied {
		e.log.WithEmail(item.ID).Warn("label %s already present on message", labelID)
	}

	status := domain.StatusCompleted
	if item.ReplySent() {
		status = domain.StatusResponseSent
	}
	if err := e.queue.UpdateStatus(ctx, item.ID, status); err != nil {
		return "", err
	}
	if err := e.workflows.UpdateState(ctx, item.ID, domain.WorkflowStateSent); err != nil {
		return "", err
	}

	err = e.approvals.Record(ctx, &domain.ApprovalHistory{
		UserID:               item.UserID,
		EmailQueueID:         item.ID,
		ActionType:           action,
		AISuggestedFolderID:  item.ProposedFolderID,
		UserSelectedFolderID: folderID,
		Approved:             action == domain.ActionApprove,
		Timestamp:            time.Now().UTC(),
	})
	if err != nil {
		return "", err
	}
	return NodeSendConfirmation, nil
}

// ensureLabel resolves the folder's provider label, creating it once and
// caching the id on the folder row.
func (e *Engine) ensureLabel(ctx context.Context, userID, folderID int64) (string, error) {
	folder, err := e.folders.GetByID(ctx, folderID)
	if err != nil {
		return "", err
	}
	if folder.HasExternalLabel() {
		return *folder.ExternalLabelID, nil
	}

	provider, err := e.providers.ForUser(ctx, userID)
	if err != nil {
		return "", err
	}
	label, err := provider.CreateLabel(ctx, folder.Name, nil)
	if err != nil {
		return "", err
	}
	if err := e.folders.SetExternalLabelID(ctx, folder.ID, label.ID); err != nil {
		return "", err
	}
	return label.ID, nil
}

// nodeSendConfirmation replaces the interaction messages with one final
// summary and triggers incremental indexing. Both are best effort: the
// work is already done.
func (e *Engine) nodeSendConfirmation(ctx context.Context, r *run, item *domain.EmailQueueItem) (string, error) {
	var deleteIDs []int
	if id, ok := stateInt(r.state, keyProposalMessageID); ok && id != 0 {
		deleteIDs = append(deleteIDs, id)
	}
	if id, ok := stateInt(r.state, keyDraftMessageID); ok && id != 0 {
		deleteIDs = append(deleteIDs, id)
	}

	// The folder the user picked wins over the AI proposal.
	appliedFolderID := item.ProposedFolderID
	if selected, ok := stateInt64(r.state, keySelectedFolderID); ok {
		appliedFolderID = &selected
	}

	if err := e.notifier.SendConfirmation(ctx, item, appliedFolderID, deleteIDs); err != nil {
		e.log.WithEmail(item.ID).WithError(err).Warn("confirmation send failed")
	}

	if e.indexer != nil && item.Status != domain.StatusRejected {
		if err := e.indexer.IndexNewMail(ctx, item.UserID, item.ProviderMessageID); err != nil {
			e.log.WithEmail(item.ID).WithError(err).Warn("incremental indexing failed")
		}
	}
	return nodeEnd, nil
}
