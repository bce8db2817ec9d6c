package approval

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"assistant_server/core/domain"
	"assistant_server/core/port/out"
	"assistant_server/pkg/apperr"
	"assistant_server/pkg/logger"
)

// WorkflowRunner is what the approval channel needs from the engine.
// Wired with a setter because the engine takes the service as its
// Notifier.
type WorkflowRunner interface {
	Start(ctx context.Context, emailID int64) error
	Resume(ctx context.Context, threadID string, payload map[string]any) error
}

// CallbackEvent is a normalized inline-button press.
type CallbackEvent struct {
	CallbackID string
	ChatID     int64
	MessageID  int
	Data       string
}

// Service renders and delivers approval messages and routes chat events
// back into parked workflows.
type Service struct {
	chat          out.ChatPort
	users         out.UserRepository
	queue         out.QueueRepository
	folders       out.FolderRepository
	workflows     out.WorkflowRepository
	notifications out.NotificationRepository
	runner        WorkflowRunner
	log           *logger.Logger

	// pendingEdits maps a chat to the email whose draft the next plain
	// message replaces. In-memory: an edit prompt lost to a restart just
	// means the user taps Edit again.
	mu           sync.Mutex
	pendingEdits map[int64]int64
}

// NewService creates the approval service. Call SetRunner before use.
func NewService(
	chat out.ChatPort,
	users out.UserRepository,
	queue out.QueueRepository,
	folders out.FolderRepository,
	workflows out.WorkflowRepository,
	notifications out.NotificationRepository,
) *Service {
	return &Service{
		chat:          chat,
		users:         users,
		queue:         queue,
		folders:       folders,
		workflows:     workflows,
		notifications: notifications,
		log:           logger.Default().WithField("component", "approval"),
		pendingEdits:  make(map[int64]int64),
	}
}

// SetRunner injects the workflow engine (or a job-enqueuing stand-in).
func (s *Service) SetRunner(r WorkflowRunner) { s.runner = r }

// SendProposal delivers the sorting proposal. Returns the chat message
// id, or 0 when delivery went to the manual queue.
func (s *Service) SendProposal(ctx context.Context, item *domain.EmailQueueItem, bodyPreview string) (int, error) {
	user, err := s.users.GetByID(ctx, item.UserID)
	if err != nil {
		return 0, err
	}
	if !user.HasChatChannel() {
		if err := s.queue.RecordNotificationFailure(ctx, item.ID, errTypeNotificationFailed, "user has no chat channel"); err != nil {
			return 0, err
		}
		return 0, nil
	}

	folderName := s.folderName(ctx, item.ProposedFolderID)
	text := RenderProposal(item, bodyPreview, folderName)
	return s.deliver(ctx, item, *user.ChatID, text, ProposalKeyboard(item.ID))
}

// SendDraft delivers the reply draft for approval.
func (s *Service) SendDraft(ctx context.Context, item *domain.EmailQueueItem) (int, error) {
	user, err := s.users.GetByID(ctx, item.UserID)
	if err != nil {
		return 0, err
	}
	if !user.HasChatChannel() {
		if err := s.queue.RecordNotificationFailure(ctx, item.ID, errTypeNotificationFailed, "user has no chat channel"); err != nil {
			return 0, err
		}
		return 0, nil
	}
	return s.deliver(ctx, item, *user.ChatID, RenderDraft(item), DraftKeyboard(item.ID))
}

// EditDraft rewrites the existing draft message with the edited text.
func (s *Service) EditDraft(ctx context.Context, item *domain.EmailQueueItem, messageID int) error {
	user, err := s.users.GetByID(ctx, item.UserID)
	if err != nil {
		return err
	}
	if !user.HasChatChannel() {
		return nil
	}
	return s.chat.EditMessage(ctx, *user.ChatID, messageID, RenderDraft(item), DraftKeyboard(item.ID))
}

// SendConfirmation deletes the interaction messages and sends the final
// summary. appliedFolderID is the folder that was actually applied, which
// differs from the proposal when the user picked another one.
func (s *Service) SendConfirmation(ctx context.Context, item *domain.EmailQueueItem, appliedFolderID *int64, deleteMessageIDs []int) error {
	user, err := s.users.GetByID(ctx, item.UserID)
	if err != nil {
		return err
	}
	if !user.HasChatChannel() {
		return nil
	}
	chatID := *user.ChatID

	for _, id := range deleteMessageIDs {
		if err := s.chat.DeleteMessage(ctx, chatID, id); err != nil {
			s.log.WithEmail(item.ID).WithError(err).Warn("message delete failed")
		}
	}

	var folderName string
	if item.Status != domain.StatusRejected {
		folderName = s.folderName(ctx, appliedFolderID)
	}
	_, err = s.deliver(ctx, item, chatID, RenderConfirmation(item, folderName), nil)
	return err
}

// SendErrorNotification tells the user a workflow died after exhausting
// its retries and how to restart it.
func (s *Service) SendErrorNotification(ctx context.Context, item *domain.EmailQueueItem) error {
	user, err := s.users.GetByID(ctx, item.UserID)
	if err != nil {
		return err
	}
	if !user.HasChatChannel() {
		return s.queue.RecordNotificationFailure(ctx, item.ID, errTypeNotificationFailed, "user has no chat channel")
	}
	_, err = s.deliver(ctx, item, *user.ChatID, RenderError(item), nil)
	return err
}

// HandleCallback routes a button press. The callback is acknowledged
// before the workflow resumes so the client never spins on slow work.
func (s *Service) HandleCallback(ctx context.Context, ev *CallbackEvent) error {
	cb, err := ParseCallback(ev.Data)
	if err != nil {
		_ = s.chat.AnswerCallback(ctx, ev.CallbackID, "Unknown action")
		return err
	}

	item, err := s.queue.GetByID(ctx, cb.EmailID)
	if err != nil {
		_ = s.chat.AnswerCallback(ctx, ev.CallbackID, "Email not found")
		return err
	}
	mapping, err := s.workflows.GetByEmailID(ctx, cb.EmailID)
	if err != nil {
		return err
	}
	if mapping == nil {
		_ = s.chat.AnswerCallback(ctx, ev.CallbackID, "No workflow for this email")
		return apperr.NotFound(fmt.Sprintf("workflow for email %d", cb.EmailID))
	}

	if err := s.chat.AnswerCallback(ctx, ev.CallbackID, ackText(cb.Action)); err != nil {
		s.log.WithEmail(cb.EmailID).WithError(err).Warn("callback ack failed")
	}

	switch cb.Action {
	case cbApprove:
		return s.runner.Resume(ctx, mapping.ThreadID, map[string]any{
			"user_decision": string(domain.ActionApprove),
		})

	case cbReject:
		// The same button label lives on both messages; the row's status
		// says which question the user answered.
		if item.Status == domain.StatusAwaitingDraftApproval {
			return s.runner.Resume(ctx, mapping.ThreadID, map[string]any{
				"draft_decision": string(domain.DraftActionReject),
			})
		}
		return s.runner.Resume(ctx, mapping.ThreadID, map[string]any{
			"user_decision": string(domain.ActionReject),
		})

	case cbChangeFolder:
		folders, err := s.folders.ListByUser(ctx, item.UserID)
		if err != nil {
			return err
		}
		return s.chat.EditMessage(ctx, ev.ChatID, ev.MessageID,
			"📁 Pick a folder:", FolderKeyboard(item.ID, folders))

	case cbFolderPrefix:
		return s.runner.Resume(ctx, mapping.ThreadID, map[string]any{
			"user_decision":      string(domain.ActionChangeFolder),
			"selected_folder_id": cb.FolderID,
		})

	case cbSend:
		return s.runner.Resume(ctx, mapping.ThreadID, map[string]any{
			"draft_decision": string(domain.DraftActionSend),
		})

	case cbEdit:
		s.mu.Lock()
		s.pendingEdits[ev.ChatID] = item.ID
		s.mu.Unlock()
		_, err := s.chat.SendMessage(ctx, &out.ChatMessage{
			ChatID: ev.ChatID,
			Text:   "✏ Send the new reply text as a message.",
		})
		return err

	default:
		return apperr.ValidationFailed("unknown callback action " + cb.Action)
	}
}

// HandleMessage routes a plain chat message: pending draft edits first,
// then commands. Returns false when the message meant nothing to us.
func (s *Service) HandleMessage(ctx context.Context, chatID int64, text string) (bool, error) {
	s.mu.Lock()
	emailID, editing := s.pendingEdits[chatID]
	if editing {
		delete(s.pendingEdits, chatID)
	}
	s.mu.Unlock()

	if editing {
		return true, s.applyEdit(ctx, chatID, emailID, strings.TrimSpace(text))
	}

	switch {
	case text == "/status":
		return true, s.handleStatus(ctx, chatID)
	case strings.HasPrefix(text, "/retry"):
		return true, s.handleRetry(ctx, chatID, text)
	}
	return false, nil
}

// applyEdit stores the user's replacement draft and resumes the run; the
// engine re-renders the existing draft message without a fresh send.
func (s *Service) applyEdit(ctx context.Context, chatID, emailID int64, text string) error {
	if text == "" {
		_, err := s.chat.SendMessage(ctx, &out.ChatMessage{ChatID: chatID, Text: "Empty text, draft unchanged."})
		return err
	}

	if err := s.queue.SaveDraft(ctx, emailID, text); err != nil {
		return err
	}
	mapping, err := s.workflows.GetByEmailID(ctx, emailID)
	if err != nil {
		return err
	}
	if mapping == nil {
		return apperr.NotFound(fmt.Sprintf("workflow for email %d", emailID))
	}
	return s.runner.Resume(ctx, mapping.ThreadID, map[string]any{
		"draft_decision": string(domain.DraftActionEdit),
	})
}

// handleStatus answers /status with queue counts.
func (s *Service) handleStatus(ctx context.Context, chatID int64) error {
	counts, err := s.queue.CountByStatus(ctx)
	if err != nil {
		return err
	}

	var sb strings.Builder
	sb.WriteString("📊 Queue status\n")
	for _, status := range []domain.EmailStatus{
		domain.StatusPending, domain.StatusProcessing,
		domain.StatusAwaitingApproval, domain.StatusAwaitingDraftApproval,
		domain.StatusCompleted, domain.StatusResponseSent,
		domain.StatusRejected, domain.StatusError,
	} {
		if n := counts[status]; n > 0 {
			fmt.Fprintf(&sb, "%s: %d\n", status, n)
		}
	}
	_, err = s.chat.SendMessage(ctx, &out.ChatMessage{ChatID: chatID, Text: sb.String()})
	return err
}

// handleRetry answers /retry <email_id>: re-arm the errored row and
// start a fresh run.
func (s *Service) handleRetry(ctx context.Context, chatID int64, text string) error {
	fields := strings.Fields(text)
	if len(fields) != 2 {
		_, err := s.chat.SendMessage(ctx, &out.ChatMessage{ChatID: chatID, Text: "Usage: /retry <email_id>"})
		return err
	}
	emailID, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		_, err := s.chat.SendMessage(ctx, &out.ChatMessage{ChatID: chatID, Text: "Usage: /retry <email_id>"})
		return err
	}

	if err := s.queue.ResetForRetry(ctx, emailID); err != nil {
		_, serr := s.chat.SendMessage(ctx, &out.ChatMessage{ChatID: chatID,
			Text: fmt.Sprintf("Cannot retry %d: not in error state.", emailID)})
		if serr != nil {
			return serr
		}
		return err
	}
	if err := s.runner.Start(ctx, emailID); err != nil {
		return err
	}
	_, err = s.chat.SendMessage(ctx, &out.ChatMessage{ChatID: chatID,
		Text: fmt.Sprintf("🔄 Retrying email %d.", emailID)})
	return err
}

// FlushManualNotifications retries queued manual notifications. Run
// periodically by the worker.
func (s *Service) FlushManualNotifications(ctx context.Context, limit int) error {
	pending, err := s.notifications.ListPending(ctx, limit)
	if err != nil {
		return err
	}
	for _, n := range pending {
		_, err := s.chat.SendMessage(ctx, &out.ChatMessage{ChatID: n.TelegramID, Text: n.MessageText})
		if err != nil {
			s.log.WithEmail(n.EmailID).WithError(err).Warn("manual notification replay failed")
			if merr := s.notifications.MarkFailed(ctx, n.ID); merr != nil {
				return merr
			}
			continue
		}
		if err := s.notifications.MarkSent(ctx, n.ID); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) folderName(ctx context.Context, folderID *int64) string {
	if folderID == nil {
		return domain.DefaultFolderName
	}
	folder, err := s.folders.GetByID(ctx, *folderID)
	if err != nil {
		return domain.DefaultFolderName
	}
	return folder.Name
}

func ackText(action string) string {
	switch action {
	case cbApprove:
		return "Approved"
	case cbReject:
		return "Rejected"
	case cbSend:
		return "Sending…"
	case cbEdit:
		return "Waiting for your text"
	case cbChangeFolder:
		return "Pick a folder"
	case cbFolderPrefix:
		return "Folder selected"
	default:
		return ""
	}
}
