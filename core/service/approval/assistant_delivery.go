package approval

import (
	"context"
	"time"

	json "github.com/goccy/go-json"

	"assistant_server/core/domain"
	"assistant_server/core/port/out"
	"assistant_server/pkg/apperr"
)

const (
	// softLimit is the truncation target of the second delivery tier,
	// below the channel's 4096 hard cap.
	softLimit = 4000

	deliveryAttempts = 3
	deliveryBackoff  = 2 * time.Second

	// errTypeNotificationFailed marks rows whose chat delivery went to
	// the manual queue. Informational: the workflow stays parked.
	errTypeNotificationFailed = "telegram_notification_failed"
)

// deliver sends a chat message through three reliability tiers:
// retry with backoff, truncate and retry, manual-notification queue.
// Tier three returns (0, nil): delivery is deferred, not failed.
func (s *Service) deliver(ctx context.Context, item *domain.EmailQueueItem, chatID int64, text string, buttons [][]out.ChatButton) (int, error) {
	msg := &out.ChatMessage{ChatID: chatID, Text: text, Buttons: buttons}

	var lastErr error
	for attempt := 0; attempt < deliveryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return 0, ctx.Err()
			case <-time.After(deliveryBackoff * time.Duration(1<<uint(attempt-1))):
			}
		}

		msgID, err := s.chat.SendMessage(ctx, msg)
		if err == nil {
			return msgID, nil
		}
		lastErr = err

		switch {
		case apperr.IsCode(err, apperr.CodeMessageTooLarge):
			// Tier two: shrink and keep retrying.
			msg.Text = truncateRunes(text, softLimit)
		case apperr.IsCode(err, apperr.CodeChatBlocked):
			// Permanent for this chat: retrying cannot help.
			return s.queueManual(ctx, item, chatID, msg, err)
		case !apperr.IsTransient(err):
			return 0, err
		}
	}

	return s.queueManual(ctx, item, chatID, msg, lastErr)
}

// truncateRunes shortens text to limit runes, ending with an ellipsis.
func truncateRunes(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit-1]) + "…"
}

// queueManual parks the message in the manual-notification queue and
// records the failure on the row without raising: the user can still be
// reached later and the workflow keeps waiting for their decision.
func (s *Service) queueManual(ctx context.Context, item *domain.EmailQueueItem, chatID int64, msg *out.ChatMessage, cause error) (int, error) {
	s.log.WithEmail(item.ID).WithError(cause).Warn("chat delivery exhausted, queueing manual notification")

	var buttonsJSON *string
	if len(msg.Buttons) > 0 {
		if raw, err := json.Marshal(msg.Buttons); err == nil {
			str := string(raw)
			buttonsJSON = &str
		}
	}

	n := &domain.ManualNotification{
		EmailID:     item.ID,
		TelegramID:  chatID,
		MessageText: msg.Text,
		ButtonsJSON: buttonsJSON,
		ErrorType:   apperr.CodeOf(cause),
		RetryCount:  deliveryAttempts,
		Status:      domain.NotificationPending,
	}
	if err := s.notifications.Insert(ctx, n); err != nil {
		s.log.WithEmail(item.ID).WithError(err).Error("manual notification insert failed")
		return 0, err
	}

	if err := s.queue.RecordNotificationFailure(ctx, item.ID, errTypeNotificationFailed, cause.Error()); err != nil {
		s.log.WithEmail(item.ID).WithError(err).Error("notification failure record failed")
	}
	return 0, nil
}
