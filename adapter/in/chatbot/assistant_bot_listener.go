// Package chatbot runs the Telegram long-poll listener. Button presses
// and text commands are normalized and handed to the approval service.
package chatbot

import (
	"context"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"assistant_server/core/service/approval"
	"assistant_server/pkg/logger"
)

const updateTimeout = 30 // long-poll timeout in seconds

// Listener consumes bot updates and routes them.
type Listener struct {
	bot       *tgbotapi.BotAPI
	approvals *approval.Service
	log       *logger.Logger
}

// NewListener creates the listener around an authorized bot client.
func NewListener(bot *tgbotapi.BotAPI, approvals *approval.Service) *Listener {
	return &Listener{
		bot:       bot,
		approvals: approvals,
		log:       logger.Default().WithField("component", "bot_listener"),
	}
}

// Start launches the update loop. Blocks until ctx is cancelled.
func (l *Listener) Start(ctx context.Context) {
	cfg := tgbotapi.NewUpdate(0)
	cfg.Timeout = updateTimeout

	updates := l.bot.GetUpdatesChan(cfg)
	l.log.Info("telegram listener started as @%s", l.bot.Self.UserName)

	for {
		select {
		case <-ctx.Done():
			l.bot.StopReceivingUpdates()
			l.log.Info("telegram listener stopped")
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			l.handleUpdate(ctx, update)
		}
	}
}

// handleUpdate routes one update. Each is processed with its own timeout
// so a slow resume never stalls the update loop for long.
func (l *Listener) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	hctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	switch {
	case update.CallbackQuery != nil:
		cb := update.CallbackQuery
		ev := &approval.CallbackEvent{
			CallbackID: cb.ID,
			ChatID:     cb.Message.Chat.ID,
			MessageID:  cb.Message.MessageID,
			Data:       cb.Data,
		}
		if err := l.approvals.HandleCallback(hctx, ev); err != nil {
			l.log.WithError(err).Error("callback handling failed: %s", cb.Data)
		}

	case update.Message != nil && update.Message.Text != "":
		chatID := update.Message.Chat.ID
		handled, err := l.approvals.HandleMessage(hctx, chatID, update.Message.Text)
		if err != nil {
			l.log.WithError(err).Error("message handling failed")
			return
		}
		if !handled {
			l.log.Debug("ignoring unrecognized message from chat %d", chatID)
		}
	}
}
