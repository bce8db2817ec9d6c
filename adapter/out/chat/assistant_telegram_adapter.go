// Package chat implements the Telegram approval channel adapter.
package chat

import (
	"context"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"assistant_server/core/port/out"
	"assistant_server/pkg/apperr"
	"assistant_server/pkg/logger"
)

// telegramHardCap is the Bot API message length limit. Messages are
// truncated, never split.
const telegramHardCap = 4096

// TelegramAdapter implements out.ChatPort on the Telegram Bot API.
type TelegramAdapter struct {
	bot *tgbotapi.BotAPI
	log *logger.Logger
}

// NewTelegramAdapter creates the adapter from an authorized bot client.
func NewTelegramAdapter(bot *tgbotapi.BotAPI) *TelegramAdapter {
	return &TelegramAdapter{
		bot: bot,
		log: logger.Default().WithField("component", "telegram"),
	}
}

// NewBot authorizes a bot client for the given token.
func NewBot(token string) (*tgbotapi.BotAPI, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, apperr.ConfigError("telegram bot authorization failed").WithError(err)
	}
	return bot, nil
}

// SendMessage delivers a message and returns the Telegram message id.
func (a *TelegramAdapter) SendMessage(ctx context.Context, msg *out.ChatMessage) (int, error) {
	m := tgbotapi.NewMessage(msg.ChatID, Truncate(msg.Text, telegramHardCap))
	if keyboard := toKeyboard(msg.Buttons); keyboard != nil {
		m.ReplyMarkup = keyboard
	}

	sent, err := a.bot.Send(m)
	if err != nil {
		return 0, a.wrapError(msg.ChatID, err)
	}
	return sent.MessageID, nil
}

// EditMessage replaces an earlier message's text and keyboard.
func (a *TelegramAdapter) EditMessage(ctx context.Context, chatID int64, messageID int, text string, buttons [][]out.ChatButton) error {
	var err error
	if keyboard := toKeyboard(buttons); keyboard != nil {
		edit := tgbotapi.NewEditMessageTextAndMarkup(chatID, messageID, Truncate(text, telegramHardCap), *keyboard)
		_, err = a.bot.Send(edit)
	} else {
		edit := tgbotapi.NewEditMessageText(chatID, messageID, Truncate(text, telegramHardCap))
		_, err = a.bot.Send(edit)
	}
	if err != nil {
		return a.wrapError(chatID, err)
	}
	return nil
}

// DeleteMessage removes a message. A message already gone is not an error.
func (a *TelegramAdapter) DeleteMessage(ctx context.Context, chatID int64, messageID int) error {
	_, err := a.bot.Request(tgbotapi.NewDeleteMessage(chatID, messageID))
	if err != nil {
		if strings.Contains(err.Error(), "message to delete not found") {
			return nil
		}
		return a.wrapError(chatID, err)
	}
	return nil
}

// AnswerCallback acknowledges a button press.
func (a *TelegramAdapter) AnswerCallback(ctx context.Context, callbackID string, text string) error {
	_, err := a.bot.Request(tgbotapi.NewCallback(callbackID, text))
	if err != nil {
		return a.wrapError(0, err)
	}
	return nil
}

func toKeyboard(rows [][]out.ChatButton) *tgbotapi.InlineKeyboardMarkup {
	if len(rows) == 0 {
		return nil
	}
	keyboardRows := make([][]tgbotapi.InlineKeyboardButton, 0, len(rows))
	for _, row := range rows {
		buttons := make([]tgbotapi.InlineKeyboardButton, 0, len(row))
		for _, b := range row {
			buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonData(b.Text, b.CallbackData))
		}
		keyboardRows = append(keyboardRows, buttons)
	}
	keyboard := tgbotapi.NewInlineKeyboardMarkup(keyboardRows...)
	return &keyboard
}

// Truncate shortens text to at most limit runes, appending an ellipsis.
func Truncate(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit-1]) + "…"
}

// wrapError maps Telegram Bot API failures onto the taxonomy. Blocked
// chats and malformed requests are permanent; everything else is assumed
// transient network trouble.
func (a *TelegramAdapter) wrapError(chatID int64, err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "bot was blocked") || strings.Contains(msg, "chat not found"):
		return apperr.ChatBlocked(chatID, err)
	case strings.Contains(msg, "Too Many Requests"):
		return apperr.RateLimited("telegram", err)
	case strings.Contains(msg, "message is too long"):
		return apperr.MessageTooLarge(err)
	case strings.Contains(msg, "Bad Request"):
		return apperr.InvalidRequest("telegram rejected message", err)
	}
	return apperr.NetworkError("telegram", err)
}

var _ out.ChatPort = (*TelegramAdapter)(nil)
