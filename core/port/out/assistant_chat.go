package out

import "context"

// ChatButton is one inline keyboard button.
type ChatButton struct {
	Text         string
	CallbackData string
}

// ChatMessage is an outgoing chat message with an optional inline keyboard.
// Buttons is a slice of rows.
type ChatMessage struct {
	ChatID  int64
	Text    string
	Buttons [][]ChatButton
}

// ChatPort is the outbound port to the approval chat channel.
type ChatPort interface {
	// SendMessage delivers a message and returns the provider message id.
	SendMessage(ctx context.Context, msg *ChatMessage) (int, error)

	// EditMessage replaces the text and keyboard of an earlier message.
	EditMessage(ctx context.Context, chatID int64, messageID int, text string, buttons [][]ChatButton) error

	DeleteMessage(ctx context.Context, chatID int64, messageID int) error

	// AnswerCallback acknowledges a button press so the client stops its
	// spinner. Must happen before any slow work.
	AnswerCallback(ctx context.Context, callbackID string, text string) error
}
