package notify

import (
	"context"
	"fmt"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"remindd/internal/models"
)

// TelegramTransport delivers reminders as Telegram messages. The endpoint
// token is the chat id.
type TelegramTransport struct {
	api *tgbotapi.BotAPI
}

func NewTelegramTransport(token string) (*TelegramTransport, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram API: %w", err)
	}
	return &TelegramTransport{api: api}, nil
}

func (t *TelegramTransport) Deliver(ctx context.Context, endpoint *models.Endpoint, title, body string, metadata map[string]string) error {
	chatID, err := strconv.ParseInt(endpoint.Token, 10, 64)
	if err != nil {
		return fmt.Errorf("endpoint token is not a chat id: %w", err)
	}

	text := "⏰ " + title
	if body != "" {
		text += "\n\n" + body
	}

	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := t.api.Send(msg); err != nil {
		return fmt.Errorf("failed to send Telegram message: %w", err)
	}
	return nil
}
