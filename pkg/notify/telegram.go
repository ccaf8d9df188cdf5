package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	tgbot "github.com/go-telegram/bot"
)

// TelegramSender posts plain-text messages to a Telegram chat via the bot API.
type TelegramSender struct {
	bot *tgbot.Bot
	log *slog.Logger
}

// NewTelegramSender builds a TelegramSender authenticated with a bot token.
func NewTelegramSender(botToken string) (*TelegramSender, error) {
	b, err := tgbot.New(botToken)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return &TelegramSender{bot: b, log: slog.With("component", "telegram_sender")}, nil
}

// Send posts message to the Telegram chat identified by channelID, which must
// be the chat's numeric id (Telegram has no channel-name addressing for bots
// outside public channel usernames).
func (t *TelegramSender) Send(ctx context.Context, channelID, message string) error {
	chatID, err := strconv.ParseInt(channelID, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram channel id %q must be numeric: %w", channelID, err)
	}
	_, err = t.bot.SendMessage(ctx, &tgbot.SendMessageParams{ChatID: chatID, Text: message})
	if err != nil {
		return fmt.Errorf("telegram sendMessage: %w", err)
	}
	return nil
}
