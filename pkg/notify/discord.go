package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bwmarrin/discordgo"
)

// DiscordSender posts plain-text messages to a Discord channel via a bot
// session, mirroring SlackSender's thin-wrapper-over-SDK shape.
type DiscordSender struct {
	session *discordgo.Session
	log     *slog.Logger
}

// NewDiscordSender builds a DiscordSender authenticated with a bot token.
func NewDiscordSender(botToken string) (*DiscordSender, error) {
	session, err := discordgo.New("Bot " + botToken)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	return &DiscordSender{session: session, log: slog.With("component", "discord_sender")}, nil
}

// Send posts message to the Discord channel identified by channelID.
func (d *DiscordSender) Send(ctx context.Context, channelID, message string) error {
	_, err := d.session.ChannelMessageSend(channelID, message, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("discord channel message send: %w", err)
	}
	return nil
}
