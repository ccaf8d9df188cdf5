package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	goslack "github.com/slack-go/slack"
)

// postTimeout bounds one outbound chat API call.
const postTimeout = 10 * time.Second

// SlackSender posts plain-text messages via the Slack Web API
// (chat.postMessage), grounded on tarsy's pkg/slack/client.go Client.
type SlackSender struct {
	api *goslack.Client
	log *slog.Logger
}

// NewSlackSender builds a SlackSender authenticated with a bot token.
func NewSlackSender(token string) *SlackSender {
	return &SlackSender{api: goslack.New(token), log: slog.With("component", "slack_sender")}
}

// Send posts message to the Slack channel identified by channelID.
func (s *SlackSender) Send(ctx context.Context, channelID, message string) error {
	ctx, cancel := context.WithTimeout(ctx, postTimeout)
	defer cancel()

	_, _, err := s.api.PostMessageContext(ctx, channelID, goslack.MsgOptionText(message, false))
	if err != nil {
		return fmt.Errorf("slack chat.postMessage: %w", err)
	}
	return nil
}
