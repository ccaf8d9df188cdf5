// Package notify routes outbound messages to the chat platform named by a
// "<channel_type>:<channel_id>" target string (spec.md §6). Each platform
// sender is a thin wrapper over its SDK, following tarsy's pkg/slack/client.go
// shape.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// Sender posts a plain-text message to one channel type's transport.
type Sender interface {
	Send(ctx context.Context, channelID, message string) error
}

// Router dispatches by the channel_type prefix of a "<channel_type>:<channel_id>"
// target string to the registered Sender for that type.
type Router struct {
	senders map[string]Sender
	log     *slog.Logger
}

// NewRouter builds a Router with no senders registered; call Register for
// each platform the deployment configures.
func NewRouter() *Router {
	return &Router{senders: make(map[string]Sender), log: slog.With("component", "notify_router")}
}

// Register binds channelType (e.g. "slack", "discord", "telegram") to sender.
func (r *Router) Register(channelType string, sender Sender) {
	r.senders[channelType] = sender
}

// Send parses target as "<channel_type>:<channel_id>" and dispatches to the
// matching registered Sender. An unrecognized channel type or malformed
// target is a caller error, not a transport failure: it is returned as an
// error without attempting a send.
func (r *Router) Send(ctx context.Context, target, message string) error {
	channelType, channelID, ok := strings.Cut(target, ":")
	if !ok || channelType == "" || channelID == "" {
		return fmt.Errorf("malformed channel target %q, want \"<channel_type>:<channel_id>\"", target)
	}
	sender, ok := r.senders[channelType]
	if !ok {
		return fmt.Errorf("no notification sender registered for channel type %q", channelType)
	}
	if err := sender.Send(ctx, channelID, message); err != nil {
		return fmt.Errorf("send via %s: %w", channelType, err)
	}
	return nil
}
