package notify

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	channelIDs []string
	messages   []string
	err        error
}

func (f *fakeSender) Send(ctx context.Context, channelID, message string) error {
	if f.err != nil {
		return f.err
	}
	f.channelIDs = append(f.channelIDs, channelID)
	f.messages = append(f.messages, message)
	return nil
}

func TestRouter_DispatchesByChannelType(t *testing.T) {
	slack := &fakeSender{}
	discord := &fakeSender{}
	r := NewRouter()
	r.Register("slack", slack)
	r.Register("discord", discord)

	require.NoError(t, r.Send(context.Background(), "slack:#sre-alerts", "hello"))
	assert.Equal(t, []string{"#sre-alerts"}, slack.channelIDs)
	assert.Equal(t, []string{"hello"}, slack.messages)
	assert.Empty(t, discord.messages)
}

func TestRouter_UnknownChannelType(t *testing.T) {
	r := NewRouter()
	err := r.Send(context.Background(), "telegram:12345", "hi")
	assert.Error(t, err)
}

func TestRouter_MalformedTarget(t *testing.T) {
	r := NewRouter()
	r.Register("slack", &fakeSender{})
	err := r.Send(context.Background(), "no-colon-here", "hi")
	assert.Error(t, err)
}
