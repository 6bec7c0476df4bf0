// ABOUTME: Tests for the Telegram sink and webhook registration
// ABOUTME: Runs against the in-process fake Bot API

package telegram

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/scanbot/internal/scan"
)

func TestNew_ReadsIdentity(t *testing.T) {
	api := newFakeAPI(t)
	bot := newTestBot(t, api, &recordingHandler{}, nil)

	assert.Equal(t, "scan_bot", bot.Username())
	_, ok := api.call("getMe")
	assert.True(t, ok)
}

func TestNew_RequiresToken(t *testing.T) {
	_, err := New(Config{}, &recordingHandler{})
	assert.Error(t, err)
}

func TestNew_BadToken(t *testing.T) {
	api := newFakeAPI(t)
	_, err := New(Config{Token: "999:wrong", APIEndpoint: api.endpoint()}, &recordingHandler{})
	assert.Error(t, err)
}

func TestSend(t *testing.T) {
	api := newFakeAPI(t)
	bot := newTestBot(t, api, &recordingHandler{}, nil)

	require.NoError(t, bot.Send(context.Background(), ChatKey(42), "Progress: 1/10"))
	require.NoError(t, bot.Send(context.Background(), ChatKey(-100500), "✅ Scan complete!"))

	assert.Equal(t, []string{"Progress: 1/10"}, api.sent("42"))
	assert.Equal(t, []string{"✅ Scan complete!"}, api.sent("-100500"))
}

func TestSend_BadKey(t *testing.T) {
	api := newFakeAPI(t)
	bot := newTestBot(t, api, &recordingHandler{}, nil)

	err := bot.Send(context.Background(), scan.Key("telegram", "not-a-number"), "hi")
	assert.ErrorIs(t, err, ErrBadChatID)

	err = bot.Send(context.Background(), scan.Key("matrix", "42"), "hi")
	assert.ErrorIs(t, err, ErrBadChatID)
}

func TestSend_RespectsDeadline(t *testing.T) {
	api := newFakeAPI(t)
	bot := newTestBot(t, api, &recordingHandler{}, nil)

	release := make(chan struct{})
	api.mu.Lock()
	api.sendHook = func() { <-release }
	api.mu.Unlock()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := bot.Send(ctx, ChatKey(42), "stuck")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestRegisterWebhook(t *testing.T) {
	api := newFakeAPI(t)
	bot := newTestBot(t, api, &recordingHandler{}, func(c *Config) { c.SecretToken = "s3cret" })

	require.NoError(t, bot.RegisterWebhook(context.Background(), "https://bot.example.com"))

	call, ok := api.call("setWebhook")
	require.True(t, ok)
	assert.Equal(t, "https://bot.example.com/telegram", call.Form.Get("url"))
	assert.Equal(t, "s3cret", call.Form.Get("secret_token"))
	assert.Equal(t, `["message"]`, call.Form.Get("allowed_updates"))
}

func TestChatKey(t *testing.T) {
	key := ChatKey(-1001234)
	assert.Equal(t, scan.ConversationKey("telegram:-1001234"), key)
	assert.Equal(t, "telegram", key.Frontend())
	assert.Equal(t, "-1001234", key.ChannelID())
}
