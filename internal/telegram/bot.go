// ABOUTME: Telegram Bot API client used as the scan notice sink
// ABOUTME: Wraps telegram-bot-api with context-bounded sends and webhook registration

package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/2389/scanbot/internal/dedupe"
	"github.com/2389/scanbot/internal/scan"
)

// Frontend is the conversation key prefix for Telegram chats.
const Frontend = "telegram"

// WebhookPath is where Telegram delivers updates.
const WebhookPath = "/telegram"

// ErrBadChatID is returned when a conversation key does not hold a numeric chat ID.
var ErrBadChatID = errors.New("invalid telegram chat id")

// CommandHandler handles a decoded chat command.
type CommandHandler interface {
	Handle(cmd scan.Command) scan.Reply
}

// Config configures a Bot.
type Config struct {
	Token        string
	SecretToken  string
	APIEndpoint  string  // defaults to tgbotapi.APIEndpoint
	AllowedChats []int64 // empty allows every chat
	HTTPClient   *http.Client
	ReplyTimeout time.Duration // bound on sending a command reply, default 10s
	Logger       *slog.Logger
}

// Bot is a Telegram frontend: webhook handler plus outbound sink.
type Bot struct {
	api          *tgbotapi.BotAPI
	handler      CommandHandler
	secret       string
	allowed      map[int64]bool
	seen         *dedupe.Cache
	replyTimeout time.Duration
	logger       *slog.Logger
}

// New connects to the Bot API (getMe) and returns a Bot dispatching commands to handler.
func New(cfg Config, handler CommandHandler) (*Bot, error) {
	if cfg.Token == "" {
		return nil, errors.New("telegram token is required")
	}
	if cfg.APIEndpoint == "" {
		cfg.APIEndpoint = tgbotapi.APIEndpoint
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.ReplyTimeout <= 0 {
		cfg.ReplyTimeout = 10 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	api, err := tgbotapi.NewBotAPIWithClient(cfg.Token, cfg.APIEndpoint, cfg.HTTPClient)
	if err != nil {
		return nil, fmt.Errorf("connecting to telegram: %w", err)
	}

	allowed := make(map[int64]bool, len(cfg.AllowedChats))
	for _, id := range cfg.AllowedChats {
		allowed[id] = true
	}

	logger := cfg.Logger.With("component", "telegram")
	logger.Info("connected to telegram", "username", api.Self.UserName)

	return &Bot{
		api:          api,
		handler:      handler,
		secret:       cfg.SecretToken,
		allowed:      allowed,
		seen:         dedupe.New(10*time.Minute, 10000),
		replyTimeout: cfg.ReplyTimeout,
		logger:       logger,
	}, nil
}

// Username returns the bot's Telegram username.
func (b *Bot) Username() string {
	return b.api.Self.UserName
}

// ChatKey returns the conversation key for a Telegram chat.
func ChatKey(chatID int64) scan.ConversationKey {
	return scan.Key(Frontend, strconv.FormatInt(chatID, 10))
}

// Send delivers text to the chat named by key. It returns when the message is
// sent or ctx is done, whichever comes first.
func (b *Bot) Send(ctx context.Context, key scan.ConversationKey, text string) error {
	chatID, err := strconv.ParseInt(key.ChannelID(), 10, 64)
	if err != nil || key.Frontend() != Frontend {
		return fmt.Errorf("%w: %q", ErrBadChatID, key)
	}

	done := make(chan error, 1)
	go func() {
		_, err := b.api.Send(tgbotapi.NewMessage(chatID, text))
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("sending telegram message: %w", err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("sending telegram message: %w", ctx.Err())
	}
}

// RegisterWebhook tells Telegram to deliver updates to publicURL + WebhookPath.
func (b *Bot) RegisterWebhook(ctx context.Context, publicURL string) error {
	params := tgbotapi.Params{
		"url":             publicURL + WebhookPath,
		"allowed_updates": `["message"]`,
	}
	params.AddNonEmpty("secret_token", b.secret)

	done := make(chan error, 1)
	go func() {
		_, err := b.api.MakeRequest("setWebhook", params)
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("registering webhook: %w", err)
		}
	case <-ctx.Done():
		return fmt.Errorf("registering webhook: %w", ctx.Err())
	}

	b.logger.Info("webhook registered", "url", publicURL+WebhookPath)
	return nil
}

// Close releases background resources.
func (b *Bot) Close() {
	b.seen.Close()
}
