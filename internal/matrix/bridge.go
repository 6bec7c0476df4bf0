// ABOUTME: Matrix frontend: sync loop for inbound commands and sink for scan notices
// ABOUTME: Commands use a configurable prefix; replies are rendered from Markdown to HTML

package matrix

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/yuin/goldmark"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/2389/scanbot/internal/dedupe"
	"github.com/2389/scanbot/internal/scan"
)

// Frontend is the conversation key prefix for Matrix rooms.
const Frontend = "matrix"

// ErrBadRoomID is returned when a conversation key does not name a Matrix room.
var ErrBadRoomID = errors.New("invalid matrix room id")

// CommandHandler handles a decoded chat command.
type CommandHandler interface {
	Handle(cmd scan.Command) scan.Reply
}

// Config configures a Bridge.
type Config struct {
	Homeserver    string
	UserID        string
	AccessToken   string
	AllowedRooms  []string // empty allows every joined room
	CommandPrefix string   // defaults to "!"
	ReplyTimeout  time.Duration
	Logger        *slog.Logger
}

// Bridge is a Matrix frontend.
type Bridge struct {
	client       *mautrix.Client
	userID       id.UserID
	handler      CommandHandler
	prefix       string
	allowed      map[string]bool
	seen         *dedupe.Cache
	markdown     goldmark.Markdown
	startedAt    time.Time
	replyTimeout time.Duration
	logger       *slog.Logger

	inflight sync.WaitGroup // command handlers still running
}

// New creates a Bridge. No network calls are made until Run or Send.
func New(cfg Config, handler CommandHandler) (*Bridge, error) {
	client, err := mautrix.NewClient(cfg.Homeserver, id.UserID(cfg.UserID), cfg.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("creating matrix client: %w", err)
	}

	if cfg.CommandPrefix == "" {
		cfg.CommandPrefix = "!"
	}
	if cfg.ReplyTimeout <= 0 {
		cfg.ReplyTimeout = 10 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	allowed := make(map[string]bool, len(cfg.AllowedRooms))
	for _, room := range cfg.AllowedRooms {
		allowed[room] = true
	}

	return &Bridge{
		client:       client,
		userID:       id.UserID(cfg.UserID),
		handler:      handler,
		prefix:       cfg.CommandPrefix,
		allowed:      allowed,
		seen:         dedupe.New(30*time.Minute, 10000),
		markdown:     goldmark.New(),
		startedAt:    time.Now(),
		replyTimeout: cfg.ReplyTimeout,
		logger:       cfg.Logger.With("component", "matrix"),
	}, nil
}

// RoomKey returns the conversation key for a Matrix room.
func RoomKey(roomID id.RoomID) scan.ConversationKey {
	return scan.Key(Frontend, roomID.String())
}

// Run syncs with the homeserver and blocks until ctx is cancelled or sync fails.
func (b *Bridge) Run(ctx context.Context) error {
	defer b.seen.Close()

	syncer, ok := b.client.Syncer.(*mautrix.DefaultSyncer)
	if !ok {
		return fmt.Errorf("unexpected syncer type: %T", b.client.Syncer)
	}
	syncer.OnEventType(event.EventMessage, b.handleMessageEvent)

	b.logger.Info("starting matrix sync", "homeserver", b.client.HomeserverURL.String(), "user_id", b.userID)

	err := b.client.SyncWithContext(ctx)
	b.inflight.Wait()
	if ctx.Err() != nil {
		b.logger.Info("matrix sync stopped")
		return nil
	}
	if err != nil {
		return fmt.Errorf("matrix sync failed: %w", err)
	}
	return nil
}

// Send posts text to the room named by key, as plain body plus HTML rendering.
func (b *Bridge) Send(ctx context.Context, key scan.ConversationKey, text string) error {
	roomID := key.ChannelID()
	if key.Frontend() != Frontend || !strings.HasPrefix(roomID, "!") {
		return fmt.Errorf("%w: %q", ErrBadRoomID, key)
	}

	content := &event.MessageEventContent{
		MsgType: event.MsgNotice,
		Body:    text,
	}
	if html, ok := b.render(text); ok {
		content.Format = event.FormatHTML
		content.FormattedBody = html
	}

	if _, err := b.client.SendMessageEvent(ctx, id.RoomID(roomID), event.EventMessage, content); err != nil {
		return fmt.Errorf("sending matrix message: %w", err)
	}
	return nil
}

// render converts Markdown to HTML. A single plain paragraph gains nothing
// from HTML and is sent as body only.
func (b *Bridge) render(text string) (string, bool) {
	var buf bytes.Buffer
	if err := b.markdown.Convert([]byte(text), &buf); err != nil {
		b.logger.Debug("markdown render failed", "error", err)
		return "", false
	}
	html := strings.TrimSpace(buf.String())
	inner, isParagraph := strings.CutPrefix(html, "<p>")
	if isParagraph {
		inner, isParagraph = strings.CutSuffix(inner, "</p>")
	}
	if isParagraph && !strings.Contains(inner, "<") && !strings.Contains(inner, "&") {
		return "", false
	}
	return html, true
}

// handleMessageEvent filters events on the sync goroutine and hands each
// command to its own goroutine so a slow room never stalls the others.
func (b *Bridge) handleMessageEvent(ctx context.Context, evt *event.Event) {
	if evt.Sender == b.userID {
		return
	}
	if time.UnixMilli(evt.Timestamp).Before(b.startedAt) {
		return
	}

	content, ok := evt.Content.Parsed.(*event.MessageEventContent)
	if !ok || content.MsgType != event.MsgText {
		return
	}

	roomID := evt.RoomID.String()
	if len(b.allowed) > 0 && !b.allowed[roomID] {
		b.logger.Debug("ignoring message from non-allowed room", "room", roomID)
		return
	}

	verb, ok := b.parseCommand(content.Body)
	if !ok {
		return
	}

	if !b.seen.Claim(evt.ID.String()) {
		b.logger.Debug("dropping replayed event", "event_id", evt.ID)
		return
	}

	b.inflight.Add(1)
	go b.processCommand(context.WithoutCancel(ctx), RoomKey(evt.RoomID), verb, evt.Sender)
}

// processCommand dispatches one command and posts the reply, if any.
func (b *Bridge) processCommand(ctx context.Context, key scan.ConversationKey, verb scan.Verb, sender id.UserID) {
	defer b.inflight.Done()

	b.logger.Debug("command received", "conversation", key, "verb", verb, "sender", sender)

	reply := b.handler.Handle(scan.Command{Key: key, Verb: verb, Prefix: b.prefix})
	if reply.Text == "" {
		return
	}

	sendCtx, cancel := context.WithTimeout(ctx, b.replyTimeout)
	defer cancel()
	if err := b.Send(sendCtx, key, reply.Text); err != nil {
		b.logger.Warn("failed to send command reply", "conversation", key, "outcome", reply.Outcome, "error", err)
	}
}

// parseCommand extracts the verb from "<prefix><word> [args]".
func (b *Bridge) parseCommand(body string) (scan.Verb, bool) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(body), b.prefix)
	if !ok {
		return "", false
	}
	fields := strings.Fields(rest)
	if len(fields) == 0 {
		return "", false
	}
	return scan.ParseVerb(fields[0])
}
