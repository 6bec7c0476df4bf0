// ABOUTME: HTTP handler for Telegram webhook updates
// ABOUTME: Checks the secret token, drops redelivered updates, and dispatches bot commands

package telegram

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/2389/scanbot/internal/scan"
)

const secretHeader = "X-Telegram-Bot-Api-Secret-Token"

// ServeHTTP handles a webhook delivery. Once an update decodes, the answer is
// always 200 so Telegram does not redeliver it.
func (b *Bot) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if b.secret != "" {
		got := r.Header.Get(secretHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(b.secret)) != 1 {
			b.logger.Warn("webhook rejected: bad secret token", "remote", r.RemoteAddr)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
	}

	update, err := b.api.HandleUpdate(r)
	if err != nil {
		b.logger.Warn("webhook rejected: undecodable update", "error", err)
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	if !b.seen.Claim(strconv.Itoa(update.UpdateID)) {
		b.logger.Debug("dropping redelivered update", "update_id", update.UpdateID)
		w.WriteHeader(http.StatusOK)
		return
	}

	b.handleUpdate(r.Context(), update)
	w.WriteHeader(http.StatusOK)
}

func (b *Bot) handleUpdate(ctx context.Context, update *tgbotapi.Update) {
	msg := update.Message
	if msg == nil || msg.Chat == nil || !msg.IsCommand() {
		return
	}

	if len(b.allowed) > 0 && !b.allowed[msg.Chat.ID] {
		b.logger.Debug("ignoring command from chat not in allowlist", "chat_id", msg.Chat.ID)
		return
	}

	// "/scan@otherbot" in a group is for someone else
	if _, target, ok := strings.Cut(msg.CommandWithAt(), "@"); ok && !strings.EqualFold(target, b.Username()) {
		return
	}

	verb, ok := scan.ParseVerb(msg.Command())
	if !ok {
		return
	}

	key := ChatKey(msg.Chat.ID)
	b.logger.Debug("command received", "conversation", key, "verb", verb, "update_id", update.UpdateID)

	reply := b.handler.Handle(scan.Command{Key: key, Verb: verb, Prefix: "/"})
	if reply.Text == "" {
		return
	}

	// The request context ends with this handler; the reply must not.
	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), b.replyTimeout)
	defer cancel()
	if err := b.Send(sendCtx, key, reply.Text); err != nil {
		b.logger.Warn("failed to send command reply", "conversation", key, "outcome", reply.Outcome, "error", err)
	}
}
