// ABOUTME: In-process fake of the Telegram Bot API for frontend tests
// ABOUTME: Answers getMe, sendMessage, and setWebhook and records what was called

package telegram

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/2389/scanbot/internal/scan"
)

const testToken = "123:test-token"

type apiCall struct {
	Method string
	Form   url.Values
}

type fakeAPI struct {
	server *httptest.Server

	mu       sync.Mutex
	calls    []apiCall
	sendHook func() // runs inside sendMessage, for blocking tests
}

func newFakeAPI(t *testing.T) *fakeAPI {
	t.Helper()
	f := &fakeAPI{}
	f.server = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeAPI) endpoint() string {
	return f.server.URL + "/bot%s/%s"
}

func (f *fakeAPI) serve(w http.ResponseWriter, r *http.Request) {
	prefix := "/bot" + testToken + "/"
	if !strings.HasPrefix(r.URL.Path, prefix) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"ok":false,"error_code":404,"description":"Not Found"}`)
		return
	}
	method := strings.TrimPrefix(r.URL.Path, prefix)
	_ = r.ParseForm()

	f.mu.Lock()
	f.calls = append(f.calls, apiCall{Method: method, Form: r.PostForm})
	n := len(f.calls)
	hook := f.sendHook
	f.mu.Unlock()

	var result any
	switch method {
	case "getMe":
		result = map[string]any{"id": 1, "is_bot": true, "first_name": "Scan", "username": "scan_bot"}
	case "sendMessage":
		if hook != nil {
			hook()
		}
		chatID := json.Number(r.PostForm.Get("chat_id"))
		result = map[string]any{
			"message_id": n,
			"date":       0,
			"chat":       map[string]any{"id": chatID, "type": "private"},
			"text":       r.PostForm.Get("text"),
		}
	case "setWebhook":
		result = true
	default:
		_, _ = io.WriteString(w, `{"ok":false,"error_code":400,"description":"unknown method"}`)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"ok": true, "result": result})
}

// sent returns the texts of sendMessage calls for chatID, in order.
func (f *fakeAPI) sent(chatID string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var texts []string
	for _, c := range f.calls {
		if c.Method == "sendMessage" && c.Form.Get("chat_id") == chatID {
			texts = append(texts, c.Form.Get("text"))
		}
	}
	return texts
}

func (f *fakeAPI) call(method string) (apiCall, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.calls {
		if c.Method == method {
			return c, true
		}
	}
	return apiCall{}, false
}

// recordingHandler records commands and answers with a fixed reply.
type recordingHandler struct {
	mu       sync.Mutex
	commands []scan.Command
	reply    scan.Reply
}

func (h *recordingHandler) Handle(cmd scan.Command) scan.Reply {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.commands = append(h.commands, cmd)
	return h.reply
}

func (h *recordingHandler) received() []scan.Command {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]scan.Command(nil), h.commands...)
}

func newTestBot(t *testing.T, api *fakeAPI, handler CommandHandler, mutate func(*Config)) *Bot {
	t.Helper()
	cfg := Config{
		Token:       testToken,
		APIEndpoint: api.endpoint(),
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	bot, err := New(cfg, handler)
	require.NoError(t, err)
	t.Cleanup(bot.Close)
	return bot
}
