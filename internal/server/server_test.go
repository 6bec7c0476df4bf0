// ABOUTME: End-to-end tests for the assembled server
// ABOUTME: Drives scans through the Telegram webhook against a fake Bot API and checks history and shutdown

package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/scanbot/internal/config"
)

const testToken = "123:test-token"

// fakeBotAPI answers the Bot API methods the server uses and records messages.
type fakeBotAPI struct {
	server *httptest.Server

	mu       sync.Mutex
	messages map[string][]string // chat_id -> texts
	webhook  url.Values
}

func newFakeBotAPI(t *testing.T) *fakeBotAPI {
	t.Helper()
	f := &fakeBotAPI{messages: make(map[string][]string)}
	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		method := strings.TrimPrefix(r.URL.Path, "/bot"+testToken+"/")

		var result any
		switch method {
		case "getMe":
			result = map[string]any{"id": 1, "is_bot": true, "first_name": "Scan", "username": "scan_bot"}
		case "sendMessage":
			chatID := r.PostForm.Get("chat_id")
			f.mu.Lock()
			f.messages[chatID] = append(f.messages[chatID], r.PostForm.Get("text"))
			f.mu.Unlock()
			result = map[string]any{
				"message_id": 1,
				"date":       0,
				"chat":       map[string]any{"id": json.Number(chatID), "type": "private"},
			}
		case "setWebhook":
			f.mu.Lock()
			f.webhook = r.PostForm
			f.mu.Unlock()
			result = true
		default:
			_, _ = io.WriteString(w, `{"ok":false,"error_code":404,"description":"Not Found"}`)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true, "result": result})
	}))
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeBotAPI) sent(chatID string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.messages[chatID]...)
}

func (f *fakeBotAPI) last(chatID string) string {
	msgs := f.sent(chatID)
	if len(msgs) == 0 {
		return ""
	}
	return msgs[len(msgs)-1]
}

func testConfig(t *testing.T, api *fakeBotAPI) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Server.HTTPAddr = "127.0.0.1:0"
	cfg.Database.Path = filepath.Join(t.TempDir(), "scanbot.db")
	cfg.Scan.Steps = 3
	cfg.Scan.StepDuration = 20 * time.Millisecond
	cfg.Scan.TickInterval = 2 * time.Millisecond
	cfg.Scan.SendTimeout = time.Second
	cfg.Scan.ShutdownGrace = 2 * time.Second
	cfg.Telegram.Enabled = true
	cfg.Telegram.Token = testToken
	cfg.Telegram.APIEndpoint = api.server.URL + "/bot%s/%s"
	return cfg
}

func newTestServer(t *testing.T, cfg *config.Config) *Server {
	t.Helper()
	srv, err := New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return srv
}

var updateSeq struct {
	sync.Mutex
	n int
}

func sendCommand(t *testing.T, h http.Handler, chatID int64, command string) {
	t.Helper()
	updateSeq.Lock()
	updateSeq.n++
	id := updateSeq.n
	updateSeq.Unlock()

	body := fmt.Sprintf(`{"update_id":%d,"message":{"message_id":%d,"date":0,`+
		`"chat":{"id":%d,"type":"private"},"text":%q,`+
		`"entities":[{"type":"bot_command","offset":0,"length":%d}]}}`,
		id, id, chatID, command, len(command))
	req := httptest.NewRequest(http.MethodPost, "/telegram", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func getJSON(t *testing.T, h http.Handler, path string, v any) int {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	if v != nil && rec.Code == http.StatusOK {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
	}
	return rec.Code
}

func TestServer_ScanThroughWebhook(t *testing.T) {
	api := newFakeBotAPI(t)
	srv := newTestServer(t, testConfig(t, api))
	defer srv.Close()
	h := srv.Handler()

	sendCommand(t, h, 42, "/start")
	assert.Equal(t, []string{"Send /scan or /cancel"}, api.sent("42"))

	sendCommand(t, h, 42, "/scan")
	require.Eventually(t, func() bool { return api.last("42") == "✅ Scan complete!" }, 5*time.Second, 5*time.Millisecond)

	assert.Equal(t, []string{
		"Send /scan or /cancel",
		"🔄 Scan started... (60ms)",
		"Progress: 1/3",
		"Progress: 2/3",
		"Progress: 3/3",
		"✅ Scan complete!",
	}, api.sent("42"))

	// Record release happens just after the final notice
	require.Eventually(t, func() bool { return srv.registry.Len() == 0 }, time.Second, 5*time.Millisecond)

	var list struct {
		Scans []ScanResponse `json:"scans"`
	}
	require.Equal(t, http.StatusOK, getJSON(t, h, "/api/scans?conversation=telegram:42", &list))
	require.Len(t, list.Scans, 1)
	assert.Equal(t, "completed", list.Scans[0].Phase)
	assert.Equal(t, 3, list.Scans[0].Progress)

	var detail ScanResponse
	require.Equal(t, http.StatusOK, getJSON(t, h, "/api/scans/"+list.Scans[0].ID, &detail))
	require.Len(t, detail.Events, 4)
	assert.Equal(t, "progress", detail.Events[0].Kind)
	assert.Equal(t, "completed", detail.Events[3].Kind)
	assert.True(t, detail.Events[3].Delivered)

	var stats StatsResponse
	require.Equal(t, http.StatusOK, getJSON(t, h, "/api/stats", &stats))
	assert.Equal(t, 1, stats.Phases["completed"])
	assert.Equal(t, 1, stats.Total)
}

func TestServer_CancelAndDuplicate(t *testing.T) {
	api := newFakeBotAPI(t)
	cfg := testConfig(t, api)
	cfg.Scan.Steps = 50
	srv := newTestServer(t, cfg)
	defer srv.Close()
	h := srv.Handler()

	sendCommand(t, h, 7, "/cancel")
	assert.Equal(t, "⚠️ Nothing to cancel", api.last("7"))

	sendCommand(t, h, 7, "/scan")
	sendCommand(t, h, 7, "/scan")
	assert.Contains(t, api.sent("7"), "⚠️ A scan is already in progress")

	sendCommand(t, h, 7, "/cancel")
	require.Eventually(t, func() bool { return api.last("7") == "❌ Cancelled!" }, 5*time.Second, 5*time.Millisecond)
	assert.Contains(t, api.sent("7"), "⏳ Cancelling...")
}

func TestServer_AdminCancel(t *testing.T) {
	api := newFakeBotAPI(t)
	cfg := testConfig(t, api)
	cfg.Scan.Steps = 50
	srv := newTestServer(t, cfg)
	defer srv.Close()
	h := srv.Handler()

	sendCommand(t, h, 9, "/scan")

	var active struct {
		Scans []ActiveScanResponse `json:"scans"`
	}
	require.Equal(t, http.StatusOK, getJSON(t, h, "/api/scans/active", &active))
	require.Len(t, active.Scans, 1)
	assert.Equal(t, "telegram:9", active.Scans[0].Conversation)

	cancel := func(body string) int {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/scans/cancel", strings.NewReader(body)))
		return rec.Code
	}
	assert.Equal(t, http.StatusBadRequest, cancel(`{`))
	assert.Equal(t, http.StatusBadRequest, cancel(`{}`))
	assert.Equal(t, http.StatusNotFound, cancel(`{"conversation":"telegram:10"}`))
	assert.Equal(t, http.StatusAccepted, cancel(`{"conversation":"telegram:9"}`))

	require.Eventually(t, func() bool { return api.last("9") == "❌ Cancelled!" }, 5*time.Second, 5*time.Millisecond)
}

func TestServer_AdminAPIRequiresToken(t *testing.T) {
	api := newFakeBotAPI(t)
	cfg := testConfig(t, api)
	cfg.Auth.JWTSecret = strings.Repeat("k", 32)
	srv := newTestServer(t, cfg)
	defer srv.Close()
	h := srv.Handler()

	assert.Equal(t, http.StatusUnauthorized, getJSON(t, h, "/api/stats", nil))

	// Health stays open
	assert.Equal(t, http.StatusOK, getJSON(t, h, "/healthz", nil))
}

func TestServer_APIErrors(t *testing.T) {
	api := newFakeBotAPI(t)
	srv := newTestServer(t, testConfig(t, api))
	defer srv.Close()
	h := srv.Handler()

	assert.Equal(t, http.StatusNotFound, getJSON(t, h, "/api/scans/nope", nil))
	assert.Equal(t, http.StatusBadRequest, getJSON(t, h, "/api/scans?limit=-1", nil))
	assert.Equal(t, http.StatusNotFound, getJSON(t, h, "/api/unknown", nil))
}

func TestServer_Health(t *testing.T) {
	api := newFakeBotAPI(t)
	srv := newTestServer(t, testConfig(t, api))
	defer srv.Close()
	h := srv.Handler()

	for _, path := range []string{"/healthz", "/health"} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, path)
		assert.Equal(t, "OK", rec.Body.String(), path)
	}

	// Frontends are only counted once Run starts them
	var ready readyResponse
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ready))
	assert.Equal(t, "no_frontends", ready.Status)
}

func TestServer_RunAndShutdown(t *testing.T) {
	api := newFakeBotAPI(t)
	cfg := testConfig(t, api)
	cfg.Scan.Steps = 500
	cfg.Server.PublicURL = "https://bot.example.com"
	cfg.Telegram.SecretToken = "s3cret"
	srv := newTestServer(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	require.Eventually(t, func() bool {
		api.mu.Lock()
		defer api.mu.Unlock()
		return api.webhook != nil
	}, 5*time.Second, 5*time.Millisecond)
	api.mu.Lock()
	assert.Equal(t, "https://bot.example.com/telegram", api.webhook.Get("url"))
	assert.Equal(t, "s3cret", api.webhook.Get("secret_token"))
	api.mu.Unlock()

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	// Start a long scan directly; the webhook now demands the secret header
	req := httptest.NewRequest(http.MethodPost, "/telegram", strings.NewReader(
		`{"update_id":1,"message":{"message_id":1,"date":0,"chat":{"id":5,"type":"private"},`+
			`"text":"/scan","entities":[{"type":"bot_command","offset":0,"length":5}]}}`))
	req.Header.Set("X-Telegram-Bot-Api-Secret-Token", "s3cret")
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Eventually(t, func() bool { return len(api.sent("5")) >= 2 }, 5*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	assert.Equal(t, "🛑 Scan interrupted: the service is restarting.", api.last("5"))
	assert.Equal(t, 0, srv.registry.Len())
}
