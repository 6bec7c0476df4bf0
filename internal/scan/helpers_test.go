// ABOUTME: Shared test helpers for the scan package
// ABOUTME: Provides a recording sink and fast runner configuration

package scan

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// recordingSink captures every message per conversation.
type recordingSink struct {
	mu       sync.Mutex
	messages map[ConversationKey][]string

	// failWith, when set, is returned for every send (after recording).
	failWith error
	// panicOn makes Send panic when the text contains this substring.
	panicOn string
	// hang makes Send block until its context ends.
	hang bool
}

func newRecordingSink() *recordingSink {
	return &recordingSink{messages: make(map[ConversationKey][]string)}
}

func (s *recordingSink) Send(ctx context.Context, key ConversationKey, text string) error {
	s.mu.Lock()
	s.messages[key] = append(s.messages[key], text)
	failWith, panicOn, hang := s.failWith, s.panicOn, s.hang
	s.mu.Unlock()

	if hang {
		<-ctx.Done()
		return ctx.Err()
	}
	if panicOn != "" && strings.Contains(text, panicOn) {
		panic("sink exploded")
	}
	return failWith
}

func (s *recordingSink) get(key ConversationKey) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.messages[key]))
	copy(out, s.messages[key])
	return out
}

var errSinkDown = errors.New("sink down")

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fastConfig() Config {
	return Config{
		Steps:        5,
		StepDuration: 20 * time.Millisecond,
		TickInterval: 2 * time.Millisecond,
		SendTimeout:  time.Second,
	}
}

// harness wires a registry, runner and dispatcher around a recording sink.
type harness struct {
	registry   *Registry
	runner     *Runner
	dispatcher *Dispatcher
	sink       *recordingSink
}

func newHarness(t *testing.T, cfg Config, history History) *harness {
	t.Helper()
	require.NoError(t, cfg.Validate())

	sink := newRecordingSink()
	registry := NewRegistry(cfg.Steps)
	runner := NewRunner(RunnerParams{
		Registry: registry,
		Sink:     sink,
		History:  history,
		Config:   cfg,
		Logger:   testLogger(),
	})
	h := &harness{
		registry:   registry,
		runner:     runner,
		dispatcher: NewDispatcher(registry, runner, testLogger()),
		sink:       sink,
	}
	t.Cleanup(func() {
		registry.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = runner.Wait(ctx)
	})
	return h
}

// waitReleased blocks until key has no registry record.
func (h *harness) waitReleased(t *testing.T, key ConversationKey, timeout time.Duration) {
	t.Helper()
	require.Eventually(t, func() bool {
		_, ok := h.registry.Snapshot(key)
		return !ok
	}, timeout, time.Millisecond, "record for %s was never released", key)
}
