// ABOUTME: Progress sink abstraction and a router that fans out by frontend
// ABOUTME: Frontends register as sinks; notices are routed by conversation key

package scan

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrUnknownFrontend is returned when no sink is registered for a key's frontend.
var ErrUnknownFrontend = errors.New("no sink registered for frontend")

// Sink delivers a text message to a conversation.
// Send may fail; callers log the error and carry on.
type Sink interface {
	Send(ctx context.Context, key ConversationKey, text string) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, key ConversationKey, text string) error

// Send calls f.
func (f SinkFunc) Send(ctx context.Context, key ConversationKey, text string) error {
	return f(ctx, key, text)
}

// SinkRouter routes messages to the sink registered for the key's frontend.
type SinkRouter struct {
	mu    sync.RWMutex
	sinks map[string]Sink
}

// NewSinkRouter creates an empty router.
func NewSinkRouter() *SinkRouter {
	return &SinkRouter{sinks: make(map[string]Sink)}
}

// Register installs the sink for a frontend, replacing any previous one.
func (r *SinkRouter) Register(frontend string, sink Sink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sinks[frontend] = sink
}

// Frontends returns the number of registered sinks.
func (r *SinkRouter) Frontends() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sinks)
}

// Send implements Sink.
func (r *SinkRouter) Send(ctx context.Context, key ConversationKey, text string) error {
	r.mu.RLock()
	sink, ok := r.sinks[key.Frontend()]
	r.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownFrontend, key.Frontend())
	}
	return sink.Send(ctx, key, text)
}
