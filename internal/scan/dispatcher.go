// ABOUTME: Maps inbound chat commands to scan registry and runner actions
// ABOUTME: Stateless: every decision is derived from registry presence and flags

package scan

import (
	"errors"
	"log/slog"
	"strings"
	"time"
)

// Command outcomes that are not faults but are reported back to the user.
var (
	ErrDuplicateStart = errors.New("scan already in progress")
	ErrNoActiveTask   = errors.New("no scan to cancel")
	ErrShuttingDown   = errors.New("service shutting down")
)

// Verb is a recognised chat command.
type Verb string

const (
	VerbGreeting Verb = "greeting"
	VerbScan     Verb = "scan"
	VerbCancel   Verb = "cancel"
	VerbStatus   Verb = "status"
)

// ParseVerb maps a command word ("start", "/scan", "scan@mybot") to a Verb.
func ParseVerb(word string) (Verb, bool) {
	word = strings.TrimPrefix(strings.TrimSpace(word), "/")
	if name, _, found := strings.Cut(word, "@"); found {
		word = name
	}
	switch strings.ToLower(word) {
	case "start", "help":
		return VerbGreeting, true
	case "scan":
		return VerbScan, true
	case "cancel", "stop":
		return VerbCancel, true
	case "status":
		return VerbStatus, true
	default:
		return "", false
	}
}

// Command is a decoded inbound event.
type Command struct {
	Key  ConversationKey
	Verb Verb
	// Prefix is the command prefix of the originating frontend ("/" or "!"),
	// used when telling the user which commands exist.
	Prefix string
}

// Outcome classifies how a command was handled.
type Outcome string

const (
	OutcomeStarted         Outcome = "started"
	OutcomeAlreadyRunning  Outcome = "already_running"
	OutcomeCancelling      Outcome = "cancelling"
	OutcomeNothingToCancel Outcome = "nothing_to_cancel"
	OutcomeGreeted         Outcome = "greeted"
	OutcomeStatus          Outcome = "status"
	OutcomeShuttingDown    Outcome = "shutting_down"
	OutcomeIgnored         Outcome = "ignored"
)

// Reply is the result of handling a command. Text is what the frontend
// should send back; it is empty when nothing needs sending.
type Reply struct {
	Outcome Outcome
	Text    string
	Err     error
}

// Starter launches the runner for a conversation that holds a fresh record.
// Start must not wait for the scan.
type Starter interface {
	Start(key ConversationKey) error
	ScanDuration() time.Duration
}

// Dispatcher handles chat commands. It holds no per-conversation state.
type Dispatcher struct {
	registry *Registry
	runner   Starter
	logger   *slog.Logger
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(registry *Registry, runner Starter, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		registry: registry,
		runner:   runner,
		logger:   logger,
	}
}

// Handle applies cmd. A started scan keeps running in the background.
func (d *Dispatcher) Handle(cmd Command) Reply {
	switch cmd.Verb {
	case VerbGreeting:
		return Reply{Outcome: OutcomeGreeted, Text: greetingText(cmd.Prefix)}
	case VerbScan:
		return d.start(cmd.Key)
	case VerbCancel:
		return d.cancel(cmd.Key)
	case VerbStatus:
		return d.status(cmd.Key)
	default:
		d.logger.Debug("ignoring unknown command", "conversation", cmd.Key, "verb", cmd.Verb)
		return Reply{Outcome: OutcomeIgnored}
	}
}

func (d *Dispatcher) start(key ConversationKey) Reply {
	if d.registry.Closed() {
		return Reply{Outcome: OutcomeShuttingDown, Text: textShuttingDown, Err: ErrShuttingDown}
	}
	if !d.registry.TryStart(key) {
		if d.registry.Closed() {
			return Reply{Outcome: OutcomeShuttingDown, Text: textShuttingDown, Err: ErrShuttingDown}
		}
		d.logger.Info("rejecting duplicate scan", "conversation", key)
		return Reply{Outcome: OutcomeAlreadyRunning, Text: textAlreadyRunning, Err: ErrDuplicateStart}
	}
	if err := d.runner.Start(key); err != nil {
		d.registry.Finish(key, PhaseFailed)
		return Reply{Outcome: OutcomeShuttingDown, Text: textShuttingDown, Err: err}
	}
	return Reply{Outcome: OutcomeStarted, Text: startedText(d.runner.ScanDuration())}
}

func (d *Dispatcher) cancel(key ConversationKey) Reply {
	if !d.registry.RequestCancel(key) {
		return Reply{Outcome: OutcomeNothingToCancel, Text: textNothingToCancel, Err: ErrNoActiveTask}
	}
	d.logger.Info("scan cancellation requested", "conversation", key)
	return Reply{Outcome: OutcomeCancelling, Text: textCancelling}
}

func (d *Dispatcher) status(key ConversationKey) Reply {
	snap, ok := d.registry.Snapshot(key)
	if !ok {
		return Reply{Outcome: OutcomeStatus, Text: textNoScan}
	}
	return Reply{Outcome: OutcomeStatus, Text: statusText(snap)}
}
