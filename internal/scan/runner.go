// ABOUTME: Runs the timed step sequence of one scan and reports progress
// ABOUTME: Polls for cooperative cancellation and always releases the registry record

package scan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/2389/scanbot/internal/store"
)

// ErrInvalidConfig is returned by Config.Validate.
var ErrInvalidConfig = errors.New("invalid scan config")

// reasonShutdown marks scans interrupted by Registry.Close.
const reasonShutdown = "shutdown"

// NoticeKind classifies the messages a runner sends.
type NoticeKind string

const (
	NoticeProgress  NoticeKind = "progress"
	NoticeCancelled NoticeKind = "cancelled"
	NoticeCompleted NoticeKind = "completed"
	NoticeFailed    NoticeKind = "failed"
)

// Config controls the shape and timing of every scan.
type Config struct {
	// Steps is the number of progress steps (N).
	Steps int
	// StepDuration is the wait performed by each step.
	StepDuration time.Duration
	// TickInterval is how often cancellation is polled during a step.
	TickInterval time.Duration
	// SendTimeout bounds each call to the sink.
	SendTimeout time.Duration
}

// DefaultConfig returns ten one-second steps polled every 100ms.
func DefaultConfig() Config {
	return Config{
		Steps:        10,
		StepDuration: time.Second,
		TickInterval: 100 * time.Millisecond,
		SendTimeout:  10 * time.Second,
	}
}

// Validate checks that the timing values are usable.
func (c Config) Validate() error {
	if c.Steps <= 0 {
		return fmt.Errorf("%w: steps must be positive", ErrInvalidConfig)
	}
	if c.StepDuration <= 0 {
		return fmt.Errorf("%w: step_duration must be positive", ErrInvalidConfig)
	}
	if c.TickInterval <= 0 || c.TickInterval >= c.StepDuration {
		return fmt.Errorf("%w: tick_interval must be positive and smaller than step_duration", ErrInvalidConfig)
	}
	if c.SendTimeout <= 0 {
		return fmt.Errorf("%w: send_timeout must be positive", ErrInvalidConfig)
	}
	return nil
}

// History persists scan outcomes and the notices sent for them.
type History interface {
	SaveScan(ctx context.Context, scan *store.Scan) error
	UpdateScan(ctx context.Context, scan *store.Scan) error
	SaveScanEvent(ctx context.Context, event *store.ScanEvent) error
}

// RunnerParams holds the dependencies of a Runner.
type RunnerParams struct {
	Registry *Registry
	Sink     Sink
	History  History // optional
	Config   Config
	Logger   *slog.Logger
}

// Runner executes scans. One Runner serves every conversation.
type Runner struct {
	registry *Registry
	sink     Sink
	history  History
	cfg      Config
	logger   *slog.Logger

	mu     sync.Mutex // guards closed and wg.Add against Wait
	closed bool
	wg     sync.WaitGroup
}

// NewRunner creates a Runner.
func NewRunner(p RunnerParams) *Runner {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		registry: p.Registry,
		sink:     p.Sink,
		history:  p.History,
		cfg:      p.Config,
		logger:   logger,
	}
}

// task is the runner-local view of one scan.
type task struct {
	id        string
	key       ConversationKey
	steps     int
	progress  int
	phase     Phase
	reason    string
	startedAt time.Time
}

// Start launches the scan for key, which must already hold a registry record
// from TryStart, and returns without waiting for it. It fails with
// ErrShuttingDown once Wait has been called.
func (r *Runner) Start(key ConversationKey) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrShuttingDown
	}
	r.wg.Add(1)
	go r.run(key)
	return nil
}

// ScanDuration is the nominal length of one scan.
func (r *Runner) ScanDuration() time.Duration {
	return time.Duration(r.cfg.Steps) * r.cfg.StepDuration
}

// Wait stops the runner from accepting new scans and blocks until every
// running scan has released its record or ctx ends.
func (r *Runner) Wait(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Runner) run(key ConversationKey) {
	defer r.wg.Done()

	snap, ok := r.registry.Snapshot(key)
	ctx, ctxOK := r.registry.Context(key)
	if !ok || !ctxOK {
		r.logger.Error("scan started without a registry record", "conversation", key)
		return
	}

	t := &task{
		id:        snap.ID,
		key:       key,
		steps:     r.cfg.Steps,
		phase:     PhaseRunning,
		startedAt: snap.StartedAt,
	}
	defer r.finalize(t)

	r.logger.Info("scan started", "conversation", key, "scan_id", t.id, "steps", t.steps)
	r.recordStart(t)

	r.loop(ctx, t)
}

// loop runs the steps, leaving the outcome in t.phase.
func (r *Runner) loop(ctx context.Context, t *task) {
	ticker := time.NewTicker(r.cfg.TickInterval)
	defer ticker.Stop()

	for step := 1; step <= t.steps; step++ {
		if r.registry.IsCancelRequested(t.key) {
			t.phase = PhaseCancelled
			return
		}
		if !r.wait(ctx, t.key, ticker) || ctx.Err() != nil {
			r.interrupted(t)
			return
		}

		r.registry.Advance(t.key)
		t.progress = step
		r.notify(t, NoticeProgress, progressText(step, t.steps))
	}
	t.phase = PhaseCompleted
}

// wait sleeps for one step, polling for cancellation on every tick.
// Returns false if the scan was interrupted.
func (r *Runner) wait(ctx context.Context, key ConversationKey, ticker *time.Ticker) bool {
	timer := time.NewTimer(r.cfg.StepDuration)
	defer timer.Stop()
	ticker.Reset(r.cfg.TickInterval)

	for {
		select {
		case <-timer.C:
			return true
		case <-ctx.Done():
			return false
		case <-ticker.C:
			if r.registry.IsCancelRequested(key) {
				return false
			}
		}
	}
}

// interrupted classifies an early exit as a user cancel or a shutdown.
func (r *Runner) interrupted(t *task) {
	if r.registry.IsCancelRequested(t.key) {
		t.phase = PhaseCancelled
		return
	}
	t.phase = PhaseFailed
	t.reason = reasonShutdown
}

// finalize is deferred by run. It recovers panics, sends the terminal notice
// and releases the registry record on every path.
func (r *Runner) finalize(t *task) {
	if rec := recover(); rec != nil {
		r.logger.Error("scan runner panicked", "conversation", t.key, "scan_id", t.id, "panic", rec)
		t.phase = PhaseFailed
		t.reason = fmt.Sprintf("panic: %v", rec)
	}
	if !t.phase.Terminal() {
		t.phase = PhaseFailed
		if t.reason == "" {
			t.reason = "runner exited without an outcome"
		}
	}
	defer r.registry.Finish(t.key, t.phase)

	switch t.phase {
	case PhaseCompleted:
		r.safeNotify(t, NoticeCompleted, textCompleted)
	case PhaseCancelled:
		r.safeNotify(t, NoticeCancelled, textCancelled)
	default:
		text := textFailed
		if t.reason == reasonShutdown {
			text = textInterrupted
		}
		r.safeNotify(t, NoticeFailed, text)
	}

	r.recordFinish(t)
	r.logger.Info("scan finished",
		"conversation", t.key,
		"scan_id", t.id,
		"phase", t.phase,
		"progress", t.progress,
		"reason", t.reason,
	)
}

// notify sends one message through the sink. Delivery failures are logged
// and never retried.
func (r *Runner) notify(t *task, kind NoticeKind, text string) {
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.SendTimeout)
	defer cancel()

	err := r.sink.Send(ctx, t.key, text)
	if err != nil {
		r.logger.Warn("failed to deliver scan notice",
			"conversation", t.key,
			"scan_id", t.id,
			"kind", kind,
			"error", err,
		)
	}
	r.recordEvent(t, kind, text, err)
}

// safeNotify is notify for the terminal notice, where a panicking sink must
// not prevent the record from being released.
func (r *Runner) safeNotify(t *task, kind NoticeKind, text string) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("sink panicked on terminal notice", "conversation", t.key, "scan_id", t.id, "panic", rec)
		}
	}()
	r.notify(t, kind, text)
}

func (r *Runner) recordStart(t *task) {
	if r.history == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.SendTimeout)
	defer cancel()

	err := r.history.SaveScan(ctx, &store.Scan{
		ID:              t.id,
		ConversationKey: string(t.key),
		Frontend:        t.key.Frontend(),
		Phase:           string(PhaseRunning),
		Steps:           t.steps,
		StartedAt:       t.startedAt,
	})
	if err != nil {
		r.logger.Warn("failed to record scan start", "scan_id", t.id, "error", err)
	}
}

func (r *Runner) recordFinish(t *task) {
	if r.history == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.SendTimeout)
	defer cancel()

	finishedAt := time.Now().UTC()
	err := r.history.UpdateScan(ctx, &store.Scan{
		ID:              t.id,
		ConversationKey: string(t.key),
		Frontend:        t.key.Frontend(),
		Phase:           string(t.phase),
		Progress:        t.progress,
		Steps:           t.steps,
		Reason:          t.reason,
		StartedAt:       t.startedAt,
		FinishedAt:      &finishedAt,
	})
	if err != nil {
		r.logger.Warn("failed to record scan outcome", "scan_id", t.id, "error", err)
	}
}

func (r *Runner) recordEvent(t *task, kind NoticeKind, text string, sendErr error) {
	if r.history == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.SendTimeout)
	defer cancel()

	event := &store.ScanEvent{
		ScanID:    t.id,
		Kind:      string(kind),
		Text:      text,
		Delivered: sendErr == nil,
		CreatedAt: time.Now().UTC(),
	}
	if sendErr != nil {
		event.Error = sendErr.Error()
	}
	if err := r.history.SaveScanEvent(ctx, event); err != nil {
		r.logger.Debug("failed to record scan notice", "scan_id", t.id, "kind", kind, "error", err)
	}
}
