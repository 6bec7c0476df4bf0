// ABOUTME: Concurrency-safe registry of in-flight scans keyed by conversation
// ABOUTME: Enforces one scan per conversation and carries the cancellation token

package scan

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Phase is the lifecycle phase of a scan.
type Phase string

const (
	PhaseRunning   Phase = "running"
	PhaseCancelled Phase = "cancelled"
	PhaseCompleted Phase = "completed"
	PhaseFailed    Phase = "failed"
)

// Terminal reports whether the phase ends a scan.
func (p Phase) Terminal() bool {
	return p == PhaseCancelled || p == PhaseCompleted || p == PhaseFailed
}

// Snapshot is a read-only copy of a registry record.
type Snapshot struct {
	ID              string
	Key             ConversationKey
	Progress        int
	Steps           int
	Phase           Phase
	CancelRequested bool
	StartedAt       time.Time
}

// record is the registry's private state for one in-flight scan.
type record struct {
	id              string
	key             ConversationKey
	progress        int
	phase           Phase
	cancelRequested bool
	startedAt       time.Time

	// ctx is done once cancellation is requested, the scan finishes,
	// or the registry is closed.
	ctx    context.Context
	cancel context.CancelFunc
}

func (r *record) snapshot(steps int) Snapshot {
	return Snapshot{
		ID:              r.id,
		Key:             r.key,
		Progress:        r.progress,
		Steps:           steps,
		Phase:           r.phase,
		CancelRequested: r.cancelRequested,
		StartedAt:       r.startedAt,
	}
}

// Registry tracks the active scan of every conversation.
// All methods are safe for concurrent use.
type Registry struct {
	mu    sync.Mutex
	tasks map[ConversationKey]*record
	steps int

	// base is the parent of every record context; Close cancels it.
	base      context.Context
	closeBase context.CancelFunc
}

// NewRegistry creates an empty registry for scans of the given step count.
func NewRegistry(steps int) *Registry {
	base, cancel := context.WithCancel(context.Background())
	return &Registry{
		tasks:     make(map[ConversationKey]*record),
		steps:     steps,
		base:      base,
		closeBase: cancel,
	}
}

// Steps returns the total number of steps of every scan.
func (r *Registry) Steps() int {
	return r.steps
}

// TryStart creates a running record for key if none exists.
// Returns false without changing anything if a scan is already in flight
// or the registry is closed.
func (r *Registry) TryStart(key ConversationKey) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.base.Err() != nil {
		return false
	}
	if _, exists := r.tasks[key]; exists {
		return false
	}

	ctx, cancel := context.WithCancel(r.base)
	r.tasks[key] = &record{
		id:        uuid.New().String(),
		key:       key,
		phase:     PhaseRunning,
		startedAt: time.Now().UTC(),
		ctx:       ctx,
		cancel:    cancel,
	}
	return true
}

// RequestCancel marks the scan for key as cancelled and fires its context.
// Repeated requests are no-ops that still return true. Returns false if no
// scan is in flight for key.
func (r *Registry) RequestCancel(key ConversationKey) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.tasks[key]
	if !ok {
		return false
	}
	if !rec.cancelRequested {
		rec.cancelRequested = true
		rec.cancel()
	}
	return true
}

// IsCancelRequested reports whether cancellation was requested for key.
// An unknown key is reported as not cancelled.
func (r *Registry) IsCancelRequested(key ConversationKey) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.tasks[key]
	return ok && rec.cancelRequested
}

// Context returns the cancellation context of the scan for key.
func (r *Registry) Context(key ConversationKey) (context.Context, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.tasks[key]
	if !ok {
		return nil, false
	}
	return rec.ctx, true
}

// Advance moves the scan for key one step forward. Progress never exceeds
// the step count. Unknown keys are ignored.
func (r *Registry) Advance(key ConversationKey) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.tasks[key]
	if !ok {
		return
	}
	if rec.progress < r.steps {
		rec.progress++
	}
}

// Finish sets the terminal phase of the scan for key and removes it.
// Calling Finish for an unknown key is a no-op.
func (r *Registry) Finish(key ConversationKey, phase Phase) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.tasks[key]
	if !ok {
		return
	}
	rec.phase = phase
	rec.cancel()
	delete(r.tasks, key)
}

// Snapshot returns a copy of the record for key.
func (r *Registry) Snapshot(key ConversationKey) (Snapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.tasks[key]
	if !ok {
		return Snapshot{}, false
	}
	return rec.snapshot(r.steps), true
}

// Active returns snapshots of all in-flight scans ordered by start time.
func (r *Registry) Active() []Snapshot {
	r.mu.Lock()
	snaps := make([]Snapshot, 0, len(r.tasks))
	for _, rec := range r.tasks {
		snaps = append(snaps, rec.snapshot(r.steps))
	}
	r.mu.Unlock()

	sort.Slice(snaps, func(i, j int) bool {
		if snaps[i].StartedAt.Equal(snaps[j].StartedAt) {
			return snaps[i].Key < snaps[j].Key
		}
		return snaps[i].StartedAt.Before(snaps[j].StartedAt)
	})
	return snaps
}

// Len returns the number of in-flight scans.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tasks)
}

// Close fires the context of every in-flight scan without marking it as
// cancelled by the user. Runners treat this as shutdown. Records stay in the
// registry until their runners finish them.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closeBase()
}

// Closed reports whether Close has been called.
func (r *Registry) Closed() bool {
	return r.base.Err() != nil
}
