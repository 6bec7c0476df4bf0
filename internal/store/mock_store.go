// ABOUTME: Mock Store implementation for testing
// ABOUTME: Keeps scans and scan events in memory so tests run without SQLite

package store

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu     sync.RWMutex
	scans  map[string]*Scan
	order  []string                // scan IDs in insertion order
	events map[string][]*ScanEvent // keyed by scan ID

	// Err, when set, is returned by every write. Reads are unaffected.
	Err error
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		scans:  make(map[string]*Scan),
		events: make(map[string][]*ScanEvent),
	}
}

// SaveScan stores a copy of the scan.
func (m *MockStore) SaveScan(ctx context.Context, scan *Scan) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Err != nil {
		return m.Err
	}

	s := copyScan(scan)
	if _, exists := m.scans[s.ID]; !exists {
		m.order = append(m.order, s.ID)
	}
	m.scans[s.ID] = s
	return nil
}

// UpdateScan replaces the mutable fields of an existing scan.
func (m *MockStore) UpdateScan(ctx context.Context, scan *Scan) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Err != nil {
		return m.Err
	}

	existing, ok := m.scans[scan.ID]
	if !ok {
		return ErrNotFound
	}
	updated := copyScan(scan)
	existing.Phase = updated.Phase
	existing.Progress = updated.Progress
	existing.Reason = updated.Reason
	existing.FinishedAt = updated.FinishedAt
	return nil
}

// GetScan retrieves a scan by ID.
func (m *MockStore) GetScan(ctx context.Context, id string) (*Scan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.scans[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyScan(s), nil
}

// ListScans returns scans newest first.
func (m *MockStore) ListScans(ctx context.Context, filter ScanFilter) ([]*Scan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Scan
	for i := len(m.order) - 1; i >= 0; i-- {
		s := m.scans[m.order[i]]
		if filter.ConversationKey != "" && s.ConversationKey != filter.ConversationKey {
			continue
		}
		result = append(result, copyScan(s))
	}

	// Stable so equal start times keep newest-inserted first
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].StartedAt.After(result[j].StartedAt)
	})

	if limit := filter.limit(); len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// CountScansByPhase returns the number of scans in each phase.
func (m *MockStore) CountScansByPhase(ctx context.Context) (map[string]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	counts := make(map[string]int)
	for _, s := range m.scans {
		counts[s.Phase]++
	}
	return counts, nil
}

// SaveScanEvent appends a copy of the event.
func (m *MockStore) SaveScanEvent(ctx context.Context, event *ScanEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Err != nil {
		return m.Err
	}
	if _, ok := m.scans[event.ScanID]; !ok {
		// SQLite enforces this with a foreign key
		return ErrNotFound
	}
	if event.ID == "" {
		event.ID = uuid.New().String()
	}

	e := *event
	m.events[e.ScanID] = append(m.events[e.ScanID], &e)
	return nil
}

// ListScanEvents returns a scan's events in insertion order.
func (m *MockStore) ListScanEvents(ctx context.Context, scanID string) ([]*ScanEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	src := m.events[scanID]
	result := make([]*ScanEvent, 0, len(src))
	for _, e := range src {
		c := *e
		result = append(result, &c)
	}
	return result, nil
}

// Close is a no-op for MockStore.
func (m *MockStore) Close() error {
	return nil
}

func copyScan(s *Scan) *Scan {
	c := *s
	if s.FinishedAt != nil {
		t := *s.FinishedAt
		c.FinishedAt = &t
	}
	return &c
}

// Compile-time check that MockStore implements Store
var _ Store = (*MockStore)(nil)
