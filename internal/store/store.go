// ABOUTME: Store interface and data types for scan history persistence
// ABOUTME: Defines Scan and ScanEvent plus the Store interface implemented by SQLite and mocks

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// Scan phases as stored. They mirror the scan package's phases.
const (
	PhaseRunning   = "running"
	PhaseCancelled = "cancelled"
	PhaseCompleted = "completed"
	PhaseFailed    = "failed"
)

// Scan is the persisted record of one scan run.
type Scan struct {
	ID              string
	ConversationKey string // e.g. "telegram:12345", "matrix:!room:server.com"
	Frontend        string
	Phase           string
	Progress        int
	Steps           int
	Reason          string // why a scan failed, empty otherwise
	StartedAt       time.Time
	FinishedAt      *time.Time
}

// ScanEvent is a notice sent (or attempted) during a scan.
type ScanEvent struct {
	ID        string
	ScanID    string
	Kind      string // started, progress, cancelled, completed, failed
	Text      string
	Delivered bool
	Error     string // delivery error, empty when delivered
	CreatedAt time.Time
}

// ScanFilter narrows ListScans.
type ScanFilter struct {
	ConversationKey string // optional
	Limit           int    // 1-500, defaults to 50
}

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

func (f ScanFilter) limit() int {
	switch {
	case f.Limit <= 0:
		return defaultListLimit
	case f.Limit > maxListLimit:
		return maxListLimit
	default:
		return f.Limit
	}
}

// Store defines the interface for scan history persistence
type Store interface {
	SaveScan(ctx context.Context, scan *Scan) error
	UpdateScan(ctx context.Context, scan *Scan) error
	GetScan(ctx context.Context, id string) (*Scan, error)
	ListScans(ctx context.Context, filter ScanFilter) ([]*Scan, error)
	CountScansByPhase(ctx context.Context) (map[string]int, error)

	SaveScanEvent(ctx context.Context, event *ScanEvent) error
	ListScanEvents(ctx context.Context, scanID string) ([]*ScanEvent, error)

	Close() error
}
