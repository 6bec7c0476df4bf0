// ABOUTME: SQLite persistence for scans and their delivered notices
// ABOUTME: Implements scan CRUD, history listing, per-phase counts, and scan events

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// SaveScan inserts a new scan record.
func (s *SQLiteStore) SaveScan(ctx context.Context, scan *Scan) error {
	var finishedAt sql.NullString
	if scan.FinishedAt != nil {
		finishedAt = nullString(formatTime(*scan.FinishedAt))
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO scans (id, conversation_key, frontend, phase, progress, steps, reason, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, scan.ID, scan.ConversationKey, scan.Frontend, scan.Phase, scan.Progress, scan.Steps,
		nullString(scan.Reason), formatTime(scan.StartedAt), finishedAt)
	if err != nil {
		return fmt.Errorf("inserting scan: %w", err)
	}
	return nil
}

// UpdateScan writes the mutable fields of a scan: phase, progress, reason, finish time.
// Returns ErrNotFound if no scan has the given ID.
func (s *SQLiteStore) UpdateScan(ctx context.Context, scan *Scan) error {
	var finishedAt sql.NullString
	if scan.FinishedAt != nil {
		finishedAt = nullString(formatTime(*scan.FinishedAt))
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE scans SET phase = ?, progress = ?, reason = ?, finished_at = ?
		WHERE id = ?
	`, scan.Phase, scan.Progress, nullString(scan.Reason), finishedAt, scan.ID)
	if err != nil {
		return fmt.Errorf("updating scan: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// GetScan retrieves a scan by ID.
func (s *SQLiteStore) GetScan(ctx context.Context, id string) (*Scan, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, conversation_key, frontend, phase, progress, steps, reason, started_at, finished_at
		FROM scans WHERE id = ?
	`, id)

	scan, err := scanScan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying scan: %w", err)
	}
	return scan, nil
}

// ListScans returns scans newest first, optionally for one conversation.
func (s *SQLiteStore) ListScans(ctx context.Context, filter ScanFilter) ([]*Scan, error) {
	query := `
		SELECT id, conversation_key, frontend, phase, progress, steps, reason, started_at, finished_at
		FROM scans`
	var args []any
	if filter.ConversationKey != "" {
		query += ` WHERE conversation_key = ?`
		args = append(args, filter.ConversationKey)
	}
	query += ` ORDER BY started_at DESC, rowid DESC LIMIT ?`
	args = append(args, filter.limit())

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying scans: %w", err)
	}
	defer rows.Close()

	var scans []*Scan
	for rows.Next() {
		scan, err := scanScan(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning scan row: %w", err)
		}
		scans = append(scans, scan)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating scans: %w", err)
	}
	return scans, nil
}

// CountScansByPhase returns the number of scans in each phase.
// Phases with no scans are absent from the map.
func (s *SQLiteStore) CountScansByPhase(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT phase, COUNT(*) FROM scans GROUP BY phase`)
	if err != nil {
		return nil, fmt.Errorf("counting scans: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var phase string
		var n int
		if err := rows.Scan(&phase, &n); err != nil {
			return nil, fmt.Errorf("scanning count row: %w", err)
		}
		counts[phase] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating counts: %w", err)
	}
	return counts, nil
}

// SaveScanEvent appends a notice to a scan's event log.
// A missing ID is generated.
func (s *SQLiteStore) SaveScanEvent(ctx context.Context, event *ScanEvent) error {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}

	delivered := 0
	if event.Delivered {
		delivered = 1
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO scan_events (id, scan_id, kind, text, delivered, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, event.ID, event.ScanID, event.Kind, event.Text, delivered, nullString(event.Error), formatTime(event.CreatedAt))
	if err != nil {
		return fmt.Errorf("inserting scan event: %w", err)
	}
	return nil
}

// ListScanEvents returns a scan's events in the order they were recorded.
func (s *SQLiteStore) ListScanEvents(ctx context.Context, scanID string) ([]*ScanEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, scan_id, kind, text, delivered, error, created_at
		FROM scan_events WHERE scan_id = ?
		ORDER BY created_at ASC, rowid ASC
	`, scanID)
	if err != nil {
		return nil, fmt.Errorf("querying scan events: %w", err)
	}
	defer rows.Close()

	var events []*ScanEvent
	for rows.Next() {
		var (
			ev        ScanEvent
			delivered int
			errText   sql.NullString
			createdAt string
		)
		if err := rows.Scan(&ev.ID, &ev.ScanID, &ev.Kind, &ev.Text, &delivered, &errText, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning scan event row: %w", err)
		}
		ev.Delivered = delivered != 0
		ev.Error = errText.String
		if ev.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		events = append(events, &ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating scan events: %w", err)
	}
	return events, nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanScan(row rowScanner) (*Scan, error) {
	var (
		scan       Scan
		reason     sql.NullString
		startedAt  string
		finishedAt sql.NullString
	)
	if err := row.Scan(&scan.ID, &scan.ConversationKey, &scan.Frontend, &scan.Phase,
		&scan.Progress, &scan.Steps, &reason, &startedAt, &finishedAt); err != nil {
		return nil, err
	}
	scan.Reason = reason.String

	var err error
	if scan.StartedAt, err = parseTime(startedAt); err != nil {
		return nil, err
	}
	if finishedAt.Valid {
		t, err := parseTime(finishedAt.String)
		if err != nil {
			return nil, err
		}
		scan.FinishedAt = &t
	}
	return &scan, nil
}
