// Package store persists scan history in SQLite.
//
// # Data Models
//
//   - Scan: one run of the scan sequence for a conversation, from start to
//     its terminal phase (completed, cancelled, failed)
//   - ScanEvent: a notice the runner tried to deliver, with delivery status
//
// # SQLite Configuration
//
// The store uses modernc.org/sqlite (pure Go) with:
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA foreign_keys=ON;
//
// Schema changes are goose migrations embedded from the migrations
// directory and applied on open.
//
// # Testing
//
// MockStore is an in-memory Store for tests that do not need SQL.
package store
