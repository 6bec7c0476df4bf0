// ABOUTME: Embedded goose migrations for the scan history schema
// ABOUTME: Applied by store.NewSQLiteStore on every open

package migrations

import "embed"

// FS holds the SQL migration files.
//
//go:embed *.sql
var FS embed.FS
