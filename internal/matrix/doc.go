// Package matrix connects scanbot to a Matrix homeserver.
//
// The bridge syncs as a bot user and treats text messages starting with the
// command prefix ("!scan", "!cancel", "!status", "!start") as commands for
// the room they were sent in. Notices are sent as m.notice events with an
// HTML rendering when the text contains Markdown.
//
// Events older than the bridge's start, and event IDs already handled, are
// ignored so a restart or sync replay never re-runs a command.
package matrix
