// Package dedupe suppresses repeated deliveries from chat transports.
//
// Telegram retries a webhook update until it receives a 200, and a Matrix
// sync can replay timeline events after a reconnect. Both are keyed by a
// transport-assigned ID (update_id, event ID) which the frontends record
// here before dispatching a command.
package dedupe
