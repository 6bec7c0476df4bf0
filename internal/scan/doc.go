// Package scan manages the lifecycle of per-conversation background scans.
//
// # Overview
//
// Each conversation (a Telegram chat, a Matrix room) may run at most one scan
// at a time. A scan is a fixed sequence of timed steps that reports progress
// back into the conversation and can be cancelled by the user at any point.
//
// The package has three cooperating parts:
//
//   - Registry: the single source of truth for which conversations have a scan
//     in flight and whether cancellation was requested.
//   - Runner: executes the step sequence for one conversation, polls the
//     registry for cancellation, emits notices through a Sink and releases the
//     registry entry on every exit path.
//   - Dispatcher: maps inbound chat commands to registry/runner actions.
//
// # Cancellation
//
// Cancellation is cooperative. Cancelling a scan flips a flag on its registry
// record and fires the record's context; the runner notices within one tick
// and unwinds on its own. In-flight sends are never interrupted.
//
// # Usage
//
//	registry := scan.NewRegistry(cfg.Steps)
//	runner := scan.NewRunner(scan.RunnerParams{Registry: registry, Sink: sink, Config: cfg})
//	dispatcher := scan.NewDispatcher(registry, runner, logger)
//
//	reply := dispatcher.Handle(scan.Command{Key: key, Verb: scan.VerbScan})
package scan
