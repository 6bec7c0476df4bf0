// ABOUTME: User-facing status texts for scan notices and command replies
// ABOUTME: Every user-visible outcome is a short fixed message, never a raw error

package scan

import (
	"fmt"
	"time"
)

const (
	textCancelled       = "❌ Cancelled!"
	textCompleted       = "✅ Scan complete!"
	textFailed          = "💥 Scan failed. Please try again."
	textInterrupted     = "🛑 Scan interrupted: the service is restarting."
	textCancelling      = "⏳ Cancelling..."
	textNothingToCancel = "⚠️ Nothing to cancel"
	textAlreadyRunning  = "⚠️ A scan is already in progress"
	textShuttingDown    = "🛑 The service is shutting down, try again shortly."
	textNoScan          = "💤 No scan running"
)

func startedText(total time.Duration) string {
	return fmt.Sprintf("🔄 Scan started... (%s)", total)
}

func progressText(step, steps int) string {
	return fmt.Sprintf("Progress: %d/%d", step, steps)
}

func greetingText(prefix string) string {
	if prefix == "" {
		prefix = "/"
	}
	return fmt.Sprintf("Send %sscan or %scancel", prefix, prefix)
}

func statusText(snap Snapshot) string {
	if snap.CancelRequested {
		return fmt.Sprintf("⏳ Cancelling at %d/%d", snap.Progress, snap.Steps)
	}
	return fmt.Sprintf("📊 Scan in progress: %d/%d", snap.Progress, snap.Steps)
}
