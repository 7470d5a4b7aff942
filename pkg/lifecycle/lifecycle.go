// Package lifecycle provides panic-safe goroutine launching for background
// work that must not take the process down.
package lifecycle

import "log/slog"

// Go runs fn on a new goroutine, logging and swallowing any panic. The name
// identifies the task in the panic log.
func Go(name string, fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("Background task panicked", "task", name, "panic", r)
			}
		}()
		fn()
	}()
}
