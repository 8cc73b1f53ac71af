// Package safego launches background goroutines that survive panics.
package safego

import "log/slog"

// Go runs fn on a new goroutine, recovering and logging any panic. Every
// fire-and-forget goroutine in the process (retention sweep, metrics server,
// pool stats sampling) goes through here so a panic in one of them cannot
// take the process down or vanish without a trace.
func Go(fn func()) {
	GoNamed("", fn)
}

// GoNamed is Go with a label included in the panic log line, so operators can
// tell which background task blew up.
func GoNamed(name string, fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				if name == "" {
					slog.Error("recovered panic in background goroutine", "panic", r)
				} else {
					slog.Error("recovered panic in background goroutine", "task", name, "panic", r)
				}
			}
		}()
		fn()
	}()
}
