// Package safego launches background goroutines that log a panic instead of taking the
// process down.
package safego

import (
	"log/slog"
	"runtime/debug"

	"github.com/missionsdata/missions-api/internal/telemetry"
)

// Go runs fn in a new goroutine. A panic in fn is recovered, logged with name and the
// stack, and counted in background_panics_total. Use it for every fire-and-forget
// goroutine: the usage meter loop, the metrics listener, audit writes.
func Go(name string, fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				telemetry.BackgroundPanicsTotal.WithLabelValues(name).Inc()
				slog.Error("recovered panic in background goroutine",
					"goroutine", name,
					"panic", r,
					"stack", string(debug.Stack()),
				)
			}
		}()
		fn()
	}()
}
