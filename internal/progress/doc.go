// Package progress provides the event primitives and the ordered fan-out
// emitter the search-fetch pipeline uses to report run and per-task progress.
// Events are delivered synchronously, in the order they are emitted, to
// pluggable sinks such as structured logs, Prometheus metrics, or a terminal.
package progress
