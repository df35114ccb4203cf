// Package progress carries job lifecycle events from the pipeline to pluggable sinks (logs,
// Prometheus, the recent-jobs history) without blocking the job itself.
package progress
