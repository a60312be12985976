// Package logging assembles structured slog loggers and formatting helpers used
// across dubforge components.
//
// It owns the configurable console/JSON handlers, centralizes level and output
// plumbing, and exposes context-aware helpers so pipeline code automatically
// tags log lines with job IDs, stages, segment indexes, and correlation IDs.
// NewNop provides a silent logger for tests and wiring code that cannot fail.
package logging
