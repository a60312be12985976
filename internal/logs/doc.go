// Package logs reads per-job log files for the CLI.
//
// Job logs are JSON lines written by the workflow manager. Last returns the
// final lines of a file with bounded memory, Follow streams lines appended
// after an offset, and Format renders one JSON line in a compact console form.
package logs
