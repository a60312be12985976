// Package daemon owns the lifetime of a dubforge orchestrator process.
//
// Only one orchestrator may work a state directory at a time; the daemon
// enforces that with a flock-based lock file before the workflow manager
// starts. Run and batch commands take the same lock for the duration of their
// drain so a serve process and a one-shot run never claim the same jobs.
package daemon
