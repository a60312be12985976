// Package workflow moves queued jobs through the dubbing pipeline.
//
// The Manager owns a bounded pool of workers; each claimed job belongs to one
// worker until it reaches a terminal status. Serve mode (Start/Stop) polls the
// queue, keeps heartbeats fresh, and requeues jobs whose worker went silent.
// Run and batch modes call Drain, which works the queue until it is empty and
// returns a BatchReport whose ExitCode the CLI uses directly.
//
// Cancellation is cooperative: Cancel flags the job in the queue and the
// pipeline stops at its next stage or segment boundary. A failed job never
// stops its siblings.
package workflow
