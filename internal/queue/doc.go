// Package queue persists dubbing jobs in SQLite and exposes helpers for driving
// their lifecycle.
//
// The Store owns job identity and status (queued, running, succeeded, failed,
// cancelled). Workers claim queued jobs atomically, stamp heartbeats while they
// run, and record the terminal status together with the failure kind
// (transient or fatal) so operators know whether a retry is worthwhile.
// Cancellation requests are persisted so a CLI in another process can ask a
// running job to stop at its next safe boundary.
//
// Schema changes bump schemaVersion; users purge the database to adopt the new
// schema.
package queue
