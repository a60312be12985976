// Package pipeline runs the dubbing stages of a job: extract, diarize,
// transcribe, translate, synthesize, mix and mux.
//
// Every stage is fingerprinted over its inputs and the upstream fingerprint.
// A stage whose manifest matches is skipped; a mismatch re-executes it and
// marks downstream manifests stale. Ledger-aware stages additionally keep a
// fingerprint per segment so only segments whose inputs changed are
// reprocessed, and locked segments are never touched.
package pipeline
