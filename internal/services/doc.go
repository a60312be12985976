// Package services defines the shared error taxonomy and context helpers used
// by the pipeline, the review ledger, and the external collaborator clients.
//
// Key responsibilities:
//   - Context helpers that stamp job IDs, stage names, segment indexes, and
//     correlation identifiers for logging.
//   - Sentinel error markers plus the Wrap helper. Classify maps any wrapped
//     error onto the persisted failure kinds (transient, fatal, cancelled) that
//     drive retry decisions and CLI exit codes.
//
// Subpackages hold the clients for the opaque engines the pipeline drives:
// whisperx (diarization and transcription), llm (translation and rewrite), and
// tts (speech synthesis with an ordered fallback chain).
package services
