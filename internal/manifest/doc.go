// Package manifest records which pipeline stages have completed for a job and
// under which input fingerprint.
//
// Each (job, stage) pair owns one JSON document under
// <state_dir>/manifests/<job>/<stage>.json, published atomically so an
// interrupted write never claims outputs that are missing. Invalidation marks
// manifests stale instead of deleting them, leaving prior artifacts for
// inspection. ChunkLog keeps the append-only streaming chunk record.
package manifest
