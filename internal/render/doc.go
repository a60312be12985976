// Package render composes the dubbed audio of a job from the segment ledger.
//
// ComposeTimeline lays each segment's current version onto one WAV at the
// segment start, leaving silence in gaps and summing overlaps. RenderFull
// mixes that timeline over the attenuated source audio and muxes the result
// with the source video. RenderReview composes only a segment window plus
// context for quick listening. StreamChunks slices a timeline into
// overlapping chunk files recorded in an append-only chunk log.
//
// The composer only reads the ledger; it never creates versions.
package render
