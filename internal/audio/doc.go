// Package audio reads, edits, and writes mono 16-bit PCM WAV clips.
//
// Synthesized segment audio is measured, padded or trimmed to its time window,
// and laid onto a job timeline here. Only silence is ever trimmed: when a clip
// cannot fit after its boundary silence is removed, the overflow is reported
// so the caller can flag alignment drift instead of cutting speech.
package audio
