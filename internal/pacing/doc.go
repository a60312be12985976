// Package pacing fits translated text and synthesized audio to a segment's
// fixed time window.
//
// Plan estimates spoken duration from a words-per-second model and, when the
// estimate overruns the window beyond tolerance, shortens the text: a local
// heuristic that only removes hesitations, discourse fillers and repeated
// words, and in strict mode an external rewrite provider whose output is
// rejected if it loses numbers or negations. Fit turns a measured duration
// into a tempo factor clamped to the configured stretch range; whatever the
// stretch cannot absorb is handled by boundary silence in internal/audio.
package pacing
