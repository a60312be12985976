// Package whisperx drives the WhisperX CLI through uvx for speaker
// diarization and per-segment transcription.
//
// Diarize runs WhisperX over the whole extracted track with --diarize and
// turns each sentence-level segment into a speaker Turn. Transcribe cuts the
// segment window out of the track with ffmpeg and transcribes only that slice,
// so an operator edit that invalidates one segment costs one short WhisperX
// run rather than a full pass.
//
// Command execution is injectable via WithCommandRunner; tests write the JSON
// WhisperX would have produced.
package whisperx
