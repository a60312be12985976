// Package media drives ffprobe and ffmpeg for the pipeline's audio plumbing:
// inspecting the source container, extracting mono PCM for the speech
// engines, tempo-stretching synthesized clips, mixing the dub over the
// original audio, and remuxing the result with the untouched video stream.
//
// All commands go through an injectable CommandRunner so tests never spawn
// real binaries. Outputs that other stages read are written to a temporary
// sibling and renamed into place.
package media
