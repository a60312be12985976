package pipeline

import (
	"context"

	"dubforge/internal/pacing"
	"dubforge/internal/render"
	"dubforge/internal/services/tts"
	"dubforge/internal/services/whisperx"
)

// AudioExtractor decodes the source audio track to WAV.
type AudioExtractor interface {
	Extract(ctx context.Context, source, dest string) error
}

// Diarizer splits audio into speaker turns.
type Diarizer interface {
	Diarize(ctx context.Context, audio string) ([]whisperx.Turn, error)
}

// Transcriber recognizes speech inside one segment window.
type Transcriber interface {
	Transcribe(ctx context.Context, audio string, b whisperx.Bounds) (whisperx.Transcript, error)
}

// Translator renders source text in the target language.
type Translator interface {
	Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error)
}

// Synthesizer produces speech for one request, falling back across voices.
type Synthesizer interface {
	Synthesize(ctx context.Context, req tts.Request) (tts.Result, error)
}

// Stretcher changes audio tempo without changing pitch.
type Stretcher interface {
	Stretch(ctx context.Context, src, dest string, factor float64) error
}

// Clipper cuts a window out of an audio file.
type Clipper interface {
	Cut(ctx context.Context, src, dest string, start, end float64) error
}

// Collaborators bundles the external engines a pipeline drives.
type Collaborators struct {
	Extractor   AudioExtractor
	Diarizer    Diarizer
	Transcriber Transcriber
	Translator  Translator
	Synthesizer Synthesizer
	Stretcher   Stretcher
	Media       render.MediaTool
	// Clipper builds voice-clone references; without it cloning falls
	// through to the next voice.
	Clipper Clipper
	// Rewriter is optional; strict pacing falls back to the aggressive
	// heuristic without it.
	Rewriter pacing.Rewriter
}
