package pipeline

import (
	"context"
	"strings"

	"dubforge/internal/fileutil"
	"dubforge/internal/fingerprint"
	"dubforge/internal/ledger"
	"dubforge/internal/manifest"
	"dubforge/internal/pacing"
	"dubforge/internal/services"
)

// schema bumps every fingerprint when stage outputs change shape.
const schema = "1"

func (e *Executor) extractPrint(_ context.Context, run *jobRun, _ string) (string, error) {
	source := run.job.SourcePath
	if !fileutil.Exists(source) {
		return "", services.Wrap(services.ErrFatalInput, string(manifest.StageExtract), "open source", "source not found: "+source, nil)
	}
	return fingerprint.New(string(manifest.StageExtract)).
		String("schema", schema).
		File("source", source).
		Int("sample_rate", int64(e.cfg.Synthesis.SampleRate)).
		Sum()
}

func (e *Executor) diarizePrint(_ context.Context, _ *jobRun, upstream string) (string, error) {
	wx := e.cfg.WhisperX
	return fingerprint.New(string(manifest.StageDiarize)).
		String("schema", schema).
		String("upstream", upstream).
		String("model", wx.Model).
		String("vad", wx.VADMethod).
		Int("min_speakers", int64(wx.MinSpeakers)).
		Int("max_speakers", int64(wx.MaxSpeakers)).
		String("language", e.cfg.Languages.Source).
		Sum()
}

// ledgerPrint starts a fingerprint for a stage that reads segment state.
func (e *Executor) ledgerPrint(ctx context.Context, run *jobRun, stage manifest.Stage, upstream string) (*fingerprint.Builder, error) {
	digest, err := e.ledger.StateDigest(ctx, run.job.ID)
	if err != nil {
		return nil, err
	}
	return fingerprint.New(string(stage)).
		String("schema", schema).
		String("upstream", upstream).
		String("ledger", digest), nil
}

func (e *Executor) transcribePrint(ctx context.Context, run *jobRun, upstream string) (string, error) {
	b, err := e.ledgerPrint(ctx, run, manifest.StageTranscribe, upstream)
	if err != nil {
		return "", err
	}
	return b.String("model", e.cfg.WhisperX.Model).String("language", e.cfg.Languages.Source).Sum()
}

func (e *Executor) translatePrint(ctx context.Context, run *jobRun, upstream string) (string, error) {
	b, err := e.ledgerPrint(ctx, run, manifest.StageTranslate, upstream)
	if err != nil {
		return "", err
	}
	return b.JSON("translation", e.translationSettings()).Sum()
}

func (e *Executor) synthesizePrint(ctx context.Context, run *jobRun, upstream string) (string, error) {
	b, err := e.ledgerPrint(ctx, run, manifest.StageSynthesize, upstream)
	if err != nil {
		return "", err
	}
	return b.JSON("voices", e.voiceSettings()).JSON("pacing", e.pacer.Options()).Sum()
}

func (e *Executor) mixPrint(_ context.Context, _ *jobRun, upstream string) (string, error) {
	return fingerprint.New(string(manifest.StageMix)).
		String("schema", schema).
		String("upstream", upstream).
		JSON("mix", e.cfg.Mix).
		JSON("streaming", e.cfg.Streaming).
		Int("sample_rate", int64(e.cfg.Synthesis.SampleRate)).
		Sum()
}

func (e *Executor) muxPrint(_ context.Context, run *jobRun, upstream string) (string, error) {
	return fingerprint.New(string(manifest.StageMux)).
		String("schema", schema).
		String("upstream", upstream).
		String("container", e.cfg.Mix.Container).
		String("language", e.cfg.Languages.Target).
		Bool("keep_original", e.cfg.Mix.KeepOriginalAudio).
		String("output", e.composer.OutputPath(run.job.SourcePath)).
		Sum()
}

type translationSettings struct {
	Model       string  `json:"model"`
	Temperature float64 `json:"temperature"`
	Source      string  `json:"source"`
	Target      string  `json:"target"`
}

func (e *Executor) translationSettings() translationSettings {
	return translationSettings{
		Model:       e.cfg.LLM.Model,
		Temperature: e.cfg.LLM.Temperature,
		Source:      e.cfg.Languages.Source,
		Target:      e.cfg.Languages.Target,
	}
}

type voiceSettings struct {
	Endpoint     string            `json:"endpoint"`
	VoiceClone   bool              `json:"voice_clone"`
	PresetVoices map[string]string `json:"preset_voices,omitempty"`
	GenericVoice string            `json:"generic_voice"`
	SampleRate   int               `json:"sample_rate"`
	Language     string            `json:"language"`
}

func (e *Executor) voiceSettings() voiceSettings {
	s := e.cfg.Synthesis
	return voiceSettings{
		Endpoint:     strings.TrimRight(s.Endpoint, "/"),
		VoiceClone:   s.VoiceClone,
		PresetVoices: s.PresetVoices,
		GenericVoice: s.GenericVoice,
		SampleRate:   s.SampleRate,
		Language:     e.cfg.Languages.Target,
	}
}

// transcribeSegmentPrint covers the audio window of a segment and the
// operator revision, so edits force re-recognition of that segment only.
func (e *Executor) transcribeSegmentPrint(run *jobRun, seg ledger.Segment) (string, error) {
	return fingerprint.New("transcribe.segment").
		String("audio", run.prints[manifest.StageExtract]).
		Float("start", seg.Start).
		Float("end", seg.End).
		Int("revision", int64(seg.Revision)).
		String("model", e.cfg.WhisperX.Model).
		String("language", e.cfg.Languages.Source).
		Sum()
}

// translateSegmentPrint covers the recognized text. A translation survives
// as long as the transcript it came from does.
func (e *Executor) translateSegmentPrint(seg ledger.Segment) (string, error) {
	return fingerprint.New("translate.segment").
		String("text", seg.SourceText).
		JSON("translation", e.translationSettings()).
		Sum()
}

// SynthKey identifies the synthesis inputs of a segment apart from its text.
// Text changes always create a version without audio, so a version whose key
// matches can be reused as is.
func (e *Executor) SynthKey(seg ledger.Segment) (string, error) {
	return synthKey(seg, e.voiceSettings(), e.pacer.Options())
}

func synthKey(seg ledger.Segment, voices voiceSettings, opts pacing.Options) (string, error) {
	return fingerprint.New("synthesize.segment").
		Float("start", seg.Start).
		Float("end", seg.End).
		String("speaker", seg.Speaker).
		JSON("voices", voices).
		JSON("pacing", opts).
		Sum()
}
