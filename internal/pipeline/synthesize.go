package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"dubforge/internal/audio"
	"dubforge/internal/fileutil"
	"dubforge/internal/ledger"
	"dubforge/internal/logging"
	"dubforge/internal/manifest"
	"dubforge/internal/pacing"
	"dubforge/internal/services"
	"dubforge/internal/services/tts"
)

type synthRecord struct {
	Index   int      `json:"index"`
	Version int      `json:"version"`
	Audio   string   `json:"audio,omitempty"`
	Actions []string `json:"actions,omitempty"`
	Stretch float64  `json:"stretch,omitempty"`
	Drift   bool     `json:"drift,omitempty"`
	Locked  bool     `json:"locked,omitempty"`
}

// synthesize gives every unlocked segment audio for its current text. A
// version whose synthesis key still matches and whose audio exists is reused.
func (e *Executor) synthesize(ctx context.Context, run *jobRun, prev *manifest.Manifest) (stageOutput, error) {
	job := run.job.ID
	segs, err := e.ledger.Segments(ctx, job)
	if err != nil {
		return stageOutput{}, err
	}
	prints := newSegmentPrints()
	err = e.forEachSegment(ctx, run, manifest.StageSynthesize, segs, func(ctx context.Context, listed ledger.Segment) error {
		seg, current, err := e.ledger.Current(ctx, job, listed.Index)
		if err != nil {
			return err
		}
		key, err := e.SynthKey(seg)
		if err != nil {
			return err
		}
		if seg.Locked {
			prints.pin(seg.Index, pinnedPrint(prev, seg.Index, key))
			if current.HasAudio() && fileutil.Exists(current.AudioPath) {
				prints.output(current.AudioPath)
			} else {
				logging.WarnWithContext(logging.WithContext(ctx, e.logger), "locked segment has no audio", "locked_without_audio",
					logging.Int("version", current.Number),
					logging.String(logging.FieldImpact, "segment renders as silence"),
					logging.String(logging.FieldErrorHint, "unlock and regenerate the segment to give it audio"))
			}
			return nil
		}
		if current.Number == 0 || strings.TrimSpace(current.Text) == "" {
			prints.reuse(seg.Index, key)
			return nil
		}
		if current.HasAudio() && current.SynthKey == key && fileutil.Exists(current.AudioPath) {
			prints.reuse(seg.Index, key)
			prints.output(current.AudioPath)
			return nil
		}

		release, err := e.ledger.Claim(ctx, job, seg.Index, "pipeline")
		if err != nil {
			return e.deferOnConflict(ctx, run, seg.Index, err)
		}
		defer release()
		gen, err := e.synthesizeSegment(ctx, job, seg, current, key)
		if err != nil {
			return err
		}
		created, err := e.ledger.CommitGenerated(ctx, job, seg.Index, gen)
		if err != nil {
			_ = os.Remove(gen.AudioPath)
			return e.deferOnConflict(ctx, run, seg.Index, err)
		}
		prints.record(seg.Index, key)
		prints.output(created.AudioPath)
		return nil
	})
	if err != nil {
		return stageOutput{}, err
	}

	summary, err := e.synthRecords(ctx, job)
	if err != nil {
		return stageOutput{}, err
	}
	dest := filepath.Join(e.stageDir(job, manifest.StageSynthesize), "summary.json")
	if err := fileutil.WriteJSONAtomic(dest, summary); err != nil {
		return stageOutput{}, err
	}
	return stageOutput{outputs: append([]string{dest}, prints.paths()...), prints: prints}, nil
}

func (e *Executor) synthRecords(ctx context.Context, job int64) ([]synthRecord, error) {
	segs, err := e.ledger.Segments(ctx, job)
	if err != nil {
		return nil, err
	}
	records := make([]synthRecord, 0, len(segs))
	for _, seg := range segs {
		rec := synthRecord{Index: seg.Index, Version: seg.CurrentVersion, Locked: seg.Locked}
		if seg.CurrentVersion > 0 {
			_, v, err := e.ledger.Current(ctx, job, seg.Index)
			if err != nil {
				return nil, err
			}
			rec.Audio, rec.Actions, rec.Stretch, rec.Drift = v.AudioPath, v.Actions, v.Stretch, v.Drift
		}
		records = append(records, rec)
	}
	return records, nil
}

// synthesizeSegment runs the pacing model around one synthesis call: plan the
// text, synthesize, stretch toward the window, then pad or trim silence.
// Audio that still overruns after all of that is kept and flagged as drift.
func (e *Executor) synthesizeSegment(ctx context.Context, job int64, seg ledger.Segment, current ledger.Version, key string) (ledger.Generated, error) {
	logger := logging.WithContext(ctx, e.logger)
	window := seg.Window()
	if window <= 0 {
		return ledger.Generated{}, services.Wrap(services.ErrFatalInput, string(manifest.StageSynthesize), "window", fmt.Sprintf("segment %d has an empty window", seg.Index), nil)
	}
	plan := e.pacer.Plan(ctx, window, current.Text)
	actions := append([]string(nil), plan.Actions...)

	dir := e.stageDir(job, manifest.StageSynthesize)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return ledger.Generated{}, fmt.Errorf("create synth dir: %w", err)
	}
	stem := fmt.Sprintf("seg-%04d-%s", seg.Index, uuid.NewString()[:8])
	raw := filepath.Join(dir, stem+"-raw.wav")
	defer os.Remove(raw)

	res, err := e.collab.Synthesizer.Synthesize(ctx, tts.Request{
		Text:      plan.Text,
		Language:  e.cfg.Languages.Target,
		Speaker:   seg.Speaker,
		Reference: e.referenceClip(ctx, job, seg),
		Dest:      raw,
	})
	if err != nil {
		return ledger.Generated{}, err
	}
	if len(res.Attempts) > 1 {
		actions = append(actions, "voice_fallback:"+res.Provider)
	}

	clip, err := audio.Read(raw)
	if err != nil {
		return ledger.Generated{}, services.Wrap(services.ErrExternalTool, string(manifest.StageSynthesize), "read synthesized audio", "", err)
	}
	fit := e.pacer.Fit(plan, clip.Duration())
	if fit.NeedsStretch() {
		stretched := filepath.Join(dir, stem+"-stretch.wav")
		defer os.Remove(stretched)
		if err := e.collab.Stretcher.Stretch(ctx, raw, stretched, fit.Factor); err != nil {
			return ledger.Generated{}, err
		}
		if clip, err = audio.Read(stretched); err != nil {
			return ledger.Generated{}, services.Wrap(services.ErrExternalTool, string(manifest.StageSynthesize), "read stretched audio", "", err)
		}
		actions = append(actions, pacing.ActionStretch)
		if fit.Deviation {
			actions = append(actions, pacing.ActionStretchClamped)
		}
	}
	if clip.SampleRate != e.cfg.Synthesis.SampleRate {
		clip = audio.Resample(clip, e.cfg.Synthesis.SampleRate)
	}

	fitted, result := audio.PadTrim(clip, window, e.pacer.Options().SilenceThreshold)
	if result.PaddedSeconds > 0 {
		actions = append(actions, pacing.ActionPad)
	}
	if result.TrimmedSeconds > 0 {
		actions = append(actions, pacing.ActionTrim)
	}
	if result.Drifted() {
		actions = append(actions, pacing.ActionAlignmentDrift)
		logging.WarnWithContext(logger, "synthesized audio overruns its window", "alignment_drift",
			logging.Error(services.ErrAlignmentDrift),
			logging.Float64("window_seconds", window),
			logging.Float64("overflow_seconds", result.OverflowSeconds),
			logging.Float64("stretch", fit.Factor),
			logging.String(logging.FieldImpact, "segment bleeds into the next one"),
			logging.String(logging.FieldErrorHint, "shorten the segment text and regenerate"))
	}

	final := filepath.Join(dir, stem+".wav")
	if err := audio.Write(final, fitted); err != nil {
		return ledger.Generated{}, fmt.Errorf("write segment audio: %w", err)
	}
	logger.Debug("segment synthesized",
		logging.String("provider", res.Provider),
		logging.Float64("stretch", fit.Factor),
		logging.String("actions", strings.Join(actions, ",")))
	return ledger.Generated{
		Base:      current.Number,
		Text:      plan.Text,
		AudioPath: final,
		SynthKey:  key,
		Actions:   actions,
		Stretch:   fit.Factor,
		Drift:     result.Drifted(),
	}, nil
}

// referenceClip cuts the source audio of a segment for voice cloning. An
// empty path makes the clone voice report the reference unavailable.
func (e *Executor) referenceClip(ctx context.Context, job int64, seg ledger.Segment) string {
	if !e.cfg.Synthesis.VoiceClone || e.collab.Clipper == nil {
		return ""
	}
	path := filepath.Join(e.stageDir(job, manifest.StageSynthesize), "refs", fmt.Sprintf("seg-%04d.wav", seg.Index))
	if fileutil.Exists(path) {
		return path
	}
	source := e.SourceAudioPath(job)
	if !fileutil.Exists(source) {
		return ""
	}
	if err := e.collab.Clipper.Cut(ctx, source, path, seg.Start, seg.End); err != nil {
		logging.WithContext(ctx, e.logger).Debug("reference clip unavailable", logging.Error(err))
		return ""
	}
	return path
}

// RegenFunc returns the synthesizer operators use to regenerate segments of
// job outside a pipeline run.
func (e *Executor) RegenFunc(job int64) ledger.SynthFunc {
	return func(ctx context.Context, seg ledger.Segment, current ledger.Version) (ledger.Generated, error) {
		ctx = services.WithStage(services.WithJobID(ctx, job), string(manifest.StageSynthesize))
		key, err := e.SynthKey(seg)
		if err != nil {
			return ledger.Generated{}, err
		}
		return e.synthesizeSegment(ctx, job, seg, current, key)
	}
}
