package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"dubforge/internal/fileutil"
	"dubforge/internal/ledger"
	"dubforge/internal/logging"
	"dubforge/internal/manifest"
	"dubforge/internal/services"
	"dubforge/internal/services/whisperx"
)

func (e *Executor) extract(ctx context.Context, run *jobRun, _ *manifest.Manifest) (stageOutput, error) {
	dest := e.SourceAudioPath(run.job.ID)
	if err := e.collab.Extractor.Extract(ctx, run.job.SourcePath, dest); err != nil {
		return stageOutput{}, err
	}
	return stageOutput{outputs: []string{dest}}, nil
}

type turnRecord struct {
	Index   int     `json:"index"`
	Speaker string  `json:"speaker"`
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
}

// diarize registers speaker turns as segments. Segments already present keep
// their recorded bounds so review state never shifts under an operator.
func (e *Executor) diarize(ctx context.Context, run *jobRun, _ *manifest.Manifest) (stageOutput, error) {
	turns, err := e.collab.Diarizer.Diarize(ctx, e.SourceAudioPath(run.job.ID))
	if err != nil {
		return stageOutput{}, err
	}
	bounds := make([]ledger.Bounds, 0, len(turns))
	for _, t := range turns {
		bounds = append(bounds, ledger.Bounds{Index: t.Index, Start: t.Start, End: t.End, Speaker: t.Speaker})
	}
	segs, err := e.ledger.UpsertSegments(ctx, run.job.ID, bounds)
	if err != nil {
		return stageOutput{}, err
	}
	if len(segs) > len(turns) || hasMovedBounds(segs, turns) {
		logging.WithContext(ctx, e.logger).Info("kept recorded segment bounds",
			logging.Int("turns", len(turns)),
			logging.Int("segments", len(segs)))
	}

	records := make([]turnRecord, 0, len(segs))
	for _, seg := range segs {
		records = append(records, turnRecord{Index: seg.Index, Speaker: seg.Speaker, Start: seg.Start, End: seg.End})
	}
	dest := filepath.Join(e.stageDir(run.job.ID, manifest.StageDiarize), "turns.json")
	if err := fileutil.WriteJSONAtomic(dest, records); err != nil {
		return stageOutput{}, err
	}
	return stageOutput{outputs: []string{dest}}, nil
}

func hasMovedBounds(segs []ledger.Segment, turns []whisperx.Turn) bool {
	byIndex := make(map[int]ledger.Segment, len(segs))
	for _, seg := range segs {
		byIndex[seg.Index] = seg
	}
	for _, t := range turns {
		if seg, ok := byIndex[t.Index]; ok && (seg.Start != t.Start || seg.End != t.End) {
			return true
		}
	}
	return false
}

type transcriptRecord struct {
	Index  int     `json:"index"`
	Start  float64 `json:"start"`
	End    float64 `json:"end"`
	Text   string  `json:"text"`
	Locked bool    `json:"locked,omitempty"`
}

func (e *Executor) transcribe(ctx context.Context, run *jobRun, prev *manifest.Manifest) (stageOutput, error) {
	segs, err := e.ledger.Segments(ctx, run.job.ID)
	if err != nil {
		return stageOutput{}, err
	}
	audioPath := e.SourceAudioPath(run.job.ID)
	prints := newSegmentPrints()
	err = e.forEachSegment(ctx, run, manifest.StageTranscribe, segs, func(ctx context.Context, seg ledger.Segment) error {
		fp, err := e.transcribeSegmentPrint(run, seg)
		if err != nil {
			return err
		}
		if seg.Locked {
			prints.pin(seg.Index, pinnedPrint(prev, seg.Index, fp))
			return nil
		}
		if unchanged(prev, seg.Index, fp) {
			prints.reuse(seg.Index, fp)
			return nil
		}
		tr, err := e.collab.Transcriber.Transcribe(ctx, audioPath, whisperx.Bounds{Index: seg.Index, Start: seg.Start, End: seg.End})
		if err != nil {
			return err
		}
		applied, err := e.ledger.SetSourceText(ctx, run.job.ID, seg.Index, tr.Text)
		if err != nil {
			return err
		}
		if !applied {
			prints.pin(seg.Index, pinnedPrint(prev, seg.Index, fp))
			return nil
		}
		prints.record(seg.Index, fp)
		return nil
	})
	if err != nil {
		return stageOutput{}, err
	}

	segs, err = e.ledger.Segments(ctx, run.job.ID)
	if err != nil {
		return stageOutput{}, err
	}
	records := make([]transcriptRecord, 0, len(segs))
	for _, seg := range segs {
		records = append(records, transcriptRecord{Index: seg.Index, Start: seg.Start, End: seg.End, Text: seg.SourceText, Locked: seg.Locked})
	}
	dest := filepath.Join(e.stageDir(run.job.ID, manifest.StageTranscribe), "transcript.json")
	if err := fileutil.WriteJSONAtomic(dest, records); err != nil {
		return stageOutput{}, err
	}
	return stageOutput{outputs: []string{dest}, prints: prints}, nil
}

type translationRecord struct {
	Index   int    `json:"index"`
	Source  string `json:"source"`
	Target  string `json:"target"`
	Version int    `json:"version"`
	Locked  bool   `json:"locked,omitempty"`
}

func (e *Executor) translate(ctx context.Context, run *jobRun, prev *manifest.Manifest) (stageOutput, error) {
	segs, err := e.ledger.Segments(ctx, run.job.ID)
	if err != nil {
		return stageOutput{}, err
	}
	src, tgt := e.cfg.Languages.Source, e.cfg.Languages.Target
	prints := newSegmentPrints()
	err = e.forEachSegment(ctx, run, manifest.StageTranslate, segs, func(ctx context.Context, seg ledger.Segment) error {
		fp, err := e.translateSegmentPrint(seg)
		if err != nil {
			return err
		}
		if seg.Locked {
			prints.pin(seg.Index, pinnedPrint(prev, seg.Index, fp))
			return nil
		}
		if unchanged(prev, seg.Index, fp) {
			prints.reuse(seg.Index, fp)
			return nil
		}
		if strings.TrimSpace(seg.SourceText) == "" {
			// Nothing was said; the segment renders as silence.
			prints.record(seg.Index, fp)
			return nil
		}
		text, err := e.collab.Translator.Translate(ctx, seg.SourceText, src, tgt)
		if err != nil {
			return err
		}
		if _, _, err := e.ledger.ProposeText(ctx, run.job.ID, seg.Index, text); err != nil {
			return e.deferOnConflict(ctx, run, seg.Index, err)
		}
		prints.record(seg.Index, fp)
		return nil
	})
	if err != nil {
		return stageOutput{}, err
	}

	records, err := e.translationRecords(ctx, run.job.ID)
	if err != nil {
		return stageOutput{}, err
	}
	dest := filepath.Join(e.stageDir(run.job.ID, manifest.StageTranslate), "translation.json")
	if err := fileutil.WriteJSONAtomic(dest, records); err != nil {
		return stageOutput{}, err
	}
	return stageOutput{outputs: []string{dest}, prints: prints}, nil
}

func (e *Executor) translationRecords(ctx context.Context, job int64) ([]translationRecord, error) {
	segs, err := e.ledger.Segments(ctx, job)
	if err != nil {
		return nil, err
	}
	records := make([]translationRecord, 0, len(segs))
	for _, seg := range segs {
		rec := translationRecord{Index: seg.Index, Source: seg.SourceText, Version: seg.CurrentVersion, Locked: seg.Locked}
		if seg.CurrentVersion > 0 {
			_, current, err := e.ledger.Current(ctx, job, seg.Index)
			if err != nil {
				return nil, err
			}
			rec.Target = current.Text
		}
		records = append(records, rec)
	}
	return records, nil
}

// mix composes the dub timeline from current versions and lays it over the
// source audio. With streaming enabled the timeline is also cut into chunks.
func (e *Executor) mix(ctx context.Context, run *jobRun, _ *manifest.Manifest) (stageOutput, error) {
	job := run.job.ID
	comp, err := e.composer.ComposeTimeline(ctx, job, e.composer.TimelinePath(job))
	if err != nil {
		return stageOutput{}, err
	}
	if len(comp.Missing) > 0 {
		logging.WarnWithContext(logging.WithContext(ctx, e.logger), "segments without audio render as silence", "segments_missing_audio",
			logging.Int("count", len(comp.Missing)),
			logging.String("segments", formatIndices(comp.Missing)),
			logging.String(logging.FieldImpact, "dub track has silent gaps"),
			logging.String(logging.FieldErrorHint, "review the listed segments"))
	}
	track := e.composer.TrackPath(job)
	if err := e.composer.MixTrack(ctx, run.job.SourcePath, comp.Path, track); err != nil {
		return stageOutput{}, err
	}
	outputs := []string{comp.Path, track}
	if e.cfg.Streaming.Enabled {
		chunks, err := e.composer.StreamChunks(ctx, job, comp.Path)
		if err != nil {
			return stageOutput{}, err
		}
		for _, c := range chunks {
			if c.Status == manifest.ChunkDone {
				outputs = append(outputs, c.Artifact)
			}
		}
		if log := e.composer.ChunkLogPath(job); fileutil.Exists(log) {
			outputs = append(outputs, log)
		}
	}
	return stageOutput{outputs: outputs}, nil
}

func (e *Executor) mux(ctx context.Context, run *jobRun, _ *manifest.Manifest) (stageOutput, error) {
	job := run.job.ID
	track := e.composer.TrackPath(job)
	if !fileutil.Exists(track) {
		return stageOutput{}, services.Wrap(services.ErrNotFound, string(manifest.StageMux), "open track", "mixed track missing: "+track, nil)
	}
	dest := e.composer.OutputPath(run.job.SourcePath)
	if err := e.composer.Mux(ctx, run.job.SourcePath, track, dest); err != nil {
		return stageOutput{}, err
	}
	return stageOutput{outputs: []string{dest}}, nil
}

func formatIndices(values []int) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = fmt.Sprint(v)
	}
	return strings.Join(parts, ",")
}
