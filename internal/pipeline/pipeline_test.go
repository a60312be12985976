package pipeline_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"sync"
	"testing"

	"dubforge/internal/audio"
	"dubforge/internal/config"
	"dubforge/internal/ledger"
	"dubforge/internal/manifest"
	"dubforge/internal/pipeline"
	"dubforge/internal/queue"
	"dubforge/internal/services"
	"dubforge/internal/services/whisperx"
	"dubforge/internal/testsupport"
)

type harness struct {
	t         *testing.T
	cfg       *config.Config
	ledger    *ledger.Ledger
	manifests *manifest.Store
	engines   *testsupport.Engines
	exec      *pipeline.Executor
	job       *queue.Job
}

func newHarness(t *testing.T, opts ...testsupport.ConfigOption) *harness {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	store := testsupport.MustOpenStore(t, cfg)
	source := filepath.Join(testsupport.BaseDir(cfg), "film.mkv")
	testsupport.WriteFile(t, source, 256)
	h := &harness{
		t:         t,
		cfg:       cfg,
		ledger:    testsupport.MustOpenLedger(t, cfg),
		manifests: manifest.NewStore(cfg.ManifestDir(), nil),
		engines:   testsupport.NewEngines(testsupport.Turns(2, 3, 2.5, 2, 3.2)...),
		job:       testsupport.NewJob(t, store, source),
	}
	h.rebuild()
	return h
}

// rebuild recreates the executor so config changes take effect.
func (h *harness) rebuild() {
	h.exec = pipeline.New(h.cfg, h.manifests, h.ledger, h.engines.Collaborators(), nil)
}

func (h *harness) run(opts pipeline.RunOptions) pipeline.Result {
	h.t.Helper()
	res, err := h.exec.RunJob(context.Background(), h.job, opts)
	if err != nil {
		h.t.Fatalf("RunJob: %v", err)
	}
	return res
}

func (h *harness) current(index int) (ledger.Segment, ledger.Version) {
	h.t.Helper()
	seg, v, err := h.ledger.Current(context.Background(), h.job.ID, index)
	if err != nil {
		h.t.Fatalf("Current(%d): %v", index, err)
	}
	return seg, v
}

func assertSkipped(t *testing.T, res pipeline.Result, want map[manifest.Stage]bool) {
	t.Helper()
	for stage, skipped := range want {
		sr, ok := res.Stage(stage)
		if !ok {
			t.Fatalf("stage %s missing from result", stage)
		}
		if sr.Skipped != skipped {
			t.Fatalf("stage %s skipped=%v, want %v", stage, sr.Skipped, skipped)
		}
	}
}

func TestRunJobProducesDubbedOutput(t *testing.T) {
	h := newHarness(t)
	res := h.run(pipeline.RunOptions{})

	if res.Artifact != filepath.Join(h.cfg.Paths.OutputDir, "film.es.mkv") {
		t.Fatalf("artifact = %q", res.Artifact)
	}
	if _, err := os.Stat(res.Artifact); err != nil {
		t.Fatalf("artifact missing: %v", err)
	}
	if len(res.Stages) != len(manifest.Order()) {
		t.Fatalf("expected every stage in result, got %d", len(res.Stages))
	}
	for i := 0; i < 5; i++ {
		seg, v := h.current(i)
		if seg.SourceText == "" || !v.HasAudio() {
			t.Fatalf("segment %d not dubbed: %+v %+v", i, seg, v)
		}
		if v.CreatedBy != ledger.ActorPipeline {
			t.Fatalf("segment %d version created by %q", i, v.CreatedBy)
		}
		d, err := audio.Duration(v.AudioPath)
		if err != nil {
			t.Fatal(err)
		}
		if !v.Drift && (d < seg.Window()*0.9 || d > seg.Window()*1.1) {
			t.Fatalf("segment %d audio %.3fs outside window %.3fs", i, d, seg.Window())
		}
	}
	for _, row := range h.manifests.Stages(context.Background(), h.job.ID) {
		if row.Manifest == nil || row.Manifest.Status != manifest.StatusCompleted {
			t.Fatalf("stage %s manifest not completed: %+v", row.Stage, row.Manifest)
		}
	}
}

func TestRerunMakesNoExternalCalls(t *testing.T) {
	h := newHarness(t)
	first := h.run(pipeline.RunOptions{})
	before, _ := h.ledger.ReviewState(context.Background(), h.job.ID)
	h.engines.Reset()

	var started []manifest.Stage
	second := h.run(pipeline.RunOptions{OnStage: func(_ context.Context, s manifest.Stage) { started = append(started, s) }})
	if n := h.engines.TotalCalls(); n != 0 {
		t.Fatalf("expected no engine calls on rerun, got %d", n)
	}
	if len(started) != 0 {
		t.Fatalf("expected no stage to execute, got %v", started)
	}
	for i, sr := range second.Stages {
		if !sr.Skipped || sr.Fingerprint != first.Stages[i].Fingerprint {
			t.Fatalf("stage %s rerun: %+v", sr.Stage, sr)
		}
	}
	after, _ := h.ledger.ReviewState(context.Background(), h.job.ID)
	for idx, state := range before {
		if after[idx] != state {
			t.Fatalf("rerun changed segment %d: %+v -> %+v", idx, state, after[idx])
		}
	}
}

func TestVoiceChangeRerunsSynthesisOnward(t *testing.T) {
	h := newHarness(t)
	h.run(pipeline.RunOptions{})
	h.engines.Reset()

	h.cfg.Synthesis.GenericVoice = "narrator"
	h.rebuild()
	res := h.run(pipeline.RunOptions{})

	assertSkipped(t, res, map[manifest.Stage]bool{
		manifest.StageExtract:    true,
		manifest.StageDiarize:    true,
		manifest.StageTranscribe: true,
		manifest.StageTranslate:  true,
		manifest.StageSynthesize: false,
		manifest.StageMix:        false,
		manifest.StageMux:        false,
	})
	if got := h.engines.Calls("synthesize"); got != 5 {
		t.Fatalf("synthesize calls = %d, want 5", got)
	}
	if got := h.engines.Calls("translate") + h.engines.Calls("transcribe"); got != 0 {
		t.Fatalf("upstream engines called %d times", got)
	}
}

func TestEditedSegmentIsReprocessedAlone(t *testing.T) {
	h := newHarness(t)
	h.run(pipeline.RunOptions{})
	h.engines.Reset()

	edited, err := h.ledger.Edit(context.Background(), h.job.ID, 3, "texto corregido aqui", ledger.ActorOperator)
	if err != nil {
		t.Fatalf("Edit: %v", err)
	}
	res := h.run(pipeline.RunOptions{})

	if got := h.engines.Transcribed(); !slices.Equal(got, []int{3}) {
		t.Fatalf("transcribed segments = %v, want [3]", got)
	}
	if got := h.engines.Calls("translate"); got != 0 {
		t.Fatalf("translate calls = %d; unchanged transcript must keep the edit", got)
	}
	if got := h.engines.Synthesized(); len(got) != 1 || got[0] != "texto corregido aqui" {
		t.Fatalf("synthesized = %v", got)
	}
	_, v := h.current(3)
	if v.Number != edited.Number+1 || v.Text != "texto corregido aqui" || !v.HasAudio() {
		t.Fatalf("expected audio version on top of the edit, got %+v", v)
	}
	if sr, _ := res.Stage(manifest.StageTranscribe); sr.Processed != 1 || sr.Reused != 4 {
		t.Fatalf("transcribe processed=%d reused=%d", sr.Processed, sr.Reused)
	}
}

func TestLockedEditIsNeverReprocessed(t *testing.T) {
	h := newHarness(t)
	h.run(pipeline.RunOptions{})
	h.engines.Reset()

	ctx := context.Background()
	edited, err := h.ledger.Edit(ctx, h.job.ID, 3, "texto bloqueado", ledger.ActorOperator)
	if err != nil {
		t.Fatalf("Edit: %v", err)
	}
	if err := h.ledger.Lock(ctx, h.job.ID, 3, edited.Number); err != nil {
		t.Fatalf("Lock: %v", err)
	}
	res := h.run(pipeline.RunOptions{})

	if got := h.engines.Transcribed(); len(got) != 0 {
		t.Fatalf("locked segment was transcribed: %v", got)
	}
	if got := h.engines.Calls("synthesize"); got != 0 {
		t.Fatalf("locked segment was synthesized %d times", got)
	}
	seg, v := h.current(3)
	if !seg.Locked || v.Number != edited.Number || v.Text != "texto bloqueado" {
		t.Fatalf("locked segment changed: %+v %+v", seg, v)
	}
	if !slices.Contains(res.Locked, 3) {
		t.Fatalf("result locked = %v", res.Locked)
	}
	m, err := h.manifests.Lookup(ctx, h.job.ID, manifest.StageSynthesize)
	if err != nil || m == nil {
		t.Fatalf("synthesize manifest: %v", err)
	}
	if _, ok := m.Pinned[3]; !ok {
		t.Fatalf("locked segment not pinned: %+v", m.Pinned)
	}
}

func TestLockedSegmentSurvivesSettingChanges(t *testing.T) {
	h := newHarness(t)
	h.run(pipeline.RunOptions{})
	ctx := context.Background()
	_, locked := h.current(1)
	if err := h.ledger.Lock(ctx, h.job.ID, 1, locked.Number); err != nil {
		t.Fatalf("Lock: %v", err)
	}
	h.engines.Reset()

	h.cfg.Synthesis.GenericVoice = "narrator"
	h.rebuild()
	h.run(pipeline.RunOptions{})

	if got := h.engines.Calls("synthesize"); got != 4 {
		t.Fatalf("synthesize calls = %d, want 4", got)
	}
	_, v := h.current(1)
	if v.Number != locked.Number || v.AudioPath != locked.AudioPath {
		t.Fatalf("locked version replaced: %+v", v)
	}
}

func TestPacingStretchesOrFlagsDrift(t *testing.T) {
	tests := []struct {
		name       string
		transcript string
		drift      bool
		actions    []string
	}{
		{
			name:       "stretch fits window",
			transcript: "alpha bravo charlie delta echo foxtrot golf hotel",
			actions:    []string{"stretch"},
		},
		{
			name:       "clamped stretch drifts",
			transcript: "alpha bravo charlie delta echo foxtrot golf hotel india juliet kilo",
			drift:      true,
			actions:    []string{"stretch", "stretch_clamped", "alignment_drift"},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, testsupport.WithStrictness(config.StrictnessConservative))
			h.engines.Transcripts[4] = tc.transcript
			res := h.run(pipeline.RunOptions{})

			seg, v := h.current(4)
			if v.Drift != tc.drift {
				t.Fatalf("drift = %v, want %v (actions %v)", v.Drift, tc.drift, v.Actions)
			}
			for _, a := range tc.actions {
				if !slices.Contains(v.Actions, a) {
					t.Fatalf("actions %v missing %q", v.Actions, a)
				}
			}
			d, err := audio.Duration(v.AudioPath)
			if err != nil {
				t.Fatal(err)
			}
			if tc.drift {
				if d <= seg.Window() || !slices.Contains(res.Drifted, 4) {
					t.Fatalf("expected overrun kept and reported, duration %.3f drifted %v", d, res.Drifted)
				}
				return
			}
			if d < seg.Window()*0.9 || d > seg.Window()*1.1 {
				t.Fatalf("duration %.3f outside window %.3f", d, seg.Window())
			}
			if v.Stretch <= 1 || v.Stretch > h.cfg.Pacing.MaxStretch {
				t.Fatalf("stretch = %v", v.Stretch)
			}
		})
	}
}

func TestStageFailureKeepsEarlierManifests(t *testing.T) {
	h := newHarness(t)
	h.engines.FailOn("synthesize", services.Wrap(services.ErrTransient, "synthesize", "tts", "engine unavailable", nil))

	_, err := h.exec.RunJob(context.Background(), h.job, pipeline.RunOptions{})
	if err == nil {
		t.Fatal("expected synthesis failure")
	}
	details := services.Details(err)
	if details.Kind != services.KindTransient || details.Stage != string(manifest.StageSynthesize) || details.Segment < 0 {
		t.Fatalf("unexpected details: %+v", details)
	}

	h.engines.FailOn("synthesize", nil)
	h.engines.Reset()
	res := h.run(pipeline.RunOptions{})
	assertSkipped(t, res, map[manifest.Stage]bool{
		manifest.StageTranscribe: true,
		manifest.StageTranslate:  true,
		manifest.StageSynthesize: false,
	})
	if h.engines.Calls("transcribe")+h.engines.Calls("translate") != 0 {
		t.Fatal("retry redid completed stages")
	}
}

func TestFatalExtractFailure(t *testing.T) {
	h := newHarness(t)
	h.engines.FailOn("extract", services.Wrap(services.ErrFatalInput, "extract", "probe source", "no audio stream", nil))
	_, err := h.exec.RunJob(context.Background(), h.job, pipeline.RunOptions{})
	if !errors.Is(err, services.ErrFatalInput) {
		t.Fatalf("expected fatal input, got %v", err)
	}
	if d := services.Details(err); d.Stage != string(manifest.StageExtract) || d.Retryable {
		t.Fatalf("unexpected details: %+v", d)
	}
	if h.engines.Calls("diarize") != 0 {
		t.Fatal("later stages ran after a fatal failure")
	}
}

func TestMissingSourceIsFatal(t *testing.T) {
	h := newHarness(t)
	if err := os.Remove(h.job.SourcePath); err != nil {
		t.Fatal(err)
	}
	_, err := h.exec.RunJob(context.Background(), h.job, pipeline.RunOptions{})
	if services.Classify(err) != services.KindFatal {
		t.Fatalf("expected fatal classification, got %v", err)
	}
}

func TestCancellationStopsAtSegmentBoundary(t *testing.T) {
	h := newHarness(t)
	cancelled := false
	opts := pipeline.RunOptions{
		Cancelled: func(context.Context) bool { return cancelled },
		OnStage: func(_ context.Context, s manifest.Stage) {
			if s == manifest.StageTranslate {
				cancelled = true
			}
		},
	}
	_, err := h.exec.RunJob(context.Background(), h.job, opts)
	if services.Classify(err) != services.KindCancelled {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if h.engines.Calls("translate") != 0 {
		t.Fatalf("translation started after cancel")
	}
	ctx := context.Background()
	if !h.manifests.IsUpToDate(ctx, h.job.ID, manifest.StageTranscribe, mustPrint(t, h, manifest.StageTranscribe)) {
		t.Fatal("completed stage lost its manifest")
	}
	if m, _ := h.manifests.Lookup(ctx, h.job.ID, manifest.StageTranslate); m != nil {
		t.Fatalf("cancelled stage recorded a manifest: %+v", m)
	}

	h.engines.Reset()
	res := h.run(pipeline.RunOptions{})
	assertSkipped(t, res, map[manifest.Stage]bool{manifest.StageTranscribe: true, manifest.StageTranslate: false})
	if h.engines.Calls("transcribe") != 0 {
		t.Fatal("resume re-transcribed")
	}
}

func mustPrint(t *testing.T, h *harness, stage manifest.Stage) string {
	t.Helper()
	m, err := h.manifests.Lookup(context.Background(), h.job.ID, stage)
	if err != nil || m == nil {
		t.Fatalf("lookup %s: %v", stage, err)
	}
	return m.Fingerprint
}

func TestCorruptManifestIsRegenerated(t *testing.T) {
	h := newHarness(t)
	h.run(pipeline.RunOptions{})
	h.engines.Reset()

	path := filepath.Join(h.cfg.ManifestDir(), strconv.FormatInt(h.job.ID, 10), string(manifest.StageTranslate)+".json")
	if err := os.WriteFile(path, []byte(`{"stage":`), 0o644); err != nil {
		t.Fatal(err)
	}
	res := h.run(pipeline.RunOptions{})
	assertSkipped(t, res, map[manifest.Stage]bool{manifest.StageTranscribe: true, manifest.StageTranslate: false})
	if got := h.engines.Calls("translate"); got != 5 {
		t.Fatalf("translate calls = %d, want 5", got)
	}
	if got := h.engines.Calls("synthesize"); got != 0 {
		t.Fatalf("identical translations must keep their audio, got %d syntheses", got)
	}
}

func TestOperatorInvalidationRedoesStage(t *testing.T) {
	h := newHarness(t)
	h.run(pipeline.RunOptions{})
	h.engines.Reset()

	if _, err := h.manifests.Invalidate(context.Background(), h.job.ID, manifest.StageTranscribe); err != nil {
		t.Fatal(err)
	}
	h.run(pipeline.RunOptions{})
	if got := h.engines.Calls("transcribe"); got != 5 {
		t.Fatalf("transcribe calls = %d, want 5", got)
	}
	if got := h.engines.Calls("translate"); got != 0 {
		t.Fatalf("downstream stages must reuse unchanged segments, got %d translations", got)
	}
}

func TestRegenFuncCommitsThroughLedger(t *testing.T) {
	h := newHarness(t)
	h.run(pipeline.RunOptions{})
	h.engines.Reset()

	ctx := context.Background()
	v, err := h.ledger.Regen(ctx, h.job.ID, 2, ledger.ActorOperator, h.exec.RegenFunc(h.job.ID))
	if err != nil {
		t.Fatalf("Regen: %v", err)
	}
	if !v.HasAudio() || v.CreatedBy != ledger.ActorOperator {
		t.Fatalf("unexpected regen version: %+v", v)
	}
	h.engines.Reset()
	h.run(pipeline.RunOptions{})
	if got := h.engines.Calls("synthesize"); got != 0 {
		t.Fatalf("regenerated audio must be reused, got %d syntheses", got)
	}
	if _, cur := h.current(2); cur.Number != v.Number {
		t.Fatalf("regen version replaced: %d -> %d", v.Number, cur.Number)
	}
}

func TestStreamingWritesChunks(t *testing.T) {
	h := newHarness(t, testsupport.WithStreaming(5, 0.5))
	h.run(pipeline.RunOptions{})

	log := manifest.OpenChunkLog(h.exec.Composer().ChunkLogPath(h.job.ID))
	last, err := log.LastDone()
	if err != nil {
		t.Fatal(err)
	}
	// 12.7s of timeline in 5s chunks.
	if last != 2 {
		t.Fatalf("LastDone = %d, want 2", last)
	}
	entries, _ := log.Entries()
	if entries[1].OverlapSeconds != 0.5 || entries[1].Start != 4.5 {
		t.Fatalf("unexpected overlap: %+v", entries[1])
	}
}

// interruptingTranscriber cancels the run context from inside the first call
// and records whether any call saw its own context cancelled.
type interruptingTranscriber struct {
	pipeline.Transcriber
	cancel    context.CancelFunc
	mu        sync.Mutex
	calls     int
	sawCancel bool
}

func (t *interruptingTranscriber) Transcribe(ctx context.Context, audioPath string, b whisperx.Bounds) (whisperx.Transcript, error) {
	t.mu.Lock()
	t.calls++
	first := t.calls == 1
	t.mu.Unlock()
	if first {
		t.cancel()
	}
	if ctx.Err() != nil {
		t.mu.Lock()
		t.sawCancel = true
		t.mu.Unlock()
	}
	return t.Transcriber.Transcribe(ctx, audioPath, b)
}

func TestInterruptLetsInFlightCallsFinish(t *testing.T) {
	h := newHarness(t, testsupport.WithSegmentParallelism(1))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	collab := h.engines.Collaborators()
	tr := &interruptingTranscriber{Transcriber: collab.Transcriber, cancel: cancel}
	collab.Transcriber = tr
	exec := pipeline.New(h.cfg, h.manifests, h.ledger, collab, nil)

	_, err := exec.RunJob(ctx, h.job, pipeline.RunOptions{})
	if services.Classify(err) != services.KindCancelled {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if tr.sawCancel {
		t.Fatal("in-flight transcription observed the interrupt")
	}
	// One more segment may have been admitted before the interrupt landed.
	if tr.calls > 2 {
		t.Fatalf("transcribe calls = %d, segments kept starting after the interrupt", tr.calls)
	}
	if h.engines.Calls("transcribe") != tr.calls {
		t.Fatalf("in-flight calls did not complete: engine saw %d of %d", h.engines.Calls("transcribe"), tr.calls)
	}
	if h.engines.Calls("translate") != 0 {
		t.Fatal("translation started after interrupt")
	}
}

func TestClaimedSegmentIsDeferred(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	other, err := ledger.OpenPath(ctx, h.cfg.ReviewDBPath(), nil)
	if err != nil {
		t.Fatalf("OpenPath: %v", err)
	}
	defer other.Close()
	release, err := other.Claim(ctx, h.job.ID, 1, "regen")
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}

	res := h.run(pipeline.RunOptions{})
	if !slices.Contains(res.Deferred, 1) {
		t.Fatalf("claimed segment not deferred: %v", res.Deferred)
	}
	if _, v := h.current(1); v.HasAudio() {
		t.Fatalf("claimed segment was synthesized: %+v", v)
	}
	if _, v := h.current(0); !v.HasAudio() {
		t.Fatal("unclaimed segment missing audio")
	}

	release()
	h.run(pipeline.RunOptions{})
	if _, v := h.current(1); !v.HasAudio() {
		t.Fatal("segment still silent after the claim was released")
	}
}
