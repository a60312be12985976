package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"time"

	"dubforge/internal/config"
	"dubforge/internal/fingerprint"
	"dubforge/internal/ledger"
	"dubforge/internal/logging"
	"dubforge/internal/manifest"
	"dubforge/internal/pacing"
	"dubforge/internal/queue"
	"dubforge/internal/render"
	"dubforge/internal/services"
)

// Executor runs jobs through the stage sequence.
type Executor struct {
	cfg       *config.Config
	manifests *manifest.Store
	ledger    *ledger.Ledger
	pacer     *pacing.Engine
	composer  *render.Composer
	collab    Collaborators
	logger    *slog.Logger
}

// New builds an executor. The review ledger is shared with operator tooling;
// the pipeline only writes to it through its pipeline hooks.
func New(cfg *config.Config, manifests *manifest.Store, l *ledger.Ledger, collab Collaborators, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Executor{
		cfg:       cfg,
		manifests: manifests,
		ledger:    l,
		pacer:     pacing.New(pacing.OptionsFromConfig(cfg), collab.Rewriter, logger),
		composer:  render.New(cfg, l, collab.Media, logger),
		collab:    collab,
		logger:    logging.NewComponentLogger(logger, "pipeline"),
	}
}

// Composer exposes the renderer used for the mix and mux stages.
func (e *Executor) Composer() *render.Composer { return e.composer }

// RunOptions hooks a run into its caller.
type RunOptions struct {
	// Cancelled is polled at stage and segment boundaries. In-flight calls
	// always finish; cancelling the RunJob context is treated the same way.
	Cancelled func(ctx context.Context) bool
	// OnStage is called before a stage executes. Skipped stages do not call it.
	OnStage func(ctx context.Context, stage manifest.Stage)
}

// StageResult reports what one stage did.
type StageResult struct {
	Stage       manifest.Stage
	Fingerprint string
	Skipped     bool
	// Processed counts segments whose work was redone; Reused counts
	// segments whose previous output was kept.
	Processed int
	Reused    int
	Pinned    int
	Elapsed   time.Duration
}

// Result summarizes a job run.
type Result struct {
	JobID    int64
	Artifact string
	Stages   []StageResult
	// Drifted lists segments whose audio still overruns its window.
	Drifted []int
	Locked  []int
	// Deferred lists segments skipped because an operator was writing them.
	Deferred []int
}

// Stage returns the result of stage if it ran or was skipped.
func (r Result) Stage(stage manifest.Stage) (StageResult, bool) {
	for _, sr := range r.Stages {
		if sr.Stage == stage {
			return sr, true
		}
	}
	return StageResult{}, false
}

// stageOutput is what a stage body hands back for its manifest.
type stageOutput struct {
	outputs []string
	prints  *segmentPrints
}

type stageDef struct {
	stage       manifest.Stage
	fingerprint func(ctx context.Context, run *jobRun, upstream string) (string, error)
	execute     func(ctx context.Context, run *jobRun, prev *manifest.Manifest) (stageOutput, error)
}

func (e *Executor) stages() []stageDef {
	return []stageDef{
		{manifest.StageExtract, e.extractPrint, e.extract},
		{manifest.StageDiarize, e.diarizePrint, e.diarize},
		{manifest.StageTranscribe, e.transcribePrint, e.transcribe},
		{manifest.StageTranslate, e.translatePrint, e.translate},
		{manifest.StageSynthesize, e.synthesizePrint, e.synthesize},
		{manifest.StageMix, e.mixPrint, e.mix},
		{manifest.StageMux, e.muxPrint, e.mux},
	}
}

// jobRun carries per-run state across stages.
type jobRun struct {
	// interrupt is the caller's context. Stages and collaborators run on a
	// detached copy, so its cancellation is only observed at boundaries.
	interrupt context.Context
	job       *queue.Job
	opts      RunOptions
	previous  map[manifest.Stage]*manifest.Manifest
	prints    map[manifest.Stage]string
	result    Result
	deferred  *segmentPrints
}

func (r *jobRun) cancelled(ctx context.Context) bool {
	if r.interrupt != nil && r.interrupt.Err() != nil {
		return true
	}
	return r.opts.Cancelled != nil && r.opts.Cancelled(ctx)
}

func cancelledError(stage manifest.Stage) error {
	return services.Wrap(services.ErrCancelled, string(stage), "", "job cancelled", nil)
}

// RunJob executes every stage of job in order, skipping stages whose
// fingerprint matches their manifest. The returned error carries the failing
// stage; the Result is populated up to that point. Cancelling ctx stops the
// run at the next stage or segment boundary without aborting calls already
// in flight; collaborators bound those with their own timeouts.
func (e *Executor) RunJob(ctx context.Context, job *queue.Job, opts RunOptions) (Result, error) {
	if job == nil {
		return Result{}, errors.New("pipeline: job is required")
	}
	interrupt := ctx
	ctx = services.WithJobID(context.WithoutCancel(ctx), job.ID)
	run := &jobRun{
		interrupt: interrupt,
		job:       job,
		opts:      opts,
		previous:  e.snapshot(ctx, job.ID),
		prints:    make(map[manifest.Stage]string),
		result:    Result{JobID: job.ID},
		deferred:  newSegmentPrints(),
	}
	if err := os.MkdirAll(e.cfg.JobWorkDir(job.ID), 0o755); err != nil {
		return run.result, fmt.Errorf("create work dir: %w", err)
	}

	upstream := ""
	for _, def := range e.stages() {
		if run.cancelled(ctx) {
			return run.result, services.NewStageError(string(def.stage), -1, cancelledError(def.stage))
		}
		sr, err := e.runStage(ctx, run, def, upstream)
		run.result.Stages = append(run.result.Stages, sr)
		if err != nil {
			return run.result, services.NewStageError(string(def.stage), -1, err)
		}
		run.prints[def.stage] = sr.Fingerprint
		upstream = sr.Fingerprint
	}

	run.result.Artifact = e.composer.OutputPath(job.SourcePath)
	run.result.Deferred = run.deferred.indices()
	if err := e.collectSegmentState(ctx, &run.result); err != nil {
		return run.result, err
	}
	logging.WithContext(ctx, e.logger).Info("job pipeline completed",
		logging.String(logging.FieldEventType, "job_pipeline_complete"),
		logging.String("artifact", run.result.Artifact),
		logging.Int("drifted_segments", len(run.result.Drifted)),
		logging.Int("locked_segments", len(run.result.Locked)))
	return run.result, nil
}

// snapshot loads the manifests of job whose segment fingerprints may be
// reused. Explicitly invalidated stages are left out so they redo every segment.
func (e *Executor) snapshot(ctx context.Context, job int64) map[manifest.Stage]*manifest.Manifest {
	out := make(map[manifest.Stage]*manifest.Manifest)
	for _, row := range e.manifests.Stages(ctx, job) {
		if row.Err != nil {
			logging.WarnWithContext(logging.WithContext(ctx, e.logger), "stage manifest unreadable; stage will rerun", "manifest_corrupt",
				logging.String(logging.FieldStage, string(row.Stage)),
				logging.Error(row.Err),
				logging.String(logging.FieldImpact, "stage outputs are regenerated"))
			continue
		}
		if row.Manifest.Reusable() {
			out[row.Stage] = row.Manifest
		}
	}
	return out
}

func (e *Executor) runStage(ctx context.Context, run *jobRun, def stageDef, upstream string) (StageResult, error) {
	stageCtx := services.WithStage(ctx, string(def.stage))
	logger := logging.WithContext(stageCtx, e.logger)
	sr := StageResult{Stage: def.stage}
	started := time.Now()

	fp, err := def.fingerprint(stageCtx, run, upstream)
	if err != nil {
		return sr, err
	}
	sr.Fingerprint = fp
	if e.manifests.IsUpToDate(stageCtx, run.job.ID, def.stage, fp) {
		sr.Skipped = true
		logger.Info("stage skipped",
			logging.String(logging.FieldEventType, "stage_skipped"),
			logging.String("fingerprint", shortPrint(fp)))
		return sr, nil
	}

	if run.opts.OnStage != nil {
		run.opts.OnStage(stageCtx, def.stage)
	}
	logger.Info("stage started",
		logging.String(logging.FieldEventType, "stage_start"),
		logging.String("fingerprint", shortPrint(fp)),
		logging.String("source_file", run.job.SourcePath))

	if marked, err := e.manifests.Supersede(stageCtx, run.job.ID, def.stage); err != nil {
		logging.WarnWithContext(logger, "failed to mark downstream manifests stale", "manifest_invalidate_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "downstream stages are still rerun through their fingerprints"))
	} else if len(marked) > 0 {
		logger.Debug("manifests marked stale", logging.Int("stages", len(marked)))
	}

	deferredBefore := len(run.deferred.indices())
	out, err := def.execute(stageCtx, run, run.previous[def.stage])
	if err != nil {
		logger.Error("stage failed",
			logging.String(logging.FieldEventType, "stage_failure"),
			logging.String("error_kind", string(services.Classify(err))),
			logging.Error(err))
		return sr, err
	}

	if n := len(run.deferred.indices()) - deferredBefore; n > 0 {
		// A partial print never matches a fresh one, so the next run
		// revisits this stage and everything downstream of it.
		partial, err := fingerprint.New(string(def.stage)).String("partial", fp).Int("deferred", int64(n)).Sum()
		if err != nil {
			return sr, err
		}
		fp = partial
		sr.Fingerprint = fp
		logger.Info("stage left partial; deferred segments rerun next time",
			logging.String(logging.FieldEventType, "stage_partial"),
			logging.Int("deferred_segments", n))
	}
	rec := manifest.Record{Fingerprint: fp, Outputs: out.outputs}
	if out.prints != nil {
		rec.Segments, rec.Pinned = out.prints.tables()
		sr.Processed, sr.Reused, sr.Pinned = out.prints.counts()
	}
	if _, err := e.manifests.RecordCompletion(stageCtx, run.job.ID, def.stage, rec); err != nil {
		return sr, err
	}
	sr.Elapsed = time.Since(started)
	logger.Info("stage completed",
		logging.String(logging.FieldEventType, "stage_complete"),
		logging.Int("processed_segments", sr.Processed),
		logging.Int("reused_segments", sr.Reused),
		logging.Int("pinned_segments", sr.Pinned),
		logging.Duration("elapsed", sr.Elapsed))
	return sr, nil
}

// collectSegmentState reports drifted and locked segments after a run.
func (e *Executor) collectSegmentState(ctx context.Context, result *Result) error {
	segs, err := e.ledger.Segments(ctx, result.JobID)
	if err != nil {
		return err
	}
	for _, seg := range segs {
		if seg.Locked {
			result.Locked = append(result.Locked, seg.Index)
		}
		if seg.CurrentVersion == 0 {
			continue
		}
		_, current, err := e.ledger.Current(ctx, result.JobID, seg.Index)
		if err != nil {
			return err
		}
		if current.Drift {
			result.Drifted = append(result.Drifted, seg.Index)
		}
	}
	return nil
}

func (e *Executor) stageDir(job int64, stage manifest.Stage) string {
	return filepath.Join(e.cfg.JobWorkDir(job), string(stage))
}

// SourceAudioPath returns where the extract stage writes job's audio.
func (e *Executor) SourceAudioPath(job int64) string {
	return filepath.Join(e.stageDir(job, manifest.StageExtract), "source.wav")
}

func shortPrint(fp string) string {
	if len(fp) > 12 {
		return fp[:12]
	}
	return fp
}

func sortedCopy(values []string) []string {
	out := slices.Clone(values)
	slices.Sort(out)
	return slices.Compact(out)
}
