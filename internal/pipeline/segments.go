package pipeline

import (
	"context"
	"errors"
	"maps"
	"slices"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"dubforge/internal/ledger"
	"dubforge/internal/logging"
	"dubforge/internal/manifest"
	"dubforge/internal/services"
)

// segmentPrints collects per-segment fingerprints from concurrent workers.
type segmentPrints struct {
	mu        sync.Mutex
	done      map[int]string
	pinned    map[int]string
	outputs   []string
	processed int
	reused    int
}

func newSegmentPrints() *segmentPrints {
	return &segmentPrints{done: make(map[int]string), pinned: make(map[int]string)}
}

func (p *segmentPrints) record(index int, fp string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.done[index] = fp
	p.processed++
}

func (p *segmentPrints) reuse(index int, fp string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.done[index] = fp
	p.reused++
}

func (p *segmentPrints) pin(index int, fp string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pinned[index] = fp
}

func (p *segmentPrints) output(path string) {
	if path == "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.outputs = append(p.outputs, path)
}

func (p *segmentPrints) tables() (map[int]string, map[int]string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return maps.Clone(p.done), maps.Clone(p.pinned)
}

func (p *segmentPrints) counts() (processed, reused, pinned int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.processed, p.reused, len(p.pinned)
}

func (p *segmentPrints) paths() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return sortedCopy(p.outputs)
}

// indices lists every segment recorded in done, ascending.
func (p *segmentPrints) indices() []int {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]int, 0, len(p.done))
	for idx := range p.done {
		out = append(out, idx)
	}
	slices.Sort(out)
	return out
}

// pinnedPrint keeps the fingerprint a locked segment was last processed
// under so unlocking it without other changes does not force rework.
func pinnedPrint(prev *manifest.Manifest, index int, fallback string) string {
	if fp, ok := prev.SegmentPrint(index); ok {
		return fp
	}
	return fallback
}

// unchanged reports whether segment index was processed under fp last time.
func unchanged(prev *manifest.Manifest, index int, fp string) bool {
	got, ok := prev.SegmentPrint(index)
	return ok && got == fp
}

// forEachSegment runs fn over segs with at most SegmentParallelism in flight.
// Cancellation is checked before each segment starts; segments already running
// finish. The first failure stops new segments from starting.
func (e *Executor) forEachSegment(ctx context.Context, run *jobRun, stage manifest.Stage, segs []ledger.Segment, fn func(ctx context.Context, seg ledger.Segment) error) error {
	limit := e.cfg.Workflow.SegmentParallelism
	if limit < 1 {
		limit = 1
	}
	var (
		g       errgroup.Group
		stopped atomic.Bool
	)
	g.SetLimit(limit)
	for _, seg := range segs {
		if stopped.Load() {
			break
		}
		if run.cancelled(ctx) {
			stopped.Store(true)
			_ = g.Wait()
			return services.NewStageError(string(stage), seg.Index, cancelledError(stage))
		}
		g.Go(func() error {
			if stopped.Load() {
				return nil
			}
			segCtx := services.WithSegment(ctx, seg.Index)
			if err := fn(segCtx, seg); err != nil {
				stopped.Store(true)
				return services.NewStageError(string(stage), seg.Index, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// deferOnConflict absorbs ledger conflicts with operator writers. The segment
// is left for the next run and the stage carries on.
func (e *Executor) deferOnConflict(ctx context.Context, run *jobRun, index int, err error) error {
	if !errors.Is(err, services.ErrSegmentBusy) && !errors.Is(err, services.ErrSegmentLocked) {
		return err
	}
	logging.WarnWithContext(logging.WithContext(ctx, e.logger), "segment changed by operator during pipeline write; deferred", "segment_deferred",
		logging.Error(err),
		logging.String(logging.FieldImpact, "segment keeps the operator's version until the next run"),
		logging.String(logging.FieldErrorHint, "rerun the job after review edits settle"))
	run.deferred.record(index, "")
	return nil
}
