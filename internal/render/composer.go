package render

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"

	"dubforge/internal/audio"
	"dubforge/internal/config"
	"dubforge/internal/ledger"
	"dubforge/internal/logging"
	"dubforge/internal/media"
	"dubforge/internal/services"
	"dubforge/internal/textutil"
)

// SegmentReader is the read-only ledger surface the composer needs.
type SegmentReader interface {
	Segments(ctx context.Context, job int64) ([]ledger.Segment, error)
	Current(ctx context.Context, job int64, index int) (ledger.Segment, ledger.Version, error)
}

// MediaTool mixes and muxes rendered audio.
type MediaTool interface {
	Mix(ctx context.Context, req media.MixRequest) error
	Mux(ctx context.Context, req media.MuxRequest) error
}

// Composer renders job audio from current segment versions.
type Composer struct {
	cfg      *config.Config
	segments SegmentReader
	media    MediaTool
	logger   *slog.Logger
}

// New builds a composer.
func New(cfg *config.Config, segments SegmentReader, tool MediaTool, logger *slog.Logger) *Composer {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Composer{cfg: cfg, segments: segments, media: tool, logger: logging.NewComponentLogger(logger, "render")}
}

// Composition summarizes a composed timeline.
type Composition struct {
	Path     string
	Duration float64
	// Placed lists segment indices whose audio was laid down.
	Placed []int
	// Missing lists segments without synthesized audio; they render as silence.
	Missing []int
}

// ComposeTimeline writes the full dub timeline of job to dest.
func (c *Composer) ComposeTimeline(ctx context.Context, job int64, dest string) (Composition, error) {
	comp, timeline, err := c.compose(ctx, job, 0, math.Inf(1))
	if err != nil {
		return comp, err
	}
	if err := audio.Write(dest, timeline.Clip()); err != nil {
		return comp, fmt.Errorf("write timeline: %w", err)
	}
	comp.Path = dest
	comp.Duration = timeline.Duration()
	logging.WithContext(ctx, c.logger).Info("timeline composed",
		logging.String("path", dest),
		logging.Int("segments", len(comp.Placed)),
		logging.Int("missing", len(comp.Missing)),
		logging.Float64("duration_seconds", comp.Duration))
	return comp, nil
}

// compose lays every segment overlapping [from, to) onto a timeline whose
// zero is at from.
func (c *Composer) compose(ctx context.Context, job int64, from, to float64) (Composition, *audio.Timeline, error) {
	var comp Composition
	segs, err := c.segments.Segments(ctx, job)
	if err != nil {
		return comp, nil, err
	}
	if len(segs) == 0 {
		return comp, nil, services.Wrap(services.ErrNotFound, "render", "compose", fmt.Sprintf("job %d has no segments", job), nil)
	}
	length := 0.0
	for _, seg := range segs {
		length = math.Max(length, math.Min(seg.End, to)-from)
	}
	timeline := audio.NewTimeline(c.cfg.Synthesis.SampleRate, length)

	for _, seg := range segs {
		if err := ctx.Err(); err != nil {
			return comp, nil, err
		}
		if seg.End <= from || seg.Start >= to {
			continue
		}
		_, version, err := c.segments.Current(ctx, job, seg.Index)
		if err != nil {
			return comp, nil, err
		}
		if !version.HasAudio() {
			comp.Missing = append(comp.Missing, seg.Index)
			continue
		}
		clip, err := audio.Read(version.AudioPath)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				comp.Missing = append(comp.Missing, seg.Index)
				continue
			}
			return comp, nil, services.NewStageError("render", seg.Index, err)
		}
		offset := seg.Start - from
		if offset < 0 {
			// Segment starts before the window: drop the leading part.
			skip := -offset
			clip = &audio.Clip{SampleRate: clip.SampleRate, Samples: clip.Samples[min(len(clip.Samples), int(math.Round(skip*float64(clip.SampleRate)))):]}
			offset = 0
		}
		if err := timeline.Place(clip, offset); err != nil {
			return comp, nil, err
		}
		comp.Placed = append(comp.Placed, seg.Index)
	}
	if len(comp.Missing) > 0 {
		logging.WithContext(ctx, c.logger).Debug("segments without audio render as silence",
			logging.String("segments", joinInts(comp.Missing)))
	}
	return comp, timeline, nil
}

// MixTrack lays the dub timeline over the source audio.
func (c *Composer) MixTrack(ctx context.Context, source, timeline, dest string) error {
	return c.media.Mix(ctx, media.MixRequest{Source: source, Dub: timeline, Dest: dest})
}

// Mux writes the final container with the mixed track as default audio.
func (c *Composer) Mux(ctx context.Context, source, track, dest string) error {
	return c.media.Mux(ctx, media.MuxRequest{
		Video:        source,
		Audio:        track,
		Dest:         dest,
		Language:     c.cfg.Languages.Target,
		KeepOriginal: c.cfg.Mix.KeepOriginalAudio,
	})
}

// TrackPath returns where the mixed audio track of a job is written.
func (c *Composer) TrackPath(job int64) string {
	ext := ".m4a"
	if c.cfg.Mix.AudioCodec == "pcm_s16le" {
		ext = ".wav"
	}
	return filepath.Join(c.cfg.JobWorkDir(job), "mix", "mix"+ext)
}

// TimelinePath returns where the composed dub timeline of a job is written.
func (c *Composer) TimelinePath(job int64) string {
	return filepath.Join(c.cfg.JobWorkDir(job), "mix", "dub.wav")
}

// OutputPath returns the final artifact path for a source file.
func (c *Composer) OutputPath(source string) string {
	base := textutil.SanitizeFileName(strings.TrimSuffix(filepath.Base(source), filepath.Ext(source)))
	if base == "" {
		base = "output"
	}
	container := strings.TrimPrefix(c.cfg.Mix.Container, ".")
	if container == "" {
		container = "mkv"
	}
	return filepath.Join(c.cfg.Paths.OutputDir, fmt.Sprintf("%s.%s.%s", base, textutil.SanitizeToken(c.cfg.Languages.Target), container))
}

// RenderFull composes, mixes and muxes job into its output path.
func (c *Composer) RenderFull(ctx context.Context, job int64, source string) (string, error) {
	comp, err := c.ComposeTimeline(ctx, job, c.TimelinePath(job))
	if err != nil {
		return "", err
	}
	track := c.TrackPath(job)
	if err := c.MixTrack(ctx, source, comp.Path, track); err != nil {
		return "", err
	}
	dest := c.OutputPath(source)
	if err := c.Mux(ctx, source, track, dest); err != nil {
		return "", err
	}
	return dest, nil
}

// Review is a rendered preview window.
type Review struct {
	Path     string
	Start    float64
	End      float64
	Duration float64
	Placed   []int
	Missing  []int
}

// RenderReview composes the window of segment plus configured context on
// both sides into dest. No remux happens.
func (c *Composer) RenderReview(ctx context.Context, job int64, segment int, dest string) (Review, error) {
	seg, _, err := c.segments.Current(ctx, job, segment)
	if err != nil {
		return Review{}, err
	}
	pad := c.cfg.Render.ReviewContextSeconds
	review := Review{Start: math.Max(0, seg.Start-pad), End: seg.End + pad}
	comp, timeline, err := c.compose(ctx, job, review.Start, review.End)
	if err != nil {
		return review, err
	}
	clip := timeline.Slice(0, review.End-review.Start)
	if err := audio.Write(dest, clip); err != nil {
		return review, fmt.Errorf("write review: %w", err)
	}
	review.Placed = comp.Placed
	review.Missing = comp.Missing
	review.Path = dest
	review.Duration = clip.Duration()
	return review, nil
}

func joinInts(values []int) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = fmt.Sprint(v)
	}
	return strings.Join(parts, ",")
}
