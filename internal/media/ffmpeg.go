package media

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"dubforge/internal/config"
	"dubforge/internal/fileutil"
	"dubforge/internal/language"
	"dubforge/internal/logging"
	"dubforge/internal/services"
)

const (
	atempoMin = 0.5
	atempoMax = 2.0
)

// Toolkit wraps the ffmpeg and ffprobe binaries.
type Toolkit struct {
	ffmpeg     string
	ffprobe    string
	sampleRate int
	mix        config.Mix
	timeout    time.Duration
	run        CommandRunner
	logger     *slog.Logger
}

// New builds a toolkit from configuration.
func New(cfg *config.Config, logger *slog.Logger) *Toolkit {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Toolkit{
		ffmpeg:     cfg.FFmpegBinary(),
		ffprobe:    cfg.FFprobeBinary(),
		sampleRate: cfg.Synthesis.SampleRate,
		mix:        cfg.Mix,
		timeout:    cfg.ToolTimeout(),
		run:        defaultRunner,
		logger:     logging.NewComponentLogger(logger, "ffmpeg"),
	}
}

// WithCommandRunner replaces command execution, for tests.
func (t *Toolkit) WithCommandRunner(r CommandRunner) {
	if t != nil && r != nil {
		t.run = r
	}
}

// SampleRate returns the PCM rate used for extracted and rendered audio.
func (t *Toolkit) SampleRate() int { return t.sampleRate }

// Extract writes the first audio stream of source to dest as mono 16-bit PCM.
// Unreadable media is reported as ErrFatalInput.
func (t *Toolkit) Extract(ctx context.Context, source, dest string) error {
	if !fileutil.Exists(source) {
		return services.Wrap(services.ErrFatalInput, "extract", "open source", "source not found: "+source, nil)
	}
	probe, err := t.Probe(ctx, source)
	if err != nil {
		return services.Wrap(services.ErrFatalInput, "extract", "probe source", "", err)
	}
	if probe.StreamCount("audio") == 0 {
		return services.Wrap(services.ErrFatalInput, "extract", "probe source", "source has no audio stream", nil)
	}
	args := []string{
		"-y",
		"-hide_banner",
		"-loglevel", "error",
		"-i", source,
		"-map", "0:a:0",
		"-vn", "-sn", "-dn",
		"-ac", "1",
		"-ar", strconv.Itoa(t.sampleRate),
		"-c:a", "pcm_s16le",
	}
	return t.publish(ctx, "extract", dest, args)
}

// Stretch changes the tempo of src by factor (>1 is faster) without changing pitch.
func (t *Toolkit) Stretch(ctx context.Context, src, dest string, factor float64) error {
	if factor <= 0 {
		return fmt.Errorf("stretch: invalid factor %v", factor)
	}
	args := []string{
		"-y",
		"-hide_banner",
		"-loglevel", "error",
		"-i", src,
		"-filter:a", AtempoChain(factor),
		"-ac", "1",
		"-ar", strconv.Itoa(t.sampleRate),
		"-c:a", "pcm_s16le",
	}
	return t.publish(ctx, "synthesize", dest, args)
}

// Cut writes the [start, end) window of src to dest as mono PCM. Voice
// cloning uses it to build per-segment reference clips.
func (t *Toolkit) Cut(ctx context.Context, src, dest string, start, end float64) error {
	if end <= start {
		return services.Wrap(services.ErrFatalInput, "synthesize", "cut", fmt.Sprintf("empty window %.3f-%.3f", start, end), nil)
	}
	args := []string{
		"-y",
		"-hide_banner",
		"-loglevel", "error",
		"-ss", strconv.FormatFloat(start, 'f', 3, 64),
		"-t", strconv.FormatFloat(end-start, 'f', 3, 64),
		"-i", src,
		"-ac", "1",
		"-ar", strconv.Itoa(t.sampleRate),
		"-c:a", "pcm_s16le",
	}
	return t.publish(ctx, "synthesize", dest, args)
}

// AtempoChain splits factor into atempo filters within ffmpeg's per-filter range.
func AtempoChain(factor float64) string {
	var parts []string
	for factor > atempoMax {
		parts = append(parts, "atempo="+formatFactor(atempoMax))
		factor /= atempoMax
	}
	for factor < atempoMin {
		parts = append(parts, "atempo="+formatFactor(atempoMin))
		factor /= atempoMin
	}
	parts = append(parts, "atempo="+formatFactor(factor))
	return strings.Join(parts, ",")
}

func formatFactor(f float64) string {
	return strconv.FormatFloat(f, 'f', 6, 64)
}

// MixRequest lays the dub over the source's original audio.
type MixRequest struct {
	Source string
	Dub    string
	Dest   string
}

// Mix writes the dub track mixed over the attenuated original audio. The
// result is as long as the source audio.
func (t *Toolkit) Mix(ctx context.Context, req MixRequest) error {
	filter := fmt.Sprintf(
		"[0:a:0]volume=%s[bg];[1:a]volume=%s[dub];[bg][dub]amix=inputs=2:duration=first:normalize=0[out]",
		formatFactor(t.mix.BackgroundVolume), formatFactor(t.mix.DubVolume))
	args := []string{
		"-y",
		"-hide_banner",
		"-loglevel", "error",
		"-i", req.Source,
		"-i", req.Dub,
		"-filter_complex", filter,
		"-map", "[out]",
		"-c:a", t.mix.AudioCodec,
	}
	if t.mix.AudioBitrate != "" {
		args = append(args, "-b:a", t.mix.AudioBitrate)
	}
	return t.publish(ctx, "mix", req.Dest, args)
}

// MuxRequest combines the source video with the mixed dub track.
type MuxRequest struct {
	Video    string
	Audio    string
	Dest     string
	Language string
	// KeepOriginal retains the source audio as a second, non-default track.
	KeepOriginal bool
}

// Mux copies the video stream and the dub audio into dest.
func (t *Toolkit) Mux(ctx context.Context, req MuxRequest) error {
	args := []string{
		"-y",
		"-hide_banner",
		"-loglevel", "error",
		"-i", req.Video,
		"-i", req.Audio,
		"-map", "0:v?",
		"-map", "1:a:0",
	}
	if req.KeepOriginal {
		args = append(args, "-map", "0:a:0?")
	}
	args = append(args,
		"-c:v", "copy",
		"-c:a", "copy",
		"-metadata:s:a:0", "language="+language.ToISO3(req.Language),
		"-disposition:a:0", "default",
	)
	if req.KeepOriginal {
		args = append(args, "-disposition:a:1", "0")
	}
	return t.publish(ctx, "mux", req.Dest, args)
}

// publish runs ffmpeg writing to a temp sibling of dest, then renames it.
func (t *Toolkit) publish(ctx context.Context, stage, dest string, args []string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("%s: create output dir: %w", stage, err)
	}
	tmp := filepath.Join(filepath.Dir(dest), ".tmp-"+uuid.NewString()+filepath.Ext(dest))
	args = append(args, tmp)

	t.logger.Debug("executing ffmpeg",
		logging.String(logging.FieldStage, stage),
		logging.String("dest", dest))
	if _, err := t.exec(ctx, t.ffmpeg, args...); err != nil {
		_ = os.Remove(tmp)
		return services.Wrap(services.ErrExternalTool, stage, "ffmpeg", "", err)
	}
	if !fileutil.Exists(tmp) {
		return services.Wrap(services.ErrExternalTool, stage, "ffmpeg", "no output produced", nil)
	}
	if err := os.Rename(tmp, dest); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("%s: publish %s: %w", stage, dest, err)
	}
	return nil
}
