package media_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"dubforge/internal/media"
	"dubforge/internal/services"
	"dubforge/internal/testsupport"
)

type recorder struct {
	calls     [][]string
	probeJSON string
	fail      bool
}

// run fakes ffprobe/ffmpeg: ffprobe returns probeJSON, ffmpeg writes its last
// argument so publish finds an output.
func (r *recorder) run(_ context.Context, name string, args ...string) ([]byte, error) {
	r.calls = append(r.calls, append([]string{name}, args...))
	if strings.Contains(name, "ffprobe") {
		return []byte(r.probeJSON), nil
	}
	if r.fail {
		return []byte("boom"), errors.New("exit status 1")
	}
	return nil, os.WriteFile(args[len(args)-1], []byte("media"), 0o644)
}

func newToolkit(t *testing.T) (*media.Toolkit, *recorder) {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	tk := media.New(cfg, nil)
	rec := &recorder{probeJSON: `{"streams":[{"index":0,"codec_type":"video"},{"index":1,"codec_type":"audio"}],"format":{"duration":"12.5"}}`}
	tk.WithCommandRunner(rec.run)
	return tk, rec
}

func TestExtractPublishesWAV(t *testing.T) {
	tk, rec := newToolkit(t)
	dir := t.TempDir()
	source := filepath.Join(dir, "film.mkv")
	testsupport.WriteFile(t, source, 16)
	dest := filepath.Join(dir, "work", "source.wav")

	if err := tk.Extract(context.Background(), source, dest); err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if _, err := os.Stat(dest); err != nil {
		t.Fatalf("expected published output: %v", err)
	}
	ffmpeg := rec.calls[len(rec.calls)-1]
	if !slices.Contains(ffmpeg, "pcm_s16le") || !slices.Contains(ffmpeg, "8000") {
		t.Fatalf("unexpected ffmpeg args: %v", ffmpeg)
	}
	entries, _ := os.ReadDir(filepath.Dir(dest))
	if len(entries) != 1 {
		t.Fatalf("temp files left behind: %v", entries)
	}
}

func TestExtractRejectsBadSources(t *testing.T) {
	tk, rec := newToolkit(t)
	dir := t.TempDir()

	err := tk.Extract(context.Background(), filepath.Join(dir, "missing.mkv"), filepath.Join(dir, "a.wav"))
	if !errors.Is(err, services.ErrFatalInput) {
		t.Fatalf("missing source: %v", err)
	}

	source := filepath.Join(dir, "silent.mkv")
	testsupport.WriteFile(t, source, 16)
	rec.probeJSON = `{"streams":[{"index":0,"codec_type":"video"}],"format":{}}`
	err = tk.Extract(context.Background(), source, filepath.Join(dir, "a.wav"))
	if !errors.Is(err, services.ErrFatalInput) {
		t.Fatalf("no audio stream: %v", err)
	}
	if services.Classify(err) != services.KindFatal {
		t.Fatalf("expected fatal classification")
	}
}

func TestFFmpegFailureIsTransientAndCleansUp(t *testing.T) {
	tk, rec := newToolkit(t)
	rec.fail = true
	dir := t.TempDir()
	dest := filepath.Join(dir, "out.wav")
	err := tk.Stretch(context.Background(), filepath.Join(dir, "in.wav"), dest, 1.1)
	if !errors.Is(err, services.ErrExternalTool) || services.Classify(err) != services.KindTransient {
		t.Fatalf("expected transient external tool error, got %v", err)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Fatalf("expected no leftovers, got %v", entries)
	}
}

func TestAtempoChain(t *testing.T) {
	tests := []struct {
		factor float64
		want   string
	}{
		{1.1, "atempo=1.100000"},
		{0.85, "atempo=0.850000"},
		{3.0, "atempo=2.000000,atempo=1.500000"},
		{0.25, "atempo=0.500000,atempo=0.500000"},
	}
	for _, tc := range tests {
		if got := media.AtempoChain(tc.factor); got != tc.want {
			t.Errorf("AtempoChain(%v) = %q, want %q", tc.factor, got, tc.want)
		}
	}
}

func TestMuxCopiesVideoAndTagsLanguage(t *testing.T) {
	tk, rec := newToolkit(t)
	dir := t.TempDir()
	dest := filepath.Join(dir, "out", "film.es.mkv")
	err := tk.Mux(context.Background(), media.MuxRequest{
		Video:        filepath.Join(dir, "film.mkv"),
		Audio:        filepath.Join(dir, "mix.m4a"),
		Dest:         dest,
		Language:     "es",
		KeepOriginal: true,
	})
	if err != nil {
		t.Fatalf("Mux: %v", err)
	}
	args := rec.calls[len(rec.calls)-1]
	joined := strings.Join(args, " ")
	for _, want := range []string{"-c:v copy", "language=spa", "-map 0:a:0?", "-disposition:a:1 0"} {
		if !strings.Contains(joined, want) {
			t.Fatalf("mux args missing %q: %s", want, joined)
		}
	}
}

func TestMixUsesConfiguredVolumes(t *testing.T) {
	tk, rec := newToolkit(t)
	dir := t.TempDir()
	if err := tk.Mix(context.Background(), media.MixRequest{Source: "src.mkv", Dub: "dub.wav", Dest: filepath.Join(dir, "mix.m4a")}); err != nil {
		t.Fatalf("Mix: %v", err)
	}
	joined := strings.Join(rec.calls[len(rec.calls)-1], " ")
	if !strings.Contains(joined, "volume=0.250000") || !strings.Contains(joined, "amix=inputs=2") {
		t.Fatalf("unexpected mix args: %s", joined)
	}
}

func TestProbeDuration(t *testing.T) {
	tk, _ := newToolkit(t)
	res, err := tk.Probe(context.Background(), "film.mkv")
	if err != nil {
		t.Fatal(err)
	}
	if res.DurationSeconds() != 12.5 || res.StreamCount("audio") != 1 {
		t.Fatalf("unexpected probe: %+v", res)
	}
}

func TestCutSeeksBeforeInput(t *testing.T) {
	tk, rec := newToolkit(t)
	dir := t.TempDir()
	if err := tk.Cut(context.Background(), "source.wav", filepath.Join(dir, "ref.wav"), 1.25, 3.5); err != nil {
		t.Fatalf("Cut: %v", err)
	}
	joined := strings.Join(rec.calls[len(rec.calls)-1], " ")
	if !strings.Contains(joined, "-ss 1.250 -t 2.250 -i source.wav") {
		t.Fatalf("unexpected cut args: %s", joined)
	}
	err := tk.Cut(context.Background(), "source.wav", filepath.Join(dir, "bad.wav"), 2, 2)
	if !errors.Is(err, services.ErrFatalInput) {
		t.Fatalf("expected fatal input for empty window, got %v", err)
	}
}

func TestToolCallsCarryConfiguredTimeout(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Workflow.ToolTimeout = 30
	tk := media.New(cfg, nil)
	var deadlines []time.Duration
	tk.WithCommandRunner(func(ctx context.Context, name string, args ...string) ([]byte, error) {
		deadline, ok := ctx.Deadline()
		if !ok {
			t.Fatalf("%s ran without a deadline", name)
		}
		deadlines = append(deadlines, time.Until(deadline))
		if strings.Contains(name, "ffprobe") {
			return []byte(`{"streams":[{"index":0,"codec_type":"audio"}],"format":{"duration":"3"}}`), nil
		}
		return nil, os.WriteFile(args[len(args)-1], []byte("media"), 0o644)
	})
	dir := t.TempDir()
	source := filepath.Join(dir, "film.mkv")
	testsupport.WriteFile(t, source, 16)

	if err := tk.Extract(context.Background(), source, filepath.Join(dir, "out.wav")); err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(deadlines) != 2 {
		t.Fatalf("expected probe and ffmpeg calls, got %d", len(deadlines))
	}
	for _, d := range deadlines {
		if d <= 0 || d > 30*time.Second {
			t.Fatalf("deadline %s outside configured timeout", d)
		}
	}
}
