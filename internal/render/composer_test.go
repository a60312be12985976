package render_test

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"dubforge/internal/audio"
	"dubforge/internal/fileutil"
	"dubforge/internal/ledger"
	"dubforge/internal/manifest"
	"dubforge/internal/media"
	"dubforge/internal/render"
	"dubforge/internal/testsupport"
)

type fakeMedia struct {
	mixes []media.MixRequest
	muxes []media.MuxRequest
}

func (f *fakeMedia) Mix(_ context.Context, req media.MixRequest) error {
	f.mixes = append(f.mixes, req)
	return os.WriteFile(req.Dest, []byte("mix"), 0o644)
}

func (f *fakeMedia) Mux(_ context.Context, req media.MuxRequest) error {
	f.muxes = append(f.muxes, req)
	if err := os.MkdirAll(filepath.Dir(req.Dest), 0o755); err != nil {
		return err
	}
	return os.WriteFile(req.Dest, []byte("mux"), 0o644)
}

// seedSegments registers segments at the given windows; audio is synthesized
// as a tone filling each window except those listed in silent.
func seedSegments(t *testing.T, l *ledger.Ledger, job int64, windows [][2]float64, silent ...int) {
	t.Helper()
	ctx := context.Background()
	bounds := make([]ledger.Bounds, len(windows))
	for i, w := range windows {
		bounds[i] = ledger.Bounds{Index: i, Start: w[0], End: w[1], Speaker: "SPEAKER_00"}
	}
	if _, err := l.UpsertSegments(ctx, job, bounds); err != nil {
		t.Fatalf("UpsertSegments: %v", err)
	}
	dir := t.TempDir()
	for i, w := range windows {
		v, _, err := l.ProposeText(ctx, job, i, "hola")
		if err != nil {
			t.Fatalf("ProposeText: %v", err)
		}
		if slices.Contains(silent, i) {
			continue
		}
		path := testsupport.WriteTone(t, filepath.Join(dir, filepath.Base(t.Name())+string(rune('a'+i))+".wav"), w[1]-w[0])
		if _, err := l.CommitGenerated(ctx, job, i, ledger.Generated{Base: v.Number, Text: v.Text, AudioPath: path, SynthKey: "k"}); err != nil {
			t.Fatalf("CommitGenerated: %v", err)
		}
	}
}

func newComposer(t *testing.T) (*render.Composer, *ledger.Ledger, *fakeMedia) {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	cfg.Render.ReviewContextSeconds = 0.5
	l := testsupport.MustOpenLedger(t, cfg)
	tool := &fakeMedia{}
	return render.New(cfg, l, tool, nil), l, tool
}

func nonSilent(clip *audio.Clip, from, to float64) bool {
	start := int(from * float64(clip.SampleRate))
	end := min(len(clip.Samples), int(to*float64(clip.SampleRate)))
	for _, s := range clip.Samples[start:end] {
		if s != 0 {
			return true
		}
	}
	return false
}

func TestComposeTimelinePlacesSegmentsAtStart(t *testing.T) {
	composer, l, _ := newComposer(t)
	seedSegments(t, l, 1, [][2]float64{{0.5, 1.0}, {2.0, 3.0}, {3.0, 3.5}}, 2)

	dest := filepath.Join(t.TempDir(), "dub.wav")
	comp, err := composer.ComposeTimeline(context.Background(), 1, dest)
	if err != nil {
		t.Fatalf("ComposeTimeline: %v", err)
	}
	if !slices.Equal(comp.Placed, []int{0, 1}) || !slices.Equal(comp.Missing, []int{2}) {
		t.Fatalf("placed=%v missing=%v", comp.Placed, comp.Missing)
	}
	clip, err := audio.Read(dest)
	if err != nil {
		t.Fatal(err)
	}
	if d := clip.Duration(); d < 3.49 || d > 3.51 {
		t.Fatalf("timeline duration = %v", d)
	}
	if nonSilent(clip, 0, 0.49) || nonSilent(clip, 1.01, 1.99) || nonSilent(clip, 3.01, 3.5) {
		t.Fatal("gaps and segments without audio must be silent")
	}
	if !nonSilent(clip, 0.5, 1.0) || !nonSilent(clip, 2.0, 3.0) {
		t.Fatal("segment audio missing from timeline")
	}
}

func TestRenderFullMixesAndMuxes(t *testing.T) {
	composer, l, tool := newComposer(t)
	seedSegments(t, l, 2, [][2]float64{{0, 1}})

	out, err := composer.RenderFull(context.Background(), 2, "/media/film.mkv")
	if err != nil {
		t.Fatalf("RenderFull: %v", err)
	}
	if filepath.Base(out) != "film.es.mkv" {
		t.Fatalf("unexpected output %s", out)
	}
	if len(tool.mixes) != 1 || tool.mixes[0].Dub != composer.TimelinePath(2) {
		t.Fatalf("unexpected mix requests %+v", tool.mixes)
	}
	if len(tool.muxes) != 1 || tool.muxes[0].Audio != composer.TrackPath(2) || tool.muxes[0].Language != "es" || !tool.muxes[0].KeepOriginal {
		t.Fatalf("unexpected mux requests %+v", tool.muxes)
	}
}

func TestRenderReviewWindowIsReadOnly(t *testing.T) {
	composer, l, tool := newComposer(t)
	seedSegments(t, l, 3, [][2]float64{{0, 1}, {2, 3}, {5, 6}})
	before, err := l.ReviewState(context.Background(), 3)
	if err != nil {
		t.Fatal(err)
	}

	review, err := composer.RenderReview(context.Background(), 3, 1, filepath.Join(t.TempDir(), "review.wav"))
	if err != nil {
		t.Fatalf("RenderReview: %v", err)
	}
	if review.Start != 1.5 || review.End != 3.5 {
		t.Fatalf("window = %v-%v", review.Start, review.End)
	}
	if !slices.Equal(review.Placed, []int{1}) {
		t.Fatalf("placed = %v", review.Placed)
	}
	clip, err := audio.Read(review.Path)
	if err != nil {
		t.Fatal(err)
	}
	if d := clip.Duration(); d < 1.99 || d > 2.01 {
		t.Fatalf("review duration = %v", d)
	}
	if nonSilent(clip, 0, 0.49) || !nonSilent(clip, 0.5, 1.5) {
		t.Fatal("segment must start after the context lead-in")
	}
	if len(tool.muxes) != 0 {
		t.Fatal("review must not remux")
	}
	after, _ := l.ReviewState(context.Background(), 3)
	for idx, state := range before {
		if after[idx] != state {
			t.Fatalf("review render changed ledger state for segment %d", idx)
		}
	}
}

func TestStreamChunksResumesAfterLastDone(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithStreaming(1.0, 0.25))
	l := testsupport.MustOpenLedger(t, cfg)
	composer := render.New(cfg, l, &fakeMedia{}, nil)
	timeline := testsupport.WriteTone(t, filepath.Join(t.TempDir(), "dub.wav"), 3.5)

	digest, err := fileutil.HashFile(timeline)
	if err != nil {
		t.Fatal(err)
	}
	log := manifest.OpenChunkLog(composer.ChunkLogPath(4))
	if err := log.Append(manifest.ChunkEntry{Index: 0, Start: 0, End: 1, Artifact: "prior", Status: manifest.ChunkDone, Timeline: digest}); err != nil {
		t.Fatal(err)
	}

	written, err := composer.StreamChunks(context.Background(), 4, timeline)
	if err != nil {
		t.Fatalf("StreamChunks: %v", err)
	}
	if len(written) != 3 || written[0].Index != 1 {
		t.Fatalf("expected chunks 1..3, got %+v", written)
	}
	if written[0].Start != 0.75 || written[0].OverlapSeconds != 0.25 {
		t.Fatalf("chunk 1 must overlap the previous chunk: %+v", written[0])
	}
	if last := written[2]; last.End != 3.5 {
		t.Fatalf("final chunk must end at the timeline end: %+v", last)
	}
	for _, e := range written {
		if _, err := os.Stat(e.Artifact); err != nil {
			t.Fatalf("chunk %d artifact missing: %v", e.Index, err)
		}
	}
	lastDone, err := log.LastDone()
	if err != nil || lastDone != 3 {
		t.Fatalf("LastDone = %d, %v", lastDone, err)
	}

	again, err := composer.StreamChunks(context.Background(), 4, timeline)
	if err != nil || len(again) != 0 {
		t.Fatalf("completed stream must not rewrite chunks: %v %+v", err, again)
	}

	testsupport.WriteSilence(t, timeline, 3.5)
	redo, err := composer.StreamChunks(context.Background(), 4, timeline)
	if err != nil || len(redo) != 4 || redo[0].Index != 0 {
		t.Fatalf("recomposed timeline must restream from chunk 0: %v %+v", err, redo)
	}
}

func TestOutputPathSanitizesSourceName(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Languages.Target = "pt-BR"
	composer := render.New(cfg, nil, &fakeMedia{}, nil)

	got := composer.OutputPath("/media/Film: Part 1?.mp4")
	want := filepath.Join(cfg.Paths.OutputDir, "Film- Part 1.pt-br.mkv")
	if got != want {
		t.Fatalf("OutputPath = %q, want %q", got, want)
	}
}
