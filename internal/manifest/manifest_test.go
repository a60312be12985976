package manifest_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"dubforge/internal/manifest"
	"dubforge/internal/services"
)

func writeOutput(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(name), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestRecordCompletionAndIsUpToDate(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store := manifest.NewStore(filepath.Join(dir, "manifests"), nil)
	out := writeOutput(t, dir, "audio.wav")

	if store.IsUpToDate(ctx, 1, manifest.StageExtract, "fp1") {
		t.Fatal("expected no manifest to be up to date")
	}
	if _, err := store.RecordCompletion(ctx, 1, manifest.StageExtract, manifest.Record{Fingerprint: "fp1", Outputs: []string{out}}); err != nil {
		t.Fatalf("RecordCompletion: %v", err)
	}
	if !store.IsUpToDate(ctx, 1, manifest.StageExtract, "fp1") {
		t.Fatal("expected matching fingerprint to be up to date")
	}
	if store.IsUpToDate(ctx, 1, manifest.StageExtract, "fp2") {
		t.Fatal("expected different fingerprint to be stale")
	}
	if store.IsUpToDate(ctx, 2, manifest.StageExtract, "fp1") {
		t.Fatal("manifests must be scoped per job")
	}

	if err := os.Remove(out); err != nil {
		t.Fatal(err)
	}
	if store.IsUpToDate(ctx, 1, manifest.StageExtract, "fp1") {
		t.Fatal("expected missing output to defeat the skip")
	}
}

func TestRecordCompletionRejectsMissingOutputs(t *testing.T) {
	dir := t.TempDir()
	store := manifest.NewStore(filepath.Join(dir, "manifests"), nil)
	_, err := store.RecordCompletion(context.Background(), 1, manifest.StageMix, manifest.Record{Fingerprint: "fp", Outputs: []string{filepath.Join(dir, "nope.wav")}})
	if err == nil {
		t.Fatal("expected error for missing output")
	}
	if _, statErr := os.Stat(filepath.Join(dir, "manifests", "1", "mix.json")); !errors.Is(statErr, os.ErrNotExist) {
		t.Fatalf("expected no manifest to be published, stat err=%v", statErr)
	}
}

func TestInvalidateMarksDownstreamStale(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store := manifest.NewStore(filepath.Join(dir, "manifests"), nil)
	out := writeOutput(t, dir, "artifact")
	for _, st := range manifest.Order() {
		if _, err := store.RecordCompletion(ctx, 7, st, manifest.Record{Fingerprint: "fp-" + string(st), Outputs: []string{out}, Segments: map[int]string{1: "seg"}, Pinned: map[int]string{3: "pin"}}); err != nil {
			t.Fatalf("record %s: %v", st, err)
		}
	}

	marked, err := store.Invalidate(ctx, 7, manifest.StageTranslate)
	if err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
	want := []manifest.Stage{manifest.StageTranslate, manifest.StageSynthesize, manifest.StageMix, manifest.StageMux}
	if len(marked) != len(want) {
		t.Fatalf("marked = %v, want %v", marked, want)
	}

	for _, row := range store.Stages(ctx, 7) {
		if row.Err != nil || row.Manifest == nil {
			t.Fatalf("stage %s: manifest=%v err=%v", row.Stage, row.Manifest, row.Err)
		}
		stale := row.Manifest.Status == manifest.StatusStale
		upstream := row.Stage == manifest.StageExtract || row.Stage == manifest.StageDiarize || row.Stage == manifest.StageTranscribe
		if stale == upstream {
			t.Fatalf("stage %s stale=%v", row.Stage, stale)
		}
		if fp, ok := row.Manifest.SegmentPrint(3); !ok || fp != "pin" {
			t.Fatalf("stage %s lost pinned fingerprints", row.Stage)
		}
		if fp, _ := row.Manifest.SegmentPrint(1); fp != "seg" {
			t.Fatalf("stage %s lost segment fingerprints", row.Stage)
		}
	}
	if store.IsUpToDate(ctx, 7, manifest.StageMux, "fp-mux") {
		t.Fatal("stale manifest must not be skippable")
	}
	if !fileExists(out) {
		t.Fatal("invalidate must keep artifacts")
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func TestLookupReportsCorruption(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store := manifest.NewStore(filepath.Join(dir, "manifests"), nil)
	path := filepath.Join(dir, "manifests", "4", "diarize.json")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(`{"job_id":4,"stage":"diar`), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := store.Lookup(ctx, 4, manifest.StageDiarize)
	if !errors.Is(err, services.ErrManifestCorruption) {
		t.Fatalf("expected ErrManifestCorruption, got %v", err)
	}
	if services.Classify(err) != services.KindFatal {
		t.Fatalf("expected corruption to classify fatal, got %q", services.Classify(err))
	}
	if store.IsUpToDate(ctx, 4, manifest.StageDiarize, "anything") {
		t.Fatal("corrupt manifest must not be trusted")
	}
	if _, err := store.Invalidate(ctx, 4, manifest.StageDiarize); err != nil {
		t.Fatalf("Invalidate over corrupt manifest: %v", err)
	}
	if m, err := store.Lookup(ctx, 4, manifest.StageDiarize); err != nil || m != nil {
		t.Fatalf("expected corrupt manifest removed, got %v %v", m, err)
	}
}

func TestConcurrentRecordsLeaveOneValidManifest(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store := manifest.NewStore(filepath.Join(dir, "manifests"), nil)
	out := writeOutput(t, dir, "a")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.RecordCompletion(ctx, 1, manifest.StageSynthesize, manifest.Record{Fingerprint: "fp", Outputs: []string{out}}); err != nil {
				t.Errorf("record: %v", err)
			}
		}()
	}
	wg.Wait()
	m, err := store.Lookup(ctx, 1, manifest.StageSynthesize)
	if err != nil || m == nil || !m.Matches("fp") {
		t.Fatalf("expected valid manifest, got %+v err=%v", m, err)
	}
}

func TestPurgeRemovesJobManifests(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store := manifest.NewStore(filepath.Join(dir, "manifests"), nil)
	out := writeOutput(t, dir, "a")
	if _, err := store.RecordCompletion(ctx, 9, manifest.StageExtract, manifest.Record{Fingerprint: "fp", Outputs: []string{out}}); err != nil {
		t.Fatal(err)
	}
	if err := store.Purge(ctx, 9); err != nil {
		t.Fatalf("Purge: %v", err)
	}
	if m, _ := store.Lookup(ctx, 9, manifest.StageExtract); m != nil {
		t.Fatal("expected manifest removed")
	}
}

func TestStageOrderHelpers(t *testing.T) {
	if got := manifest.Upstream(manifest.StageExtract); got != "" {
		t.Fatalf("Upstream(extract) = %q", got)
	}
	if got := manifest.Upstream(manifest.StageMux); got != manifest.StageMix {
		t.Fatalf("Upstream(mux) = %q", got)
	}
	if _, ok := manifest.ParseStage("bogus"); ok {
		t.Fatal("expected unknown stage rejected")
	}
	if got := len(manifest.Downstream(manifest.StageExtract)); got != 7 {
		t.Fatalf("Downstream(extract) len = %d", got)
	}
}

func TestSupersedeKeepsSegmentPrintsReusable(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store := manifest.NewStore(filepath.Join(dir, "manifests"), nil)
	out := writeOutput(t, dir, "artifact")
	for _, st := range manifest.Order() {
		if _, err := store.RecordCompletion(ctx, 2, st, manifest.Record{Fingerprint: "fp", Outputs: []string{out}, Segments: map[int]string{0: "a"}}); err != nil {
			t.Fatal(err)
		}
	}

	if _, err := store.Supersede(ctx, 2, manifest.StageTranscribe); err != nil {
		t.Fatalf("Supersede: %v", err)
	}
	m, _ := store.Lookup(ctx, 2, manifest.StageTranslate)
	if m.Status != manifest.StatusStale || !m.Reusable() {
		t.Fatalf("superseded manifest should be stale but reusable: %+v", m)
	}

	if _, err := store.Invalidate(ctx, 2, manifest.StageTranslate); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
	m, _ = store.Lookup(ctx, 2, manifest.StageTranslate)
	if m.Reusable() || m.StaleReason != manifest.StaleInvalidated {
		t.Fatalf("explicit invalidation must discard segment prints: %+v", m)
	}
	m, _ = store.Lookup(ctx, 2, manifest.StageSynthesize)
	if !m.Reusable() {
		t.Fatal("stages after an explicit invalidation stay reusable")
	}
}
