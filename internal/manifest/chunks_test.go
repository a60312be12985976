package manifest_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"dubforge/internal/manifest"
	"dubforge/internal/services"
)

func TestChunkLogAppendAndLastDone(t *testing.T) {
	log := manifest.OpenChunkLog(filepath.Join(t.TempDir(), "job-1", "chunks.jsonl"))
	if last, err := log.LastDone(); err != nil || last != -1 {
		t.Fatalf("empty log LastDone = %d, %v", last, err)
	}
	entries := []manifest.ChunkEntry{
		{Index: 0, Start: 0, End: 30, Status: manifest.ChunkDone},
		{Index: 1, Start: 29.5, End: 60, OverlapSeconds: 0.5, Status: manifest.ChunkFailed},
		{Index: 2, Start: 59.5, End: 90, OverlapSeconds: 0.5, Status: manifest.ChunkDone},
	}
	for _, e := range entries {
		if err := log.Append(e); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	if last, _ := log.LastDone(); last != 0 {
		t.Fatalf("LastDone = %d, want 0 (chunk 1 failed)", last)
	}
	if err := log.Append(manifest.ChunkEntry{Index: 1, Start: 29.5, End: 60, OverlapSeconds: 0.5, Status: manifest.ChunkDone}); err != nil {
		t.Fatal(err)
	}
	if last, _ := log.LastDone(); last != 2 {
		t.Fatalf("LastDone = %d, want 2", last)
	}
	got, err := log.Entries()
	if err != nil || len(got) != 4 {
		t.Fatalf("Entries = %d, %v", len(got), err)
	}
	if got[1].OverlapSeconds != 0.5 {
		t.Fatalf("overlap not preserved: %+v", got[1])
	}
}

func TestChunkLogToleratesTornTail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chunks.jsonl")
	content := `{"index":0,"start":0,"end":30,"status":"done"}` + "\n" + `{"index":1,"sta`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	log := manifest.OpenChunkLog(path)
	if last, err := log.LastDone(); err != nil || last != 0 {
		t.Fatalf("LastDone = %d, %v", last, err)
	}
}

func TestChunkLogRejectsMidFileCorruption(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chunks.jsonl")
	content := "garbage\n" + `{"index":0,"start":0,"end":30,"status":"done"}` + "\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := manifest.OpenChunkLog(path).Entries(); !errors.Is(err, services.ErrManifestCorruption) {
		t.Fatalf("expected corruption error, got %v", err)
	}
}
