package logs_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"dubforge/internal/logs"
)

func writeLog(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "job-1-film.log")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}
	return path
}

func TestLastReturnsTrailingLines(t *testing.T) {
	path := writeLog(t, "a\nb\nc\npartial")
	lines, offset, err := logs.Last(path, 2)
	if err != nil {
		t.Fatalf("Last: %v", err)
	}
	if strings.Join(lines, ",") != "b,c" {
		t.Fatalf("unexpected lines: %#v", lines)
	}
	if offset != int64(len("a\nb\nc\n")) {
		t.Fatalf("offset = %d, want end of last complete line", offset)
	}

	lines, _, err = logs.Last(path, 10)
	if err != nil || len(lines) != 3 {
		t.Fatalf("short file: %#v %v", lines, err)
	}
}

func TestLastMissingFile(t *testing.T) {
	lines, offset, err := logs.Last(filepath.Join(t.TempDir(), "none.log"), 5)
	if err != nil || lines != nil || offset != 0 {
		t.Fatalf("unexpected result: %#v %d %v", lines, offset, err)
	}
}

func TestFollowStreamsAppendedLines(t *testing.T) {
	path := writeLog(t, "start\n")
	_, offset, err := logs.Last(path, 1)
	if err != nil {
		t.Fatal(err)
	}

	var (
		mu   sync.Mutex
		got  []string
		done atomic.Bool
	)
	result := make(chan error, 1)
	go func() {
		_, err := logs.Follow(context.Background(), path, offset, 20*time.Millisecond, done.Load, func(line string) {
			mu.Lock()
			got = append(got, line)
			mu.Unlock()
		})
		result <- err
	}()

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open append: %v", err)
	}
	if _, err := f.WriteString("later\n"); err != nil {
		t.Fatalf("append: %v", err)
	}
	_ = f.Close()
	time.Sleep(100 * time.Millisecond)
	done.Store(true)

	select {
	case err := <-result:
		if err != nil {
			t.Fatalf("Follow: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Follow did not stop")
	}
	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 || got[0] != "later" {
		t.Fatalf("unexpected followed lines: %#v", got)
	}
}

func TestFollowStopsOnCancel(t *testing.T) {
	path := writeLog(t, "")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := logs.Follow(ctx, path, 0, time.Millisecond, nil, func(string) {}); err == nil {
		t.Fatal("expected context error")
	}
}

func TestFormat(t *testing.T) {
	tests := []struct {
		name string
		line string
		want []string
	}{
		{
			name: "stage and segment",
			line: `{"ts":"2026-01-02T03:04:05Z","level":"info","msg":"segment synthesized","job_id":1,"stage":"synthesize","segment":4,"provider":"preset"}`,
			want: []string{"INFO", "[synthesize#4] segment synthesized", "provider=preset"},
		},
		{
			name: "no stage",
			line: `{"level":"warn","msg":"job cancelled","reason":"Cancelled by user"}`,
			want: []string{"WARN  job cancelled", "reason=Cancelled by user"},
		},
		{
			name: "plain text",
			line: "not json",
			want: []string{"not json"},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := logs.Format(tc.line)
			for _, part := range tc.want {
				if !strings.Contains(got, part) {
					t.Fatalf("Format(%q) = %q, missing %q", tc.line, got, part)
				}
			}
			if strings.Contains(got, "job_id") {
				t.Fatalf("job id should be hidden: %q", got)
			}
		})
	}
}
