package manifest

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"dubforge/internal/services"
)

// Chunk statuses.
const (
	ChunkDone   = "done"
	ChunkFailed = "failed"
)

// ChunkEntry records one streamed output chunk.
type ChunkEntry struct {
	Index          int     `json:"index"`
	Start          float64 `json:"start"`
	End            float64 `json:"end"`
	OverlapSeconds float64 `json:"overlap_seconds"`
	Artifact       string  `json:"artifact"`
	Status         string  `json:"status"`
	// Timeline is the content hash of the timeline the chunk was cut from.
	Timeline string `json:"timeline,omitempty"`
}

// ChunkLog is an append-only JSON-lines chunk record. Entries are never
// rewritten; a later entry for the same index supersedes an earlier one.
type ChunkLog struct {
	path string
	mu   sync.Mutex
}

// OpenChunkLog returns the chunk log at path. The file is created on first append.
func OpenChunkLog(path string) *ChunkLog {
	return &ChunkLog{path: path}
}

// Path returns the log location.
func (l *ChunkLog) Path() string { return l.path }

// Append writes entry as one line and syncs it to disk.
func (l *ChunkLog) Append(entry ChunkEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode chunk entry: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("create chunk log dir: %w", err)
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open chunk log: %w", err)
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		_ = f.Close()
		return fmt.Errorf("append chunk entry: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("sync chunk log: %w", err)
	}
	return f.Close()
}

// Entries returns every entry in append order. A truncated final line from an
// interrupted append is ignored; corruption elsewhere is an error.
func (l *ChunkLog) Entries() ([]ChunkEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.Open(l.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open chunk log: %w", err)
	}
	defer f.Close()

	var (
		entries []ChunkEntry
		badLine int
	)
	scanner := bufio.NewScanner(f)
	line := 0
	for scanner.Scan() {
		line++
		if badLine > 0 {
			return nil, services.Wrap(services.ErrManifestCorruption, "render", "read chunk log", fmt.Sprintf("line %d", badLine), nil)
		}
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var entry ChunkEntry
		if err := json.Unmarshal(raw, &entry); err != nil {
			badLine = line
			continue
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan chunk log: %w", err)
	}
	return entries, nil
}

// LastDone returns the highest index i such that chunks 0..i are all done,
// or -1 when the first chunk has not completed.
func (l *ChunkLog) LastDone() (int, error) {
	return l.LastDoneFor("")
}

// LastDoneFor is LastDone over the entries cut from timeline. Chunks of an
// earlier timeline do not count. An empty timeline matches every entry.
func (l *ChunkLog) LastDoneFor(timeline string) (int, error) {
	entries, err := l.Entries()
	if err != nil {
		return -1, err
	}
	latest := make(map[int]string, len(entries))
	for _, e := range entries {
		if timeline != "" && e.Timeline != timeline {
			continue
		}
		latest[e.Index] = e.Status
	}
	last := -1
	for {
		if latest[last+1] != ChunkDone {
			return last, nil
		}
		last++
	}
}
