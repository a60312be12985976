package render

import (
	"context"
	"fmt"
	"math"
	"path/filepath"

	"dubforge/internal/audio"
	"dubforge/internal/fileutil"
	"dubforge/internal/logging"
	"dubforge/internal/manifest"
)

// ChunkLogPath returns the chunk log of a job.
func (c *Composer) ChunkLogPath(job int64) string {
	return filepath.Join(c.cfg.JobWorkDir(job), "chunks.jsonl")
}

// StreamChunks slices the timeline WAV into chunk files of the configured
// length. Every chunk after the first also repeats the configured overlap of
// the previous one. Chunks already recorded done are not rewritten; the run
// resumes after the last contiguous done chunk cut from the same timeline
// content, so a recomposed timeline is streamed again from the start. It returns the entries
// appended by this call.
func (c *Composer) StreamChunks(ctx context.Context, job int64, timeline string) ([]manifest.ChunkEntry, error) {
	chunkSeconds := c.cfg.Streaming.ChunkSeconds
	overlap := c.cfg.Streaming.OverlapSeconds
	if chunkSeconds <= 0 {
		return nil, fmt.Errorf("stream chunks: chunk length must be positive")
	}

	digest, err := fileutil.HashFile(timeline)
	if err != nil {
		return nil, fmt.Errorf("stream chunks: %w", err)
	}
	log := manifest.OpenChunkLog(c.ChunkLogPath(job))
	last, err := log.LastDoneFor(digest)
	if err != nil {
		return nil, err
	}
	clip, err := audio.Read(timeline)
	if err != nil {
		return nil, fmt.Errorf("stream chunks: %w", err)
	}
	total := int(math.Ceil(clip.Duration() / chunkSeconds))
	whole := audio.NewTimeline(clip.SampleRate, 0)
	if err := whole.Place(clip, 0); err != nil {
		return nil, err
	}

	logger := logging.WithContext(ctx, c.logger)
	if last >= 0 {
		logger.Info("resuming chunk stream", logging.Int("last_done", last), logging.Int("total", total))
	}

	dir := filepath.Join(c.cfg.JobWorkDir(job), "chunks")
	var written []manifest.ChunkEntry
	for i := last + 1; i < total; i++ {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		entry := manifest.ChunkEntry{
			Index:    i,
			Start:    float64(i) * chunkSeconds,
			End:      math.Min(float64(i+1)*chunkSeconds, clip.Duration()),
			Artifact: filepath.Join(dir, fmt.Sprintf("chunk-%04d.wav", i)),
			Status:   manifest.ChunkDone,
			Timeline: digest,
		}
		if i > 0 && overlap > 0 {
			entry.OverlapSeconds = math.Min(overlap, entry.Start)
			entry.Start -= entry.OverlapSeconds
		}
		if err := audio.Write(entry.Artifact, whole.Slice(entry.Start, entry.End)); err != nil {
			entry.Status = manifest.ChunkFailed
			if appendErr := log.Append(entry); appendErr != nil {
				logging.WarnWithContext(logger, "chunk failure not recorded", "chunk_log_append_failed",
					logging.Error(appendErr),
					logging.String(logging.FieldErrorHint, "check free space under the work directory"))
			}
			return written, fmt.Errorf("stream chunk %d: %w", i, err)
		}
		if err := log.Append(entry); err != nil {
			return written, err
		}
		written = append(written, entry)
	}
	return written, nil
}
