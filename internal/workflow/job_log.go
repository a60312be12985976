package workflow

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"dubforge/internal/config"
	"dubforge/internal/logging"
	"dubforge/internal/queue"
)

// JobLogs manages the dedicated log file of each job.
type JobLogs struct {
	baseDir string
	level   string
}

// NewJobLogs returns job logs rooted at <log_dir>/jobs.
func NewJobLogs(cfg *config.Config) *JobLogs {
	logs := &JobLogs{level: "info"}
	if cfg == nil {
		return logs
	}
	if cfg.Paths.LogDir != "" {
		logs.baseDir = filepath.Join(cfg.Paths.LogDir, "jobs")
	}
	if lvl := strings.TrimSpace(cfg.Logging.Level); lvl != "" {
		logs.level = lvl
	}
	return logs
}

// Path returns the log file of job.
func (j *JobLogs) Path(job *queue.Job) string {
	if j == nil || j.baseDir == "" || job == nil {
		return ""
	}
	name := fmt.Sprintf("job-%d", job.ID)
	if slug := sanitizeSlug(strings.TrimSuffix(job.DisplayName(), filepath.Ext(job.SourcePath))); slug != "" {
		name += "-" + slug
	}
	return filepath.Join(j.baseDir, name+".log")
}

// Open returns a JSON handler appending to the job's log file and a func that
// closes the file.
func (j *JobLogs) Open(job *queue.Job) (slog.Handler, func(), error) {
	path := j.Path(job)
	if path == "" {
		return nil, nil, fmt.Errorf("job log directory not configured")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, nil, fmt.Errorf("ensure job log directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open job log: %w", err)
	}
	logger, err := logging.New(logging.Options{Level: j.level, Format: "json", Writer: file})
	if err != nil {
		_ = file.Close()
		return nil, nil, err
	}
	return logger.Handler(), func() { _ = file.Close() }, nil
}

func sanitizeSlug(value string) string {
	var builder strings.Builder
	builder.Grow(len(value))
	lastDash := false
	for _, r := range strings.TrimSpace(value) {
		switch {
		case unicode.IsLetter(r) && r < unicode.MaxASCII, unicode.IsDigit(r):
			builder.WriteRune(unicode.ToLower(r))
			lastDash = false
		default:
			if !lastDash {
				builder.WriteByte('-')
				lastDash = true
			}
		}
	}
	return strings.Trim(builder.String(), "-")
}
