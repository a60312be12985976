package queue

import (
	"path/filepath"
	"strings"
	"time"
)

// Status represents the lifecycle of a job.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// CancelledByUser is the error message stored when an operator cancels a job.
const CancelledByUser = "Cancelled by user"

var allStatuses = []Status{
	StatusQueued,
	StatusRunning,
	StatusSucceeded,
	StatusFailed,
	StatusCancelled,
}

// AllStatuses returns the lifecycle states in display order.
func AllStatuses() []Status {
	return append([]Status(nil), allStatuses...)
}

// ParseStatus validates a status string.
func ParseStatus(value string) (Status, bool) {
	candidate := Status(strings.ToLower(strings.TrimSpace(value)))
	for _, status := range allStatuses {
		if status == candidate {
			return status, true
		}
	}
	return "", false
}

// IsTerminal reports whether the status can no longer change without a retry.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Job is a single source media file moving through the dubbing pipeline.
type Job struct {
	ID              int64
	SourcePath      string
	BatchLabel      string
	Status          Status
	CurrentStage    string
	ErrorKind       string
	ErrorMessage    string
	OutputPath      string
	CancelRequested bool
	Attempts        int
	CreatedAt       time.Time
	UpdatedAt       time.Time
	StartedAt       *time.Time
	CompletedAt     *time.Time
	LastHeartbeat   *time.Time
}

// DisplayName returns the source file name without directories.
func (j *Job) DisplayName() string {
	if j == nil {
		return ""
	}
	return filepath.Base(j.SourcePath)
}

// HealthSummary aggregates job counts for status output.
type HealthSummary struct {
	Total     int
	Queued    int
	Running   int
	Succeeded int
	Failed    int
	Cancelled int
}
