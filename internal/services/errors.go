package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrTransient marks dependency failures (timeouts, rate limits, engine
	// unavailability) that succeed on a later retry of the same job.
	ErrTransient = errors.New("transient dependency failure")
	// ErrFatalInput marks failures that will recur on retry: unreadable media,
	// unsupported languages, corrupt segment data.
	ErrFatalInput = errors.New("fatal input error")
	// ErrSegmentLocked is returned for any mutation attempt against a locked segment.
	ErrSegmentLocked = errors.New("segment locked")
	// ErrSegmentBusy is returned when another writer already holds the segment.
	ErrSegmentBusy        = errors.New("segment busy")
	ErrAlignmentDrift     = errors.New("alignment drift")
	ErrManifestCorruption = errors.New("manifest corruption")
	ErrConfiguration      = errors.New("configuration error")
	ErrNotFound           = errors.New("not found")
	ErrCancelled          = errors.New("cancelled")
	ErrExternalTool       = errors.New("external tool error")
)

// ErrorKind is the persisted classification of a job failure.
type ErrorKind string

const (
	KindNone      ErrorKind = ""
	KindTransient ErrorKind = "transient"
	KindFatal     ErrorKind = "fatal"
	KindCancelled ErrorKind = "cancelled"
)

// Wrap builds an error message that includes stage context while tagging it with
// the provided marker for later classification. The marker should be one of the
// exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// StageError carries the stage and optional segment that produced a failure.
type StageError struct {
	Stage   string
	Segment int
	Err     error
}

func (e *StageError) Error() string {
	if e == nil || e.Err == nil {
		return ""
	}
	if e.Segment >= 0 {
		return fmt.Sprintf("stage %s segment %d: %v", e.Stage, e.Segment, e.Err)
	}
	return fmt.Sprintf("stage %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// NewStageError attaches stage context to err. Segment -1 means the failure is
// not tied to a single segment.
func NewStageError(stage string, segment int, err error) error {
	if err == nil {
		return nil
	}
	var existing *StageError
	if errors.As(err, &existing) {
		return err
	}
	return &StageError{Stage: stage, Segment: segment, Err: err}
}

// ErrorDetails summarizes a failure for persistence and CLI output.
type ErrorDetails struct {
	Kind      ErrorKind
	Stage     string
	Segment   int
	Message   string
	Retryable bool
}

// Details classifies err. Unknown errors are treated as transient so a retry
// is always offered for failures nobody tagged.
func Details(err error) ErrorDetails {
	if err == nil {
		return ErrorDetails{Segment: -1}
	}
	details := ErrorDetails{Segment: -1, Message: err.Error()}
	var stageErr *StageError
	if errors.As(err, &stageErr) {
		details.Stage = stageErr.Stage
		details.Segment = stageErr.Segment
	}
	details.Kind = Classify(err)
	details.Retryable = details.Kind == KindTransient
	return details
}

// Classify maps an error onto the persisted failure kinds.
func Classify(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrCancelled):
		return KindCancelled
	case errors.Is(err, ErrFatalInput),
		errors.Is(err, ErrConfiguration),
		errors.Is(err, ErrNotFound),
		errors.Is(err, ErrManifestCorruption):
		return KindFatal
	default:
		return KindTransient
	}
}

// IsRetryable reports whether resubmitting the job may succeed.
func IsRetryable(err error) bool {
	return Classify(err) == KindTransient
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}

// Summary renders err as the one-line failure message shown to operators,
// for example "stage translate failed (retryable): ...".
func Summary(err error) string {
	if err == nil {
		return ""
	}
	d := Details(err)
	cause := err
	var stageErr *StageError
	if errors.As(err, &stageErr) && stageErr.Err != nil {
		cause = stageErr.Err
	}
	subject := "job"
	if d.Stage != "" {
		subject = "stage " + d.Stage
	}
	if d.Segment >= 0 {
		subject = fmt.Sprintf("%s segment %d", subject, d.Segment)
	}
	switch d.Kind {
	case KindCancelled:
		return subject + " cancelled"
	case KindFatal:
		return fmt.Sprintf("%s failed (fatal): %v", subject, cause)
	default:
		return fmt.Sprintf("%s failed (retryable): %v", subject, cause)
	}
}
