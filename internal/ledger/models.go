package ledger

import (
	"context"
	"time"
)

// Actors recorded on versions.
const (
	ActorPipeline = "pipeline"
	ActorOperator = "operator"
)

// Segment is one dialogue unit of a job.
type Segment struct {
	JobID          int64
	Index          int
	Start          float64
	End            float64
	Speaker        string
	SourceText     string
	TargetText     string
	CurrentVersion int
	Locked         bool
	// Revision counts operator mutations (edit, regen). Pipeline writes
	// leave it unchanged.
	Revision  int
	UpdatedAt time.Time
}

// Window returns the segment duration in seconds.
func (s Segment) Window() float64 {
	if s.End <= s.Start {
		return 0
	}
	return s.End - s.Start
}

// Version is an immutable text/audio snapshot of a segment.
type Version struct {
	JobID     int64
	Index     int
	Number    int
	Text      string
	AudioPath string
	SynthKey  string
	Actions   []string
	Stretch   float64
	Drift     bool
	CreatedAt time.Time
	CreatedBy string
}

// HasAudio reports whether the version carries synthesized audio.
func (v Version) HasAudio() bool {
	return v.AudioPath != ""
}

// Bounds describes a diarized turn to register as a segment.
type Bounds struct {
	Index   int
	Start   float64
	End     float64
	Speaker string
}

// SegmentState is the review progress of one segment.
type SegmentState struct {
	Version int  `json:"version"`
	Locked  bool `json:"locked"`
}

// ReviewState maps segment index to its review progress.
type ReviewState map[int]SegmentState

// Generated is the result of synthesizing a segment.
type Generated struct {
	// Base is the version the synthesis started from. Commits are rejected
	// when another writer moved the segment past it.
	Base      int
	Text      string
	AudioPath string
	SynthKey  string
	Actions   []string
	Stretch   float64
	Drift     bool
}

// SynthFunc synthesizes audio for a segment's current version.
type SynthFunc func(ctx context.Context, seg Segment, current Version) (Generated, error)
