package audio

import "fmt"

// Timeline accumulates clips at absolute offsets. Overlapping clips are summed
// and clipped to 16-bit range when rendered.
type Timeline struct {
	sampleRate int
	samples    []int
}

// NewTimeline returns a silent timeline of at least seconds length.
func NewTimeline(sampleRate int, seconds float64) *Timeline {
	return &Timeline{sampleRate: sampleRate, samples: make([]int, samplesFor(sampleRate, seconds))}
}

// SampleRate returns the timeline sample rate.
func (t *Timeline) SampleRate() int { return t.sampleRate }

// Duration returns the timeline length in seconds.
func (t *Timeline) Duration() float64 {
	return float64(len(t.samples)) / float64(t.sampleRate)
}

// Place mixes clip into the timeline starting at startSeconds, growing the
// timeline when the clip runs past its end. Clips at other sample rates are
// resampled first.
func (t *Timeline) Place(clip *Clip, startSeconds float64) error {
	if clip == nil {
		return nil
	}
	if startSeconds < 0 {
		return fmt.Errorf("place clip: negative start %.3f", startSeconds)
	}
	clip = Resample(clip, t.sampleRate)
	offset := samplesFor(t.sampleRate, startSeconds)
	if need := offset + len(clip.Samples); need > len(t.samples) {
		t.samples = append(t.samples, make([]int, need-len(t.samples))...)
	}
	for i, v := range clip.Samples {
		t.samples[offset+i] += v
	}
	return nil
}

// Slice returns the [start, end) window as a clip. Ranges past the end are
// padded with silence.
func (t *Timeline) Slice(startSeconds, endSeconds float64) *Clip {
	start := samplesFor(t.sampleRate, startSeconds)
	end := samplesFor(t.sampleRate, endSeconds)
	if end < start {
		end = start
	}
	out := make([]int, end-start)
	for i := range out {
		if idx := start + i; idx < len(t.samples) {
			out[i] = clamp(t.samples[idx])
		}
	}
	return &Clip{SampleRate: t.sampleRate, Samples: out}
}

// Clip renders the whole timeline.
func (t *Timeline) Clip() *Clip {
	return &Clip{SampleRate: t.sampleRate, Samples: clampAll(t.samples)}
}
