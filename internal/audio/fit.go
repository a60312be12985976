package audio

import "math"

// FitResult describes how a clip was forced onto its window.
type FitResult struct {
	PaddedSeconds  float64
	TrimmedSeconds float64
	// OverflowSeconds is how far the clip still exceeds the window after all
	// boundary silence was trimmed. Non-zero means alignment drift.
	OverflowSeconds float64
}

// Drifted reports whether the clip could not be fit exactly.
func (r FitResult) Drifted() bool {
	return r.OverflowSeconds > 0
}

// PadTrim returns a copy of clip forced to targetSeconds. Shorter clips get
// trailing silence. Longer clips lose leading then trailing silence, where a
// sample is silent when its magnitude is below threshold (fraction of full
// scale). Speech is never cut.
func PadTrim(clip *Clip, targetSeconds, threshold float64) (*Clip, FitResult) {
	target := samplesFor(clip.SampleRate, targetSeconds)
	samples := append([]int(nil), clip.Samples...)
	rate := float64(clip.SampleRate)
	var result FitResult

	if len(samples) <= target {
		pad := target - len(samples)
		samples = append(samples, make([]int, pad)...)
		result.PaddedSeconds = float64(pad) / rate
		return &Clip{SampleRate: clip.SampleRate, Samples: samples}, result
	}

	excess := len(samples) - target
	limit := int(math.Round(threshold * maxSample))

	lead := 0
	for lead < len(samples) && lead < excess && isSilent(samples[lead], limit) {
		lead++
	}
	samples = samples[lead:]
	excess -= lead

	tail := 0
	for tail < len(samples) && tail < excess && isSilent(samples[len(samples)-1-tail], limit) {
		tail++
	}
	samples = samples[:len(samples)-tail]
	excess -= tail

	result.TrimmedSeconds = float64(lead+tail) / rate
	if excess > 0 {
		result.OverflowSeconds = float64(excess) / rate
	}
	return &Clip{SampleRate: clip.SampleRate, Samples: samples}, result
}

// TrimmableSilence returns the seconds of leading plus trailing silence.
func TrimmableSilence(clip *Clip, threshold float64) float64 {
	if clip == nil || len(clip.Samples) == 0 || clip.SampleRate <= 0 {
		return 0
	}
	limit := int(math.Round(threshold * maxSample))
	lead := 0
	for lead < len(clip.Samples) && isSilent(clip.Samples[lead], limit) {
		lead++
	}
	if lead == len(clip.Samples) {
		return clip.Duration()
	}
	tail := 0
	for isSilent(clip.Samples[len(clip.Samples)-1-tail], limit) {
		tail++
	}
	return float64(lead+tail) / float64(clip.SampleRate)
}

func isSilent(sample, limit int) bool {
	if sample < 0 {
		sample = -sample
	}
	return sample <= limit
}
