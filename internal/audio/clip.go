package audio

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/google/uuid"
)

const (
	bitDepth   = 16
	maxSample  = math.MaxInt16
	minSample  = math.MinInt16
	wavPCMType = 1
)

// ErrInvalidWAV is returned for files that are not decodable PCM WAV.
var ErrInvalidWAV = errors.New("invalid wav file")

// Clip is mono PCM audio at a fixed sample rate.
type Clip struct {
	SampleRate int
	Samples    []int
}

// Silence returns a clip of zero samples.
func Silence(sampleRate int, seconds float64) *Clip {
	return &Clip{SampleRate: sampleRate, Samples: make([]int, samplesFor(sampleRate, seconds))}
}

// Duration returns the clip length in seconds.
func (c *Clip) Duration() float64 {
	if c == nil || c.SampleRate <= 0 {
		return 0
	}
	return float64(len(c.Samples)) / float64(c.SampleRate)
}

// Read decodes a WAV file. Multi-channel audio is downmixed to mono.
func Read(path string) (*Clip, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidWAV, path)
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if buf == nil || buf.Format == nil || buf.Format.SampleRate <= 0 {
		return nil, fmt.Errorf("%w: %s has no format", ErrInvalidWAV, path)
	}
	channels := buf.Format.NumChannels
	if channels <= 0 {
		channels = 1
	}
	samples := buf.Data
	if channels > 1 {
		mono := make([]int, len(samples)/channels)
		for i := range mono {
			sum := 0
			for ch := 0; ch < channels; ch++ {
				sum += samples[i*channels+ch]
			}
			mono[i] = sum / channels
		}
		samples = mono
	}
	if depth := buf.SourceBitDepth; depth > 0 && depth != bitDepth {
		samples = rescaleDepth(samples, depth)
	}
	return &Clip{SampleRate: buf.Format.SampleRate, Samples: samples}, nil
}

// Duration reads a WAV header and returns its length in seconds.
func Duration(path string) (float64, error) {
	clip, err := Read(path)
	if err != nil {
		return 0, err
	}
	return clip.Duration(), nil
}

// Write encodes the clip to path through a temp file and rename so readers
// never observe a partial WAV.
func Write(path string, clip *Clip) error {
	if clip == nil || clip.SampleRate <= 0 {
		return errors.New("write wav: clip has no sample rate")
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	tmp := filepath.Join(dir, "."+filepath.Base(path)+"."+uuid.NewString()+".tmp")
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create %s: %w", tmp, err)
	}
	enc := wav.NewEncoder(f, clip.SampleRate, bitDepth, 1, wavPCMType)
	writeErr := enc.Write(&goaudio.IntBuffer{
		Data:           clampAll(clip.Samples),
		Format:         &goaudio.Format{SampleRate: clip.SampleRate, NumChannels: 1},
		SourceBitDepth: bitDepth,
	})
	if closeErr := enc.Close(); writeErr == nil {
		writeErr = closeErr
	}
	if closeErr := f.Close(); writeErr == nil {
		writeErr = closeErr
	}
	if writeErr != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("encode %s: %w", path, writeErr)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("publish %s: %w", path, err)
	}
	return nil
}

// Resample converts the clip to rate with linear interpolation.
func Resample(clip *Clip, rate int) *Clip {
	if clip == nil || rate <= 0 || clip.SampleRate == rate || len(clip.Samples) == 0 {
		return clip
	}
	ratio := float64(clip.SampleRate) / float64(rate)
	n := int(math.Round(float64(len(clip.Samples)) / ratio))
	out := make([]int, n)
	last := len(clip.Samples) - 1
	for i := range out {
		pos := float64(i) * ratio
		lo := int(pos)
		if lo >= last {
			out[i] = clip.Samples[last]
			continue
		}
		frac := pos - float64(lo)
		out[i] = int(math.Round(float64(clip.Samples[lo])*(1-frac) + float64(clip.Samples[lo+1])*frac))
	}
	return &Clip{SampleRate: rate, Samples: out}
}

func samplesFor(sampleRate int, seconds float64) int {
	if seconds <= 0 || sampleRate <= 0 {
		return 0
	}
	return int(math.Round(seconds * float64(sampleRate)))
}

func clamp(v int) int {
	switch {
	case v > maxSample:
		return maxSample
	case v < minSample:
		return minSample
	default:
		return v
	}
}

func clampAll(samples []int) []int {
	out := make([]int, len(samples))
	for i, v := range samples {
		out[i] = clamp(v)
	}
	return out
}

func rescaleDepth(samples []int, depth int) []int {
	shift := depth - bitDepth
	out := make([]int, len(samples))
	for i, v := range samples {
		if shift > 0 {
			out[i] = v >> shift
		} else {
			out[i] = v << -shift
		}
	}
	return out
}
