package audio_test

import (
	"math"
	"path/filepath"
	"testing"

	"dubforge/internal/audio"
)

const rate = 8000

func tone(seconds float64, amplitude int) *audio.Clip {
	n := int(math.Round(seconds * rate))
	samples := make([]int, n)
	for i := range samples {
		if (i/20)%2 == 0 {
			samples[i] = amplitude
		} else {
			samples[i] = -amplitude
		}
	}
	return &audio.Clip{SampleRate: rate, Samples: samples}
}

func concat(clips ...*audio.Clip) *audio.Clip {
	out := &audio.Clip{SampleRate: rate}
	for _, c := range clips {
		out.Samples = append(out.Samples, c.Samples...)
	}
	return out
}

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-3
}

func TestWriteReadRoundTripPreservesDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clip.wav")
	if err := audio.Write(path, tone(1.5, 4000)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := audio.Duration(path)
	if err != nil {
		t.Fatalf("Duration: %v", err)
	}
	if !approx(got, 1.5) {
		t.Fatalf("duration = %.4f, want 1.5", got)
	}
}

func TestReadRejectsNonWAV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "junk.wav")
	if err := writeBytes(path, []byte("not a wav file at all")); err != nil {
		t.Fatal(err)
	}
	if _, err := audio.Read(path); err == nil {
		t.Fatal("expected error for invalid wav")
	}
}

func TestPadTrim(t *testing.T) {
	tests := []struct {
		name        string
		clip        *audio.Clip
		target      float64
		wantLen     float64
		wantPad     float64
		wantTrim    float64
		wantOverrun float64
	}{
		{"pads short clip", tone(2.0, 4000), 3.0, 3.0, 1.0, 0, 0},
		{"trims boundary silence", concat(audio.Silence(rate, 0.3), tone(2.5, 4000), audio.Silence(rate, 0.4)), 3.0, 3.0, 0, 0.2, 0},
		{"never cuts speech", concat(audio.Silence(rate, 0.1), tone(3.4, 4000)), 3.0, 3.4, 0, 0.1, 0.4},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			out, result := audio.PadTrim(tc.clip, tc.target, 0.01)
			if !approx(out.Duration(), tc.wantLen) {
				t.Fatalf("duration = %.4f, want %.4f", out.Duration(), tc.wantLen)
			}
			if !approx(result.PaddedSeconds, tc.wantPad) || !approx(result.TrimmedSeconds, tc.wantTrim) || !approx(result.OverflowSeconds, tc.wantOverrun) {
				t.Fatalf("unexpected result %+v", result)
			}
			if result.Drifted() != (tc.wantOverrun > 0) {
				t.Fatalf("Drifted() = %v", result.Drifted())
			}
		})
	}
}

func TestTrimmableSilence(t *testing.T) {
	clip := concat(audio.Silence(rate, 0.25), tone(1, 3000), audio.Silence(rate, 0.5))
	if got := audio.TrimmableSilence(clip, 0.01); !approx(got, 0.75) {
		t.Fatalf("TrimmableSilence = %.4f, want 0.75", got)
	}
}

func TestTimelinePlacesAndSumsOverlaps(t *testing.T) {
	tl := audio.NewTimeline(rate, 2)
	if err := tl.Place(&audio.Clip{SampleRate: rate, Samples: []int{20000, 20000}}, 0.5); err != nil {
		t.Fatal(err)
	}
	if err := tl.Place(&audio.Clip{SampleRate: rate, Samples: []int{20000}}, 0.5); err != nil {
		t.Fatal(err)
	}
	if err := tl.Place(tone(1, 1000), 1.5); err != nil {
		t.Fatal(err)
	}
	if !approx(tl.Duration(), 2.5) {
		t.Fatalf("timeline should grow to 2.5s, got %.4f", tl.Duration())
	}
	window := tl.Slice(0.5, 0.5+2.0/rate)
	if window.Samples[0] != math.MaxInt16 || window.Samples[1] != 20000 {
		t.Fatalf("unexpected mixed samples %v", window.Samples)
	}
	if err := tl.Place(tone(0.1, 10), -1); err == nil {
		t.Fatal("expected error for negative offset")
	}
}

func TestResampleScalesLength(t *testing.T) {
	clip := tone(1, 1000)
	out := audio.Resample(clip, rate*2)
	if out.SampleRate != rate*2 || !approx(out.Duration(), 1) {
		t.Fatalf("unexpected resample: rate=%d dur=%.4f", out.SampleRate, out.Duration())
	}
}
