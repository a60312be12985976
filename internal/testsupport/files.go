package testsupport

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"dubforge/internal/audio"
)

// TestSampleRate keeps generated WAV fixtures small.
const TestSampleRate = 8000

// WriteFile fills the target path with the requested number of bytes using a
// simple repeating pattern. A size <= 0 writes a single byte.
func WriteFile(t testing.TB, path string, size int64) {
	t.Helper()

	if size <= 0 {
		size = 1
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	defer f.Close()

	const chunkSize = 32 * 1024
	buf := make([]byte, chunkSize)
	for i := range buf {
		buf[i] = 0x42
	}

	remaining := size
	for remaining > 0 {
		toWrite := int64(chunkSize)
		if remaining < toWrite {
			toWrite = remaining
		}
		if _, err := f.Write(buf[:toWrite]); err != nil {
			t.Fatalf("write %s: %v", path, err)
		}
		remaining -= toWrite
	}
}

// ToneClip returns a 440 Hz tone of the given length.
func ToneClip(seconds float64) *audio.Clip {
	n := int(math.Round(seconds * TestSampleRate))
	samples := make([]int, n)
	for i := range samples {
		samples[i] = int(8000 * math.Sin(2*math.Pi*440*float64(i)/TestSampleRate))
		if samples[i] == 0 {
			samples[i] = 1
		}
	}
	return &audio.Clip{SampleRate: TestSampleRate, Samples: samples}
}

// WriteTone writes a tone WAV of the given length to path.
func WriteTone(t testing.TB, path string, seconds float64) string {
	t.Helper()
	if err := audio.Write(path, ToneClip(seconds)); err != nil {
		t.Fatalf("write tone %s: %v", path, err)
	}
	return path
}

// WriteSilence writes a silent WAV of the given length to path.
func WriteSilence(t testing.TB, path string, seconds float64) string {
	t.Helper()
	if err := audio.Write(path, audio.Silence(TestSampleRate, seconds)); err != nil {
		t.Fatalf("write silence %s: %v", path, err)
	}
	return path
}
