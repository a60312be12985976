package testsupport

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"dubforge/internal/audio"
	"dubforge/internal/media"
	"dubforge/internal/pipeline"
	"dubforge/internal/services/tts"
	"dubforge/internal/services/whisperx"
	"dubforge/internal/textutil"
)

// Engines fakes every external engine of the pipeline in memory and counts
// the calls each one receives.
type Engines struct {
	mu sync.Mutex

	// Turns is what Diarize returns.
	Turns []whisperx.Turn
	// Transcripts maps segment index to recognized text. Missing indices
	// transcribe as "line N".
	Transcripts map[int]string
	// WordsPerSecond sets the speaking rate of synthesized tone audio.
	WordsPerSecond float64

	fail        map[string]error
	calls       map[string]int
	transcribed []int
	synthesized []string
}

// NewEngines returns fakes that diarize into turns.
func NewEngines(turns ...whisperx.Turn) *Engines {
	return &Engines{
		Turns:          turns,
		Transcripts:    make(map[int]string),
		WordsPerSecond: 2.5,
		fail:           make(map[string]error),
		calls:          make(map[string]int),
	}
}

// Turns builds consecutive turns of the given lengths, alternating two speakers.
func Turns(lengths ...float64) []whisperx.Turn {
	turns := make([]whisperx.Turn, 0, len(lengths))
	start := 0.0
	for i, l := range lengths {
		turns = append(turns, whisperx.Turn{
			Index:   i,
			Speaker: fmt.Sprintf("SPEAKER_%02d", i%2),
			Start:   start,
			End:     start + l,
		})
		start += l
	}
	return turns
}

// Collaborators wires the fakes into a pipeline.
func (f *Engines) Collaborators() pipeline.Collaborators {
	return pipeline.Collaborators{
		Extractor:   f,
		Diarizer:    f,
		Transcriber: f,
		Translator:  f,
		Synthesizer: f,
		Stretcher:   f,
		Media:       f,
		Clipper:     f,
	}
}

// FailOn makes op ("extract", "diarize", "transcribe", "translate",
// "synthesize", "stretch", "mix", "mux") return err until cleared with nil.
func (f *Engines) FailOn(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.fail, op)
		return
	}
	f.fail[op] = err
}

// Calls returns how often op was invoked.
func (f *Engines) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

// TotalCalls sums the calls to every engine.
func (f *Engines) TotalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := 0
	for _, n := range f.calls {
		total += n
	}
	return total
}

// Transcribed returns the segment indices transcribed so far, ascending.
func (f *Engines) Transcribed() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := slices.Clone(f.transcribed)
	slices.Sort(out)
	return out
}

// Synthesized returns the texts synthesized so far, in call order.
func (f *Engines) Synthesized() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.synthesized)
}

// Reset clears the call counters.
func (f *Engines) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = make(map[string]int)
	f.transcribed = nil
	f.synthesized = nil
}

func (f *Engines) enter(op string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[op]++
	return f.fail[op]
}

func (f *Engines) Extract(_ context.Context, _ string, dest string) error {
	if err := f.enter("extract"); err != nil {
		return err
	}
	end := 1.0
	for _, t := range f.Turns {
		end = math.Max(end, t.End)
	}
	return audio.Write(dest, ToneClip(end))
}

func (f *Engines) Diarize(context.Context, string) ([]whisperx.Turn, error) {
	if err := f.enter("diarize"); err != nil {
		return nil, err
	}
	return slices.Clone(f.Turns), nil
}

func (f *Engines) Transcribe(_ context.Context, _ string, b whisperx.Bounds) (whisperx.Transcript, error) {
	if err := f.enter("transcribe"); err != nil {
		return whisperx.Transcript{}, err
	}
	f.mu.Lock()
	f.transcribed = append(f.transcribed, b.Index)
	text, ok := f.Transcripts[b.Index]
	f.mu.Unlock()
	if !ok {
		text = fmt.Sprintf("line %d", b.Index)
	}
	return whisperx.Transcript{Text: text, Confidence: 0.9}, nil
}

func (f *Engines) Translate(_ context.Context, text, _, target string) (string, error) {
	if err := f.enter("translate"); err != nil {
		return "", err
	}
	return fmt.Sprintf("[%s] %s", target, text), nil
}

// Synthesize writes a tone as long as the text takes to speak at WordsPerSecond.
func (f *Engines) Synthesize(_ context.Context, req tts.Request) (tts.Result, error) {
	if err := f.enter("synthesize"); err != nil {
		return tts.Result{}, err
	}
	f.mu.Lock()
	f.synthesized = append(f.synthesized, req.Text)
	wps := f.WordsPerSecond
	f.mu.Unlock()
	seconds := math.Max(0.1, textutil.WordCount(req.Text)/wps)
	if err := audio.Write(req.Dest, ToneClip(seconds)); err != nil {
		return tts.Result{}, err
	}
	attempt := tts.Attempt{Provider: "fake", Capability: tts.CapabilityGeneric, Outcome: tts.OutcomeOK}
	return tts.Result{Path: req.Dest, Provider: "fake", Attempts: []tts.Attempt{attempt}}, nil
}

// Stretch shortens or lengthens src to duration/factor.
func (f *Engines) Stretch(_ context.Context, src, dest string, factor float64) error {
	if err := f.enter("stretch"); err != nil {
		return err
	}
	clip, err := audio.Read(src)
	if err != nil {
		return err
	}
	return audio.Write(dest, ToneClip(clip.Duration()/factor))
}

func (f *Engines) Cut(_ context.Context, _ string, dest string, start, end float64) error {
	if err := f.enter("cut"); err != nil {
		return err
	}
	return audio.Write(dest, ToneClip(end-start))
}

func (f *Engines) Mix(_ context.Context, req media.MixRequest) error {
	if err := f.enter("mix"); err != nil {
		return err
	}
	return writeMarker(req.Dest, "mix")
}

func (f *Engines) Mux(_ context.Context, req media.MuxRequest) error {
	if err := f.enter("mux"); err != nil {
		return err
	}
	return writeMarker(req.Dest, "mux")
}

func writeMarker(path, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(content), 0o644)
}
