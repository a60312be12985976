package whisperx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	langpkg "dubforge/internal/language"
	"dubforge/internal/services"
)

// CommandRunner executes an external command.
type CommandRunner func(ctx context.Context, name string, args ...string) error

// Service provides WhisperX diarization and transcription.
type Service struct {
	cfg           Config
	ffmpegBinary  string
	commandRunner CommandRunner
}

// NewService creates a WhisperX service with the given configuration.
func NewService(cfg Config, ffmpegBinary string) *Service {
	if ffmpegBinary == "" {
		ffmpegBinary = FFmpegCommand
	}
	return &Service{
		cfg:          cfg,
		ffmpegBinary: ffmpegBinary,
	}
}

// WithCommandRunner sets a custom command runner (for testing).
func (s *Service) WithCommandRunner(runner CommandRunner) {
	s.commandRunner = runner
}

// Model returns the configured model name for logging.
func (s *Service) Model() string {
	if s.cfg.Model != "" {
		return s.cfg.Model
	}
	return DefaultModel
}

// run executes a command, using the custom runner if set.
func (s *Service) run(ctx context.Context, name string, args ...string) error {
	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}
	if s.commandRunner != nil {
		return s.commandRunner(ctx, name, args...)
	}
	cmd := exec.CommandContext(ctx, name, args...) //nolint:gosec

	// Torch 2.6 changed torch.load default to weights_only=true, breaking WhisperX/pyannote.
	if os.Getenv("TORCH_FORCE_NO_WEIGHTS_ONLY_LOAD") == "" {
		cmd.Env = append(os.Environ(), "TORCH_FORCE_NO_WEIGHTS_ONLY_LOAD=1")
	}

	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("%s: %w: %s", name, err, strings.TrimSpace(string(output)))
	}
	return nil
}

// Turn is one diarized speaker turn. Index follows start order.
type Turn struct {
	Index   int
	Speaker string
	Start   float64
	End     float64
}

// Bounds is the time window of one segment.
type Bounds struct {
	Index int
	Start float64
	End   float64
}

// Transcript is the recognized text for one window.
type Transcript struct {
	Text string
	// Confidence is the mean word score, 0 when WhisperX reported none.
	Confidence float64
	Words      []Word
}

// Diarize runs WhisperX with speaker diarization over audio and returns the
// speaker turns in start order.
func (s *Service) Diarize(ctx context.Context, audio string) ([]Turn, error) {
	if strings.TrimSpace(audio) == "" {
		return nil, services.Wrap(services.ErrFatalInput, "diarize", "whisperx", "audio path required", nil)
	}
	if strings.TrimSpace(s.cfg.HFToken) == "" {
		return nil, services.Wrap(services.ErrConfiguration, "diarize", "whisperx", "hf_token is required for diarization", nil)
	}
	outputDir := filepath.Join(filepath.Dir(audio), "diarize")
	segments, err := s.transcribeFile(ctx, "diarize", audio, outputDir, true)
	if err != nil {
		return nil, err
	}

	turns := make([]Turn, 0, len(segments))
	for _, seg := range segments {
		if seg.End <= seg.Start {
			continue
		}
		speaker := strings.TrimSpace(seg.Speaker)
		if speaker == "" {
			speaker = DefaultSpeaker
		}
		turns = append(turns, Turn{
			Index:   len(turns),
			Speaker: speaker,
			Start:   seg.Start,
			End:     seg.End,
		})
	}
	if len(turns) == 0 {
		return nil, services.Wrap(services.ErrFatalInput, "diarize", "whisperx", "no speech detected", nil)
	}
	return turns, nil
}

// Transcribe recognizes the speech inside one segment window of audio.
func (s *Service) Transcribe(ctx context.Context, audio string, b Bounds) (Transcript, error) {
	if b.End <= b.Start {
		return Transcript{}, services.Wrap(services.ErrFatalInput, "transcribe", "window", fmt.Sprintf("empty window for segment %d", b.Index), nil)
	}
	workDir := filepath.Join(filepath.Dir(audio), "transcribe")
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return Transcript{}, fmt.Errorf("transcribe: ensure work dir: %w", err)
	}
	window := filepath.Join(workDir, windowName(b.Index)+".wav")
	if err := s.run(ctx, s.ffmpegBinary, buildWindowArgs(audio, b.Start, b.End-b.Start, window)...); err != nil {
		return Transcript{}, services.Wrap(services.ErrExternalTool, "transcribe", "extract window", "", err)
	}

	segments, err := s.transcribeFile(ctx, "transcribe", window, workDir, false)
	if err != nil {
		return Transcript{}, err
	}
	return buildTranscript(segments), nil
}

func (s *Service) transcribeFile(ctx context.Context, stage, source, outputDir string, diarize bool) ([]Segment, error) {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("%s: ensure output dir: %w", stage, err)
	}
	jsonPath := filepath.Join(outputDir, strings.TrimSuffix(filepath.Base(source), filepath.Ext(source))+".json")
	_ = os.Remove(jsonPath)

	if err := s.run(ctx, UVXCommand, s.buildArgs(source, outputDir, diarize)...); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, services.Wrap(services.ErrTransient, stage, "whisperx", "interrupted", err)
		}
		return nil, services.Wrap(services.ErrExternalTool, stage, "whisperx", "", err)
	}
	segments, err := LoadSegments(jsonPath)
	if err != nil {
		return nil, services.Wrap(services.ErrExternalTool, stage, "load whisperx output", "", err)
	}
	return segments, nil
}

// buildArgs constructs the uvx command arguments for WhisperX.
func (s *Service) buildArgs(source, outputDir string, diarize bool) []string {
	args := make([]string, 0, 40)

	if s.cfg.CUDAEnabled {
		args = append(args,
			"--index-url", CUDAIndexURL,
			"--extra-index-url", PypiIndexURL,
		)
	} else {
		args = append(args, "--index-url", PypiIndexURL)
	}

	args = append(args,
		"whisperx",
		source,
		"--model", s.Model(),
		"--batch_size", BatchSize,
		"--output_dir", outputDir,
		"--output_format", OutputFormat,
		"--segment_resolution", SegmentResolution,
		"--chunk_size", ChunkSize,
		"--vad_onset", VADOnset,
		"--vad_offset", VADOffset,
		"--beam_size", BeamSize,
		"--best_of", BestOf,
		"--temperature", Temperature,
		"--patience", Patience,
	)

	vadMethod := s.cfg.VADMethod
	if vadMethod == "" {
		vadMethod = VADMethodSilero
	}
	args = append(args, "--vad_method", vadMethod)

	if diarize {
		args = append(args, "--diarize")
		if s.cfg.MinSpeakers > 0 {
			args = append(args, "--min_speakers", strconv.Itoa(s.cfg.MinSpeakers))
		}
		if s.cfg.MaxSpeakers > 0 {
			args = append(args, "--max_speakers", strconv.Itoa(s.cfg.MaxSpeakers))
		}
	}
	if (diarize || vadMethod == VADMethodPyannote) && s.cfg.HFToken != "" {
		args = append(args, "--hf_token", s.cfg.HFToken)
	}

	if lang := langpkg.ToISO2(s.cfg.Language); lang != "" {
		args = append(args, "--language", lang)
	}

	if s.cfg.CUDAEnabled {
		args = append(args, "--device", CUDADevice)
	} else {
		args = append(args, "--device", CPUDevice, "--compute_type", CPUComputeType)
	}

	return args
}

// Word represents a single word with timing from WhisperX output.
type Word struct {
	Word    string  `json:"word"`
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Score   float64 `json:"score"`
	Speaker string  `json:"speaker,omitempty"`
}

// Segment represents a transcribed segment from WhisperX JSON output.
type Segment struct {
	Text    string  `json:"text"`
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Speaker string  `json:"speaker,omitempty"`
	Words   []Word  `json:"words"`
}

// whisperXPayload is the JSON structure from WhisperX output.
type whisperXPayload struct {
	Segments []Segment `json:"segments"`
}

// LoadSegments loads segments from a WhisperX JSON file.
func LoadSegments(jsonPath string) ([]Segment, error) {
	data, err := os.ReadFile(jsonPath)
	if err != nil {
		return nil, err
	}
	var payload whisperXPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("parse whisperx json: %w", err)
	}
	return payload.Segments, nil
}

func buildTranscript(segments []Segment) Transcript {
	var (
		parts []string
		words []Word
		score float64
	)
	for _, seg := range segments {
		if text := strings.TrimSpace(seg.Text); text != "" {
			parts = append(parts, text)
		}
		for _, w := range seg.Words {
			words = append(words, w)
			score += w.Score
		}
	}
	transcript := Transcript{Text: strings.Join(parts, " "), Words: words}
	if len(words) > 0 {
		transcript.Confidence = score / float64(len(words))
	}
	return transcript
}
