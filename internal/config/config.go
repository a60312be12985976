package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains the state, work, and output directories.
type Paths struct {
	StateDir  string `toml:"state_dir"`
	WorkDir   string `toml:"work_dir"`
	OutputDir string `toml:"output_dir"`
	LogDir    string `toml:"log_dir"`
	EnvFile   string `toml:"env_file"`
}

// Languages holds the BCP 47 source and target languages for dubbing.
type Languages struct {
	Source string `toml:"source"`
	Target string `toml:"target"`
}

// Workflow contains worker pool sizing and polling intervals.
type Workflow struct {
	MaxConcurrentJobs  int `toml:"max_concurrent_jobs"`
	SegmentParallelism int `toml:"segment_parallelism"`
	QueuePollInterval  int `toml:"queue_poll_interval"`
	HeartbeatInterval  int `toml:"heartbeat_interval"`
	HeartbeatTimeout   int `toml:"heartbeat_timeout"`
	// ToolTimeout bounds one ffmpeg or WhisperX invocation, in seconds.
	ToolTimeout int `toml:"tool_timeout"`
}

// Pacing configures the timing-fit engine.
type Pacing struct {
	WordsPerSecond        float64 `toml:"words_per_second"`
	Tolerance             float64 `toml:"tolerance"`
	MinStretch            float64 `toml:"min_stretch"`
	MaxStretch            float64 `toml:"max_stretch"`
	RewriteStrictness     string  `toml:"rewrite_strictness"`
	RewriteTimeoutSeconds int     `toml:"rewrite_timeout_seconds"`
	SilenceThreshold      float64 `toml:"silence_threshold"`
}

// WhisperX configures diarization and transcription.
type WhisperX struct {
	Model       string `toml:"model"`
	CUDAEnabled bool   `toml:"cuda_enabled"`
	VADMethod   string `toml:"vad_method"`
	HFToken     string `toml:"hf_token"`
	MinSpeakers int    `toml:"min_speakers"`
	MaxSpeakers int    `toml:"max_speakers"`
}

// LLM contains the chat completion settings used for translation and rewrite.
type LLM struct {
	APIKey         string  `toml:"api_key"`
	BaseURL        string  `toml:"base_url"`
	Model          string  `toml:"model"`
	Temperature    float64 `toml:"temperature"`
	TimeoutSeconds int     `toml:"timeout_seconds"`
	RewriteEnabled bool    `toml:"rewrite_enabled"`
}

// Synthesis configures the speech synthesis endpoint and voice fallback chain.
type Synthesis struct {
	Endpoint       string            `toml:"endpoint"`
	APIKey         string            `toml:"api_key"`
	TimeoutSeconds int               `toml:"timeout_seconds"`
	VoiceClone     bool              `toml:"voice_clone"`
	PresetVoices   map[string]string `toml:"preset_voices"`
	GenericVoice   string            `toml:"generic_voice"`
	SampleRate     int               `toml:"sample_rate"`
}

// Mix configures how the dubbed timeline is combined with the source audio.
type Mix struct {
	BackgroundVolume float64 `toml:"background_volume"`
	DubVolume        float64 `toml:"dub_volume"`
	AudioCodec       string  `toml:"audio_codec"`
	AudioBitrate     string  `toml:"audio_bitrate"`
	Container        string  `toml:"container"`
	// KeepOriginalAudio muxes the source audio as a second, non-default track.
	KeepOriginalAudio bool `toml:"keep_original_audio"`
}

// Render configures review renders.
type Render struct {
	ReviewContextSeconds float64 `toml:"review_context_seconds"`
}

// Streaming configures chunked output for streaming consumers.
type Streaming struct {
	Enabled        bool    `toml:"enabled"`
	ChunkSeconds   float64 `toml:"chunk_seconds"`
	OverlapSeconds float64 `toml:"overlap_seconds"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	JobCompleted   bool   `toml:"job_completed"`
	JobFailed      bool   `toml:"job_failed"`
	BatchCompleted bool   `toml:"batch_completed"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for dubforge.
//
// Configuration sections by subsystem:
//   - Paths: state databases, per-job work areas, final outputs
//   - Languages: source and target language tags
//   - Workflow: worker pool size and heartbeat timing
//   - Pacing: timing-fit thresholds and rewrite strictness
//   - WhisperX: diarization and transcription engine
//   - LLM: translation and rewrite provider
//   - Synthesis: speech synthesis endpoint and voice fallbacks
//   - Mix, Render, Streaming: output composition
//   - Notifications, Logging
type Config struct {
	Paths         Paths         `toml:"paths"`
	Languages     Languages     `toml:"languages"`
	Workflow      Workflow      `toml:"workflow"`
	Pacing        Pacing        `toml:"pacing"`
	WhisperX      WhisperX      `toml:"whisperx"`
	LLM           LLM           `toml:"llm"`
	Synthesis     Synthesis     `toml:"synthesis"`
	Mix           Mix           `toml:"mix"`
	Render        Render        `toml:"render"`
	Streaming     Streaming     `toml:"streaming"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := loadEnvFile(cfg.Paths.EnvFile); err != nil {
		return nil, "", false, err
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

// loadEnvFile populates unset environment variables from a dotenv file so API
// keys can live outside the TOML file. A missing default file is not an error.
func loadEnvFile(path string) error {
	explicit := strings.TrimSpace(path) != ""
	if !explicit {
		path = ".env"
	}
	expanded, err := expandPath(path)
	if err != nil {
		return fmt.Errorf("paths.env_file: %w", err)
	}
	if _, err := os.Stat(expanded); err != nil {
		if errors.Is(err, fs.ErrNotExist) && !explicit {
			return nil
		}
		return fmt.Errorf("paths.env_file: %w", err)
	}
	if err := godotenv.Load(expanded); err != nil {
		return fmt.Errorf("load env file %s: %w", expanded, err)
	}
	return nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("dubforge.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for pipeline operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.StateDir, c.Paths.WorkDir, c.Paths.OutputDir, c.Paths.LogDir, c.ManifestDir()} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// QueueDBPath is the SQLite database holding job records.
func (c *Config) QueueDBPath() string {
	return filepath.Join(c.Paths.StateDir, "queue.db")
}

// ReviewDBPath is the SQLite database holding segments, versions, and locks.
func (c *Config) ReviewDBPath() string {
	return filepath.Join(c.Paths.StateDir, "review.db")
}

// ManifestDir is the root of the per-job stage manifests.
func (c *Config) ManifestDir() string {
	return filepath.Join(c.Paths.StateDir, "manifests")
}

// LockPath is the single-orchestrator lock file.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.StateDir, "dubforge.lock")
}

// JobWorkDir returns the work area for a job.
func (c *Config) JobWorkDir(jobID int64) string {
	return filepath.Join(c.Paths.WorkDir, fmt.Sprintf("job-%d", jobID))
}

// FFmpegBinary returns the ffmpeg executable name.
func (c *Config) FFmpegBinary() string {
	return "ffmpeg"
}

// FFprobeBinary returns the ffprobe executable name.
func (c *Config) FFprobeBinary() string {
	return "ffprobe"
}

// HeartbeatInterval returns the workflow heartbeat interval as a duration.
func (c *Config) HeartbeatInterval() time.Duration {
	return time.Duration(c.Workflow.HeartbeatInterval) * time.Second
}

// ToolTimeout returns the per-invocation limit for external tools.
func (c *Config) ToolTimeout() time.Duration {
	return time.Duration(c.Workflow.ToolTimeout) * time.Second
}

// HeartbeatTimeout returns the stale-job threshold as a duration.
func (c *Config) HeartbeatTimeout() time.Duration {
	return time.Duration(c.Workflow.HeartbeatTimeout) * time.Second
}

// PollInterval returns the queue poll interval as a duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Workflow.QueuePollInterval) * time.Second
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
