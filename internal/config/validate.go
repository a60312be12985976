package config

import (
	"errors"
	"fmt"
	"strings"
)

// Rewrite strictness levels understood by the pacing engine.
const (
	StrictnessOff          = "off"
	StrictnessConservative = "conservative"
	StrictnessStrict       = "strict"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateLanguages(); err != nil {
		return err
	}
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	if err := c.validatePacing(); err != nil {
		return err
	}
	if err := c.validateSynthesis(); err != nil {
		return err
	}
	if err := c.validateMix(); err != nil {
		return err
	}
	if err := c.validateStreaming(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validatePaths() error {
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		return errors.New("paths.state_dir must be set")
	}
	if strings.TrimSpace(c.Paths.OutputDir) == "" {
		return errors.New("paths.output_dir must be set")
	}
	return nil
}

func (c *Config) validateLanguages() error {
	if c.Languages.Source == "" {
		return errors.New("languages.source must be set")
	}
	if c.Languages.Target == "" {
		return errors.New("languages.target must be set")
	}
	if c.Languages.Source == c.Languages.Target {
		return fmt.Errorf("languages.target must differ from languages.source (both %q)", c.Languages.Source)
	}
	return nil
}

func (c *Config) validateWorkflow() error {
	if err := ensurePositiveMap(map[string]int{
		"workflow.max_concurrent_jobs":  c.Workflow.MaxConcurrentJobs,
		"workflow.segment_parallelism":  c.Workflow.SegmentParallelism,
		"workflow.queue_poll_interval":  c.Workflow.QueuePollInterval,
		"workflow.tool_timeout":         c.Workflow.ToolTimeout,
		"notifications.request_timeout": c.Notifications.RequestTimeout,
		"llm.timeout_seconds":           c.LLM.TimeoutSeconds,
	}); err != nil {
		return err
	}
	if c.Workflow.HeartbeatInterval <= 0 {
		return errors.New("workflow.heartbeat_interval must be positive")
	}
	if c.Workflow.HeartbeatTimeout <= c.Workflow.HeartbeatInterval {
		return errors.New("workflow.heartbeat_timeout must be greater than workflow.heartbeat_interval")
	}
	return nil
}

func (c *Config) validatePacing() error {
	p := c.Pacing
	if p.WordsPerSecond <= 0 {
		return errors.New("pacing.words_per_second must be positive")
	}
	if p.Tolerance < 0 || p.Tolerance >= 1 {
		return errors.New("pacing.tolerance must be between 0 and 1")
	}
	if p.MinStretch <= 0 || p.MinStretch > 1 {
		return errors.New("pacing.min_stretch must be in (0, 1]")
	}
	if p.MaxStretch < 1 {
		return errors.New("pacing.max_stretch must be >= 1")
	}
	switch p.RewriteStrictness {
	case StrictnessOff, StrictnessConservative, StrictnessStrict:
	default:
		return fmt.Errorf("pacing.rewrite_strictness must be one of off, conservative, strict (got %q)", p.RewriteStrictness)
	}
	if p.RewriteTimeoutSeconds <= 0 {
		return errors.New("pacing.rewrite_timeout_seconds must be positive")
	}
	if p.SilenceThreshold < 0 || p.SilenceThreshold >= 1 {
		return errors.New("pacing.silence_threshold must be between 0 and 1")
	}
	return nil
}

func (c *Config) validateSynthesis() error {
	if c.Synthesis.SampleRate <= 0 {
		return errors.New("synthesis.sample_rate must be positive")
	}
	if c.Synthesis.TimeoutSeconds <= 0 {
		return errors.New("synthesis.timeout_seconds must be positive")
	}
	return nil
}

func (c *Config) validateMix() error {
	if c.Mix.BackgroundVolume < 0 || c.Mix.DubVolume < 0 {
		return errors.New("mix volumes must be >= 0")
	}
	switch c.Mix.Container {
	case "mkv", "mp4", "mov":
	default:
		return fmt.Errorf("mix.container must be mkv, mp4, or mov (got %q)", c.Mix.Container)
	}
	if c.Render.ReviewContextSeconds < 0 {
		return errors.New("render.review_context_seconds must be >= 0")
	}
	return nil
}

func (c *Config) validateStreaming() error {
	if !c.Streaming.Enabled {
		return nil
	}
	if c.Streaming.ChunkSeconds <= 0 {
		return errors.New("streaming.chunk_seconds must be positive when streaming.enabled is true")
	}
	if c.Streaming.OverlapSeconds < 0 || c.Streaming.OverlapSeconds >= c.Streaming.ChunkSeconds {
		return errors.New("streaming.overlap_seconds must be >= 0 and less than streaming.chunk_seconds")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json (got %q)", c.Logging.Format)
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
