package config

import (
	"fmt"
	"os"
	"strings"

	"dubforge/internal/language"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	if err := c.normalizeLanguages(); err != nil {
		return err
	}
	c.normalizeWhisperX()
	c.normalizeLLM()
	c.normalizeSynthesis()
	c.normalizeLogging()
	c.Pacing.RewriteStrictness = strings.ToLower(strings.TrimSpace(c.Pacing.RewriteStrictness))
	if c.Pacing.RewriteStrictness == "" {
		c.Pacing.RewriteStrictness = defaultRewriteStrictness
	}
	c.Mix.Container = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(c.Mix.Container), "."))
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.WorkDir) == "" {
		c.Paths.WorkDir = defaultWorkDir
	}
	if c.Paths.WorkDir, err = expandPath(c.Paths.WorkDir); err != nil {
		return fmt.Errorf("paths.work_dir: %w", err)
	}
	if c.Paths.OutputDir, err = expandPath(c.Paths.OutputDir); err != nil {
		return fmt.Errorf("paths.output_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeLanguages() error {
	source, err := canonicalLanguage(c.Languages.Source)
	if err != nil {
		return fmt.Errorf("languages.source: %w", err)
	}
	target, err := canonicalLanguage(c.Languages.Target)
	if err != nil {
		return fmt.Errorf("languages.target: %w", err)
	}
	c.Languages.Source = source
	c.Languages.Target = target
	return nil
}

// canonicalLanguage accepts tags, ISO codes or names and returns a BCP 47 tag.
func canonicalLanguage(value string) (string, error) {
	return language.Normalize(value)
}

func (c *Config) normalizeWhisperX() {
	c.WhisperX.Model = strings.TrimSpace(c.WhisperX.Model)
	if c.WhisperX.Model == "" {
		c.WhisperX.Model = defaultWhisperXModel
	}
	c.WhisperX.VADMethod = strings.ToLower(strings.TrimSpace(c.WhisperX.VADMethod))
	if c.WhisperX.VADMethod == "" {
		c.WhisperX.VADMethod = defaultWhisperXVADMethod
	}
	c.WhisperX.HFToken = strings.TrimSpace(c.WhisperX.HFToken)
	if c.WhisperX.HFToken == "" {
		if value, ok := os.LookupEnv("HUGGING_FACE_HUB_TOKEN"); ok {
			c.WhisperX.HFToken = strings.TrimSpace(value)
		} else if value, ok := os.LookupEnv("HF_TOKEN"); ok {
			c.WhisperX.HFToken = strings.TrimSpace(value)
		}
	}
}

func (c *Config) normalizeLLM() {
	c.LLM.APIKey = strings.TrimSpace(c.LLM.APIKey)
	if c.LLM.APIKey == "" {
		if value, ok := os.LookupEnv("OPENAI_API_KEY"); ok {
			c.LLM.APIKey = strings.TrimSpace(value)
		}
	}
	c.LLM.BaseURL = strings.TrimRight(strings.TrimSpace(c.LLM.BaseURL), "/")
	if c.LLM.BaseURL == "" {
		c.LLM.BaseURL = defaultLLMBaseURL
	}
	c.LLM.Model = strings.TrimSpace(c.LLM.Model)
	if c.LLM.Model == "" {
		c.LLM.Model = defaultLLMModel
	}
}

func (c *Config) normalizeSynthesis() {
	c.Synthesis.Endpoint = strings.TrimRight(strings.TrimSpace(c.Synthesis.Endpoint), "/")
	c.Synthesis.APIKey = strings.TrimSpace(c.Synthesis.APIKey)
	if c.Synthesis.APIKey == "" {
		if value, ok := os.LookupEnv("DUBFORGE_TTS_API_KEY"); ok {
			c.Synthesis.APIKey = strings.TrimSpace(value)
		}
	}
	c.Synthesis.GenericVoice = strings.TrimSpace(c.Synthesis.GenericVoice)
	if c.Synthesis.GenericVoice == "" {
		c.Synthesis.GenericVoice = defaultSynthesisGenericVoice
	}
	if len(c.Synthesis.PresetVoices) > 0 {
		voices := make(map[string]string, len(c.Synthesis.PresetVoices))
		for speaker, voice := range c.Synthesis.PresetVoices {
			speaker = strings.TrimSpace(speaker)
			voice = strings.TrimSpace(voice)
			if speaker == "" || voice == "" {
				continue
			}
			voices[speaker] = voice
		}
		c.Synthesis.PresetVoices = voices
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
